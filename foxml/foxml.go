// Package foxml reads and writes FOXML 1.1, the XML interchange
// format for repository objects. Export streams an object and its
// datastream versions to a writer; Importer rebuilds an object from a
// FOXML document, indexing DC, RELS-EXT and RELS-INT content into the
// relationship tables as it goes.
package foxml

import (
	"fmt"

	"github.com/ndlib/repod/repo"
)

// Namespace is the FOXML namespace.
const Namespace = "info:fedora/fedora-system:def/foxml#"

const (
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"
	schemaLocation = "info:fedora/fedora-system:def/foxml# http://www.fedora.info/definitions/1/0/foxml1-1.xsd"
)

// Object property names.
const (
	propState    = "info:fedora/fedora-system:def/model#state"
	propLabel    = "info:fedora/fedora-system:def/model#label"
	propOwner    = "info:fedora/fedora-system:def/model#ownerId"
	propCreated  = "info:fedora/fedora-system:def/model#createdDate"
	propModified = "info:fedora/fedora-system:def/view#lastModifiedDate"
)

// Reserved datastream ids with indexed content.
const (
	DSIDDC      = "DC"
	DSIDRELSExt = "RELS-EXT"
	DSIDRELSInt = "RELS-INT"
)

// defaultDC builds the minimal Dublin Core record every object
// carries: an oai_dc document holding the PID as identifier and the
// label, if any, as title.
func defaultDC(pid repo.PID, label string) []byte {
	doc := `<oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">` +
		"\n  <dc:identifier>" + escapeAttr(pid.String()) + "</dc:identifier>\n"
	if label != "" {
		doc += "  <dc:title>" + escapeAttr(label) + "</dc:title>\n"
	}
	return []byte(doc + "</oai_dc:dc>")
}

// contentLocation types.
const (
	locationInternal = "INTERNAL_ID"
	locationURL      = "URL"
)

// versionID names the nth version of a datastream, oldest first.
func versionID(dsid string, n int) string {
	return fmt.Sprintf("%s.%d", dsid, n)
}

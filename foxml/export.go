package foxml

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/repo"
)

// ExportOptions adjust how datastream content is represented.
type ExportOptions struct {
	// Archival inlines managed content as base64 instead of
	// pointing at the content endpoint.
	Archival bool
	// BaseURL prefixes INTERNAL_ID content locations, e.g.
	// "http://localhost:14000".
	BaseURL string
}

// Export streams an object as FOXML 1.1. Datastream versions are
// emitted oldest first under ids DSID.0, DSID.1, and so on, with the
// current version last.
func Export(tx *sqlx.Tx, fs *filestore.Store, objectID int64, w io.Writer, opts ExportOptions) error {
	obj, err := db.GetObject(tx, objectID)
	if err != nil {
		return err
	}
	pid, err := db.ObjectPID(tx, objectID)
	if err != nil {
		return err
	}
	owner, err := db.UserName(tx, obj.OwnerID)
	if err != nil {
		return err
	}

	ew := &errWriter{w: w}
	ew.printf("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	ew.printf(`<foxml:digitalObject VERSION="1.1" PID="%s"`+"\n", escapeAttr(pid.String()))
	ew.printf(`    xmlns:foxml="%s"`+"\n", Namespace)
	ew.printf(`    xmlns:xsi="%s"`+"\n", xsiNamespace)
	ew.printf(`    xsi:schemaLocation="%s">`+"\n", schemaLocation)
	ew.printf("  <foxml:objectProperties>\n")
	property(ew, propState, obj.State.Name())
	property(ew, propLabel, obj.Label)
	property(ew, propOwner, owner)
	property(ew, propCreated, repo.FormatTime(obj.Created))
	property(ew, propModified, repo.FormatTime(obj.Modified))
	ew.printf("  </foxml:objectProperties>\n")

	streams, err := db.ListDatastreams(tx, objectID)
	if err != nil {
		return err
	}
	for i := range streams {
		if err := exportDatastream(tx, fs, pid, &streams[i], ew, opts); err != nil {
			return err
		}
	}
	ew.printf("</foxml:digitalObject>\n")
	return ew.err
}

func property(ew *errWriter, name, value string) {
	ew.printf(`    <foxml:property NAME="%s" VALUE="%s"/>`+"\n",
		escapeAttr(name), escapeAttr(value))
}

// dsVersion is one exported version of a datastream.
type dsVersion struct {
	label      string
	resourceID int64
	hasContent bool
	created    time.Time
	current    bool
}

func exportDatastream(tx *sqlx.Tx, fs *filestore.Store, pid repo.PID, ds *db.Datastream, ew *errWriter, opts ExportOptions) error {
	olds, err := db.ListDatastreamVersions(tx, ds.ID)
	if err != nil {
		return err
	}
	versions := make([]dsVersion, 0, len(olds)+1)
	for _, old := range olds {
		versions = append(versions, dsVersion{
			label:      old.Label,
			resourceID: old.ResourceID.Int64,
			hasContent: old.ResourceID.Valid,
			created:    old.Committed,
		})
	}
	versions = append(versions, dsVersion{
		label:      ds.Label,
		resourceID: ds.ResourceID.Int64,
		hasContent: ds.ResourceID.Valid,
		created:    ds.Modified,
		current:    true,
	})

	versionable := "false"
	if ds.Versioned {
		versionable = "true"
	}
	ew.printf(`  <foxml:datastream ID="%s" STATE="%s" CONTROL_GROUP="%s" VERSIONABLE="%s">`+"\n",
		escapeAttr(ds.DSID), ds.State, ds.ControlGroup, versionable)
	for i, v := range versions {
		if err := exportVersion(tx, fs, pid, ds, ew, opts, v, i); err != nil {
			return err
		}
	}
	ew.printf("  </foxml:datastream>\n")
	return ew.err
}

func exportVersion(tx *sqlx.Tx, fs *filestore.Store, pid repo.PID, ds *db.Datastream, ew *errWriter, opts ExportOptions, v dsVersion, n int) error {
	ew.printf(`    <foxml:datastreamVersion ID="%s" LABEL="%s" CREATED="%s"`,
		escapeAttr(versionID(ds.DSID, n)), escapeAttr(v.label), repo.FormatTime(v.created))
	if !v.hasContent {
		ew.printf("/>\n")
		return ew.err
	}
	res, err := db.GetResource(tx, v.resourceID)
	if err != nil {
		return err
	}
	mime, err := db.MimeName(tx, res.MimeID)
	if err != nil {
		return err
	}
	ew.printf(` MIMETYPE="%s"`, escapeAttr(mime))
	stored := ds.ControlGroup == repo.GroupInline || ds.ControlGroup == repo.GroupManaged
	if stored {
		size, err := fs.Size(res.URI)
		if err != nil {
			return err
		}
		ew.printf(` SIZE="%d"`, size)
	}
	ew.printf(">\n")

	sums, err := db.GetChecksums(tx, v.resourceID)
	if err != nil {
		return err
	}
	for _, s := range sums {
		ew.printf(`      <foxml:contentDigest TYPE="%s" DIGEST="%s"/>`+"\n",
			escapeAttr(s.Type), escapeAttr(s.Checksum))
	}

	switch {
	case ds.ControlGroup == repo.GroupInline:
		ew.printf("      <foxml:xmlContent>")
		if err := copyContent(fs, res.URI, ew); err != nil {
			return err
		}
		ew.printf("</foxml:xmlContent>\n")
	case ds.ControlGroup == repo.GroupManaged && opts.Archival:
		ew.printf("      <foxml:binaryContent>")
		if err := copyBase64(fs, res.URI, ew); err != nil {
			return err
		}
		ew.printf("</foxml:binaryContent>\n")
	case ds.ControlGroup == repo.GroupManaged:
		ref := opts.BaseURL + "/objects/" + url.PathEscape(pid.String()) +
			"/datastreams/" + url.PathEscape(ds.DSID) + "/content"
		if !v.current {
			ref += "?asOfDateTime=" + url.QueryEscape(repo.FormatTime(v.created))
		}
		ew.printf(`      <foxml:contentLocation TYPE="%s" REF="%s"/>`+"\n",
			locationInternal, escapeAttr(ref))
	default:
		// redirect content lives at the resource URI itself
		ew.printf(`      <foxml:contentLocation TYPE="%s" REF="%s"/>`+"\n",
			locationURL, escapeAttr(res.URI))
	}
	ew.printf("    </foxml:datastreamVersion>\n")
	return ew.err
}

func copyContent(fs *filestore.Store, uri string, ew *errWriter) error {
	f, err := fs.Open(uri)
	if err != nil {
		return err
	}
	defer f.Close()
	if ew.err != nil {
		return ew.err
	}
	_, err = io.Copy(ew.w, f)
	if err != nil {
		ew.err = errors.Wrap(err, "export "+uri)
	}
	return ew.err
}

func copyBase64(fs *filestore.Store, uri string, ew *errWriter) error {
	f, err := fs.Open(uri)
	if err != nil {
		return err
	}
	defer f.Close()
	if ew.err != nil {
		return ew.err
	}
	enc := base64.NewEncoder(base64.StdEncoding, ew.w)
	if _, err = io.Copy(enc, f); err == nil {
		err = enc.Close()
	}
	if err != nil {
		ew.err = errors.Wrap(err, "export "+uri)
	}
	return ew.err
}

// errWriter remembers the first write error so the export path does
// not have to check every print.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

package foxml

import (
	"bytes"
	"encoding/xml"
	"io"
	"strings"

	"github.com/ndlib/repod/relations"
	"github.com/ndlib/repod/repo"
)

// A triple is one statement lifted from a RELS or DC fragment, still
// in raw form. About is the rdf:about of the enclosing Description,
// empty for DC.
type triple struct {
	About     string
	Namespace string
	Predicate string
	Text      string
	Resource  string
}

// parseRDF lifts the triples out of an rdf:RDF fragment, as carried by
// RELS-EXT and RELS-INT.
func parseRDF(fragment []byte) ([]triple, error) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	var out []triple
	var about string
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, repo.InvalidArgumentf("bad RDF: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch depth {
			case 1:
				if t.Name.Space != relations.NamespaceRDF || t.Name.Local != "RDF" {
					return nil, repo.InvalidArgumentf("expected rdf:RDF, got %s", t.Name.Local)
				}
			case 2:
				if t.Name.Local != "Description" {
					return nil, repo.InvalidArgumentf("expected rdf:Description, got %s", t.Name.Local)
				}
				about = attrValue(t, relations.NamespaceRDF, "about")
			case 3:
				tr := triple{
					About:     about,
					Namespace: t.Name.Space,
					Predicate: t.Name.Local,
					Resource:  attrValue(t, relations.NamespaceRDF, "resource"),
				}
				text, err := collectText(dec)
				if err != nil {
					return nil, err
				}
				tr.Text = strings.TrimSpace(text)
				out = append(out, tr)
				depth--
			}
		case xml.EndElement:
			depth--
		}
	}
}

// parseDC lifts the Dublin Core elements out of an oai_dc:dc fragment
// as triples in the DC namespace.
func parseDC(fragment []byte) ([]triple, error) {
	dec := xml.NewDecoder(bytes.NewReader(fragment))
	var out []triple
	depth := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, repo.InvalidArgumentf("bad DC: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && t.Name.Space == relations.NamespaceDC {
				text, err := collectText(dec)
				if err != nil {
					return nil, err
				}
				text = strings.TrimSpace(text)
				if text != "" {
					out = append(out, triple{
						Namespace: relations.NamespaceDC,
						Predicate: t.Name.Local,
						Text:      text,
					})
				}
				depth--
			}
		case xml.EndElement:
			depth--
		}
	}
}

// collectText consumes up to the current element's end tag and returns
// the concatenated character data, skipping nested markup.
func collectText(dec *xml.Decoder) (string, error) {
	var sb strings.Builder
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return "", repo.InvalidArgumentf("bad XML: %s", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 1 {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

func attrValue(se xml.StartElement, space, local string) string {
	for _, a := range se.Attr {
		if a.Name.Local == local && (a.Name.Space == space || a.Name.Space == "") {
			return a.Value
		}
	}
	return ""
}

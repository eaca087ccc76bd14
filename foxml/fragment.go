package foxml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"

	"github.com/ndlib/repod/relations"
)

// preferredPrefixes are the conventional prefixes for namespaces we
// expect inside inline XML. Anything else gets a generated prefix.
var preferredPrefixes = map[string]string{
	relations.NamespaceRDF:               "rdf",
	relations.NamespaceDC:                "dc",
	relations.NamespaceOAIDC:             "oai_dc",
	relations.NamespaceFedoraRelsExt:     "fedora",
	relations.NamespaceFedoraModel:       "fedora-model",
	relations.NamespaceFedoraView:        "fedora-view",
	relations.NamespaceIslandoraRelsExt:  "islandora",
	relations.NamespaceIslandoraRelsInt:  "islandora-relsint",
}

// captureFragment consumes decoder tokens from just after root until
// root's end element and renders the subtree as a standalone XML
// fragment. Namespaces are re-declared on the fragment's root element,
// so the result parses on its own. The byte form is not preserved,
// only the infoset; inline XML round-trips semantically, not
// literally.
func captureFragment(dec *xml.Decoder, root xml.StartElement) ([]byte, error) {
	tokens := []xml.Token{root.Copy()}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		}
		if depth == 0 {
			break
		}
		tokens = append(tokens, xml.CopyToken(tok))
	}
	// root's end element was not collected; render closes every
	// element it opens, so append it explicitly
	tokens = append(tokens, xml.EndElement{Name: root.Name})

	fw := newFragmentWriter()
	fw.collect(tokens)
	return fw.render(tokens)
}

type fragmentWriter struct {
	prefixes map[string]string
	used     map[string]bool
}

func newFragmentWriter() *fragmentWriter {
	return &fragmentWriter{
		prefixes: make(map[string]string),
		used:     make(map[string]bool),
	}
}

// collect assigns a prefix to every namespace in the token stream.
func (fw *fragmentWriter) collect(tokens []xml.Token) {
	n := 0
	assign := func(space string) {
		if space == "" || space == "xmlns" {
			return
		}
		if _, ok := fw.prefixes[space]; ok {
			return
		}
		p, ok := preferredPrefixes[space]
		if !ok || fw.used[p] {
			p = fmt.Sprintf("ns%d", n)
			n++
		}
		fw.prefixes[space] = p
		fw.used[p] = true
	}
	for _, tok := range tokens {
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		assign(se.Name.Space)
		for _, a := range se.Attr {
			assign(a.Name.Space)
		}
	}
}

func (fw *fragmentWriter) qualify(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return fw.prefixes[name.Space] + ":" + name.Local
}

// render writes the tokens back out as text. The first start element
// carries every namespace declaration.
func (fw *fragmentWriter) render(tokens []xml.Token) ([]byte, error) {
	var buf bytes.Buffer
	declared := false
	var stack []xml.Name
	for _, tok := range tokens {
		switch t := tok.(type) {
		case xml.StartElement:
			buf.WriteByte('<')
			buf.WriteString(fw.qualify(t.Name))
			if !declared {
				fw.writeDeclarations(&buf)
				declared = true
			}
			for _, a := range t.Attr {
				if a.Name.Space == "xmlns" || a.Name.Local == "xmlns" {
					continue
				}
				fmt.Fprintf(&buf, ` %s="%s"`, fw.qualify(a.Name), escapeAttr(a.Value))
			}
			buf.WriteByte('>')
			stack = append(stack, t.Name)
		case xml.EndElement:
			buf.WriteString("</")
			buf.WriteString(fw.qualify(t.Name))
			buf.WriteByte('>')
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if err := escapeInto(&buf, []byte(t)); err != nil {
				return nil, err
			}
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("unbalanced inline XML")
	}
	return buf.Bytes(), nil
}

func (fw *fragmentWriter) writeDeclarations(w io.Writer) {
	spaces := make([]string, 0, len(fw.prefixes))
	for s := range fw.prefixes {
		spaces = append(spaces, s)
	}
	sort.Strings(spaces)
	for _, s := range spaces {
		fmt.Fprintf(w, ` xmlns:%s="%s"`, fw.prefixes[s], escapeAttr(s))
	}
}

func escapeAttr(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func escapeInto(w io.Writer, b []byte) error {
	return xml.EscapeText(w, b)
}

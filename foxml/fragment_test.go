package foxml

import (
	"encoding/xml"
	"strings"
	"testing"
)

func capture(t *testing.T, doc string) []byte {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		tok, err := dec.Token()
		if err != nil {
			t.Fatalf("no root element: %s", err)
		}
		if se, ok := tok.(xml.StartElement); ok {
			frag, err := captureFragment(dec, se)
			if err != nil {
				t.Fatalf("captureFragment: %s", err)
			}
			return frag
		}
	}
}

func TestCaptureFragmentRoundTrips(t *testing.T) {
	const doc = `<rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	    xmlns:fedora="info:fedora/fedora-system:def/relations-external#">
	  <rdf:Description rdf:about="info:fedora/test:1">
	    <fedora:isMemberOf rdf:resource="info:fedora/test:2"/>
	  </rdf:Description>
	</rdf:RDF>`
	frag := capture(t, doc)

	triples, err := parseRDF(frag)
	if err != nil {
		t.Fatalf("parseRDF: %s\n%s", err, frag)
	}
	if len(triples) != 1 {
		t.Fatalf("triples = %+v, want 1", triples)
	}
	tr := triples[0]
	if tr.About != "info:fedora/test:1" ||
		tr.Predicate != "isMemberOf" ||
		tr.Resource != "info:fedora/test:2" {
		t.Errorf("triple = %+v", tr)
	}
}

func TestCaptureFragmentUnknownNamespace(t *testing.T) {
	const doc = `<x:root xmlns:x="http://example.org/x#"><x:child attr="a &amp; b">text &lt; here</x:child></x:root>`
	frag := string(capture(t, doc))

	if !strings.Contains(frag, `="http://example.org/x#"`) {
		t.Errorf("namespace not redeclared: %s", frag)
	}
	if !strings.Contains(frag, "text &lt; here") {
		t.Errorf("text not escaped: %s", frag)
	}
	if !strings.Contains(frag, `attr="a &amp; b"`) {
		t.Errorf("attribute not escaped: %s", frag)
	}
}

func TestParseDC(t *testing.T) {
	const doc = `<oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/"
	    xmlns:dc="http://purl.org/dc/elements/1.1/">
	  <dc:title>A Title</dc:title>
	  <dc:creator> someone </dc:creator>
	  <dc:description></dc:description>
	</oai_dc:dc>`
	triples, err := parseDC([]byte(doc))
	if err != nil {
		t.Fatalf("parseDC: %s", err)
	}
	if len(triples) != 2 {
		t.Fatalf("triples = %+v, want 2", triples)
	}
	if triples[0].Predicate != "title" || triples[0].Text != "A Title" {
		t.Errorf("first = %+v", triples[0])
	}
	if triples[1].Predicate != "creator" || triples[1].Text != "someone" {
		t.Errorf("second = %+v", triples[1])
	}
}

package foxml

import (
	"bytes"
	"encoding/base64"
	"io"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/relations"
	"github.com/ndlib/repod/repo"
)

type fixture struct {
	d   *db.DB
	tx  *sqlx.Tx
	fs  *filestore.Store
	imp *Importer
}

func setup(t *testing.T) *fixture {
	dir := t.TempDir()
	d, err := db.Open("sqlite3", filepath.Join(dir, "repod.db"))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { d.Close() })
	fs, err := filestore.New(filepath.Join(dir, "content"), d)
	if err != nil {
		t.Fatalf("filestore.New: %s", err)
	}
	tx, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %s", err)
	}
	t.Cleanup(func() { tx.Rollback() })

	sourceID, err := db.UpsertSource(tx, "test")
	if err != nil {
		t.Fatalf("UpsertSource: %s", err)
	}
	userID, err := db.UpsertUser(tx, "admin", sourceID)
	if err != nil {
		t.Fatalf("UpsertUser: %s", err)
	}
	ids := idcache.New(256)
	return &fixture{
		d:  d,
		tx: tx,
		fs: fs,
		imp: &Importer{
			FS:       fs,
			IDs:      ids,
			Rels:     relations.NewEngine(ids),
			Identity: repo.Identity{SourceID: sourceID, UserID: userID},
		},
	}
}

// newCollection creates the object RELS-EXT statements point at.
func (f *fixture) newCollection(t *testing.T) *db.Object {
	nsID, err := db.UpsertNamespace(f.tx, "test")
	if err != nil {
		t.Fatalf("UpsertNamespace: %s", err)
	}
	obj := &db.Object{NamespaceID: nsID, PIDLocal: "coll", OwnerID: f.imp.Identity.UserID}
	if err := db.CreateObject(f.tx, obj); err != nil {
		t.Fatalf("CreateObject: %s", err)
	}
	return obj
}

const helloDoc = `<?xml version="1.0" encoding="UTF-8"?>
<foxml:digitalObject VERSION="1.1" PID="test:10" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties>
    <foxml:property NAME="info:fedora/fedora-system:def/model#state" VALUE="Active"/>
    <foxml:property NAME="info:fedora/fedora-system:def/model#label" VALUE="Hello Object"/>
    <foxml:property NAME="info:fedora/fedora-system:def/model#ownerId" VALUE="importer"/>
    <foxml:property NAME="info:fedora/fedora-system:def/model#createdDate" VALUE="2020-01-01T00:00:00.000Z"/>
    <foxml:property NAME="info:fedora/fedora-system:def/view#lastModifiedDate" VALUE="2020-01-02T00:00:00.000Z"/>
  </foxml:objectProperties>
  <foxml:datastream ID="DC" STATE="A" CONTROL_GROUP="X" VERSIONABLE="true">
    <foxml:datastreamVersion ID="DC.0" LABEL="Dublin Core" CREATED="2020-01-01T00:00:00.000Z" MIMETYPE="text/xml">
      <foxml:xmlContent>
        <oai_dc:dc xmlns:oai_dc="http://www.openarchives.org/OAI/2.0/oai_dc/" xmlns:dc="http://purl.org/dc/elements/1.1/">
          <dc:title>Hello Object</dc:title>
          <dc:identifier>test:10</dc:identifier>
        </oai_dc:dc>
      </foxml:xmlContent>
    </foxml:datastreamVersion>
  </foxml:datastream>
  <foxml:datastream ID="RELS-EXT" STATE="A" CONTROL_GROUP="X" VERSIONABLE="false">
    <foxml:datastreamVersion ID="RELS-EXT.0" CREATED="2020-01-01T00:00:00.000Z" MIMETYPE="application/rdf+xml">
      <foxml:xmlContent>
        <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#" xmlns:fedora="info:fedora/fedora-system:def/relations-external#">
          <rdf:Description rdf:about="info:fedora/test:10">
            <fedora:isMemberOfCollection rdf:resource="info:fedora/test:coll"/>
          </rdf:Description>
        </rdf:RDF>
      </foxml:xmlContent>
    </foxml:datastreamVersion>
  </foxml:datastream>
  <foxml:datastream ID="OBJ" STATE="A" CONTROL_GROUP="M" VERSIONABLE="true">
    <foxml:datastreamVersion ID="OBJ.0" LABEL="old" CREATED="2020-01-01T00:00:00.000Z" MIMETYPE="text/plain">
      <foxml:binaryContent>aGVsbG8=</foxml:binaryContent>
    </foxml:datastreamVersion>
    <foxml:datastreamVersion ID="OBJ.1" LABEL="new" CREATED="2020-01-02T00:00:00.000Z" MIMETYPE="text/plain">
      <foxml:binaryContent>aGVsbG8gd29ybGQ=</foxml:binaryContent>
    </foxml:datastreamVersion>
  </foxml:datastream>
  <foxml:datastream ID="LINK" STATE="A" CONTROL_GROUP="R" VERSIONABLE="false">
    <foxml:datastreamVersion ID="LINK.0" CREATED="2020-01-01T00:00:00.000Z" MIMETYPE="text/html">
      <foxml:contentLocation TYPE="URL" REF="http://example.org/page"/>
    </foxml:datastreamVersion>
  </foxml:datastream>
</foxml:digitalObject>
`

func (f *fixture) content(t *testing.T, ds *db.Datastream) string {
	t.Helper()
	res, err := db.GetResource(f.tx, ds.ResourceID.Int64)
	if err != nil {
		t.Fatalf("GetResource: %s", err)
	}
	file, err := f.fs.Open(res.URI)
	if err != nil {
		t.Fatalf("Open %s: %s", res.URI, err)
	}
	defer file.Close()
	b, err := ioutil.ReadAll(file)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	return string(b)
}

func TestImport(t *testing.T) {
	f := setup(t)
	coll := f.newCollection(t)

	pid, err := f.imp.Import(f.tx, strings.NewReader(helloDoc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	if pid.String() != "test:10" {
		t.Errorf("pid = %s, want test:10", pid)
	}

	obj, err := db.GetObjectByPID(f.tx, pid)
	if err != nil {
		t.Fatalf("GetObjectByPID: %s", err)
	}
	if obj.Label != "Hello Object" || obj.State != repo.StateActive {
		t.Errorf("object = %q/%s, want Hello Object/A", obj.Label, obj.State)
	}
	owner, err := db.UserName(f.tx, obj.OwnerID)
	if err != nil || owner != "importer" {
		t.Errorf("owner = %q, %v, want importer", owner, err)
	}
	if repo.FormatTime(obj.Created) != "2020-01-01T00:00:00.000Z" {
		t.Errorf("created = %s", repo.FormatTime(obj.Created))
	}

	// the current OBJ version carries the newer content
	objDS, err := db.GetDatastream(f.tx, obj.ID, "OBJ")
	if err != nil {
		t.Fatalf("GetDatastream: %s", err)
	}
	if got := f.content(t, objDS); got != "hello world" {
		t.Errorf("OBJ content = %q, want hello world", got)
	}
	versions, err := db.ListDatastreamVersions(f.tx, objDS.ID)
	if err != nil {
		t.Fatalf("ListDatastreamVersions: %s", err)
	}
	if len(versions) != 1 || versions[0].Label != "old" {
		t.Fatalf("OBJ history = %+v, want one version labelled old", versions)
	}

	// redirect content is only a URL
	link, err := db.GetDatastream(f.tx, obj.ID, "LINK")
	if err != nil {
		t.Fatalf("GetDatastream LINK: %s", err)
	}
	res, err := db.GetResource(f.tx, link.ResourceID.Int64)
	if err != nil {
		t.Fatalf("GetResource: %s", err)
	}
	if res.URI != "http://example.org/page" {
		t.Errorf("LINK uri = %q", res.URI)
	}

	// relationship index
	var n int
	err = f.tx.Get(&n, `SELECT count(*) FROM is_member_of_collection WHERE rdf_subject = ? AND rdf_object = ?`,
		obj.ID, coll.ID)
	if err != nil || n != 1 {
		t.Errorf("is_member_of_collection rows = %d, %v, want 1", n, err)
	}
	var titles []string
	err = f.tx.Select(&titles, `
		SELECT r.rdf_object FROM object_relationships r
		JOIN predicates p ON p.id = r.predicate_id
		WHERE r.rdf_subject = ? AND p.predicate = 'title'`, obj.ID)
	if err != nil || len(titles) != 1 || titles[0] != "Hello Object" {
		t.Errorf("dc:title rows = %v, %v", titles, err)
	}

	// the PID counter jumped past the imported local id
	first, _, err := db.AllocatePIDs(f.tx, "test", 1)
	if err != nil {
		t.Fatalf("AllocatePIDs: %s", err)
	}
	if first != 11 {
		t.Errorf("next PID = %d, want 11", first)
	}
}

func TestImportDuplicate(t *testing.T) {
	f := setup(t)
	f.newCollection(t)
	if _, err := f.imp.Import(f.tx, strings.NewReader(helloDoc)); err != nil {
		t.Fatalf("Import: %s", err)
	}
	_, err := f.imp.Import(f.tx, strings.NewReader(helloDoc))
	if !repo.IsAlreadyExists(err) {
		t.Fatalf("second import error = %v, want AlreadyExists", err)
	}
}

func TestImportSynthesizesDC(t *testing.T) {
	f := setup(t)
	const doc = `<foxml:digitalObject VERSION="1.1" PID="test:1" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties>
    <foxml:property NAME="info:fedora/fedora-system:def/model#label" VALUE="Bare"/>
  </foxml:objectProperties>
</foxml:digitalObject>`
	pid, err := f.imp.Import(f.tx, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	obj, err := db.GetObjectByPID(f.tx, pid)
	if err != nil {
		t.Fatalf("GetObjectByPID: %s", err)
	}
	dc, err := db.GetDatastream(f.tx, obj.ID, "DC")
	if err != nil {
		t.Fatalf("no DC synthesized: %s", err)
	}
	content := f.content(t, dc)
	if !strings.Contains(content, "<dc:identifier>test:1</dc:identifier>") {
		t.Errorf("default DC = %q", content)
	}
	var ids []string
	err = f.tx.Select(&ids, `
		SELECT r.rdf_object FROM object_relationships r
		JOIN predicates p ON p.id = r.predicate_id
		WHERE r.rdf_subject = ? AND p.predicate = 'identifier'`, obj.ID)
	if err != nil || len(ids) != 1 || ids[0] != "test:1" {
		t.Errorf("dc:identifier rows = %v, %v", ids, err)
	}
}

func TestImportRejectsExternalGroup(t *testing.T) {
	f := setup(t)
	const doc = `<foxml:digitalObject VERSION="1.1" PID="test:1" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties/>
  <foxml:datastream ID="EXT" CONTROL_GROUP="E">
    <foxml:datastreamVersion ID="EXT.0"/>
  </foxml:datastream>
</foxml:digitalObject>`
	_, err := f.imp.Import(f.tx, strings.NewReader(doc))
	if !repo.IsKind(err, repo.KindUnsupportedStorageClass) {
		t.Fatalf("error = %v, want UnsupportedStorageClass", err)
	}
}

func TestImportMissingReference(t *testing.T) {
	f := setup(t)
	// test:coll is never created
	_, err := f.imp.Import(f.tx, strings.NewReader(helloDoc))
	if !repo.IsKind(err, repo.KindReferencedEntityNotFound) {
		t.Fatalf("error = %v, want ReferencedEntityNotFound", err)
	}
}

func TestImportInternalLocation(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fetched bytes"))
	}))
	defer srv.Close()

	doc := `<foxml:digitalObject VERSION="1.1" PID="test:1" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties/>
  <foxml:datastream ID="OBJ" CONTROL_GROUP="M">
    <foxml:datastreamVersion ID="OBJ.0" MIMETYPE="text/plain">
      <foxml:contentLocation TYPE="INTERNAL_ID" REF="` + srv.URL + `/content"/>
    </foxml:datastreamVersion>
  </foxml:datastream>
</foxml:digitalObject>`
	pid, err := f.imp.Import(f.tx, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	obj, _ := db.GetObjectByPID(f.tx, pid)
	ds, err := db.GetDatastream(f.tx, obj.ID, "OBJ")
	if err != nil {
		t.Fatalf("GetDatastream: %s", err)
	}
	if got := f.content(t, ds); got != "fetched bytes" {
		t.Errorf("content = %q, want fetched bytes", got)
	}
}

func TestImportBinaryContentWrapped(t *testing.T) {
	f := setup(t)

	// line-wrapped base64 of a payload big enough to span many reads
	payload := bytes.Repeat([]byte("0123456789abcdef"), 4096)
	enc := base64.StdEncoding.EncodeToString(payload)
	var wrapped strings.Builder
	for len(enc) > 76 {
		wrapped.WriteString(enc[:76])
		wrapped.WriteString("\n      ")
		enc = enc[76:]
	}
	wrapped.WriteString(enc)

	doc := `<foxml:digitalObject VERSION="1.1" PID="test:1" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties/>
  <foxml:datastream ID="OBJ" CONTROL_GROUP="M">
    <foxml:datastreamVersion ID="OBJ.0" MIMETYPE="application/octet-stream">
      <foxml:binaryContent>
      ` + wrapped.String() + `
      </foxml:binaryContent>
    </foxml:datastreamVersion>
  </foxml:datastream>
</foxml:digitalObject>`
	pid, err := f.imp.Import(f.tx, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	obj, _ := db.GetObjectByPID(f.tx, pid)
	ds, err := db.GetDatastream(f.tx, obj.ID, "OBJ")
	if err != nil {
		t.Fatalf("GetDatastream: %s", err)
	}
	if got := f.content(t, ds); got != string(payload) {
		t.Errorf("content = %d bytes, want %d bytes of payload", len(got), len(payload))
	}
}

func TestImportURLLocationFetched(t *testing.T) {
	f := setup(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("remote bytes"))
	}))
	defer srv.Close()

	// a URL location on a managed datastream is fetched, not linked
	doc := `<foxml:digitalObject VERSION="1.1" PID="test:1" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties/>
  <foxml:datastream ID="OBJ" CONTROL_GROUP="M">
    <foxml:datastreamVersion ID="OBJ.0" MIMETYPE="text/plain">
      <foxml:contentLocation TYPE="URL" REF="` + srv.URL + `/data.bin"/>
    </foxml:datastreamVersion>
  </foxml:datastream>
</foxml:digitalObject>`
	pid, err := f.imp.Import(f.tx, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	obj, _ := db.GetObjectByPID(f.tx, pid)
	ds, err := db.GetDatastream(f.tx, obj.ID, "OBJ")
	if err != nil {
		t.Fatalf("GetDatastream: %s", err)
	}
	res, err := db.GetResource(f.tx, ds.ResourceID.Int64)
	if err != nil {
		t.Fatalf("GetResource: %s", err)
	}
	if !strings.HasPrefix(res.URI, filestore.SchemeDatastream+"://") {
		t.Errorf("resource uri = %q, want stashed content", res.URI)
	}
	if got := f.content(t, ds); got != "remote bytes" {
		t.Errorf("content = %q, want remote bytes", got)
	}
	var buf bytes.Buffer
	if err := Export(f.tx, f.fs, obj.ID, &buf, ExportOptions{}); err != nil {
		t.Fatalf("Export: %s", err)
	}
}

func TestImportRedirectDigestSkipped(t *testing.T) {
	f := setup(t)

	// a digest on a redirect datastream cannot be verified; the
	// import must not try to open the external URL
	doc := `<foxml:digitalObject VERSION="1.1" PID="test:1" xmlns:foxml="info:fedora/fedora-system:def/foxml#">
  <foxml:objectProperties/>
  <foxml:datastream ID="LINK" CONTROL_GROUP="R">
    <foxml:datastreamVersion ID="LINK.0" MIMETYPE="text/html">
      <foxml:contentDigest TYPE="MD5" DIGEST="5d41402abc4b2a76b9719d911017c592"/>
      <foxml:contentLocation TYPE="URL" REF="http://example.org/page"/>
    </foxml:datastreamVersion>
  </foxml:datastream>
</foxml:digitalObject>`
	pid, err := f.imp.Import(f.tx, strings.NewReader(doc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	obj, _ := db.GetObjectByPID(f.tx, pid)
	ds, err := db.GetDatastream(f.tx, obj.ID, "LINK")
	if err != nil {
		t.Fatalf("GetDatastream: %s", err)
	}
	res, err := db.GetResource(f.tx, ds.ResourceID.Int64)
	if err != nil {
		t.Fatalf("GetResource: %s", err)
	}
	if res.URI != "http://example.org/page" {
		t.Errorf("resource uri = %q", res.URI)
	}
	sums, err := db.GetChecksums(f.tx, ds.ResourceID.Int64)
	if err != nil {
		t.Fatalf("GetChecksums: %s", err)
	}
	if len(sums) != 0 {
		t.Errorf("checksums = %+v, want none", sums)
	}
}

func TestRoundTrip(t *testing.T) {
	f := setup(t)
	f.newCollection(t)
	pid, err := f.imp.Import(f.tx, strings.NewReader(helloDoc))
	if err != nil {
		t.Fatalf("Import: %s", err)
	}
	obj, err := db.GetObjectByPID(f.tx, pid)
	if err != nil {
		t.Fatalf("GetObjectByPID: %s", err)
	}
	var buf bytes.Buffer
	err = Export(f.tx, f.fs, obj.ID, &buf, ExportOptions{Archival: true})
	if err != nil {
		t.Fatalf("Export: %s", err)
	}

	// the archival export rebuilds the same object elsewhere
	g := setup(t)
	g.newCollection(t)
	pid2, err := g.imp.Import(g.tx, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("reimport: %s\n%s", err, buf.String())
	}
	if pid2 != pid {
		t.Fatalf("pid = %s, want %s", pid2, pid)
	}
	obj2, err := db.GetObjectByPID(g.tx, pid2)
	if err != nil {
		t.Fatalf("GetObjectByPID: %s", err)
	}
	if obj2.Label != obj.Label || obj2.State != obj.State {
		t.Errorf("object = %q/%s, want %q/%s", obj2.Label, obj2.State, obj.Label, obj.State)
	}
	if !obj2.Created.Equal(obj.Created) {
		t.Errorf("created = %s, want %s", obj2.Created, obj.Created)
	}

	ds2, err := db.GetDatastream(g.tx, obj2.ID, "OBJ")
	if err != nil {
		t.Fatalf("GetDatastream: %s", err)
	}
	if got := g.content(t, ds2); got != "hello world" {
		t.Errorf("OBJ content = %q, want hello world", got)
	}
	versions, err := db.ListDatastreamVersions(g.tx, ds2.ID)
	if err != nil || len(versions) != 1 {
		t.Fatalf("OBJ history = %+v, %v, want one version", versions, err)
	}
	var n int
	err = g.tx.Get(&n, `SELECT count(*) FROM is_member_of_collection WHERE rdf_subject = ?`, obj2.ID)
	if err != nil || n != 1 {
		t.Errorf("is_member_of_collection rows = %d, %v, want 1", n, err)
	}
}

func TestImportBatchForce(t *testing.T) {
	f := setup(t)
	f.newCollection(t)

	results := f.imp.ImportBatch(f.tx, []io.ReadSeeker{strings.NewReader(helloDoc)}, false)
	if results[0].Err != nil {
		t.Fatalf("first batch: %s", results[0].Err)
	}

	// without force the duplicate fails, with force it replaces
	results = f.imp.ImportBatch(f.tx, []io.ReadSeeker{strings.NewReader(helloDoc)}, false)
	if !repo.IsAlreadyExists(results[0].Err) {
		t.Fatalf("duplicate error = %v, want AlreadyExists", results[0].Err)
	}
	results = f.imp.ImportBatch(f.tx, []io.ReadSeeker{strings.NewReader(helloDoc)}, true)
	if results[0].Err != nil {
		t.Fatalf("forced batch: %s", results[0].Err)
	}
	obj, err := db.GetObjectByPID(f.tx, repo.PID{Namespace: "test", Local: "10"})
	if err != nil {
		t.Fatalf("GetObjectByPID after force: %s", err)
	}
	if obj.Label != "Hello Object" {
		t.Errorf("label = %q", obj.Label)
	}
}

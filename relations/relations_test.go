package relations

import (
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/idcache"
	"github.com/ndlib/repod/repo"
)

type fixture struct {
	tx       *sqlx.Tx
	engine   *Engine
	identity repo.Identity
	nsID     int64
}

func setup(t *testing.T) *fixture {
	d, err := db.Open("sqlite3", filepath.Join(t.TempDir(), "repod.db"))
	if err != nil {
		t.Fatalf("Open: %s", err)
	}
	t.Cleanup(func() { d.Close() })
	tx, err := d.Begin()
	if err != nil {
		t.Fatalf("Begin: %s", err)
	}
	t.Cleanup(func() { tx.Rollback() })

	sourceID, err := db.UpsertSource(tx, "test")
	if err != nil {
		t.Fatalf("UpsertSource: %s", err)
	}
	userID, err := db.UpsertUser(tx, "tester", sourceID)
	if err != nil {
		t.Fatalf("UpsertUser: %s", err)
	}
	nsID, err := db.UpsertNamespace(tx, "test")
	if err != nil {
		t.Fatalf("UpsertNamespace: %s", err)
	}
	return &fixture{
		tx:       tx,
		engine:   NewEngine(idcache.New(64)),
		identity: repo.Identity{SourceID: sourceID, UserID: userID},
		nsID:     nsID,
	}
}

func (f *fixture) newObject(t *testing.T, local string) *db.Object {
	obj := &db.Object{NamespaceID: f.nsID, PIDLocal: local, OwnerID: f.identity.UserID}
	if err := db.CreateObject(f.tx, obj); err != nil {
		t.Fatalf("CreateObject(%s): %s", local, err)
	}
	return obj
}

func (f *fixture) count(t *testing.T, table string, subject int64) int {
	var n int
	err := f.tx.Get(&n, `SELECT count(*) FROM `+table+` WHERE rdf_subject = ?`, subject)
	if err != nil {
		t.Fatalf("count %s: %s", table, err)
	}
	return n
}

func TestParseFedoraURI(t *testing.T) {
	var table = []struct {
		uri  string
		pid  string
		dsid string
		ok   bool
	}{
		{"info:fedora/test:1", "test:1", "", true},
		{"info:fedora/test:1/OBJ", "test:1", "OBJ", true},
		{"info:fedora/fedora-system:FedoraObject-3.0", "fedora-system:FedoraObject-3.0", "", true},
		{"http://example.org/test:1", "", "", false},
		{"info:fedora/nopid", "", "", false},
		{"", "", "", false},
	}
	for _, tab := range table {
		pid, dsid, ok := ParseFedoraURI(tab.uri)
		if ok != tab.ok {
			t.Errorf("ParseFedoraURI(%q) ok = %v, want %v", tab.uri, ok, tab.ok)
			continue
		}
		if ok && (pid.String() != tab.pid || dsid != tab.dsid) {
			t.Errorf("ParseFedoraURI(%q) = %s, %q, want %s, %q", tab.uri, pid, dsid, tab.pid, tab.dsid)
		}
	}
}

func TestWriteSpecializedObjectRelation(t *testing.T) {
	f := setup(t)
	member := f.newObject(t, "1")
	collection := f.newObject(t, "2")

	obj, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		NamespaceFedoraRelsExt, PredIsMemberOfCollection,
		"", "info:fedora/test:2")
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if obj.Kind != ObjectLink || obj.ID != collection.ID {
		t.Fatalf("resolved = %+v, want object link to %d", obj, collection.ID)
	}
	if err := f.engine.WriteObject(f.tx, member.ID, NamespaceFedoraRelsExt, PredIsMemberOfCollection, obj); err != nil {
		t.Fatalf("WriteObject: %s", err)
	}
	if n := f.count(t, "is_member_of_collection", member.ID); n != 1 {
		t.Errorf("is_member_of_collection rows = %d, want 1", n)
	}

	referenced, err := IsReferenced(f.tx, collection.ID)
	if err != nil {
		t.Fatalf("IsReferenced: %s", err)
	}
	if !referenced {
		t.Error("collection not reported as referenced")
	}
}

func TestResolveMissingObject(t *testing.T) {
	f := setup(t)
	f.newObject(t, "1")

	_, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		NamespaceFedoraRelsExt, PredIsMemberOfCollection,
		"", "info:fedora/test:404")
	if !repo.IsKind(err, repo.KindReferencedEntityNotFound) {
		t.Fatalf("error = %v, want ReferencedEntityNotFound", err)
	}
}

func TestResolveUserAndRole(t *testing.T) {
	f := setup(t)
	subject := f.newObject(t, "1")

	obj, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		NamespaceIslandoraRelsExt, PredIsViewableByUser, "alice", "")
	if err != nil {
		t.Fatalf("Resolve user: %s", err)
	}
	if obj.Kind != UserLink {
		t.Fatalf("resolved kind = %v, want UserLink", obj.Kind)
	}
	name, err := db.UserName(f.tx, obj.ID)
	if err != nil || name != "alice" {
		t.Errorf("user = %q, %v, want alice", name, err)
	}
	if err := f.engine.WriteObject(f.tx, subject.ID, NamespaceIslandoraRelsExt, PredIsViewableByUser, obj); err != nil {
		t.Fatalf("WriteObject: %s", err)
	}

	role, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		NamespaceIslandoraRelsExt, PredIsManageableByRole, "curators", "")
	if err != nil {
		t.Fatalf("Resolve role: %s", err)
	}
	if role.Kind != RoleLink {
		t.Errorf("resolved kind = %v, want RoleLink", role.Kind)
	}
}

func TestWriteGeneralRelation(t *testing.T) {
	f := setup(t)
	subject := f.newObject(t, "1")

	lit, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		NamespaceDC, "title", "A Title", "")
	if err != nil {
		t.Fatalf("Resolve literal: %s", err)
	}
	if err := f.engine.WriteObject(f.tx, subject.ID, NamespaceDC, "title", lit); err != nil {
		t.Fatalf("WriteObject literal: %s", err)
	}

	uri, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		"http://example.org/other#", "seeAlso", "", "http://example.org/elsewhere")
	if err != nil {
		t.Fatalf("Resolve uri: %s", err)
	}
	if uri.Kind != URI {
		t.Fatalf("resolved kind = %v, want URI", uri.Kind)
	}
	if err := f.engine.WriteObject(f.tx, subject.ID, "http://example.org/other#", "seeAlso", uri); err != nil {
		t.Fatalf("WriteObject uri: %s", err)
	}

	var types []string
	err = f.tx.Select(&types, `SELECT rdf_type FROM object_relationships WHERE rdf_subject = ? ORDER BY rdf_type`, subject.ID)
	if err != nil {
		t.Fatalf("select: %s", err)
	}
	if len(types) != 2 || types[0] != "L" || types[1] != "U" {
		t.Errorf("rdf types = %v, want [L U]", types)
	}

	// linked values never go to the general table
	err = f.engine.WriteObject(f.tx, subject.ID, "http://example.org/other#", "knows",
		RDFObject{Kind: ObjectLink, ID: subject.ID})
	if !repo.IsKind(err, repo.KindInvalidArgument) {
		t.Errorf("linked general write error = %v, want InvalidArgument", err)
	}
}

func TestSequenceNumberOf(t *testing.T) {
	f := setup(t)
	page := f.newObject(t, "1")
	paged := f.newObject(t, "2")

	err := f.engine.WriteObject(f.tx, page.ID, NamespaceIslandoraRelsExt,
		"isSequenceNumberOftest_2", RDFObject{Kind: Literal, Raw: "7"})
	if err != nil {
		t.Fatalf("WriteObject: %s", err)
	}
	var row struct {
		Object   int64 `db:"rdf_object"`
		Sequence int64 `db:"sequence_number"`
	}
	err = f.tx.Get(&row, `SELECT rdf_object, sequence_number FROM is_sequence_number_of WHERE rdf_subject = ?`, page.ID)
	if err != nil {
		t.Fatalf("select: %s", err)
	}
	if row.Object != paged.ID || row.Sequence != 7 {
		t.Errorf("row = %+v, want object %d sequence 7", row, paged.ID)
	}

	err = f.engine.WriteObject(f.tx, page.ID, NamespaceIslandoraRelsExt,
		"isSequenceNumberOftest_404", RDFObject{Kind: Literal, Raw: "7"})
	if !repo.IsKind(err, repo.KindReferencedEntityNotFound) {
		t.Errorf("missing paged object error = %v, want ReferencedEntityNotFound", err)
	}
}

func TestDeleteDCKeepsOtherRelations(t *testing.T) {
	f := setup(t)
	subject := f.newObject(t, "1")

	write := func(ns, pred, text string) {
		t.Helper()
		obj, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations, ns, pred, text, "")
		if err != nil {
			t.Fatalf("Resolve: %s", err)
		}
		if err := f.engine.WriteObject(f.tx, subject.ID, ns, pred, obj); err != nil {
			t.Fatalf("WriteObject: %s", err)
		}
	}
	write(NamespaceDC, "title", "A Title")
	write(NamespaceDC, "identifier", "test:1")
	write("http://example.org/other#", "note", "keep me")

	if err := DeleteDC(f.tx, subject.ID); err != nil {
		t.Fatalf("DeleteDC: %s", err)
	}
	if n := f.count(t, "object_relationships", subject.ID); n != 1 {
		t.Errorf("rows after DeleteDC = %d, want 1", n)
	}

	write(NamespaceDC, "title", "Again")
	if err := DeleteRELSEXT(f.tx, subject.ID); err != nil {
		t.Fatalf("DeleteRELSEXT: %s", err)
	}
	var left []string
	err := f.tx.Select(&left, `
		SELECT p.predicate FROM object_relationships r
		JOIN predicates p ON p.id = r.predicate_id
		WHERE r.rdf_subject = ?`, subject.ID)
	if err != nil {
		t.Fatalf("select: %s", err)
	}
	if len(left) != 1 || left[0] != "title" {
		t.Errorf("predicates after DeleteRELSEXT = %v, want [title]", left)
	}
}

func TestPurgeObject(t *testing.T) {
	f := setup(t)
	subject := f.newObject(t, "1")
	other := f.newObject(t, "2")

	obj, err := f.engine.Resolve(f.tx, f.identity, ObjectRelations,
		NamespaceFedoraRelsExt, PredIsMemberOf, "", "info:fedora/test:2")
	if err != nil {
		t.Fatalf("Resolve: %s", err)
	}
	if err := f.engine.WriteObject(f.tx, subject.ID, NamespaceFedoraRelsExt, PredIsMemberOf, obj); err != nil {
		t.Fatalf("WriteObject: %s", err)
	}
	ds := &db.Datastream{ObjectID: subject.ID, DSID: "DC", ControlGroup: repo.GroupInline}
	if err := db.CreateDatastream(f.tx, ds); err != nil {
		t.Fatalf("CreateDatastream: %s", err)
	}

	if err := PurgeObject(f.tx, subject.ID); err != nil {
		t.Fatalf("PurgeObject: %s", err)
	}
	if _, err := db.GetObject(f.tx, subject.ID); !repo.IsNotFound(err) {
		t.Errorf("object survives purge: %v", err)
	}
	if n := f.count(t, "is_member_of", subject.ID); n != 0 {
		t.Errorf("is_member_of rows after purge = %d, want 0", n)
	}
	referenced, err := IsReferenced(f.tx, other.ID)
	if err != nil {
		t.Fatalf("IsReferenced: %s", err)
	}
	if referenced {
		t.Error("purged relation still counted as a reference")
	}
}

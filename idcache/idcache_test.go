package idcache

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ndlib/repod/db"
)

func testTx(t *testing.T) *sqlx.Tx {
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
	return tx
}

func TestObjectNamespaceIDBurnsFirstPID(t *testing.T) {
	tx := testTx(t)
	c := New(10)

	id, err := c.ObjectNamespaceID(tx, "newly")
	if err != nil {
		t.Fatalf("ObjectNamespaceID: %s", err)
	}
	again, err := c.ObjectNamespaceID(tx, "newly")
	if err != nil {
		t.Fatalf("ObjectNamespaceID (cached): %s", err)
	}
	if id != again {
		t.Errorf("cached id = %d, want %d", again, id)
	}

	// local id 1 was consumed creating the namespace
	first, _, err := db.AllocatePIDs(tx, "newly", 1)
	if err != nil {
		t.Fatalf("AllocatePIDs: %s", err)
	}
	if first != 2 {
		t.Errorf("first allocation after creation-by-lookup = %d, want 2", first)
	}
}

func TestObjectNamespaceIDExistingBurnsNothing(t *testing.T) {
	tx := testTx(t)
	c := New(10)

	if _, err := db.UpsertNamespace(tx, "existing"); err != nil {
		t.Fatalf("UpsertNamespace: %s", err)
	}
	if _, err := c.ObjectNamespaceID(tx, "existing"); err != nil {
		t.Fatalf("ObjectNamespaceID: %s", err)
	}
	first, _, err := db.AllocatePIDs(tx, "existing", 1)
	if err != nil {
		t.Fatalf("AllocatePIDs: %s", err)
	}
	if first != 1 {
		t.Errorf("first allocation = %d, want 1", first)
	}
}

func TestPredicateID(t *testing.T) {
	tx := testTx(t)
	c := New(10)

	a, err := c.PredicateID(tx, "http://example.org/rel#", "isMemberOf")
	if err != nil {
		t.Fatalf("PredicateID: %s", err)
	}
	b, err := c.PredicateID(tx, "http://example.org/rel#", "isMemberOf")
	if err != nil {
		t.Fatalf("PredicateID (cached): %s", err)
	}
	if a != b {
		t.Errorf("cached predicate id = %d, want %d", b, a)
	}
	other, err := c.PredicateID(tx, "http://example.org/rel#", "isPartOf")
	if err != nil {
		t.Fatalf("PredicateID: %s", err)
	}
	if other == a {
		t.Errorf("distinct predicates share id %d", a)
	}
}

func TestEviction(t *testing.T) {
	tx := testTx(t)
	c := New(2)

	for i := 0; i < 5; i++ {
		uri := fmt.Sprintf("http://example.org/ns%d#", i)
		if _, err := c.RDFNamespaceID(tx, uri); err != nil {
			t.Fatalf("RDFNamespaceID: %s", err)
		}
	}
	if n := c.Len(); n != 2 {
		t.Errorf("cache holds %d entries, want 2", n)
	}

	// evicted entries still resolve, through the database
	id, err := c.RDFNamespaceID(tx, "http://example.org/ns0#")
	if err != nil {
		t.Fatalf("RDFNamespaceID after eviction: %s", err)
	}
	want, err := db.RDFNamespaceID(tx, "http://example.org/ns0#")
	if err != nil {
		t.Fatalf("db.RDFNamespaceID: %s", err)
	}
	if id != want {
		t.Errorf("re-resolved id = %d, want %d", id, want)
	}
}

func TestClear(t *testing.T) {
	tx := testTx(t)
	c := New(10)
	if _, err := c.RDFNamespaceID(tx, "http://example.org/ns#"); err != nil {
		t.Fatalf("RDFNamespaceID: %s", err)
	}
	c.Clear()
	if n := c.Len(); n != 0 {
		t.Errorf("cache holds %d entries after Clear, want 0", n)
	}
}

// Package idcache caches the database ids of interned identifiers:
// PID namespaces, RDF namespaces, and predicates. These are looked up
// constantly during ingest and relationship writes, are tiny, and
// almost never change, so a small LRU in front of the database removes
// most of the query traffic.
//
// Entries are only added after the backing row is known to exist.
// Because lookups run inside a caller transaction, a rollback can
// orphan cached ids for rows that were created in the rolled-back
// transaction. Callers that roll back after creating identifiers must
// call Clear.
package idcache

import (
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/repo"
)

// DefaultMaxEntries bounds the cache when New is given a size <= 0.
const DefaultMaxEntries = 1024

type key struct {
	kind string
	a    string
	b    string
}

// Cache is a fixed-size LRU of identifier ids. The zero value is not
// usable; call New.
type Cache struct {
	m   sync.Mutex
	lru *lru.Cache
}

// New creates a Cache holding up to maxEntries ids.
func New(maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{lru: lru.New(maxEntries)}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.m.Lock()
	defer c.m.Unlock()
	c.lru.Clear()
}

// Len returns the number of cached ids.
func (c *Cache) Len() int {
	c.m.Lock()
	defer c.m.Unlock()
	return c.lru.Len()
}

func (c *Cache) get(k key) (int64, bool) {
	c.m.Lock()
	defer c.m.Unlock()
	v, ok := c.lru.Get(k)
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

func (c *Cache) put(k key, id int64) {
	c.m.Lock()
	defer c.m.Unlock()
	c.lru.Add(k, id)
}

// ObjectNamespaceID returns the id of a PID namespace, creating the
// namespace if it has never been seen. Creation goes through the PID
// allocator, so the first local id of a namespace created this way is
// consumed by the lookup itself and is never handed out.
func (c *Cache) ObjectNamespaceID(tx *sqlx.Tx, namespace string) (int64, error) {
	k := key{kind: "pidns", a: namespace}
	if id, ok := c.get(k); ok {
		return id, nil
	}
	id, err := db.NamespaceID(tx, namespace)
	if repo.IsNotFound(err) {
		if _, _, err = db.AllocatePIDs(tx, namespace, 1); err != nil {
			return 0, err
		}
		id, err = db.NamespaceID(tx, namespace)
	}
	if err != nil {
		return 0, err
	}
	c.put(k, id)
	return id, nil
}

// RDFNamespaceID returns the id of an RDF namespace, interning it if
// absent.
func (c *Cache) RDFNamespaceID(tx *sqlx.Tx, uri string) (int64, error) {
	k := key{kind: "rdfns", a: uri}
	if id, ok := c.get(k); ok {
		return id, nil
	}
	id, err := db.UpsertRDFNamespace(tx, uri)
	if err != nil {
		return 0, err
	}
	c.put(k, id)
	return id, nil
}

// PredicateID returns the id of a predicate under an RDF namespace,
// interning both if absent.
func (c *Cache) PredicateID(tx *sqlx.Tx, namespaceURI, predicate string) (int64, error) {
	k := key{kind: "pred", a: namespaceURI, b: predicate}
	if id, ok := c.get(k); ok {
		return id, nil
	}
	nsID, err := c.RDFNamespaceID(tx, namespaceURI)
	if err != nil {
		return 0, err
	}
	id, err := db.UpsertPredicate(tx, nsID, predicate)
	if err != nil {
		return 0, err
	}
	c.put(k, id)
	return id, nil
}

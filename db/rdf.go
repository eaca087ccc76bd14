package db

import (
	"github.com/jmoiron/sqlx"
)

// UpsertRDFNamespace interns an RDF namespace URI and returns its id.
func UpsertRDFNamespace(tx *sqlx.Tx, uri string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO rdf_namespaces (rdf_namespace) VALUES (?)`, uri)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		return RDFNamespaceID(tx, uri)
	}
	return 0, translate(err, "")
}

// RDFNamespaceID looks up an interned RDF namespace.
func RDFNamespaceID(tx *sqlx.Tx, uri string) (int64, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM rdf_namespaces WHERE rdf_namespace = ?`, uri)
	return id, translate(err, "rdf namespace "+uri)
}

// UpsertPredicate interns a predicate under an RDF namespace and
// returns its id.
func UpsertPredicate(tx *sqlx.Tx, namespaceID int64, predicate string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO predicates (rdf_namespace_id, predicate) VALUES (?, ?)`,
		namespaceID, predicate)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		return PredicateID(tx, namespaceID, predicate)
	}
	return 0, translate(err, "")
}

// PredicateID looks up an interned predicate.
func PredicateID(tx *sqlx.Tx, namespaceID int64, predicate string) (int64, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM predicates WHERE rdf_namespace_id = ? AND predicate = ?`,
		namespaceID, predicate)
	return id, translate(err, "predicate "+predicate)
}

// PredicateIDsInNamespace returns the ids of every predicate interned under
// the given namespace URI. Used to scope relationship deletion to the
// Dublin Core subset.
func PredicateIDsInNamespace(tx *sqlx.Tx, uri string) ([]int64, error) {
	var ids []int64
	err := tx.Select(&ids, `
		SELECT p.id FROM predicates p
		JOIN rdf_namespaces n ON n.id = p.rdf_namespace_id
		WHERE n.rdf_namespace = ?`, uri)
	return ids, translate(err, "")
}

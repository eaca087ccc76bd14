package relations

import (
	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/db"
)

// objectSubjectTables is every specialized table keyed by an object id
// subject.
var objectSubjectTables = []string{
	"is_member_of",
	"is_member_of_collection",
	"is_constituent_of",
	"has_model",
	"is_page_of",
	"is_page_number",
	"is_section",
	"is_sequence_number",
	"is_sequence_number_of",
	"is_viewable_by_user",
	"is_manageable_by_user",
	"is_viewable_by_role",
	"is_manageable_by_role",
}

// datastreamSubjectTables is every specialized table keyed by a
// datastream id subject.
var datastreamSubjectTables = []string{
	"ds_is_viewable_by_user",
	"ds_is_manageable_by_user",
	"ds_is_viewable_by_role",
	"ds_is_manageable_by_role",
}

// DeleteDC removes the indexed Dublin Core triples of an object, in
// preparation for reindexing a replaced DC datastream.
func DeleteDC(tx *sqlx.Tx, objectID int64) error {
	ids, err := db.PredicateIDsInNamespace(tx, NamespaceDC)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	q, args, err := sqlx.In(
		`DELETE FROM object_relationships WHERE rdf_subject = ? AND predicate_id IN (?)`,
		objectID, ids)
	if err != nil {
		return err
	}
	_, err = tx.Exec(q, args...)
	return err
}

// DeleteRELSEXT removes the indexed external relationships of an
// object: every specialized table plus the general rows that are not
// Dublin Core.
func DeleteRELSEXT(tx *sqlx.Tx, objectID int64) error {
	for _, t := range objectSubjectTables {
		if _, err := tx.Exec(`DELETE FROM `+t+` WHERE rdf_subject = ?`, objectID); err != nil {
			return err
		}
	}
	dc, err := db.PredicateIDsInNamespace(tx, NamespaceDC)
	if err != nil {
		return err
	}
	if len(dc) == 0 {
		_, err = tx.Exec(`DELETE FROM object_relationships WHERE rdf_subject = ?`, objectID)
		return err
	}
	q, args, err := sqlx.In(
		`DELETE FROM object_relationships WHERE rdf_subject = ? AND predicate_id NOT IN (?)`,
		objectID, dc)
	if err != nil {
		return err
	}
	_, err = tx.Exec(q, args...)
	return err
}

// DeleteAllObject removes every indexed triple whose subject is the
// object, DC included.
func DeleteAllObject(tx *sqlx.Tx, objectID int64) error {
	for _, t := range objectSubjectTables {
		if _, err := tx.Exec(`DELETE FROM `+t+` WHERE rdf_subject = ?`, objectID); err != nil {
			return err
		}
	}
	_, err := tx.Exec(`DELETE FROM object_relationships WHERE rdf_subject = ?`, objectID)
	return err
}

// DeleteAllDatastream removes every indexed triple whose subject is
// the datastream.
func DeleteAllDatastream(tx *sqlx.Tx, datastreamID int64) error {
	for _, t := range datastreamSubjectTables {
		if _, err := tx.Exec(`DELETE FROM `+t+` WHERE rdf_subject = ?`, datastreamID); err != nil {
			return err
		}
	}
	_, err := tx.Exec(`DELETE FROM datastream_relationships WHERE rdf_subject = ?`, datastreamID)
	return err
}

// IsReferenced reports whether any other object still points at this
// one through an object-linked relation.
func IsReferenced(tx *sqlx.Tx, objectID int64) (bool, error) {
	for _, t := range inboundObjectTables {
		var n int
		err := tx.Get(&n, `SELECT count(*) FROM `+t+` WHERE rdf_object = ?`, objectID)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// PurgeObject removes an object outright: its indexed triples, its
// datastreams and their triples and version history, and finally the
// object row itself. Content files are left for the garbage collector.
func PurgeObject(tx *sqlx.Tx, objectID int64) error {
	if err := DeleteAllObject(tx, objectID); err != nil {
		return err
	}
	streams, err := db.ListDatastreams(tx, objectID)
	if err != nil {
		return err
	}
	for _, ds := range streams {
		if err := DeleteAllDatastream(tx, ds.ID); err != nil {
			return err
		}
		if err := db.DeleteDatastream(tx, ds.ID); err != nil {
			return err
		}
	}
	return db.DeleteObject(tx, objectID)
}

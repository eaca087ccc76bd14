package db

import (
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/repo"
)

// ObjectAsOf returns the state of an object as it stood at time t. The
// current row answers when its modify time is not after t; otherwise
// the newest snapshot committed at or before t is overlaid onto the
// current row's immutable fields. NotFound means the object had no
// committed state at t.
func ObjectAsOf(tx *sqlx.Tx, id int64, t time.Time) (*Object, error) {
	cur, err := GetObject(tx, id)
	if err != nil {
		return nil, err
	}
	if !cur.Modified.After(t) {
		return cur, nil
	}
	var old OldObject
	err = tx.Get(&old, `
		SELECT id, object_id, state, owner_id, label, log_id, committed
		FROM old_objects
		WHERE object_id = ? AND committed <= ?
		ORDER BY committed DESC LIMIT 1`, id, t)
	if err != nil {
		return nil, translate(err, "object version at "+repo.FormatTime(t))
	}
	cur.State = old.State
	cur.OwnerID = old.OwnerID
	cur.Label = old.Label
	cur.LogID = old.LogID
	cur.Modified = old.Committed
	return cur, nil
}

// DatastreamAsOf returns the state of a datastream as it stood at
// time t, by DSID on the owning object.
func DatastreamAsOf(tx *sqlx.Tx, objectID int64, dsid string, t time.Time) (*Datastream, error) {
	cur, err := GetDatastream(tx, objectID, dsid)
	if err != nil {
		return nil, err
	}
	if !cur.Modified.After(t) {
		return cur, nil
	}
	var old OldDatastream
	err = tx.Get(&old, `
		SELECT id, datastream_id, state, label, resource_id, log_id, committed
		FROM old_datastreams
		WHERE datastream_id = ? AND committed <= ?
		ORDER BY committed DESC LIMIT 1`, cur.ID, t)
	if err != nil {
		return nil, translate(err, "datastream "+dsid+" at "+repo.FormatTime(t))
	}
	cur.State = old.State
	cur.Label = old.Label
	cur.ResourceID = old.ResourceID
	cur.LogID = old.LogID
	cur.Modified = old.Committed
	return cur, nil
}

// ListObjectVersions returns an object's snapshots, oldest first.
func ListObjectVersions(tx *sqlx.Tx, objectID int64) ([]OldObject, error) {
	var out []OldObject
	err := tx.Select(&out, `
		SELECT id, object_id, state, owner_id, label, log_id, committed
		FROM old_objects WHERE object_id = ? ORDER BY committed`, objectID)
	return out, translate(err, "")
}

// ListDatastreamVersions returns a datastream's snapshots, oldest
// first.
func ListDatastreamVersions(tx *sqlx.Tx, datastreamID int64) ([]OldDatastream, error) {
	var out []OldDatastream
	err := tx.Select(&out, `
		SELECT id, datastream_id, state, label, resource_id, log_id, committed
		FROM old_datastreams WHERE datastream_id = ? ORDER BY committed`, datastreamID)
	return out, translate(err, "")
}

// inRange reports whether t falls inside the closed interval
// [start, end], where a nil bound is unbounded.
func inRange(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

// DeleteDatastreamVersions removes the versions of a datastream whose
// commit times fall in [start, end]. Nil bounds are open ended, so a
// nil/nil call removes the datastream entirely. When the range covers
// the current version and older versions survive, the youngest
// survivor is promoted to current. When the range covers the current
// version but no versions survive on a bounded range, the current
// version is kept.
func DeleteDatastreamVersions(tx *sqlx.Tx, id int64, start, end *time.Time) error {
	if start == nil && end == nil {
		return DeleteDatastream(tx, id)
	}
	cur, err := GetDatastreamByID(tx, id)
	if err != nil {
		return err
	}
	if err := deleteOldRows(tx, "old_datastreams", "datastream_id", id, start, end); err != nil {
		return err
	}
	if !inRange(cur.Modified, start, end) {
		return nil
	}
	var old OldDatastream
	err = tx.Get(&old, `
		SELECT id, datastream_id, state, label, resource_id, log_id, committed
		FROM old_datastreams
		WHERE datastream_id = ?
		ORDER BY committed DESC LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return translate(err, "")
	}
	_, err = tx.Exec(`
		UPDATE datastreams
		SET state = ?, label = ?, resource_id = ?, log_id = ?, modified = ?
		WHERE id = ?`,
		old.State, old.Label, old.ResourceID, old.LogID, old.Committed, id)
	if err != nil {
		return translate(err, "")
	}
	if _, err := tx.Exec(`DELETE FROM old_datastreams WHERE id = ?`, old.ID); err != nil {
		return translate(err, "")
	}
	if cur.ResourceID.Valid && cur.ResourceID != old.ResourceID {
		return TouchResource(tx, cur.ResourceID.Int64)
	}
	return nil
}

// DeleteObjectVersions removes the snapshots of an object whose commit
// times fall in [start, end], with the same promotion behavior as
// DeleteDatastreamVersions. A nil/nil call only clears the history;
// removing the object itself is DeleteObject's job.
func DeleteObjectVersions(tx *sqlx.Tx, id int64, start, end *time.Time) error {
	cur, err := GetObject(tx, id)
	if err != nil {
		return err
	}
	if err := deleteOldRows(tx, "old_objects", "object_id", id, start, end); err != nil {
		return err
	}
	if start == nil && end == nil {
		return nil
	}
	if !inRange(cur.Modified, start, end) {
		return nil
	}
	var old OldObject
	err = tx.Get(&old, `
		SELECT id, object_id, state, owner_id, label, log_id, committed
		FROM old_objects
		WHERE object_id = ?
		ORDER BY committed DESC LIMIT 1`, id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return translate(err, "")
	}
	_, err = tx.Exec(`
		UPDATE objects
		SET state = ?, owner_id = ?, label = ?, log_id = ?, modified = ?
		WHERE id = ?`,
		old.State, old.OwnerID, old.Label, old.LogID, old.Committed, id)
	if err != nil {
		return translate(err, "")
	}
	_, err = tx.Exec(`DELETE FROM old_objects WHERE id = ?`, old.ID)
	return translate(err, "")
}

func deleteOldRows(tx *sqlx.Tx, table, fk string, id int64, start, end *time.Time) error {
	q := `DELETE FROM ` + table + ` WHERE ` + fk + ` = ?`
	args := []interface{}{id}
	if start != nil {
		q += ` AND committed >= ?`
		args = append(args, *start)
	}
	if end != nil {
		q += ` AND committed <= ?`
		args = append(args, *end)
	}
	_, err := tx.Exec(q, args...)
	return translate(err, "")
}

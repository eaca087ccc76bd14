package db

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/repo"
)

const datastreamColumns = `id, object_id, dsid, label, control_group, resource_id, versioned, state, log_id, created, modified`

// CreateDatastream inserts a new datastream row and fills in ds.ID.
// A (object, DSID) collision surfaces as AlreadyExists.
func CreateDatastream(tx *sqlx.Tx, ds *Datastream) error {
	if ds.Created.IsZero() {
		ds.Created = Now()
	}
	if ds.Modified.IsZero() {
		ds.Modified = ds.Created
	}
	if ds.State == "" {
		ds.State = repo.StateActive
	}
	res, err := tx.Exec(`
		INSERT INTO datastreams (object_id, dsid, label, control_group, resource_id,
		                         versioned, state, log_id, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ObjectID, ds.DSID, ds.Label, ds.ControlGroup, ds.ResourceID,
		ds.Versioned, ds.State, ds.LogID, ds.Created, ds.Modified)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.AlreadyExistsf("datastream %s already exists on object %d", ds.DSID, ds.ObjectID)
		}
		return translate(err, "")
	}
	ds.ID, err = res.LastInsertId()
	if err == nil && ds.ResourceID.Valid {
		err = TouchResource(tx, ds.ResourceID.Int64)
	}
	return err
}

// GetDatastream loads a datastream by owning object and DSID.
func GetDatastream(tx *sqlx.Tx, objectID int64, dsid string) (*Datastream, error) {
	ds := new(Datastream)
	err := tx.Get(ds, `SELECT `+datastreamColumns+` FROM datastreams WHERE object_id = ? AND dsid = ?`,
		objectID, dsid)
	if err != nil {
		return nil, translate(err, "datastream "+dsid)
	}
	return ds, nil
}

// GetDatastreamByID loads a datastream by database id.
func GetDatastreamByID(tx *sqlx.Tx, id int64) (*Datastream, error) {
	ds := new(Datastream)
	err := tx.Get(ds, `SELECT `+datastreamColumns+` FROM datastreams WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err, "datastream")
	}
	return ds, nil
}

// ListDatastreams returns the current datastreams of an object,
// ordered by DSID.
func ListDatastreams(tx *sqlx.Tx, objectID int64) ([]Datastream, error) {
	var out []Datastream
	err := tx.Select(&out, `SELECT `+datastreamColumns+` FROM datastreams WHERE object_id = ? ORDER BY dsid`,
		objectID)
	return out, translate(err, "")
}

// UpdateDatastream applies ds's mutable fields over the current row,
// with the same optimistic-concurrency and snapshot discipline as
// UpdateObject.
func UpdateDatastream(tx *sqlx.Tx, ds *Datastream, expected *time.Time) error {
	cur, err := GetDatastreamByID(tx, ds.ID)
	if err != nil {
		return err
	}
	if expected != nil && cur.Modified.After(*expected) {
		return repo.Conflictf("datastream %s modified at %s, caller expected %s",
			cur.DSID, repo.FormatTime(cur.Modified), repo.FormatTime(*expected))
	}
	if cur.Versioned {
		if err := snapshotDatastream(tx, cur); err != nil {
			return err
		}
	}
	ds.Modified = Now()
	if !ds.Modified.After(cur.Modified) {
		ds.Modified = cur.Modified.Add(time.Millisecond)
	}
	_, err = tx.Exec(`
		UPDATE datastreams
		SET label = ?, control_group = ?, resource_id = ?, versioned = ?,
		    state = ?, log_id = ?, modified = ?
		WHERE id = ?`,
		ds.Label, ds.ControlGroup, ds.ResourceID, ds.Versioned,
		ds.State, ds.LogID, ds.Modified, ds.ID)
	if err != nil {
		return translate(err, "")
	}
	if ds.ResourceID.Valid {
		if err := TouchResource(tx, ds.ResourceID.Int64); err != nil {
			return err
		}
	}
	if cur.ResourceID.Valid && cur.ResourceID != ds.ResourceID {
		// the old resource may have lost its last reference
		if err := TouchResource(tx, cur.ResourceID.Int64); err != nil {
			return err
		}
	}
	return nil
}

// DeleteDatastream removes a datastream row along with its version
// history. Referenced resources are left for the garbage collector.
func DeleteDatastream(tx *sqlx.Tx, id int64) error {
	cur, err := GetDatastreamByID(tx, id)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM old_datastreams WHERE datastream_id = ?`, id); err != nil {
		return translate(err, "")
	}
	if _, err := tx.Exec(`DELETE FROM datastreams WHERE id = ?`, id); err != nil {
		return translate(err, "")
	}
	if cur.ResourceID.Valid {
		return TouchResource(tx, cur.ResourceID.Int64)
	}
	return nil
}

// CreateOldDatastream records a historical version directly. The
// importer uses this for every version but the newest.
func CreateOldDatastream(tx *sqlx.Tx, old *OldDatastream) error {
	res, err := tx.Exec(`
		INSERT INTO old_datastreams (datastream_id, state, label, resource_id, log_id, committed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		old.DatastreamID, old.State, old.Label, old.ResourceID, old.LogID, old.Committed)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.AlreadyExistsf("datastream %d already has a version at %s",
				old.DatastreamID, repo.FormatTime(old.Committed))
		}
		return translate(err, "")
	}
	old.ID, err = res.LastInsertId()
	if err == nil && old.ResourceID.Valid {
		err = TouchResource(tx, old.ResourceID.Int64)
	}
	return err
}

// snapshotDatastream records the current committed state into
// old_datastreams keyed by its modify time.
func snapshotDatastream(tx *sqlx.Tx, cur *Datastream) error {
	_, err := tx.Exec(`
		INSERT INTO old_datastreams (datastream_id, state, label, resource_id, log_id, committed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cur.ID, cur.State, cur.Label, cur.ResourceID, cur.LogID, cur.Modified)
	if err != nil && isUniqueViolation(err) {
		err = nil
	}
	return translate(err, "")
}

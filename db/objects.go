package db

import (
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/repo"
)

const objectColumns = `id, namespace_id, pid_local, state, owner_id, label, log_id, versioned, created, modified`

// CreateObject inserts a new object row and fills in obj.ID. A PID
// collision surfaces as AlreadyExists.
func CreateObject(tx *sqlx.Tx, obj *Object) error {
	if obj.Created.IsZero() {
		obj.Created = Now()
	}
	if obj.Modified.IsZero() {
		obj.Modified = obj.Created
	}
	if obj.State == "" {
		obj.State = repo.StateActive
	}
	res, err := tx.Exec(`
		INSERT INTO objects (namespace_id, pid_local, state, owner_id, label, log_id, versioned, created, modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.NamespaceID, obj.PIDLocal, obj.State, obj.OwnerID, obj.Label,
		obj.LogID, obj.Versioned, obj.Created, obj.Modified)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.AlreadyExistsf("object %s already exists", obj.PIDLocal)
		}
		return translate(err, "")
	}
	obj.ID, err = res.LastInsertId()
	return err
}

// GetObject loads an object by database id.
func GetObject(tx *sqlx.Tx, id int64) (*Object, error) {
	obj := new(Object)
	err := tx.Get(obj, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err, "object")
	}
	return obj, nil
}

// GetObjectByPID loads an object by its persistent identifier.
func GetObjectByPID(tx *sqlx.Tx, pid repo.PID) (*Object, error) {
	obj := new(Object)
	err := tx.Get(obj, `
		SELECT o.id, o.namespace_id, o.pid_local, o.state, o.owner_id, o.label,
		       o.log_id, o.versioned, o.created, o.modified
		FROM objects o
		JOIN pid_namespaces ns ON ns.id = o.namespace_id
		WHERE ns.namespace = ? AND o.pid_local = ?`,
		pid.Namespace, pid.Local)
	if err != nil {
		return nil, translate(err, "object "+pid.String())
	}
	return obj, nil
}

// ObjectPID recovers the persistent identifier of an object.
func ObjectPID(tx *sqlx.Tx, id int64) (repo.PID, error) {
	var row struct {
		Namespace string `db:"namespace"`
		PIDLocal  string `db:"pid_local"`
	}
	err := tx.Get(&row, `
		SELECT ns.namespace, o.pid_local
		FROM objects o
		JOIN pid_namespaces ns ON ns.id = o.namespace_id
		WHERE o.id = ?`, id)
	if err != nil {
		return repo.PID{}, translate(err, "object")
	}
	return repo.PID{Namespace: row.Namespace, Local: row.PIDLocal}, nil
}

// UpdateObject applies obj's mutable fields over the current row. If
// expected is non-nil and the stored modify time is newer, the update
// aborts with Conflict. When the object is versioned the pre-update
// row is snapshotted first, keyed by its own modify time, and the new
// modify time is guaranteed to move strictly forward.
func UpdateObject(tx *sqlx.Tx, obj *Object, expected *time.Time) error {
	cur, err := GetObject(tx, obj.ID)
	if err != nil {
		return err
	}
	if expected != nil && cur.Modified.After(*expected) {
		return repo.Conflictf("object modified at %s, caller expected %s",
			repo.FormatTime(cur.Modified), repo.FormatTime(*expected))
	}
	if cur.Versioned {
		if err := snapshotObject(tx, cur); err != nil {
			return err
		}
	}
	obj.Modified = Now()
	if !obj.Modified.After(cur.Modified) {
		obj.Modified = cur.Modified.Add(time.Millisecond)
	}
	_, err = tx.Exec(`
		UPDATE objects
		SET state = ?, owner_id = ?, label = ?, log_id = ?, versioned = ?, modified = ?
		WHERE id = ?`,
		obj.State, obj.OwnerID, obj.Label, obj.LogID, obj.Versioned, obj.Modified, obj.ID)
	return translate(err, "")
}

// DeleteObject removes the object row along with its version history.
// Datastreams and relationships are the caller's responsibility (see
// relations.PurgeObject).
func DeleteObject(tx *sqlx.Tx, id int64) error {
	if _, err := tx.Exec(`DELETE FROM old_objects WHERE object_id = ?`, id); err != nil {
		return translate(err, "")
	}
	res, err := tx.Exec(`DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return translate(err, "")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.NotFoundf("object %d", id)
	}
	return nil
}

// snapshotObject records the current committed state of obj into
// old_objects keyed by its modify time. Re-snapshotting the same
// committed state is a no-op.
func snapshotObject(tx *sqlx.Tx, cur *Object) error {
	_, err := tx.Exec(`
		INSERT INTO old_objects (object_id, state, owner_id, label, log_id, committed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		cur.ID, cur.State, cur.OwnerID, cur.Label, cur.LogID, cur.Modified)
	if err != nil && isUniqueViolation(err) {
		err = nil
	}
	return translate(err, "")
}

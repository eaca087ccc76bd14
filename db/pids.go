package db

import (
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/ndlib/repod/repo"
)

// NamespaceID looks up a PID namespace by name. Returns NotFound if
// the namespace has never been seen.
func NamespaceID(tx *sqlx.Tx, namespace string) (int64, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM pid_namespaces WHERE namespace = ?`, namespace)
	return id, translate(err, "namespace "+namespace)
}

// GetNamespace returns the full counter row.
func GetNamespace(tx *sqlx.Tx, namespace string) (*PIDNamespace, error) {
	ns := new(PIDNamespace)
	err := tx.Get(ns, `SELECT id, namespace, highest_id FROM pid_namespaces WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, translate(err, "namespace "+namespace)
	}
	return ns, nil
}

// UpsertNamespace creates a namespace counter at zero if absent and
// returns its id. Used for externally-managed namespaces; it never
// burns a PID.
func UpsertNamespace(tx *sqlx.Tx, namespace string) (int64, error) {
	return upsertNamespace(tx, namespace, 0)
}

func upsertNamespace(tx *sqlx.Tx, namespace string, initial int64) (int64, error) {
	res, err := tx.Exec(`INSERT INTO pid_namespaces (namespace, highest_id) VALUES (?, ?)`,
		namespace, initial)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		return NamespaceID(tx, namespace)
	}
	return 0, translate(err, "")
}

// AllocatePIDs atomically advances the namespace counter by count and
// returns the first and last local ids of the reserved block. A
// missing counter is created holding count, so the block is 1..count.
func AllocatePIDs(tx *sqlx.Tx, namespace string, count int) (first, last int64, err error) {
	if count < 1 {
		return 0, 0, repo.InvalidArgumentf("cannot allocate %d PIDs", count)
	}
	res, err := tx.Exec(`UPDATE pid_namespaces SET highest_id = highest_id + ? WHERE namespace = ?`,
		count, namespace)
	if err != nil {
		return 0, 0, translate(err, "")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		_, err = tx.Exec(`INSERT INTO pid_namespaces (namespace, highest_id) VALUES (?, ?)`,
			namespace, count)
		if err != nil {
			if !isUniqueViolation(err) {
				return 0, 0, translate(err, "")
			}
			// lost a create race; advance the winner's counter
			_, err = tx.Exec(`UPDATE pid_namespaces SET highest_id = highest_id + ? WHERE namespace = ?`,
				count, namespace)
			if err != nil {
				return 0, 0, translate(err, "")
			}
		}
	}
	err = tx.Get(&last, `SELECT highest_id FROM pid_namespaces WHERE namespace = ?`, namespace)
	if err != nil {
		return 0, 0, translate(err, "namespace "+namespace)
	}
	return last - int64(count) + 1, last, nil
}

// JumpPIDs raises the namespace counter to observed so future
// allocations cannot collide with an imported PID. Local parts that
// are not decimal numbers are ignored, as is a counter already at or
// beyond observed.
func JumpPIDs(tx *sqlx.Tx, namespaceID int64, local string) error {
	observed, err := strconv.ParseInt(local, 10, 64)
	if err != nil {
		return nil
	}
	_, err = tx.Exec(`UPDATE pid_namespaces SET highest_id = ? WHERE id = ? AND highest_id < ?`,
		observed, namespaceID, observed)
	return translate(err, "")
}

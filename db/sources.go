package db

import (
	"github.com/jmoiron/sqlx"
)

// Sources, users and roles form the multi-tenant identity model: a
// user or role name is only meaningful under its source. All three
// use the insert-or-reread upsert idiom.

// UpsertSource interns a source name and returns its id.
func UpsertSource(tx *sqlx.Tx, source string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO sources (source) VALUES (?)`, source)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		var id int64
		err = tx.Get(&id, `SELECT id FROM sources WHERE source = ?`, source)
		return id, translate(err, "source "+source)
	}
	return 0, translate(err, "")
}

// UpsertUser interns a user name under a source and returns its id.
func UpsertUser(tx *sqlx.Tx, name string, sourceID int64) (int64, error) {
	res, err := tx.Exec(`INSERT INTO users (name, source_id) VALUES (?, ?)`, name, sourceID)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		var id int64
		err = tx.Get(&id, `SELECT id FROM users WHERE name = ? AND source_id = ?`, name, sourceID)
		return id, translate(err, "user "+name)
	}
	return 0, translate(err, "")
}

// UpsertRole interns a role name under a source and returns its id.
func UpsertRole(tx *sqlx.Tx, role string, sourceID int64) (int64, error) {
	res, err := tx.Exec(`INSERT INTO user_roles (role, source_id) VALUES (?, ?)`, role, sourceID)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		var id int64
		err = tx.Get(&id, `SELECT id FROM user_roles WHERE role = ? AND source_id = ?`, role, sourceID)
		return id, translate(err, "role "+role)
	}
	return 0, translate(err, "")
}

// UserName returns the name of a user by id.
func UserName(tx *sqlx.Tx, id int64) (string, error) {
	var name string
	err := tx.Get(&name, `SELECT name FROM users WHERE id = ?`, id)
	return name, translate(err, "user")
}

// UserID looks up a user by name under a source.
func UserID(tx *sqlx.Tx, name string, sourceID int64) (int64, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM users WHERE name = ? AND source_id = ?`, name, sourceID)
	return id, translate(err, "user "+name)
}

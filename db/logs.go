package db

import (
	"github.com/jmoiron/sqlx"
)

// UpsertLog interns an audit message and returns its id. Messages are
// deduplicated on their full text.
func UpsertLog(tx *sqlx.Tx, message string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO logs (log) VALUES (?)`, message)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		var id int64
		err = tx.Get(&id, `SELECT id FROM logs WHERE log = ?`, message)
		return id, translate(err, "log message")
	}
	return 0, translate(err, "")
}

// LogMessage returns the text of an audit message by id.
func LogMessage(tx *sqlx.Tx, id int64) (string, error) {
	var m string
	err := tx.Get(&m, `SELECT log FROM logs WHERE id = ?`, id)
	return m, translate(err, "log message")
}

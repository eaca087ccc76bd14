package db

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/ndlib/repod/repo"
)

// isUniqueViolation reports whether err is a unique or primary key
// constraint failure on either supported driver. The standard upsert
// idiom in this package is "insert; on unique violation re-read".
func isUniqueViolation(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		// ER_DUP_ENTRY
		return me.Number == 1062
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint &&
			(se.ExtendedCode == sqlite3.ErrConstraintUnique ||
				se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

// isSerializationFailure reports whether err is a driver-level
// deadlock or serialization error. These surface as Conflict so the
// caller can retry and clear the identifier cache.
func isSerializationFailure(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		// ER_LOCK_WAIT_TIMEOUT, ER_LOCK_DEADLOCK
		return me.Number == 1205 || me.Number == 1213
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// translate maps driver errors onto the engine taxonomy. notFound is
// used for sql.ErrNoRows; pass "" to keep ErrNoRows as is.
func translate(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case err == sql.ErrNoRows && notFound != "":
		return repo.NotFoundf("%s", notFound)
	case isSerializationFailure(err):
		return repo.Conflictf("database serialization failure: %s", err.Error())
	}
	return err
}

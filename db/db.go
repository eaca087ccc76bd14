// Package db implements the relational schema and data access for the
// storage engine. Every read/write/delete operation is scoped to a
// caller-supplied transaction and never opens one of its own; the two
// exceptions (content stashing and garbage collection) live in their
// own packages and are documented there.
//
// Two drivers are supported: "mysql" for production and "sqlite3" as
// the embedded engine used by tests and small deployments.
package db

import (
	"log"
	"time"

	"github.com/BurntSushi/migration"
	"github.com/jmoiron/sqlx"
)

// DB wraps the database handle along with the driver name it was
// opened with.
type DB struct {
	*sqlx.DB
	Driver string
}

// Open connects with the given driver and dial string, running any
// pending schema migrations. For MySQL the dial string must include
// parseTime=true so DATETIME columns scan as time.Time.
func Open(driver, dial string) (*DB, error) {
	var migrations []migration.Migrator
	var versioning dbVersion
	switch driver {
	case "mysql":
		migrations = mysqlMigrations
		versioning = mysqlVersioning
	default:
		migrations = sqliteMigrations
		versioning = sqliteVersioning
	}
	sdb, err := migration.OpenWith(driver, dial, migrations, versioning.Get, versioning.Set)
	if err != nil {
		log.Printf("Open %s: %s", driver, err.Error())
		return nil, err
	}
	return &DB{DB: sqlx.NewDb(sdb, driver), Driver: driver}, nil
}

// Begin starts a transaction. All the operation functions in this
// package take one of these.
func (d *DB) Begin() (*sqlx.Tx, error) {
	return d.Beginx()
}

// Now returns the current time the way we persist it: UTC, truncated
// to milliseconds so it round-trips through the interchange format.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// we need to adapt the migration version functions to work with both
// drivers. This code is slightly modified from
// github.com/BurntSushi/migration

type dbVersion struct {
	// SQL to get the version of this db, returns one row and one column
	GetSQL string
	// SQL to insert a new version of this db. takes one parameter, the new
	// version
	SetSQL string
	// the SQL to create the version table for this db
	CreateSQL string
}

func (d dbVersion) Get(tx migration.LimitedTx) (int, error) {
	v, err := d.get(tx)
	if err != nil {
		// we assume error means there is no migration table
		log.Println(err.Error())
		return 0, nil
	}
	return v, nil
}

func (d dbVersion) Set(tx migration.LimitedTx, version int) error {
	if err := d.set(tx, version); err != nil {
		if err := d.createTable(tx); err != nil {
			return err
		}
		return d.set(tx, version)
	}
	return nil
}

func (d dbVersion) get(tx migration.LimitedTx) (int, error) {
	var version int
	r := tx.QueryRow(d.GetSQL)
	if err := r.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (d dbVersion) set(tx migration.LimitedTx, version int) error {
	_, err := tx.Exec(d.SetSQL, version)
	return err
}

func (d dbVersion) createTable(tx migration.LimitedTx) error {
	_, err := tx.Exec(d.CreateSQL)
	if err == nil {
		err = d.set(tx, 0)
	}
	return err
}

// execlist exec's each item in the list, return if there is an error.
// Used to work around the mysql driver not handling compound exec
// statements.
func execlist(tx migration.LimitedTx, stms []string) error {
	var err error
	for _, s := range stms {
		_, err = tx.Exec(s)
		if err != nil {
			break
		}
	}
	return err
}

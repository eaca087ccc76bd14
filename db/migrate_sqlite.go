package db

import (
	"github.com/BurntSushi/migration"
)

// SQLite is the embedded engine: it backs the test suite and small
// single-host deployments that do not want a database server.

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var sqliteMigrations = []migration.Migrator{
	sqliteschema1,
}

var sqliteVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, datetime('now'))`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied TIMESTAMP)`,
}

func sqliteschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY,
		source TEXT NOT NULL UNIQUE)`,

		`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		UNIQUE (name, source_id))`,

		`CREATE TABLE IF NOT EXISTS user_roles (
		id INTEGER PRIMARY KEY,
		role TEXT NOT NULL,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		UNIQUE (role, source_id))`,

		`CREATE TABLE IF NOT EXISTS logs (
		id INTEGER PRIMARY KEY,
		log TEXT NOT NULL UNIQUE)`,

		`CREATE TABLE IF NOT EXISTS pid_namespaces (
		id INTEGER PRIMARY KEY,
		namespace TEXT NOT NULL UNIQUE,
		highest_id INTEGER NOT NULL DEFAULT 0)`,

		`CREATE TABLE IF NOT EXISTS objects (
		id INTEGER PRIMARY KEY,
		namespace_id INTEGER NOT NULL REFERENCES pid_namespaces(id),
		pid_local TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'A',
		owner_id INTEGER NOT NULL REFERENCES users(id),
		label TEXT NOT NULL DEFAULT '',
		log_id INTEGER REFERENCES logs(id),
		versioned INTEGER NOT NULL DEFAULT 1,
		created TIMESTAMP NOT NULL,
		modified TIMESTAMP NOT NULL,
		UNIQUE (namespace_id, pid_local))`,

		`CREATE TABLE IF NOT EXISTS old_objects (
		id INTEGER PRIMARY KEY,
		object_id INTEGER NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
		state TEXT NOT NULL,
		owner_id INTEGER NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		log_id INTEGER,
		committed TIMESTAMP NOT NULL,
		UNIQUE (object_id, committed))`,

		`CREATE TABLE IF NOT EXISTS mimes (
		id INTEGER PRIMARY KEY,
		mime TEXT NOT NULL UNIQUE)`,

		`CREATE TABLE IF NOT EXISTS resources (
		id INTEGER PRIMARY KEY,
		uri TEXT NOT NULL UNIQUE,
		mime_id INTEGER NOT NULL REFERENCES mimes(id),
		touched TIMESTAMP NOT NULL)`,

		`CREATE TABLE IF NOT EXISTS checksums (
		id INTEGER PRIMARY KEY,
		resource_id INTEGER NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		checksum TEXT NOT NULL,
		UNIQUE (resource_id, type))`,

		`CREATE TABLE IF NOT EXISTS datastreams (
		id INTEGER PRIMARY KEY,
		object_id INTEGER NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
		dsid TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		control_group TEXT NOT NULL,
		resource_id INTEGER REFERENCES resources(id),
		versioned INTEGER NOT NULL DEFAULT 0,
		state TEXT NOT NULL DEFAULT 'A',
		log_id INTEGER REFERENCES logs(id),
		created TIMESTAMP NOT NULL,
		modified TIMESTAMP NOT NULL,
		UNIQUE (object_id, dsid))`,

		`CREATE TABLE IF NOT EXISTS old_datastreams (
		id INTEGER PRIMARY KEY,
		datastream_id INTEGER NOT NULL REFERENCES datastreams(id) ON DELETE CASCADE,
		state TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		resource_id INTEGER REFERENCES resources(id),
		log_id INTEGER,
		committed TIMESTAMP NOT NULL,
		UNIQUE (datastream_id, committed))`,

		`CREATE TABLE IF NOT EXISTS rdf_namespaces (
		id INTEGER PRIMARY KEY,
		rdf_namespace TEXT NOT NULL UNIQUE)`,

		`CREATE TABLE IF NOT EXISTS predicates (
		id INTEGER PRIMARY KEY,
		rdf_namespace_id INTEGER NOT NULL REFERENCES rdf_namespaces(id),
		predicate TEXT NOT NULL,
		UNIQUE (rdf_namespace_id, predicate))`,

		`CREATE TABLE IF NOT EXISTS object_relationships (
		id INTEGER PRIMARY KEY,
		predicate_id INTEGER NOT NULL REFERENCES predicates(id),
		rdf_subject INTEGER NOT NULL REFERENCES objects(id) ON DELETE CASCADE,
		rdf_object TEXT NOT NULL,
		rdf_type TEXT NOT NULL DEFAULT 'L')`,

		`CREATE INDEX IF NOT EXISTS object_relationships_subject
		ON object_relationships (rdf_subject)`,

		`CREATE TABLE IF NOT EXISTS datastream_relationships (
		id INTEGER PRIMARY KEY,
		predicate_id INTEGER NOT NULL REFERENCES predicates(id),
		rdf_subject INTEGER NOT NULL REFERENCES datastreams(id) ON DELETE CASCADE,
		rdf_object TEXT NOT NULL,
		rdf_type TEXT NOT NULL DEFAULT 'L')`,

		`CREATE INDEX IF NOT EXISTS datastream_relationships_subject
		ON datastream_relationships (rdf_subject)`,

		`CREATE TABLE IF NOT EXISTS is_sequence_number_of (
		id INTEGER PRIMARY KEY,
		rdf_subject INTEGER NOT NULL,
		rdf_object INTEGER NOT NULL,
		sequence_number INTEGER NOT NULL,
		UNIQUE (rdf_subject, rdf_object, sequence_number))`,
	}
	// the specialized relation tables all share one shape
	for _, t := range standardRelationTables {
		s = append(s, `CREATE TABLE IF NOT EXISTS `+t+` (
		id INTEGER PRIMARY KEY,
		rdf_subject INTEGER NOT NULL,
		rdf_object INTEGER NOT NULL)`,
			`CREATE INDEX IF NOT EXISTS `+t+`_subject ON `+t+` (rdf_subject)`,
			`CREATE INDEX IF NOT EXISTS `+t+`_object ON `+t+` (rdf_object)`)
	}
	return execlist(tx, s)
}

// standardRelationTables is every specialized two-column relation
// table. The first group takes object ids as subjects, the ds_ group
// takes datastream ids.
var standardRelationTables = []string{
	"is_member_of",
	"is_member_of_collection",
	"is_constituent_of",
	"has_model",
	"is_page_of",
	"is_page_number",
	"is_section",
	"is_sequence_number",
	"is_viewable_by_user",
	"is_manageable_by_user",
	"is_viewable_by_role",
	"is_manageable_by_role",
	"ds_is_viewable_by_user",
	"ds_is_manageable_by_user",
	"ds_is_viewable_by_role",
	"ds_is_manageable_by_role",
}

package db

import (
	"github.com/BurntSushi/migration"
)

// List of migrations to perform. Add new ones to the end.
// DO NOT change the order of items already in this list.
var mysqlMigrations = []migration.Migrator{
	mysqlschema1,
}

// Adapt the schema versioning for MySQL

var mysqlVersioning = dbVersion{
	GetSQL:    `SELECT max(version) FROM migration_version`,
	SetSQL:    `INSERT INTO migration_version (version, applied) VALUES (?, now())`,
	CreateSQL: `CREATE TABLE migration_version (version INTEGER, applied datetime)`,
}

func mysqlschema1(tx migration.LimitedTx) error {
	var s = []string{
		`CREATE TABLE IF NOT EXISTS sources (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		source VARCHAR(255) NOT NULL,
		UNIQUE KEY sources_source (source))`,

		`CREATE TABLE IF NOT EXISTS users (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		name VARCHAR(255) NOT NULL,
		source_id BIGINT NOT NULL,
		UNIQUE KEY users_name_source (name, source_id))`,

		`CREATE TABLE IF NOT EXISTS user_roles (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		role VARCHAR(255) NOT NULL,
		source_id BIGINT NOT NULL,
		UNIQUE KEY user_roles_role_source (role, source_id))`,

		`CREATE TABLE IF NOT EXISTS logs (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		log VARCHAR(700) NOT NULL,
		UNIQUE KEY logs_log (log))`,

		`CREATE TABLE IF NOT EXISTS pid_namespaces (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		namespace VARCHAR(255) NOT NULL,
		highest_id BIGINT NOT NULL DEFAULT 0,
		UNIQUE KEY pid_namespaces_namespace (namespace))`,

		`CREATE TABLE IF NOT EXISTS objects (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		namespace_id BIGINT NOT NULL,
		pid_local VARCHAR(255) NOT NULL,
		state CHAR(1) NOT NULL DEFAULT 'A',
		owner_id BIGINT NOT NULL,
		label VARCHAR(255) NOT NULL DEFAULT '',
		log_id BIGINT,
		versioned BOOLEAN NOT NULL DEFAULT TRUE,
		created DATETIME(3) NOT NULL,
		modified DATETIME(3) NOT NULL,
		UNIQUE KEY objects_pid (namespace_id, pid_local))`,

		`CREATE TABLE IF NOT EXISTS old_objects (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		object_id BIGINT NOT NULL,
		state CHAR(1) NOT NULL,
		owner_id BIGINT NOT NULL,
		label VARCHAR(255) NOT NULL DEFAULT '',
		log_id BIGINT,
		committed DATETIME(3) NOT NULL,
		UNIQUE KEY old_objects_version (object_id, committed))`,

		`CREATE TABLE IF NOT EXISTS mimes (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		mime VARCHAR(255) NOT NULL,
		UNIQUE KEY mimes_mime (mime))`,

		`CREATE TABLE IF NOT EXISTS resources (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		uri VARCHAR(255) NOT NULL,
		mime_id BIGINT NOT NULL,
		touched DATETIME(3) NOT NULL,
		UNIQUE KEY resources_uri (uri))`,

		`CREATE TABLE IF NOT EXISTS checksums (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		resource_id BIGINT NOT NULL,
		type VARCHAR(16) NOT NULL,
		checksum VARCHAR(128) NOT NULL,
		UNIQUE KEY checksums_resource_type (resource_id, type))`,

		`CREATE TABLE IF NOT EXISTS datastreams (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		object_id BIGINT NOT NULL,
		dsid VARCHAR(64) NOT NULL,
		label VARCHAR(255) NOT NULL DEFAULT '',
		control_group CHAR(1) NOT NULL,
		resource_id BIGINT,
		versioned BOOLEAN NOT NULL DEFAULT FALSE,
		state CHAR(1) NOT NULL DEFAULT 'A',
		log_id BIGINT,
		created DATETIME(3) NOT NULL,
		modified DATETIME(3) NOT NULL,
		UNIQUE KEY datastreams_object_dsid (object_id, dsid))`,

		`CREATE TABLE IF NOT EXISTS old_datastreams (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		datastream_id BIGINT NOT NULL,
		state CHAR(1) NOT NULL,
		label VARCHAR(255) NOT NULL DEFAULT '',
		resource_id BIGINT,
		log_id BIGINT,
		committed DATETIME(3) NOT NULL,
		UNIQUE KEY old_datastreams_version (datastream_id, committed))`,

		`CREATE TABLE IF NOT EXISTS rdf_namespaces (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		rdf_namespace VARCHAR(255) NOT NULL,
		UNIQUE KEY rdf_namespaces_ns (rdf_namespace))`,

		`CREATE TABLE IF NOT EXISTS predicates (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		rdf_namespace_id BIGINT NOT NULL,
		predicate VARCHAR(255) NOT NULL,
		UNIQUE KEY predicates_ns_predicate (rdf_namespace_id, predicate))`,

		`CREATE TABLE IF NOT EXISTS object_relationships (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		predicate_id BIGINT NOT NULL,
		rdf_subject BIGINT NOT NULL,
		rdf_object TEXT NOT NULL,
		rdf_type CHAR(1) NOT NULL DEFAULT 'L',
		KEY object_relationships_subject (rdf_subject))`,

		`CREATE TABLE IF NOT EXISTS datastream_relationships (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		predicate_id BIGINT NOT NULL,
		rdf_subject BIGINT NOT NULL,
		rdf_object TEXT NOT NULL,
		rdf_type CHAR(1) NOT NULL DEFAULT 'L',
		KEY datastream_relationships_subject (rdf_subject))`,

		`CREATE TABLE IF NOT EXISTS is_sequence_number_of (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		rdf_subject BIGINT NOT NULL,
		rdf_object BIGINT NOT NULL,
		sequence_number BIGINT NOT NULL,
		UNIQUE KEY is_sequence_number_of_row (rdf_subject, rdf_object, sequence_number))`,
	}
	for _, t := range standardRelationTables {
		s = append(s, `CREATE TABLE IF NOT EXISTS `+t+` (
		id BIGINT PRIMARY KEY AUTO_INCREMENT,
		rdf_subject BIGINT NOT NULL,
		rdf_object BIGINT NOT NULL,
		KEY `+t+`_subject (rdf_subject),
		KEY `+t+`_object (rdf_object))`)
	}
	return execlist(tx, s)
}

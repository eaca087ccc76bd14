package db

import (
	"database/sql"
	"time"

	"github.com/ndlib/repod/repo"
)

// An Object is the current committed state of a repository object.
type Object struct {
	ID          int64         `db:"id"`
	NamespaceID int64         `db:"namespace_id"`
	PIDLocal    string        `db:"pid_local"`
	State       repo.State    `db:"state"`
	OwnerID     int64         `db:"owner_id"`
	Label       string        `db:"label"`
	LogID       sql.NullInt64 `db:"log_id"`
	Versioned   bool          `db:"versioned"`
	Created     time.Time     `db:"created"`
	Modified    time.Time     `db:"modified"`
}

// An OldObject is a snapshot of an Object as it stood at Committed.
type OldObject struct {
	ID       int64         `db:"id"`
	ObjectID int64         `db:"object_id"`
	State    repo.State    `db:"state"`
	OwnerID  int64         `db:"owner_id"`
	Label    string        `db:"label"`
	LogID    sql.NullInt64 `db:"log_id"`
	Committed time.Time    `db:"committed"`
}

// A Datastream is the current committed state of a named content slot
// on an object.
type Datastream struct {
	ID           int64             `db:"id"`
	ObjectID     int64             `db:"object_id"`
	DSID         string            `db:"dsid"`
	Label        string            `db:"label"`
	ControlGroup repo.ControlGroup `db:"control_group"`
	ResourceID   sql.NullInt64     `db:"resource_id"`
	Versioned    bool              `db:"versioned"`
	State        repo.State        `db:"state"`
	LogID        sql.NullInt64     `db:"log_id"`
	Created      time.Time         `db:"created"`
	Modified     time.Time         `db:"modified"`
}

// An OldDatastream is a snapshot of a Datastream at Committed.
type OldDatastream struct {
	ID           int64         `db:"id"`
	DatastreamID int64         `db:"datastream_id"`
	State        repo.State    `db:"state"`
	Label        string        `db:"label"`
	ResourceID   sql.NullInt64 `db:"resource_id"`
	LogID        sql.NullInt64 `db:"log_id"`
	Committed    time.Time     `db:"committed"`
}

// A Resource is a pointer to a content-addressable blob. Touched is
// bumped whenever a row starts or stops referencing the resource, and
// gates garbage collection.
type Resource struct {
	ID      int64     `db:"id"`
	URI     string    `db:"uri"`
	MimeID  int64     `db:"mime_id"`
	Touched time.Time `db:"touched"`
}

// A Checksum is a stored digest over a resource's bytes.
type Checksum struct {
	ID         int64  `db:"id"`
	ResourceID int64  `db:"resource_id"`
	Type       string `db:"type"`
	Checksum   string `db:"checksum"`
}

// A PIDNamespace is a persistent identifier counter.
type PIDNamespace struct {
	ID        int64  `db:"id"`
	Namespace string `db:"namespace"`
	HighestID int64  `db:"highest_id"`
}

package db

import (
	"github.com/jmoiron/sqlx"
)

// UpsertMime interns a MIME type string and returns its id.
func UpsertMime(tx *sqlx.Tx, mime string) (int64, error) {
	res, err := tx.Exec(`INSERT INTO mimes (mime) VALUES (?)`, mime)
	if err == nil {
		return res.LastInsertId()
	}
	if isUniqueViolation(err) {
		return MimeID(tx, mime)
	}
	return 0, translate(err, "")
}

// MimeID looks up an interned MIME type.
func MimeID(tx *sqlx.Tx, mime string) (int64, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM mimes WHERE mime = ?`, mime)
	return id, translate(err, "mime "+mime)
}

// MimeName returns the MIME type string for an id.
func MimeName(tx *sqlx.Tx, id int64) (string, error) {
	var mime string
	err := tx.Get(&mime, `SELECT mime FROM mimes WHERE id = ?`, id)
	return mime, translate(err, "mime")
}

// UpsertResource interns a resource URI, updating its MIME id and
// touch time if the URI is already tracked. Returns the resource id.
func UpsertResource(tx *sqlx.Tx, uri string, mimeID int64) (int64, error) {
	now := Now()
	res, err := tx.Exec(`INSERT INTO resources (uri, mime_id, touched) VALUES (?, ?, ?)`,
		uri, mimeID, now)
	if err == nil {
		return res.LastInsertId()
	}
	if !isUniqueViolation(err) {
		return 0, translate(err, "")
	}
	_, err = tx.Exec(`UPDATE resources SET mime_id = ?, touched = ? WHERE uri = ?`, mimeID, now, uri)
	if err != nil {
		return 0, translate(err, "")
	}
	return ResourceID(tx, uri)
}

// ResourceID looks up a resource by URI.
func ResourceID(tx *sqlx.Tx, uri string) (int64, error) {
	var id int64
	err := tx.Get(&id, `SELECT id FROM resources WHERE uri = ?`, uri)
	return id, translate(err, "resource "+uri)
}

// GetResource loads a resource row by id.
func GetResource(tx *sqlx.Tx, id int64) (*Resource, error) {
	r := new(Resource)
	err := tx.Get(r, `SELECT id, uri, mime_id, touched FROM resources WHERE id = ?`, id)
	if err != nil {
		return nil, translate(err, "resource")
	}
	return r, nil
}

// TouchResource bumps a resource's touch time, resetting its garbage
// collection age.
func TouchResource(tx *sqlx.Tx, id int64) error {
	_, err := tx.Exec(`UPDATE resources SET touched = ? WHERE id = ?`, Now(), id)
	return translate(err, "")
}

// DeleteResource removes a resource row and its checksums.
func DeleteResource(tx *sqlx.Tx, id int64) error {
	if _, err := tx.Exec(`DELETE FROM checksums WHERE resource_id = ?`, id); err != nil {
		return translate(err, "")
	}
	_, err := tx.Exec(`DELETE FROM resources WHERE id = ?`, id)
	return translate(err, "")
}

// SetChecksum stores a digest for a resource, replacing any prior
// digest of the same algorithm.
func SetChecksum(tx *sqlx.Tx, resourceID int64, algorithm, digest string) error {
	_, err := tx.Exec(`INSERT INTO checksums (resource_id, type, checksum) VALUES (?, ?, ?)`,
		resourceID, algorithm, digest)
	if err == nil {
		return nil
	}
	if !isUniqueViolation(err) {
		return translate(err, "")
	}
	_, err = tx.Exec(`UPDATE checksums SET checksum = ? WHERE resource_id = ? AND type = ?`,
		digest, resourceID, algorithm)
	return translate(err, "")
}

// GetChecksums returns all stored digests for a resource.
func GetChecksums(tx *sqlx.Tx, resourceID int64) ([]Checksum, error) {
	var out []Checksum
	err := tx.Select(&out, `SELECT id, resource_id, type, checksum FROM checksums WHERE resource_id = ? ORDER BY type`,
		resourceID)
	return out, translate(err, "")
}

// DeleteChecksums removes stored digests for a resource. With an
// empty algorithm every digest goes.
func DeleteChecksums(tx *sqlx.Tx, resourceID int64, algorithm string) error {
	var err error
	if algorithm == "" {
		_, err = tx.Exec(`DELETE FROM checksums WHERE resource_id = ?`, resourceID)
	} else {
		_, err = tx.Exec(`DELETE FROM checksums WHERE resource_id = ? AND type = ?`, resourceID, algorithm)
	}
	return translate(err, "")
}

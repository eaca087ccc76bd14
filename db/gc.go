package db

import (
	"time"

	"github.com/jmoiron/sqlx"
)

// OrphanResources streams up to limit resources with no remaining
// reference from a current or historical datastream whose touch time
// is older than cutoff, calling fn for each. Only resources with id
// above afterID are returned, in id order, so a caller can page
// through the full candidate set without holding it in memory. The
// age gate keeps resources that are mid-ingest, already stashed but
// not yet referenced, off the candidate list.
func OrphanResources(tx *sqlx.Tx, cutoff time.Time, afterID int64, limit int, fn func(Resource) error) error {
	rows, err := tx.Queryx(`
		SELECT r.id, r.uri, r.mime_id, r.touched
		FROM resources r
		WHERE r.touched < ?
		  AND r.id > ?
		  AND NOT EXISTS (SELECT 1 FROM datastreams d WHERE d.resource_id = r.id)
		  AND NOT EXISTS (SELECT 1 FROM old_datastreams od WHERE od.resource_id = r.id)
		ORDER BY r.id
		LIMIT ?`,
		cutoff, afterID, limit)
	if err != nil {
		return translate(err, "")
	}
	defer rows.Close()
	for rows.Next() {
		var r Resource
		if err := rows.StructScan(&r); err != nil {
			return translate(err, "")
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return translate(rows.Err(), "")
}

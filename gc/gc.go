// Package gc reclaims unreferenced content. A resource becomes
// garbage once no current or historical datastream points at it and
// its touch time is older than a grace period; the grace period keeps
// freshly stashed uploads alive until the ingest that references them
// commits.
package gc

import (
	"log"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/filestore"
)

// Sweeper periodically purges orphaned resources.
type Sweeper struct {
	DB *db.DB
	FS *filestore.Store
	// Age is how long a resource must be untouched before it can
	// be collected.
	Age time.Duration
	// Interval is the pause between sweeps.
	Interval time.Duration
	// Clock defaults to the wall clock; tests substitute a mock.
	Clock clock.Clock
	// BatchSize bounds how many candidates are held in memory at
	// once. Zero means the default.
	BatchSize int

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New returns a Sweeper with the given grace period, sweeping every
// interval.
func New(d *db.DB, fs *filestore.Store, age, interval time.Duration) *Sweeper {
	return &Sweeper{
		DB:       d,
		FS:       fs,
		Age:      age,
		Interval: interval,
		Clock:    clock.New(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop halts the background loop and waits for a sweep in progress to
// finish. The sweeper is not resumable once stopped.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	for {
		select {
		case <-s.Clock.After(s.Interval):
		case <-s.stop:
			return
		}
		n, err := s.Sweep()
		if err != nil {
			log.Printf("gc: %s", err.Error())
			raven.CaptureError(err, nil)
		}
		if n > 0 {
			log.Printf("gc: purged %d resources", n)
		}
	}
}

const defaultBatchSize = 256

// Sweep runs one collection pass and returns the number of resources
// purged. Candidates are paged in bounded batches on an id cursor, and
// each listing transaction closes before its batch is purged, since
// every purge runs in a transaction of its own. A resource that fails
// to purge is logged and skipped; the cursor moves past it, so the
// sweep carries on.
func (s *Sweeper) Sweep() (int, error) {
	cutoff := s.Clock.Now().UTC().Add(-s.Age)
	limit := s.BatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	purged := 0
	var afterID int64
	for {
		tx, err := s.DB.Begin()
		if err != nil {
			return purged, err
		}
		batch := make([]db.Resource, 0, limit)
		err = db.OrphanResources(tx, cutoff, afterID, limit, func(r db.Resource) error {
			batch = append(batch, r)
			return nil
		})
		tx.Rollback()
		if err != nil {
			return purged, err
		}
		if len(batch) == 0 {
			return purged, nil
		}
		afterID = batch[len(batch)-1].ID
		for _, r := range batch {
			if err := s.FS.Purge(r); err != nil {
				log.Printf("gc %s: %s", r.URI, err.Error())
				raven.CaptureError(err, map[string]string{"uri": r.URI})
				continue
			}
			purged++
		}
		if len(batch) < limit {
			return purged, nil
		}
	}
}

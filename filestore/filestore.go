// Package filestore keeps datastream content on disk and tracks it
// through the resources table. Files are written before their resource
// row is committed, in a transaction of the store's own, so a crash
// can strand a file on disk but never a row pointing at a missing
// file. Stranded files are cleaned up by the garbage collector once
// their rows age out, or never, which costs only disk.
package filestore

import (
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ndlib/repod/db"
	"github.com/ndlib/repod/repo"
	"github.com/ndlib/repod/util"
)

// URI schemes mapping to subdirectories of the store root. Uploaded
// content is staged under uploaded:// and referenced from datastreams
// under datastream:// once ingested.
const (
	SchemeUploaded   = "uploaded"
	SchemeDatastream = "datastream"
)

// Store is a directory of content files addressed by resource URIs.
type Store struct {
	DB *db.DB
	// DefaultChecksum is the digest algorithm used when a caller
	// asks for the default.
	DefaultChecksum string

	root string
}

// New creates a Store rooted at dir, creating the scheme
// subdirectories as needed.
func New(dir string, d *db.DB) (*Store, error) {
	for _, sub := range []string{SchemeUploaded, SchemeDatastream, "scratch"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0775); err != nil {
			return nil, err
		}
	}
	return &Store{DB: d, DefaultChecksum: repo.ChecksumSHA256, root: dir}, nil
}

func schemeDir(scheme string) (string, error) {
	switch scheme {
	case SchemeUploaded, SchemeDatastream:
		return scheme, nil
	}
	return "", repo.InvalidArgumentf("unknown resource scheme %q", scheme)
}

// Resolve maps a resource URI to the path of its content file.
func (s *Store) Resolve(uri string) (string, error) {
	i := strings.Index(uri, "://")
	if i < 0 {
		return "", repo.InvalidArgumentf("malformed resource uri %q", uri)
	}
	dir, err := schemeDir(uri[:i])
	if err != nil {
		return "", err
	}
	name := uri[i+3:]
	if name == "" || name != filepath.Base(name) {
		return "", repo.InvalidArgumentf("malformed resource uri %q", uri)
	}
	return filepath.Join(s.root, dir, name), nil
}

// Open returns a reader over a resource's content.
func (s *Store) Open(uri string) (*os.File, error) {
	path, err := s.Resolve(uri)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, repo.NotFoundf("content for %s", uri)
	}
	return f, err
}

// Size returns the byte length of a resource's content.
func (s *Store) Size(uri string) (int64, error) {
	path, err := s.Resolve(uri)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, repo.NotFoundf("content for %s", uri)
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Stash writes src into the store under the given scheme and registers
// it as a resource. The file lands first; the resource row, its MIME
// type, and the default digest commit together afterward in a
// transaction owned by the store. On any failure the file is removed,
// so retrying a failed stash never leaves a half-registered resource.
func (s *Store) Stash(scheme string, src io.Reader, mime string) (resourceID int64, uri string, err error) {
	tx, err := s.DB.Begin()
	if err != nil {
		return 0, "", err
	}
	resourceID, uri, err = s.StashTx(tx, scheme, src, mime)
	if err != nil {
		tx.Rollback()
		return 0, "", err
	}
	if err = tx.Commit(); err != nil {
		if path, perr := s.Resolve(uri); perr == nil {
			os.Remove(path)
		}
		return 0, "", err
	}
	return resourceID, uri, nil
}

// StashTx is Stash registering the resource in the caller's
// transaction instead of one of its own. Ingest uses it so a
// datastream and its resource commit together; a rollback then
// strands only the file, never a row.
func (s *Store) StashTx(tx *sqlx.Tx, scheme string, src io.Reader, mime string) (resourceID int64, uri string, err error) {
	dir, err := schemeDir(scheme)
	if err != nil {
		return 0, "", err
	}
	f, err := ioutil.TempFile(filepath.Join(s.root, "scratch"), "stash-")
	if err != nil {
		return 0, "", errors.Wrap(err, "stash")
	}
	scratch := f.Name()
	w := util.NewHashWriter(f, s.DefaultChecksum)
	_, err = io.Copy(w, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(scratch)
		return 0, "", errors.Wrap(err, "stash")
	}
	name := filepath.Base(scratch)
	path := filepath.Join(s.root, dir, name)
	if err = os.Rename(scratch, path); err != nil {
		os.Remove(scratch)
		return 0, "", errors.Wrap(err, "stash")
	}
	uri = scheme + "://" + name
	resourceID, err = s.register(tx, uri, mime, w)
	if err != nil {
		os.Remove(path)
		return 0, "", err
	}
	return resourceID, uri, nil
}

func (s *Store) register(tx *sqlx.Tx, uri, mime string, w *util.HashWriter) (int64, error) {
	mimeID, err := db.UpsertMime(tx, mime)
	if err != nil {
		return 0, err
	}
	id, err := db.UpsertResource(tx, uri, mimeID)
	if err != nil {
		return 0, err
	}
	return id, db.SetChecksum(tx, id, s.DefaultChecksum, w.Sum(s.DefaultChecksum))
}

// Adopt moves an uploaded resource's file under the datastream scheme
// and rewrites its URI, keeping the same resource id. Ingest calls
// this when a datastream is created from staged content.
func (s *Store) Adopt(tx *sqlx.Tx, resourceID int64) (string, error) {
	res, err := db.GetResource(tx, resourceID)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(res.URI, SchemeUploaded+"://") {
		return res.URI, nil
	}
	oldPath, err := s.Resolve(res.URI)
	if err != nil {
		return "", err
	}
	name := filepath.Base(oldPath)
	newURI := SchemeDatastream + "://" + name
	if err := os.Rename(oldPath, filepath.Join(s.root, SchemeDatastream, name)); err != nil {
		return "", errors.Wrap(err, "adopt")
	}
	_, err = tx.Exec(`UPDATE resources SET uri = ? WHERE id = ?`, newURI, resourceID)
	if err != nil {
		return "", err
	}
	return newURI, db.TouchResource(tx, resourceID)
}

// Purge removes a resource row along with its content file, each
// resource in a transaction of its own. A file already missing from
// disk is logged and otherwise ignored; the row goes regardless.
func (s *Store) Purge(res db.Resource) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	if err := db.DeleteResource(tx, res.ID); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	path, err := s.Resolve(res.URI)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		log.Printf("purge %s: content file already missing", res.URI)
		err = nil
	}
	return err
}

// UpdateChecksum recomputes and stores a digest over a resource's
// content. The algorithm may be a concrete name, "DEFAULT" for the
// store's configured algorithm, or "DISABLED" to drop every stored
// digest. A non-empty expected digest that disagrees with the computed
// one aborts with ChecksumMismatch before anything is stored.
func (s *Store) UpdateChecksum(tx *sqlx.Tx, resourceID int64, algorithm, expected string) (string, error) {
	switch algorithm {
	case repo.ChecksumDefault, "":
		algorithm = s.DefaultChecksum
	case repo.ChecksumDisabled:
		return "", db.DeleteChecksums(tx, resourceID, "")
	}
	if !util.KnownAlgorithm(algorithm) {
		return "", repo.InvalidArgumentf("unknown checksum algorithm %q", algorithm)
	}
	res, err := db.GetResource(tx, resourceID)
	if err != nil {
		return "", err
	}
	f, err := s.Open(res.URI)
	if err != nil {
		return "", err
	}
	defer f.Close()
	w := util.NewHashWriterPlain(algorithm)
	if _, err := io.Copy(w, f); err != nil {
		return "", errors.Wrap(err, "checksum "+res.URI)
	}
	digest := w.Sum(algorithm)
	if expected != "" && !strings.EqualFold(expected, digest) {
		return "", repo.ChecksumMismatchf("resource %s digests to %s, caller supplied %s",
			res.URI, digest, expected)
	}
	return digest, db.SetChecksum(tx, resourceID, algorithm, digest)
}

package util

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"hash"
	"io"
	"strings"

	"github.com/ndlib/repod/repo"
)

// A HashWriter computes a set of named digests over the bytes written
// to it, optionally passing them through to an underlying writer.
type HashWriter struct {
	io.Writer // the io.MultiWriter over w and every hash
	hashes    map[string]hash.Hash
}

// newHash returns a fresh hash for a wire-format algorithm name, or
// nil if the algorithm is unknown.
func newHash(algorithm string) hash.Hash {
	switch algorithm {
	case repo.ChecksumMD5:
		return md5.New()
	case repo.ChecksumSHA1:
		return sha1.New()
	case repo.ChecksumSHA256:
		return sha256.New()
	case repo.ChecksumSHA384:
		return sha512.New384()
	case repo.ChecksumSHA512:
		return sha512.New()
	}
	return nil
}

// KnownAlgorithm reports whether we can compute the given algorithm.
func KnownAlgorithm(algorithm string) bool {
	return newHash(algorithm) != nil
}

// NewHashWriter returns a HashWriter wrapping w and computing the
// given algorithms. Unknown algorithm names are ignored.
func NewHashWriter(w io.Writer, algorithms ...string) *HashWriter {
	hw := &HashWriter{hashes: make(map[string]hash.Hash)}
	ws := make([]io.Writer, 0, len(algorithms)+1)
	if w != nil {
		ws = append(ws, w)
	}
	for _, a := range algorithms {
		if _, ok := hw.hashes[a]; ok {
			continue
		}
		h := newHash(a)
		if h == nil {
			continue
		}
		hw.hashes[a] = h
		ws = append(ws, h)
	}
	hw.Writer = io.MultiWriter(ws...)
	return hw
}

// NewHashWriterPlain returns a HashWriter that only computes digests.
func NewHashWriterPlain(algorithms ...string) *HashWriter {
	return NewHashWriter(nil, algorithms...)
}

// Sum returns the lowercase hex digest for the given algorithm, or ""
// if that algorithm was not requested.
func (hw *HashWriter) Sum(algorithm string) string {
	h, ok := hw.hashes[algorithm]
	if !ok {
		return ""
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Check compares the digest for the given algorithm against goal,
// case-insensitively. An empty goal is treated as matching.
func (hw *HashWriter) Check(algorithm, goal string) (string, bool) {
	computed := hw.Sum(algorithm)
	ok := goal == "" || strings.EqualFold(goal, computed)
	return computed, ok
}

// HashReader copies r through a plain HashWriter and returns the
// digests for the requested algorithms, keyed by algorithm name.
func HashReader(r io.Reader, algorithms ...string) (map[string]string, error) {
	hw := NewHashWriterPlain(algorithms...)
	if _, err := io.Copy(hw, r); err != nil {
		return nil, err
	}
	sums := make(map[string]string, len(hw.hashes))
	for a := range hw.hashes {
		sums[a] = hw.Sum(a)
	}
	return sums, nil
}

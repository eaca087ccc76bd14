package repo

import (
	"errors"
	"fmt"
)

// Kind classifies engine errors. The HTTP layer maps kinds to status
// codes; the engine itself never produces protocol codes.
type Kind int

const (
	// KindAlreadyExists is a PID or natural-key collision on create.
	KindAlreadyExists Kind = iota + 1
	// KindNotFound is a missing object, datastream, namespace or PID.
	KindNotFound
	// KindReferencedEntityNotFound is a relationship naming an
	// object or datastream that does not exist.
	KindReferencedEntityNotFound
	// KindConflict is a failed optimistic-concurrency check or a
	// database serialization failure.
	KindConflict
	// KindChecksumMismatch is a caller-supplied digest disagreeing
	// with the computed one.
	KindChecksumMismatch
	// KindUnsupportedStorageClass is an external-reference control
	// group we refuse to store.
	KindUnsupportedStorageClass
	// KindInvalidArgument is a malformed PID, state, or query.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindAlreadyExists:
		return "already exists"
	case KindNotFound:
		return "not found"
	case KindReferencedEntityNotFound:
		return "referenced entity not found"
	case KindConflict:
		return "conflict"
	case KindChecksumMismatch:
		return "checksum mismatch"
	case KindUnsupportedStorageClass:
		return "unsupported storage class"
	case KindInvalidArgument:
		return "invalid argument"
	}
	return "unknown"
}

// Error is a typed engine error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Message
}

func newError(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

// Constructors, one per kind.

func AlreadyExistsf(format string, args ...interface{}) *Error {
	return newError(KindAlreadyExists, format, args...)
}

func NotFoundf(format string, args ...interface{}) *Error {
	return newError(KindNotFound, format, args...)
}

func ReferencedEntityNotFoundf(format string, args ...interface{}) *Error {
	return newError(KindReferencedEntityNotFound, format, args...)
}

func Conflictf(format string, args ...interface{}) *Error {
	return newError(KindConflict, format, args...)
}

func ChecksumMismatchf(format string, args ...interface{}) *Error {
	return newError(KindChecksumMismatch, format, args...)
}

func UnsupportedStorageClassf(format string, args ...interface{}) *Error {
	return newError(KindUnsupportedStorageClass, format, args...)
}

func InvalidArgumentf(format string, args ...interface{}) *Error {
	return newError(KindInvalidArgument, format, args...)
}

// IsKind reports whether err is an engine error of the given kind,
// unwrapping as needed.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func IsAlreadyExists(err error) bool { return IsKind(err, KindAlreadyExists) }
func IsNotFound(err error) bool      { return IsKind(err, KindNotFound) }
func IsConflict(err error) bool      { return IsKind(err, KindConflict) }

// Package repo holds the domain types shared by the storage engine:
// persistent identifiers, entity states, datastream control groups,
// checksum algorithms, and the error taxonomy.
package repo

import (
	"regexp"
	"strings"
	"time"
)

// PIDSeparator splits the namespace from the local part of a PID.
const PIDSeparator = ":"

// A PID is a persistent identifier of the form "namespace:local".
type PID struct {
	Namespace string
	Local     string
}

// pidRx is the Fedora 3 PID syntax. Local parts are usually decimal
// but base objects like fedora-system:FedoraObject-3.0 are not.
var pidRx = regexp.MustCompile(`^[A-Za-z0-9.-]+:[A-Za-z0-9._~-]+$`)

// ParsePID parses and validates a raw PID string.
func ParsePID(s string) (PID, error) {
	if !pidRx.MatchString(s) {
		return PID{}, InvalidArgumentf("malformed PID %q", s)
	}
	i := strings.Index(s, PIDSeparator)
	return PID{Namespace: s[:i], Local: s[i+1:]}, nil
}

func (p PID) String() string {
	return p.Namespace + PIDSeparator + p.Local
}

// IsZero reports whether p is the empty PID.
func (p PID) IsZero() bool {
	return p.Namespace == "" && p.Local == ""
}

// State is the lifecycle state of an object or datastream.
type State string

const (
	StateActive   State = "A"
	StateInactive State = "I"
	StateDeleted  State = "D"
)

// stateNames maps the long spellings used in FOXML property values to
// the single letter stored in the database.
var stateNames = map[string]State{
	"A": StateActive, "Active": StateActive,
	"I": StateInactive, "Inactive": StateInactive,
	"D": StateDeleted, "Deleted": StateDeleted,
}

// ParseState accepts either the stored letter or the FOXML long form.
func ParseState(s string) (State, error) {
	st, ok := stateNames[s]
	if !ok {
		return "", InvalidArgumentf("unknown state %q", s)
	}
	return st, nil
}

// Name returns the FOXML long form of the state.
func (s State) Name() string {
	switch s {
	case StateActive:
		return "Active"
	case StateInactive:
		return "Inactive"
	case StateDeleted:
		return "Deleted"
	}
	return string(s)
}

// ControlGroup is the storage class of a datastream's content.
type ControlGroup string

const (
	// GroupInline content is an XML fragment stored by the engine.
	GroupInline ControlGroup = "X"
	// GroupManaged content is arbitrary bytes stored by the engine.
	GroupManaged ControlGroup = "M"
	// GroupRedirect content lives at an external URL.
	GroupRedirect ControlGroup = "R"
	// GroupExternal is a legacy storage class we refuse to store.
	GroupExternal ControlGroup = "E"
)

// ParseControlGroup validates a control group letter.
func ParseControlGroup(s string) (ControlGroup, error) {
	switch g := ControlGroup(s); g {
	case GroupInline, GroupManaged, GroupRedirect, GroupExternal:
		return g, nil
	}
	return "", InvalidArgumentf("unknown control group %q", s)
}

// Checksum algorithms, named as they appear on the wire. DEFAULT and
// DISABLED are request tokens, never stored.
const (
	ChecksumMD5      = "MD5"
	ChecksumSHA1     = "SHA-1"
	ChecksumSHA256   = "SHA-256"
	ChecksumSHA384   = "SHA-384"
	ChecksumSHA512   = "SHA-512"
	ChecksumDefault  = "DEFAULT"
	ChecksumDisabled = "DISABLED"
)

// An Identity attributes mutations to a user under a source. It is
// supplied by the caller; the engine performs no authentication.
type Identity struct {
	SourceID int64
	UserID   int64
}

// Timestamps round-trip through ISO-8601 with millisecond precision in
// the interchange format.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// FormatTime renders a timestamp the way the interchange format and
// the audit trail expect it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime accepts the interchange timestamp format, with or without
// fractional seconds.
func ParseTime(s string) (time.Time, error) {
	for _, f := range []string{TimeFormat, "2006-01-02T15:04:05Z", time.RFC3339} {
		if t, err := time.Parse(f, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, InvalidArgumentf("malformed timestamp %q", s)
}

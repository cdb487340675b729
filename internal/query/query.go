// Package query validates and unpacks luk query capsules out of RCON
// message text. Grounded on original_source/src/query.c and query.h.
package query

import (
	"strings"
	"unicode"

	log "github.com/sirupsen/logrus"
)

const (
	// Prefix is the lowercase literal every capsule must begin with.
	Prefix = "luk"
	// Delimiter wraps a capsule on both ends (ASCII backspace).
	Delimiter = '\b'
	// IDMaxDigits bounds how many digits the query ID may contain.
	IDMaxDigits = 9
)

// State holds the per-session query tracking: the last accepted ID. It is
// passed explicitly rather than held in a package global (Design Note,
// "Static global singletons").
type State struct {
	lastID uint32
}

// NewState returns a fresh tracker with no accepted query yet.
func NewState() *State {
	return &State{}
}

// ResetID is called on every map change.
func (s *State) ResetID() {
	s.lastID = 0
}

// LastID returns the most recently accepted query ID.
func (s *State) LastID() uint32 {
	return s.lastID
}

// IsValidCapsule reports whether raw is delimited on both ends and at least
// as long as the fixed prefix.
func IsValidCapsule(raw []byte) bool {
	if len(raw) < len(Prefix) {
		return false
	}
	return raw[0] == Delimiter && raw[len(raw)-1] == Delimiter
}

// Query is an unpacked capsule: its ID and cargo text.
type Query struct {
	ID    uint32
	Cargo string
}

// Unpack strips the capsule delimiters, validates the prefix, extracts the
// numeric ID applying the ordering policy against state, and returns the
// remaining cargo text. ok is false if the capsule is malformed or the ID
// was rejected by the ordering policy (both cases are logged, never
// returned as an error — this is a "warn and drop" protocol boundary, not a
// Go error path).
func (s *State) Unpack(raw []byte) (q Query, ok bool) {
	inner := string(raw[1 : len(raw)-1])
	cleaned := collapseWhitespace(strings.TrimSpace(inner))

	if len(cleaned) < len(Prefix) || !strings.EqualFold(cleaned[:len(Prefix)], Prefix) {
		return Query{}, false
	}
	pos := cleaned[len(Prefix):]
	if len(pos) == 0 {
		return Query{}, false
	}
	pos = pos[1:] // skip exactly one separator byte

	var digits []byte
	for len(pos) > 0 {
		c := pos[0]
		if c >= '0' && c <= '9' && len(digits) < IDMaxDigits {
			digits = append(digits, c)
			pos = pos[1:]
			continue
		}
		break
	}
	if len(digits) == 0 || len(pos) == 0 || !unicode.IsSpace(rune(pos[0])) {
		log.Info("luk: invalid query ID given in received query")
		return Query{}, false
	}

	id := parseDecimal(digits)

	if !(id > s.lastID || id == 0) {
		log.Warnf("luk: query with an older query ID received: new(%d), old(%d)", id, s.lastID)
		return Query{}, false
	}

	if len(pos) == 0 {
		return Query{}, false
	}
	cargo := pos[1:] // skip the separator byte before the cargo

	s.lastID = id
	return Query{ID: id, Cargo: cargo}, true
}

func parseDecimal(digits []byte) uint32 {
	var v uint32
	for _, d := range digits {
		v = v*10 + uint32(d-'0')
	}
	return v
}

// collapseWhitespace trims nothing itself (the caller already trimmed) but
// reduces interior runs of whitespace to a single space, matching
// StrReduce in the original source.
func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Package handler implements the luk command handlers: the actions a
// STORE/RETRIEVE/etc. command triggers against the database and the reply
// it produces. Grounded on original_source/src/handler.c and handler.h.
package handler

import (
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"lukagent/internal/command"
	"lukagent/internal/reply"
)

// HANDLER_QUERY_MAX_CHARS worth of value bytes fit in one RETRIEVE_STRING_SEGMENT
// reply, ASCII-packed as a base-1000 integer with a padding bias so every
// byte value maps to a 3-digit group.
const (
	queryMaxChars = 3
	asciiPadding  = 100
)

// Database is the subset of *database.Database the handlers need. Declared
// here, satisfied there, so this package does not import database directly
// (Design Note, "Static global singletons").
type Database interface {
	Store(key, value string)
	Retrieve(key string) (string, bool)
	Print(selectedMap string)
}

// stringTransmission tracks an in-progress chunked RETRIEVE_STRING_INITIATE/
// RETRIEVE_STRING_SEGMENT transfer. Exactly one may be active at a time,
// matching the original's single static st.
type stringTransmission struct {
	value         string
	queriesNeeded int
	offset        int
	charsLeft     int
	active        bool
}

// Set is the closed collection of handlers plus the transmission state they
// share, built once per session and wired into a command.Table.
type Set struct {
	db           Database
	transmission stringTransmission
}

// NewSet returns a handler set bound to db.
func NewSet(db Database) *Set {
	return &Set{db: db}
}

// Table builds the dispatch table for command.NewTable, closing over r as
// the shared reply each handler populates.
func (s *Set) Table(r *reply.Reply) command.Table {
	return command.NewTable(map[string]command.Handler{
		"STORE":                    func(_ any, cmd command.Command) { s.store(cmd) },
		"STORE_DATE":               func(_ any, cmd command.Command) { s.storeDate(cmd) },
		"RETRIEVE":                 func(_ any, cmd command.Command) { s.retrieve(cmd, r) },
		"RETRIEVE_DATE":            func(_ any, cmd command.Command) { s.retrieveDate(cmd, r) },
		"RETRIEVE_STRING_INITIATE": func(_ any, cmd command.Command) { s.retrieveStringInitiate(cmd, r) },
		"RETRIEVE_STRING_SEGMENT":  func(_ any, cmd command.Command) { s.retrieveStringSegment(cmd, r) },
		"PRINT":                    func(_ any, cmd command.Command) { s.print(cmd) },
		"PRINT_DATABASE":           func(_ any, cmd command.Command) { s.printDatabase(cmd) },
	})
}

func (s *Set) store(cmd command.Command) {
	if len(cmd.Args) < 2 {
		log.Info("luk: missing arguments for STORE command. dropping command")
		return
	}
	key, value := cmd.Args[0], cmd.Args[1]
	if key == "" || !isAlpha(key[0]) {
		log.Info("luk: record names should begin with a letter")
		return
	}
	s.db.Store(key, value)
	log.Infof("luk: storing %q in %q", value, key)
}

func (s *Set) storeDate(cmd command.Command) {
	if len(cmd.Args) < 1 {
		log.Info("luk: no date key was passed to STORE_DATE command")
		return
	}
	s.db.Store(cmd.Args[0], strconv.FormatInt(time.Now().Unix(), 10))
}

func (s *Set) retrieve(cmd command.Command, r *reply.Reply) {
	if len(cmd.Args) < 1 {
		log.Info("luk: missing key for retrieve command")
		return
	}
	key := cmd.Args[0]
	value, ok := s.db.Retrieve(key)
	if !ok {
		r.SetDataInt(0)
		r.Result = reply.ResultFail
		log.Infof("luk: asked for a non-existant record with key: %s", key)
		return
	}
	r.SetDataString(value)
	r.Result = reply.ResultOK
}

// retrieveDate interprets the stored value as a Unix timestamp and replies
// with it encoded as YYYYMMDD, matching the original's ISO-ish packing.
func (s *Set) retrieveDate(cmd command.Command, r *reply.Reply) {
	if len(cmd.Args) < 1 {
		log.Info("luk: missing date key for RETRIEVE_DATE command")
		return
	}
	key := cmd.Args[0]
	value, ok := s.db.Retrieve(key)
	if !ok {
		r.SetDataInt(0)
		r.Result = reply.ResultFail
		log.Infof("luk: asked for a non-existant date record with key: %s", key)
		return
	}

	ts, _ := strconv.Atoi(value)
	date := time.Unix(int64(ts), 0)
	encoded := date.Year()*10000 + int(date.Month())*100 + date.Day()

	r.SetDataInt(encoded)
	r.Result = reply.ResultOK
}

func (s *Set) retrieveStringInitiate(cmd command.Command, r *reply.Reply) {
	if len(cmd.Args) == 0 {
		log.Info("luk: missing record key for string retrieval. aborting operation")
		return
	}
	key := cmd.Args[0]
	value, ok := s.db.Retrieve(key)
	if !ok {
		log.Infof("luk: asked for a non-existant string record with key: %s", key)
		r.SetDataInt(0)
		r.Result = reply.ResultFail
		return
	}

	log.Infof("luk: starting string transmission for record: %s", key)

	if s.transmission.active {
		log.Warn("luk: terminating active string transmission to start a new one")
		s.endTransmission()
	}

	queriesNeeded := len(value) / queryMaxChars
	if len(value)%queryMaxChars != 0 {
		queriesNeeded++
	}

	s.transmission = stringTransmission{
		value:         value,
		queriesNeeded: queriesNeeded,
		offset:        0,
		charsLeft:     len(value),
		active:        true,
	}

	r.SetDataInt(queriesNeeded)
	r.Result = reply.ResultOK
}

func (s *Set) retrieveStringSegment(_ command.Command, r *reply.Reply) {
	if !s.transmission.active {
		r.SetDataInt(0)
		r.Result = reply.ResultFail
		log.Info("luk: a string transmission is not open. failed to get segment")
		return
	}

	segmentLength := queryMaxChars
	if s.transmission.charsLeft < queryMaxChars {
		segmentLength = s.transmission.charsLeft
	}

	segment := s.transmission.value[s.transmission.offset : s.transmission.offset+segmentLength]
	asciiPackage := encodeASCIIPackage(segment)

	s.transmission.offset += segmentLength
	s.transmission.charsLeft -= segmentLength

	r.SetDataInt(asciiPackage)
	r.Result = reply.ResultOK
	log.Infof("luk: sending string segment: %d", asciiPackage)

	s.transmission.queriesNeeded--
	if s.transmission.queriesNeeded <= 0 {
		s.endTransmission()
	}
}

func (s *Set) endTransmission() {
	if s.transmission.active {
		log.Info("luk: closing string transmission")
		s.transmission = stringTransmission{}
	}
}

// encodeASCIIPackage packs up to queryMaxChars bytes into a single integer,
// each byte biased by asciiPadding and weighted by a power of 1000 with the
// last byte of the segment receiving the smallest weight.
func encodeASCIIPackage(segment string) int {
	asciiPackage := 0
	separator := 1
	for i := len(segment) - 1; i >= 0; i-- {
		asciiPackage += (int(segment[i]) + asciiPadding) * separator
		separator *= 1000
	}
	return asciiPackage
}

func (s *Set) print(cmd command.Command) {
	if len(cmd.Args) == 0 {
		return
	}
	log.Infof("luk: %s", cmd.Args[0])
}

func (s *Set) printDatabase(cmd command.Command) {
	var mapName string
	if len(cmd.Args) > 0 {
		mapName = cmd.Args[0]
	}
	s.db.Print(mapName)
}

func isAlpha(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// Package database implements the in-memory, map-partitioned key/value
// store at the heart of luk. Grounded on original_source/src/database.c
// and database.h, with the original's singly linked, head-inserting
// storage replaced by a slice plus an index map (Design Note, "Linked-list
// storage") while preserving last-write-wins semantics and insertion-order
// iteration (required for deterministic export).
package database

import (
	"strings"

	log "github.com/sirupsen/logrus"
)

// MaxMapNameDiskLength is how many bytes of a map name are persisted to
// disk; in-memory names are never truncated to this (Design Note, "String
// trimming to 8 characters for map names").
const MaxMapNameDiskLength = 8

// MaxRecords bounds how many records the database will hold in total,
// across every map. The original spec sets no hard limit on the lukd file
// format itself, only on the in-memory database.
const MaxRecords = 1024

// Record is a single key/value pair within a map.
type Record struct {
	Key   string
	Value string
}

// MapEntry is a named partition of the store: an ordered slice of records
// plus an index from key to slice position for O(1) lookup/update.
type MapEntry struct {
	Name    string // case-folded to lowercase
	records []Record
	index   map[string]int
}

func newMapEntry(name string) *MapEntry {
	return &MapEntry{
		Name:  strings.ToLower(name),
		index: make(map[string]int),
	}
}

// TotalRecords reports how many records this entry currently holds.
func (m *MapEntry) TotalRecords() int {
	return len(m.records)
}

// Records returns the entry's records in insertion order. The returned
// slice must not be mutated by the caller.
func (m *MapEntry) Records() []Record {
	return m.records
}

func (m *MapEntry) store(key, value string) {
	if i, ok := m.index[key]; ok {
		m.records[i].Value = value
		return
	}
	m.index[key] = len(m.records)
	m.records = append(m.records, Record{Key: key, Value: value})
}

func (m *MapEntry) retrieve(key string) (string, bool) {
	i, ok := m.index[key]
	if !ok {
		return "", false
	}
	return m.records[i].Value, true
}

// Database is the full collection of map entries plus the currently
// selected map and the dirty counter. It is owned by the caller (the
// client event loop) and passed explicitly to handlers rather than held as
// process-global state (Design Note, "Static global singletons").
type Database struct {
	entries              []*MapEntry
	byName               map[string]*MapEntry
	currentMap           *MapEntry
	totalRecords         int
	updatesSinceLastSave int
	operational          bool
}

// New returns an empty, operational database.
func New() *Database {
	return &Database{
		byName:      make(map[string]*MapEntry),
		operational: true,
	}
}

// IsSaveNeeded reports whether any STORE/DELETE has happened since the last
// successful load or save.
func (d *Database) IsSaveNeeded() bool {
	return d.updatesSinceLastSave > 0
}

// UpdatesSinceLastSave exposes the dirty counter for tests and diagnostics.
func (d *Database) UpdatesSinceLastSave() int {
	return d.updatesSinceLastSave
}

// TotalRecords returns the sum of every entry's record count.
func (d *Database) TotalRecords() int {
	return d.totalRecords
}

// TotalMaps returns how many map entries currently exist in memory.
func (d *Database) TotalMaps() int {
	return len(d.entries)
}

// Entries returns every map entry in insertion order. The slice must not be
// mutated by the caller.
func (d *Database) Entries() []*MapEntry {
	return d.entries
}

// ChangeMap switches the current map to newMapName, creating it if it does
// not already exist. Returns false if newMapName is already the current
// map (a no-op, matching the original's early-exit).
func (d *Database) ChangeMap(newMapName string) bool {
	name := strings.ToLower(newMapName)

	if d.currentMap != nil && d.currentMap.Name == name {
		return false
	}

	entry, ok := d.byName[name]
	if !ok {
		entry = newMapEntry(name)
		d.entries = append(d.entries, entry)
		d.byName[name] = entry
	}

	d.currentMap = entry
	return true
}

// CurrentMapName returns the name of the currently selected map, or "" if
// none has been selected yet.
func (d *Database) CurrentMapName() string {
	if d.currentMap == nil {
		return ""
	}
	return d.currentMap.Name
}

// Store creates or updates key within the current map. It is a no-op if no
// map has been selected yet. A new key is dropped with a warning once the
// database holds MaxRecords records. Every call that stores a value
// increments the dirty counter.
func (d *Database) Store(key, value string) {
	if d.currentMap == nil {
		return
	}
	if _, existed := d.currentMap.index[key]; !existed {
		if d.totalRecords >= MaxRecords {
			log.Warnf("luk: record limit of %d has been reached. cannot add anymore records", MaxRecords)
			return
		}
		d.totalRecords++
	}
	d.currentMap.store(key, value)
	d.updatesSinceLastSave++
}

// Retrieve looks up key within the current map.
func (d *Database) Retrieve(key string) (string, bool) {
	if d.currentMap == nil {
		return "", false
	}
	return d.currentMap.retrieve(key)
}

// Delete removes an entire named map entry (not a single record), matching
// the original's DatabaseDelete semantics — used by the -d CLI flag.
func (d *Database) Delete(mapName string) bool {
	name := strings.ToLower(mapName)
	entry, ok := d.byName[name]
	if !ok {
		return false
	}

	for i, e := range d.entries {
		if e == entry {
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			break
		}
	}
	delete(d.byName, name)
	d.totalRecords -= entry.TotalRecords()
	if d.currentMap == entry {
		d.currentMap = nil
	}
	d.updatesSinceLastSave++
	return true
}

// Shutdown marks the database non-operational and clears the dirty
// counter, matching the original's DatabaseShutdown.
func (d *Database) Shutdown() {
	d.entries = nil
	d.byName = make(map[string]*MapEntry)
	d.currentMap = nil
	d.totalRecords = 0
	d.updatesSinceLastSave = 0
	d.operational = false
}

// ResetDirtyCounter zeroes the dirty counter without touching the data —
// used after a successful load or save.
func (d *Database) ResetDirtyCounter() {
	d.updatesSinceLastSave = 0
}

// Print logs the database (or, if selectedMap is non-empty, a single named
// map) to the operator log, matching DatabasePrint/DatabasePrintMapEntry/
// DatabasePrintRecord.
func (d *Database) Print(selectedMap string) {
	log.Infof("----- Database -----")
	log.Infof("Map entries: %d", len(d.entries))
	log.Infof("Records: %d", d.totalRecords)

	if selectedMap != "" {
		name := strings.ToLower(selectedMap)
		entry, ok := d.byName[name]
		if !ok {
			log.Infof("No such map in database: %s", selectedMap)
			return
		}
		printMapEntry(entry)
		return
	}

	for _, entry := range d.entries {
		printMapEntry(entry)
	}
}

func printMapEntry(entry *MapEntry) {
	log.Infof("\tName: %s", entry.Name)
	log.Infof("\tTotal records: %d", entry.TotalRecords())
	for _, r := range entry.records {
		log.Infof("\t\tKey: %s", r.Key)
		log.Infof("\t\tValue: %s", r.Value)
	}
}

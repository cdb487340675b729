// Codec for the lukd binary database file format. Grounded on
// original_source/src/lukd.c and lukd.h (the MemFile-based import/export
// pair), with the raw layout wrapped in a 4-byte magic plus 4-byte version
// preamble (Design Note, "Brittle binary file format" — resolved Open
// Question) so that future format changes can be detected instead of
// silently misread. Files without the magic are still read as the
// original, preamble-less layout.
package database

import (
	"encoding/binary"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"lukagent/internal/bytebuffer"
)

// magic identifies a file written in the versioned layout. Interpreting a
// legacy file's leading main-table-offset as this value (1,145,787,724 read
// little-endian) would require a file larger than 1 GiB, which lukd files
// never approach.
var magic = [4]byte{'L', 'U', 'K', 'D'}

const currentVersion uint32 = 1

const (
	mainTableOffsetSize = 4  // sizeof(LukdMainTableOffset)
	mainTableSize       = 12 // totalMapEntries + firstMapEntry + publishDate, all uint32-width
	mapEntrySize        = 16 // name[8] + totalRecords + firstRecord
	recordHeaderSize    = 8  // keySize + valueSize
)

type mainTable struct {
	totalMapEntries uint32
	firstMapEntry   uint32
	publishDate     int32
}

type mapEntryRecord struct {
	name         [MaxMapNameDiskLength]byte
	totalRecords uint32
	firstRecord  uint32
}

// BackupExtension is appended to a database path to form its backup file
// path on a successful import.
const BackupExtension = ".backup"

// Load reads a database file at path and populates db with its records. A
// missing or empty file is not an error — the database simply stays empty,
// matching LukdImportDatabase's "empty file" branch. On a successful,
// non-empty import, a backup copy is written alongside path.
func Load(path string, db *Database) error {
	buf, err := bytebuffer.NewFromFile(path)
	if err != nil {
		return err
	}
	if buf == nil {
		log.Info("luk: database file is empty")
		db.ResetDirtyCounter()
		return nil
	}

	log.Infof("luk: importing database file at path: %s", path)

	payload, _ := payloadOf(buf.Bytes())
	if err := importPayload(payload, db); err != nil {
		log.Warnf("luk: failed to import database file at path: %s", path)
		log.Infof("luk: reason for failure: %v", err)

		// Discard whatever records were read before the failure and reset
		// the dirty counter regardless of outcome, matching
		// DatabaseInitializeFile: a failed or partial import must not leave
		// the database able to overwrite the on-disk file before a real
		// mutation happens.
		db.entries = nil
		db.byName = make(map[string]*MapEntry)
		db.currentMap = nil
		db.totalRecords = 0
		db.ResetDirtyCounter()

		return err
	}

	db.ResetDirtyCounter()

	backupPath := path + BackupExtension
	log.Infof("luk: creating backup database file at path: %s", backupPath)
	if err := buf.Save(backupPath); err != nil {
		log.Warnf("luk: failed to create a backup of the database file: %v", err)
	}

	return nil
}

// payloadOf strips the magic+version preamble if present, returning the
// original lukd byte layout plus whether it was found.
func payloadOf(data []byte) ([]byte, bool) {
	if len(data) >= 8 && data[0] == magic[0] && data[1] == magic[1] && data[2] == magic[2] && data[3] == magic[3] {
		return data[8:], true
	}
	return data, false
}

func importPayload(data []byte, db *Database) error {
	fileSize := len(data)

	if len(data) < mainTableOffsetSize {
		return fmt.Errorf("database: file too small to hold a main table offset")
	}
	mainTableOffset := binary.LittleEndian.Uint32(data[:mainTableOffsetSize])

	if !isValidMainTableOffset(mainTableOffset, fileSize) {
		return fmt.Errorf("database: bad main table offset in file: %d", mainTableOffset)
	}

	if int(mainTableOffset)+mainTableSize > fileSize {
		return fmt.Errorf("database: corrupt main table in database file detected")
	}
	table := readMainTable(data[mainTableOffset : mainTableOffset+mainTableSize])
	if !isValidMainTable(table, fileSize) {
		return fmt.Errorf("database: corrupt main table in database file detected")
	}

	totalRecords, err := importMapEntries(data, table, db)
	if err != nil {
		return err
	}

	published := time.Unix(int64(table.publishDate), 0)
	log.Info("luk: database file:")
	log.Infof("luk:    - published on: %s", published.Format("2006-01-02 15:04:05 MST"))
	log.Infof("luk:    - total map entries: %d", table.totalMapEntries)
	log.Infof("luk:    - total records: %d", totalRecords)

	return nil
}

func importMapEntries(data []byte, table mainTable, db *Database) (int, error) {
	totalRecords := 0
	pos := int(table.firstMapEntry)

	for i := uint32(0); i < table.totalMapEntries; i++ {
		if pos+mapEntrySize > len(data) {
			return 0, fmt.Errorf("database: corrupt map entry encountered in database file")
		}
		entry := readMapEntry(data[pos : pos+mapEntrySize])
		nextEntryPosition := pos + mapEntrySize

		if !isValidMapEntry(entry, len(data)) {
			return 0, fmt.Errorf("database: corrupt map entry encountered in database file")
		}

		name := trimMapName(entry.name)
		db.ChangeMap(name)

		n, err := importRecords(data, entry, db)
		if err != nil {
			return 0, err
		}
		totalRecords += n

		pos = nextEntryPosition
	}

	return totalRecords, nil
}

func importRecords(data []byte, entry mapEntryRecord, db *Database) (int, error) {
	pos := int(entry.firstRecord)
	count := 0

	for i := uint32(0); i < entry.totalRecords; i++ {
		if pos+recordHeaderSize > len(data) {
			return 0, fmt.Errorf("database: malformed record found in database file")
		}
		keySize := binary.LittleEndian.Uint32(data[pos : pos+4])
		valueSize := binary.LittleEndian.Uint32(data[pos+4 : pos+8])

		if !isValidRecordHeader(keySize, valueSize, len(data), pos) {
			return 0, fmt.Errorf("database: malformed record found in database file")
		}
		pos += recordHeaderSize

		if pos+int(keySize)+int(valueSize) > len(data) {
			return 0, fmt.Errorf("database: malformed record found in database file")
		}
		key := string(data[pos : pos+int(keySize)])
		pos += int(keySize)
		value := string(data[pos : pos+int(valueSize)])
		pos += int(valueSize)

		db.Store(key, value)
		count++
	}

	return count, nil
}

func isValidMainTableOffset(offset uint32, fileSize int) bool {
	if fileSize < mainTableSize {
		return false
	}
	maxOffset := uint32(fileSize - mainTableSize)
	return offset <= maxOffset
}

func isValidMainTable(table mainTable, fileSize int) bool {
	if table.totalMapEntries == 0 {
		return true
	}

	lower := uint32(mainTableOffsetSize)
	if fileSize < mapEntrySize {
		return false
	}
	upper := uint32(fileSize - mapEntrySize)

	if table.firstMapEntry < lower || table.firstMapEntry > upper {
		log.Warn("luk: first map entry is NOT within valid limits")
		return false
	}

	if uint64(table.totalMapEntries)*uint64(mapEntrySize) > uint64(fileSize)-uint64(table.firstMapEntry) {
		log.Warn("luk: total size of entries is too big for given file")
		return false
	}

	return true
}

func isValidMapEntry(entry mapEntryRecord, fileSize int) bool {
	if entry.totalRecords == 0 {
		return true
	}

	lower := uint32(mainTableOffsetSize)
	if fileSize < recordHeaderSize {
		return false
	}
	upper := uint32(fileSize - recordHeaderSize)

	if entry.firstRecord < lower || entry.firstRecord > upper {
		return false
	}

	// Loosely bounds total records against the whole file size rather than
	// the records area specifically — carried forward from the original's
	// own FIXME-flagged check.
	if entry.totalRecords >= uint32(fileSize) {
		return false
	}

	return true
}

func isValidRecordHeader(keySize, valueSize uint32, fileSize, currentPosition int) bool {
	maxBodySize := fileSize - mainTableSize - currentPosition
	if maxBodySize < 0 {
		return false
	}
	bodySize := uint64(keySize) + uint64(valueSize)
	return bodySize <= uint64(maxBodySize)
}

func readMainTable(b []byte) mainTable {
	return mainTable{
		totalMapEntries: binary.LittleEndian.Uint32(b[0:4]),
		firstMapEntry:   binary.LittleEndian.Uint32(b[4:8]),
		publishDate:     int32(binary.LittleEndian.Uint32(b[8:12])),
	}
}

func writeMainTable(t mainTable) []byte {
	b := make([]byte, mainTableSize)
	binary.LittleEndian.PutUint32(b[0:4], t.totalMapEntries)
	binary.LittleEndian.PutUint32(b[4:8], t.firstMapEntry)
	binary.LittleEndian.PutUint32(b[8:12], uint32(t.publishDate))
	return b
}

func readMapEntry(b []byte) mapEntryRecord {
	var entry mapEntryRecord
	copy(entry.name[:], b[0:MaxMapNameDiskLength])
	entry.totalRecords = binary.LittleEndian.Uint32(b[8:12])
	entry.firstRecord = binary.LittleEndian.Uint32(b[12:16])
	return entry
}

func writeMapEntry(name string, totalRecords, firstRecord uint32) []byte {
	b := make([]byte, mapEntrySize)
	copy(b[0:MaxMapNameDiskLength], []byte(name))
	binary.LittleEndian.PutUint32(b[8:12], totalRecords)
	binary.LittleEndian.PutUint32(b[12:16], firstRecord)
	return b
}

func trimMapName(name [MaxMapNameDiskLength]byte) string {
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	return string(name[:n])
}

// Save writes db to path in the versioned lukd layout: a magic+version
// preamble followed by the original two-pass MemFile layout (reserve the
// main table offset, append records per map, append the map entry
// directory, then backfill the offset and append the main table itself).
func Save(path string, db *Database) error {
	log.Infof("luk: saving database to path: %s", path)

	out := bytebuffer.New()
	out.Add(make([]byte, mainTableOffsetSize)) // reserved, backfilled below

	entries := bytebuffer.New()
	totalMapEntries := 0

	for _, entry := range db.Entries() {
		firstRecordPosition := out.Position()
		recordsExported := 0

		for _, r := range entry.Records() {
			header := make([]byte, recordHeaderSize)
			binary.LittleEndian.PutUint32(header[0:4], uint32(len(r.Key)))
			binary.LittleEndian.PutUint32(header[4:8], uint32(len(r.Value)))
			out.Add(header)
			out.Add([]byte(r.Key))
			out.Add([]byte(r.Value))
			recordsExported++
		}

		if recordsExported > 0 {
			entries.Add(writeMapEntry(truncateMapName(entry.Name), uint32(recordsExported), uint32(firstRecordPosition)))
			totalMapEntries++
		}
	}

	firstMapEntry := out.Position()
	out.AddBuffer(entries)

	mainTableOffset := out.Position()
	out.Add(writeMainTable(mainTable{
		totalMapEntries: uint32(totalMapEntries),
		firstMapEntry:   uint32(firstMapEntry),
		publishDate:     int32(time.Now().Unix()),
	}))

	payload := out.Bytes()
	binary.LittleEndian.PutUint32(payload[:mainTableOffsetSize], uint32(mainTableOffset))

	final := bytebuffer.New()
	final.Add(magic[:])
	versionBytes := make([]byte, 4)
	binary.LittleEndian.PutUint32(versionBytes, currentVersion)
	final.Add(versionBytes)
	final.Add(payload)

	if err := final.Save(path); err != nil {
		log.Warnf("luk: could not write to file at path: %s", path)
		return err
	}

	db.ResetDirtyCounter()
	return nil
}

func truncateMapName(name string) string {
	if len(name) > MaxMapNameDiskLength {
		return name[:MaxMapNameDiskLength]
	}
	return name
}

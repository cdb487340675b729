package database

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luk.dat")

	db := New()
	db.ChangeMap("E1M1")
	db.Store("foo", "bar")
	db.Store("baz", "qux")
	db.ChangeMap("E1M2")
	db.Store("hello", "world")

	if err := Save(path, db); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}
	if db.IsSaveNeeded() {
		t.Error("IsSaveNeeded should be false immediately after Save")
	}

	loaded := New()
	if err := Load(path, loaded); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if loaded.TotalMaps() != 2 {
		t.Fatalf("TotalMaps() = %d, want 2", loaded.TotalMaps())
	}
	if loaded.TotalRecords() != 3 {
		t.Fatalf("TotalRecords() = %d, want 3", loaded.TotalRecords())
	}

	loaded.ChangeMap("e1m1")
	if got, ok := loaded.Retrieve("foo"); !ok || got != "bar" {
		t.Errorf("Retrieve(foo) after load = (%q, %v), want (bar, true)", got, ok)
	}
	if got, ok := loaded.Retrieve("baz"); !ok || got != "qux" {
		t.Errorf("Retrieve(baz) after load = (%q, %v), want (qux, true)", got, ok)
	}

	loaded.ChangeMap("e1m2")
	if got, ok := loaded.Retrieve("hello"); !ok || got != "world" {
		t.Errorf("Retrieve(hello) after load = (%q, %v), want (world, true)", got, ok)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	db := New()
	err := Load(filepath.Join(t.TempDir(), "does-not-exist.dat"), db)
	if err != nil {
		t.Fatalf("Load on a missing file returned error: %v", err)
	}
	if db.TotalMaps() != 0 {
		t.Errorf("TotalMaps() = %d, want 0", db.TotalMaps())
	}
}

func TestSaveSkipsEmptyMaps(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luk.dat")

	db := New()
	db.ChangeMap("empty_map")
	db.ChangeMap("e1m1")
	db.Store("foo", "bar")

	if err := Save(path, db); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded := New()
	if err := Load(path, loaded); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if loaded.TotalMaps() != 1 {
		t.Errorf("TotalMaps() = %d, want 1 (empty map should not be exported)", loaded.TotalMaps())
	}
}

// TestLoadDiscardsPartialImportOnFailure builds a database file where the
// first record imports cleanly (triggering a db.Store before the failure)
// and the second record is malformed. Load must report the error without
// leaving the partially-imported record or a dirty counter behind, or a
// later save could overwrite the real on-disk file with corrupt data.
func TestLoadDiscardsPartialImportOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luk.dat")

	data := make([]byte, 46)
	// mainTableOffset
	putUint32(data[0:4], 34)
	// record 1 header + "foo"/"bar": valid, imported before the failure
	putUint32(data[4:8], 3)
	putUint32(data[8:12], 3)
	copy(data[12:15], "foo")
	copy(data[15:18], "bar")
	// map entry directory: claims 2 records though only 1 is well-formed
	copy(data[18:26], "E1M1\x00\x00\x00\x00")
	putUint32(data[26:30], 2)
	putUint32(data[30:34], 4)
	// main table
	putUint32(data[34:38], 1)  // totalMapEntries
	putUint32(data[38:42], 18) // firstMapEntry
	putUint32(data[42:46], 0)  // publishDate

	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing test database file: %v", err)
	}

	db := New()
	if err := Load(path, db); err == nil {
		t.Fatal("Load should have failed on the malformed second record")
	}

	if db.TotalMaps() != 0 {
		t.Errorf("TotalMaps() after failed import = %d, want 0", db.TotalMaps())
	}
	if db.TotalRecords() != 0 {
		t.Errorf("TotalRecords() after failed import = %d, want 0", db.TotalRecords())
	}
	if db.IsSaveNeeded() {
		t.Error("IsSaveNeeded() should be false after a failed import, or a later save could clobber the file")
	}
}

func putUint32(b []byte, v uint32) {
	binary.LittleEndian.PutUint32(b, v)
}

func TestSaveCreatesBackupOnLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "luk.dat")

	db := New()
	db.ChangeMap("e1m1")
	db.Store("foo", "bar")
	if err := Save(path, db); err != nil {
		t.Fatalf("Save returned error: %v", err)
	}

	loaded := New()
	if err := Load(path, loaded); err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	backup, err := os.ReadFile(path + BackupExtension)
	if err != nil {
		t.Fatalf("reading backup file: %v", err)
	}
	if len(backup) == 0 {
		t.Error("backup file should not be empty")
	}
}

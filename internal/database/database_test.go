package database

import (
	"strconv"
	"testing"
)

func TestChangeMapCreatesAndSwitches(t *testing.T) {
	db := New()

	if changed := db.ChangeMap("E1M1"); !changed {
		t.Fatal("ChangeMap to a new map should report a change")
	}
	if db.CurrentMapName() != "e1m1" {
		t.Errorf("CurrentMapName() = %q, want %q", db.CurrentMapName(), "e1m1")
	}
	if db.TotalMaps() != 1 {
		t.Errorf("TotalMaps() = %d, want 1", db.TotalMaps())
	}

	if changed := db.ChangeMap("e1m1"); changed {
		t.Error("ChangeMap to the already-current map should be a no-op")
	}

	db.ChangeMap("E1M2")
	if db.CurrentMapName() != "e1m2" {
		t.Errorf("CurrentMapName() = %q, want %q", db.CurrentMapName(), "e1m2")
	}
	if db.TotalMaps() != 2 {
		t.Errorf("TotalMaps() = %d, want 2", db.TotalMaps())
	}
}

func TestStoreRequiresCurrentMap(t *testing.T) {
	db := New()
	db.Store("foo", "bar")
	if _, ok := db.Retrieve("foo"); ok {
		t.Error("Store should be a no-op with no current map selected")
	}
	if db.IsSaveNeeded() {
		t.Error("IsSaveNeeded should be false after a no-op Store")
	}
}

func TestStoreAndRetrieve(t *testing.T) {
	db := New()
	db.ChangeMap("E1M1")

	db.Store("foo", "bar")
	if !db.IsSaveNeeded() {
		t.Error("IsSaveNeeded should be true after a Store")
	}
	if got, ok := db.Retrieve("foo"); !ok || got != "bar" {
		t.Errorf("Retrieve(foo) = (%q, %v), want (bar, true)", got, ok)
	}
	if db.TotalRecords() != 1 {
		t.Errorf("TotalRecords() = %d, want 1", db.TotalRecords())
	}
}

func TestStoreOverwriteIsLastWriteWinsAndNotDoubleCounted(t *testing.T) {
	db := New()
	db.ChangeMap("E1M1")

	db.Store("foo", "bar")
	db.Store("foo", "baz")

	if got, _ := db.Retrieve("foo"); got != "baz" {
		t.Errorf("Retrieve(foo) = %q, want %q", got, "baz")
	}
	if db.TotalRecords() != 1 {
		t.Errorf("TotalRecords() = %d, want 1 (overwrite should not add a record)", db.TotalRecords())
	}
}

func TestStorePerMapIsolation(t *testing.T) {
	db := New()
	db.ChangeMap("E1M1")
	db.Store("foo", "from map 1")

	db.ChangeMap("E1M2")
	if _, ok := db.Retrieve("foo"); ok {
		t.Error("a key stored in one map should not be visible from another")
	}
	db.Store("foo", "from map 2")

	db.ChangeMap("E1M1")
	if got, _ := db.Retrieve("foo"); got != "from map 1" {
		t.Errorf("Retrieve(foo) after switching back = %q, want %q", got, "from map 1")
	}
}

func TestStoreEnforcesMaxRecords(t *testing.T) {
	db := New()
	db.ChangeMap("E1M1")

	for i := 0; i < MaxRecords; i++ {
		db.Store(recordKey(i), "v")
	}
	if db.TotalRecords() != MaxRecords {
		t.Fatalf("TotalRecords() = %d, want %d", db.TotalRecords(), MaxRecords)
	}

	db.Store("onemore", "v")
	if db.TotalRecords() != MaxRecords {
		t.Errorf("TotalRecords() after exceeding the cap = %d, want %d", db.TotalRecords(), MaxRecords)
	}
	if _, ok := db.Retrieve("onemore"); ok {
		t.Error("a record added past the cap should not be stored")
	}
}

func recordKey(i int) string {
	return "k" + strconv.Itoa(i)
}

func TestDelete(t *testing.T) {
	db := New()
	db.ChangeMap("E1M1")
	db.Store("foo", "bar")

	if !db.Delete("e1m1") {
		t.Fatal("Delete should succeed for an existing map")
	}
	if db.TotalMaps() != 0 {
		t.Errorf("TotalMaps() after Delete = %d, want 0", db.TotalMaps())
	}
	if db.TotalRecords() != 0 {
		t.Errorf("TotalRecords() after Delete = %d, want 0", db.TotalRecords())
	}
	if db.CurrentMapName() != "" {
		t.Errorf("CurrentMapName() after deleting the current map = %q, want empty", db.CurrentMapName())
	}

	if db.Delete("does-not-exist") {
		t.Error("Delete should fail for a map that does not exist")
	}
}

func TestResetDirtyCounterAndShutdown(t *testing.T) {
	db := New()
	db.ChangeMap("E1M1")
	db.Store("foo", "bar")

	db.ResetDirtyCounter()
	if db.IsSaveNeeded() {
		t.Error("IsSaveNeeded should be false after ResetDirtyCounter")
	}

	db.Shutdown()
	if db.TotalMaps() != 0 || db.TotalRecords() != 0 {
		t.Errorf("Shutdown should clear all maps and records, got maps=%d records=%d", db.TotalMaps(), db.TotalRecords())
	}
	if db.CurrentMapName() != "" {
		t.Error("Shutdown should clear the current map")
	}
}

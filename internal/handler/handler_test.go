package handler

import (
	"strconv"
	"testing"
	"time"

	"lukagent/internal/reply"
)

type fakeDB struct {
	values  map[string]string
	printed string
}

func newFakeDB() *fakeDB {
	return &fakeDB{values: map[string]string{}}
}

func (f *fakeDB) Store(key, value string) { f.values[key] = value }
func (f *fakeDB) Retrieve(key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}
func (f *fakeDB) Print(selectedMap string) { f.printed = selectedMap }

func TestStoreAndRetrieve(t *testing.T) {
	db := newFakeDB()
	r := &reply.Reply{}
	set := NewSet(db)
	table := set.Table(r)

	cmd, h, ok := table.Parse("STORE foo bar")
	if !ok {
		t.Fatalf("Parse rejected STORE")
	}
	h(nil, cmd)
	if db.values["foo"] != "bar" {
		t.Fatalf("db.values[foo] = %q, want %q", db.values["foo"], "bar")
	}

	r.Reset()
	cmd, h, ok = table.Parse("RETRIEVE foo")
	if !ok {
		t.Fatalf("Parse rejected RETRIEVE")
	}
	h(nil, cmd)
	if r.Data != "bar" {
		t.Errorf("r.Data = %q, want %q", r.Data, "bar")
	}
	if r.Result != reply.ResultOK {
		t.Errorf("r.Result = %v, want ResultOK", r.Result)
	}
}

func TestStoreRejectsKeyNotStartingWithLetter(t *testing.T) {
	db := newFakeDB()
	r := &reply.Reply{}
	table := NewSet(db).Table(r)

	cmd, h, ok := table.Parse("STORE 1bad value")
	if !ok {
		t.Fatalf("Parse rejected STORE")
	}
	h(nil, cmd)
	if _, exists := db.values["1bad"]; exists {
		t.Error("STORE accepted a key not beginning with a letter")
	}
}

func TestRetrieveMissingKey(t *testing.T) {
	db := newFakeDB()
	r := &reply.Reply{}
	table := NewSet(db).Table(r)

	cmd, h, ok := table.Parse("RETRIEVE missing")
	if !ok {
		t.Fatalf("Parse rejected RETRIEVE")
	}
	h(nil, cmd)
	if r.Result != reply.ResultFail {
		t.Errorf("r.Result = %v, want ResultFail", r.Result)
	}
	if r.Data != "0" {
		t.Errorf("r.Data = %q, want %q", r.Data, "0")
	}
}

func TestStoreDateAndRetrieveDate(t *testing.T) {
	db := newFakeDB()
	r := &reply.Reply{}
	table := NewSet(db).Table(r)

	cmd, h, ok := table.Parse("STORE_DATE today")
	if !ok {
		t.Fatalf("Parse rejected STORE_DATE")
	}
	h(nil, cmd)

	stored, ok := db.values["today"]
	if !ok {
		t.Fatalf("STORE_DATE did not store a value")
	}
	if _, err := strconv.ParseInt(stored, 10, 64); err != nil {
		t.Fatalf("STORE_DATE stored a non-numeric value: %q", stored)
	}

	cmd, h, ok = table.Parse("RETRIEVE_DATE today")
	if !ok {
		t.Fatalf("Parse rejected RETRIEVE_DATE")
	}
	h(nil, cmd)

	now := time.Now()
	want := now.Year()*10000 + int(now.Month())*100 + now.Day()
	if r.Data != strconv.Itoa(want) {
		t.Errorf("r.Data = %q, want %q", r.Data, strconv.Itoa(want))
	}
}

func TestRetrieveStringRoundTrip(t *testing.T) {
	db := newFakeDB()
	db.values["msg"] = "abcdefg"
	r := &reply.Reply{}
	table := NewSet(db).Table(r)

	cmd, h, ok := table.Parse("RETRIEVE_STRING_INITIATE msg")
	if !ok {
		t.Fatalf("Parse rejected RETRIEVE_STRING_INITIATE")
	}
	h(nil, cmd)
	if r.Result != reply.ResultOK {
		t.Fatalf("initiate failed: %v", r.Result)
	}
	if r.Data != "3" {
		t.Fatalf("queriesNeeded = %q, want %q (ceil(7/3))", r.Data, "3")
	}

	var segments []string
	for i := 0; i < 3; i++ {
		cmd, h, ok = table.Parse("RETRIEVE_STRING_SEGMENT")
		if !ok {
			t.Fatalf("Parse rejected RETRIEVE_STRING_SEGMENT")
		}
		h(nil, cmd)
		if r.Result != reply.ResultOK {
			t.Fatalf("segment %d failed", i)
		}
		segments = append(segments, r.Data)
	}

	if segments[0] != "197198199" {
		t.Errorf("first segment = %q, want %q (worked example for \"abc\")", segments[0], "197198199")
	}

	cmd, h, ok = table.Parse("RETRIEVE_STRING_SEGMENT")
	if !ok {
		t.Fatalf("Parse rejected RETRIEVE_STRING_SEGMENT")
	}
	h(nil, cmd)
	if r.Result != reply.ResultFail {
		t.Error("expected a segment request after transmission end to fail")
	}
}

func TestPrintDatabase(t *testing.T) {
	db := newFakeDB()
	r := &reply.Reply{}
	table := NewSet(db).Table(r)

	cmd, h, ok := table.Parse("PRINT_DATABASE E1M1")
	if !ok {
		t.Fatalf("Parse rejected PRINT_DATABASE")
	}
	h(nil, cmd)
	if db.printed != "E1M1" {
		t.Errorf("db.printed = %q, want %q", db.printed, "E1M1")
	}
}

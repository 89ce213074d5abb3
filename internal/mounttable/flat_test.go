package mounttable

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempMounts(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadMounts(t *testing.T) {
	path := writeTempMounts(t, "proc /proc proc rw,nosuid 0 0\n"+
		"none /dev/pts devpts rw,relatime 0 0\n")

	records, err := ReadMounts(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].Dir != "/proc" || records[0].Type != "proc" {
		t.Errorf("unexpected first record: %+v", records[0])
	}
	if records[1].Source != "none" || records[1].Dir != "/dev/pts" {
		t.Errorf("unexpected second record: %+v", records[1])
	}
}

func TestReadMountsStopsOnMalformedLine(t *testing.T) {
	path := writeTempMounts(t, "proc /proc proc rw 0 0\ngarbage\n")

	records, err := ReadMounts(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (malformed trailer should stop parsing)", len(records))
	}
}

func TestIndexLastWins(t *testing.T) {
	records := []FlatRecord{
		{Dir: "/a", Source: "first"},
		{Dir: "/a", Source: "second"},
	}
	idx := Index(records, ByDir)
	if idx["/a"].Source != "second" {
		t.Errorf("Index did not keep the last record for a duplicate key: got %q", idx["/a"].Source)
	}
}

func TestAnyOf(t *testing.T) {
	records := []FlatRecord{{Dir: "/a"}, {Dir: "/b"}}
	if !AnyOf(records, func(r FlatRecord) bool { return r.Dir == "/b" }) {
		t.Error("AnyOf should have found /b")
	}
	if AnyOf(records, func(r FlatRecord) bool { return r.Dir == "/c" }) {
		t.Error("AnyOf should not have found /c")
	}
}

func TestSplitFieldsHandlesRunsOfWhitespace(t *testing.T) {
	fields := splitFields("a   b\tc")
	if len(fields) != 3 || fields[0] != "a" || fields[1] != "b" || fields[2] != "c" {
		t.Errorf("splitFields = %v", fields)
	}
}

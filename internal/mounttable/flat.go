// Package mounttable parses the kernel's textual mount tables exposed
// under /proc so the lifecycle stage machine can detect prior mounts
// and sweep dangling child mounts without shelling out to mount(8).
package mounttable

import (
	"bufio"
	"os"
	"strconv"
)

// DefaultMountsPath is the flat mount table read when a caller does
// not supply an explicit path.
const DefaultMountsPath = "/proc/self/mounts"

// FlatRecord is a single line of /proc/self/mounts.
type FlatRecord struct {
	Source  string
	Dir     string
	Type    string
	Options string
	Freq    int
	Pass    int
}

// ReadMounts reads and parses the flat mount table at path. A read or
// scan error on the underlying file is returned; a malformed trailing
// line simply stops parsing and the records collected so far are
// returned without error, matching how the kernel table is normally
// consumed (mtab-style tools never fail loudly on a short last line).
func ReadMounts(path string) ([]FlatRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []FlatRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec, ok := parseFlatLine(scanner.Text())
		if !ok {
			break
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func parseFlatLine(line string) (FlatRecord, bool) {
	fields := splitFields(line)
	if len(fields) < 6 {
		return FlatRecord{}, false
	}
	freq, err := strconv.Atoi(fields[4])
	if err != nil {
		return FlatRecord{}, false
	}
	pass, err := strconv.Atoi(fields[5])
	if err != nil {
		return FlatRecord{}, false
	}
	return FlatRecord{
		Source:  fields[0],
		Dir:     fields[1],
		Type:    fields[2],
		Options: fields[3],
		Freq:    freq,
		Pass:    pass,
	}, true
}

// Index builds a lookup from a caller-supplied key projection. When
// two records produce the same key, the later one (in file order)
// wins, matching the "last wins on duplicate key" contract.
func Index(records []FlatRecord, key func(FlatRecord) string) map[string]FlatRecord {
	idx := make(map[string]FlatRecord, len(records))
	for _, r := range records {
		idx[key(r)] = r
	}
	return idx
}

// AnyOf reports whether any record satisfies pred.
func AnyOf(records []FlatRecord, pred func(FlatRecord) bool) bool {
	for _, r := range records {
		if pred(r) {
			return true
		}
	}
	return false
}

// ByDir is a convenience key projection for Index: the mount directory.
func ByDir(r FlatRecord) string { return r.Dir }

// splitFields splits on runs of whitespace, the same tokenization
// /proc/self/mounts expects (fields never contain literal spaces;
// the kernel escapes them as octal escapes).
func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, c := range line {
		if c == ' ' || c == '\t' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}

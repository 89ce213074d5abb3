// Package ledger implements the cross-process advisory ledger of
// active (original_root, effective_root) pairs: a plain-text "mtab"
// file in the manager's working directory, serialized by a file lock
// so concurrent managers don't race on the same line set.
package ledger

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	log "github.com/sirupsen/logrus"
)

// FileName is the ledger's file name within the manager's working
// directory.
const FileName = "mtab"

// Ledger holds the ledger path and its flock handle, created once
// during acquire (stage NONE -> MKTEMP). The handle's file descriptor
// is opened when Append/Remove take the lock and closed again when
// they release it; no descriptor stays open between those calls.
type Ledger struct {
	path string
	lock *flock.Flock
}

// Open creates the ledger file under dir if it is absent and prepares
// the flock handle for it. It neither keeps a descriptor open nor
// acquires the lock; the lock is held only around each
// read-modify-write via Append/Remove.
func Open(dir string) (*Ledger, error) {
	path := filepath.Join(dir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0664)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	f.Close()

	return &Ledger{
		path: path,
		lock: flock.NewFlock(path),
	}, nil
}

// Append records (originalRoot, effectiveRoot) under the exclusive
// lock.
func (l *Ledger) Append(originalRoot, effectiveRoot string) error {
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer l.lock.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0664)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s %s\n", originalRoot, effectiveRoot); err != nil {
		return fmt.Errorf("append ledger line: %w", err)
	}
	return nil
}

// Remove drops exactly one line equal to (originalRoot, effectiveRoot)
// under the exclusive lock, rewriting the file in place. Lines
// belonging to other tenants are preserved verbatim and in order.
func (l *Ledger) Remove(originalRoot, effectiveRoot string) error {
	if err := l.lock.Lock(); err != nil {
		return fmt.Errorf("lock ledger: %w", err)
	}
	defer l.lock.Unlock()

	lines, err := l.readLines()
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	target := originalRoot + " " + effectiveRoot
	out := lines[:0]
	removed := false
	for _, line := range lines {
		if !removed && line == target {
			removed = true
			continue
		}
		out = append(out, line)
	}
	if !removed {
		log.Warnf("ledger: no matching entry for %s %s", originalRoot, effectiveRoot)
	}

	return l.writeLines(out)
}

func (l *Ledger) readLines() ([]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

func (l *Ledger) writeLines(lines []string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0664)
	if err != nil {
		return fmt.Errorf("truncate ledger: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return fmt.Errorf("write ledger line: %w", err)
		}
	}
	return w.Flush()
}

// Close releases the flock handle. The lock itself is only ever held
// transiently by Append/Remove, so outside those calls there is no
// open descriptor for Close to release.
func (l *Ledger) Close() error {
	return l.lock.Close()
}

// Package security holds the pre-flight checks run before any
// lifecycle work begins.
package security

import (
	"fmt"
	"os"
	"syscall"
)

// CheckConfigFile refuses to proceed unless path is a regular file
// owned by root, not group-writable unless its group is also root,
// and never world-writable.
func CheckConfigFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("%s: could not read owner/group", path)
	}
	if stat.Uid != 0 {
		return fmt.Errorf("%s is not owned by root", path)
	}

	mode := info.Mode()
	if stat.Gid != 0 && mode&0020 != 0 {
		return fmt.Errorf("%s has insecure group-write permissions", path)
	}
	if mode&0002 != 0 {
		return fmt.Errorf("%s has insecure other-write permissions", path)
	}
	return nil
}

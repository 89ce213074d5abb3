package lifecycle

import "github.com/GothAck/chroot-venv/internal/ledger"

// State holds everything acquired so far for one chroot environment.
// The three mount stacks are the unique source of truth for what Stop
// must release; they are appended only as each mount actually
// succeeds.
type State struct {
	// EffectiveRoot is the path actually used as the overlay mount
	// target: equal to OriginalRoot unless Mktemp redirected it.
	EffectiveRoot string
	// OriginalRoot is the build-root path the caller named.
	OriginalRoot string

	// MountedSystemFS holds /proc, /sys, /dev, /dev/pts destinations in
	// most-recently-mounted-first order (new entries are prepended),
	// so a forward walk during release already reverses acquisition.
	MountedSystemFS []string
	// MountedBinds and MountedTmpfs hold their destinations in
	// acquisition order; unlike the nested system filesystems, these
	// are independent leaf mounts and release walks them forward.
	MountedBinds []string
	MountedTmpfs []string

	// KeepFD is the set of file descriptor numbers to preserve across
	// exec, from the CLI's repeatable --keepfd flag.
	KeepFD map[int]bool

	Ledger *ledger.Ledger

	ChildPID   int
	ExitStatus int
}

func (s *State) pushSystemFS(dst string) {
	s.MountedSystemFS = append([]string{dst}, s.MountedSystemFS...)
}

func (s *State) pushBind(dst string) {
	s.MountedBinds = append(s.MountedBinds, dst)
}

func (s *State) pushTmpfs(dst string) {
	s.MountedTmpfs = append(s.MountedTmpfs, dst)
}

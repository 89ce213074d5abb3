package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/GothAck/chroot-venv/internal/buildroot"
	"github.com/GothAck/chroot-venv/internal/ledger"
	"github.com/GothAck/chroot-venv/internal/mounttable"
)

// systemFSOrder is the fixed acquisition order for step 6; release
// walks State.MountedSystemFS forward, which (since pushSystemFS
// prepends) already visits this in reverse.
var systemFSOrder = []string{"/proc", "/sys", "/dev", "/dev/pts"}

// Start runs the acquire phase described by cfg against originalRoot,
// composing the child argv from args. ledgerDir is the manager's
// working directory, holding the mtab ledger. keepFD is the set of
// file descriptor numbers the caller asked to preserve across exec.
// onSpawn, if non-nil, is called with the child's pid the instant
// fork/exec succeeds - before Start blocks waiting for the child to
// exit - so a caller (the supervisor) can learn the pid in time to
// forward signals to a still-running child.
//
// On any failure the returned Stage names the prefix that must be
// unwound by Stop; the returned *State reflects exactly what was
// acquired up to that point, never more.
func Start(cfg *buildroot.Config, originalRoot string, args []string, keepFD map[int]bool, ledgerDir string, onSpawn func(pid int)) (*State, Stage, error) {
	state := &State{
		OriginalRoot: originalRoot,
		KeepFD:       keepFD,
	}

	// 1. Open ledger lock.
	led, err := ledger.Open(ledgerDir)
	if err != nil {
		return state, StageNone, fmt.Errorf("open ledger: %w", err)
	}
	state.Ledger = led

	// 2. MKTEMP.
	if cfg.Mktemp {
		dir, err := os.MkdirTemp("", "chroot-venv-")
		if err != nil {
			return state, StageNone, fmt.Errorf("mktemp: %w", err)
		}
		state.EffectiveRoot = dir
	} else {
		state.EffectiveRoot = originalRoot
	}

	// 3. Compose argv.
	argv := buildroot.ComposeArgv(cfg, state.EffectiveRoot, args)

	// 4. ROOT.
	if stage, err := acquireRoot(cfg, state); err != nil {
		return state, stage, err
	}

	// 5. Namespace decision.
	if cfg.NewNamespace {
		log.Debugf("unsharing namespaces for %s", state.EffectiveRoot)
		if err := unshareNamespaces(); err != nil {
			return state, StageSystemFS, fmt.Errorf("unshare namespaces: %w", err)
		}
	}

	// 6. SYSTEM_FS.
	if !cfg.NewNamespace && !cfg.Nosystem {
		if stage, err := acquireSystemFS(state); err != nil {
			return state, stage, err
		}
	}

	// 7. BINDS.
	if stage, err := acquireBinds(cfg, state); err != nil {
		return state, stage, err
	}

	// 8. TMPFS.
	if stage, err := acquireTmpfs(cfg, state); err != nil {
		return state, stage, err
	}

	// 9. PROCESSES.
	if len(argv) == 0 {
		return state, StageProcesses, fmt.Errorf("no command resolved to exec")
	}

	// 10. MTAB.
	if err := state.Ledger.Append(state.OriginalRoot, state.EffectiveRoot); err != nil {
		return state, StageTmpfs, fmt.Errorf("append ledger: %w", err)
	}

	// 11. Spawn.
	pid, exitStatus, err := spawn(cfg, state, argv, onSpawn)
	state.ChildPID = pid
	state.ExitStatus = exitStatus
	if err != nil {
		return state, StageMtab, fmt.Errorf("spawn: %w", err)
	}

	return state, StageMtab, nil
}

func acquireRoot(cfg *buildroot.Config, state *State) (Stage, error) {
	mounts, err := mounttable.ReadMounts(mounttable.DefaultMountsPath)
	if err != nil {
		return StageMktemp, fmt.Errorf("read mounts: %w", err)
	}
	if mounttable.AnyOf(mounts, func(r mounttable.FlatRecord) bool { return r.Dir == state.EffectiveRoot }) {
		return StageMktemp, fmt.Errorf("%s is already mounted", state.EffectiveRoot)
	}

	lowerdir := buildroot.ComposeLowerDir(cfg)
	options := "lowerdir=" + lowerdir

	if !cfg.Noupper {
		upper, work := upperWorkPaths(cfg, state.OriginalRoot)
		if err := ensureDir(upper); err != nil {
			return StageMktemp, fmt.Errorf("create upperdir %s: %w", upper, err)
		}
		if err := ensureDir(work); err != nil {
			return StageMktemp, fmt.Errorf("create workdir %s: %w", work, err)
		}
		pair := fmt.Sprintf(",upperdir=%s,workdir=%s", upper, work)
		if mounttable.AnyOf(mounts, func(r mounttable.FlatRecord) bool {
			return containsSubstring(r.Options, pair)
		}) {
			return StageMktemp, fmt.Errorf("upper/work pair %s already referenced by an active mount", pair)
		}
		options += pair
	}
	if cfg.Indexoff {
		options += ",index=off"
	}

	if err := mountOverlay(state.OriginalRoot, state.EffectiveRoot, options); err != nil {
		return StageMktemp, fmt.Errorf("mount overlay: %w", err)
	}
	return StageRoot, nil
}

// upperWorkPaths names the upper and work directories for cfg,
// base-variant-suffixed (originalRoot.upper.<base>) when base is set,
// matching the lower-dir composer's own base-variant convention.
func upperWorkPaths(cfg *buildroot.Config, originalRoot string) (string, string) {
	suffix := ""
	if cfg.Base != nil {
		suffix = "." + *cfg.Base
	}
	return originalRoot + ".upper" + suffix, originalRoot + ".work" + suffix
}

func containsSubstring(haystack, needle string) bool {
	return len(needle) > 0 && indexOf(haystack, needle) >= 0
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}

func acquireSystemFS(state *State) (Stage, error) {
	mounts, err := mounttable.ReadMounts(mounttable.DefaultMountsPath)
	if err != nil {
		return StageSystemFS, fmt.Errorf("read mounts: %w", err)
	}
	byDir := mounttable.Index(mounts, mounttable.ByDir)

	for _, src := range systemFSOrder {
		rec, ok := byDir[src]
		if !ok {
			return StageSystemFS, fmt.Errorf("no host mount found for %s", src)
		}
		dst := buildroot.JoinChrootRelative(state.EffectiveRoot, src)
		if err := ensureDir(dst); err != nil {
			return StageSystemFS, fmt.Errorf("create %s: %w", dst, err)
		}
		if err := mountSame(rec.Source, rec.Type, dst); err != nil {
			return StageSystemFS, fmt.Errorf("mount %s: %w", dst, err)
		}
		state.pushSystemFS(dst)
	}
	return StageBinds, nil
}

func acquireBinds(cfg *buildroot.Config, state *State) (Stage, error) {
	for dst, src := range cfg.Binds {
		target := buildroot.JoinChrootRelative(state.EffectiveRoot, dst)
		if err := ensureDir(target); err != nil {
			return StageBinds, fmt.Errorf("create bind destination %s: %w", target, err)
		}
		if err := mountBind(src, target); err != nil {
			return StageBinds, fmt.Errorf("bind mount %s -> %s: %w", src, target, err)
		}
		state.pushBind(target)
	}
	return StageTmpfs, nil
}

func acquireTmpfs(cfg *buildroot.Config, state *State) (Stage, error) {
	for _, p := range cfg.Tmpfs {
		target := buildroot.JoinChrootRelative(state.EffectiveRoot, p)
		if err := ensureDir(target); err != nil {
			return StageTmpfs, fmt.Errorf("create tmpfs mount point %s: %w", target, err)
		}
		if err := mountTmpfs(target); err != nil {
			return StageTmpfs, fmt.Errorf("mount tmpfs %s: %w", target, err)
		}
		state.pushTmpfs(target)
	}
	return StageProcesses, nil
}

// spawn forks the child via os.StartProcess, which performs chroot,
// credential drop, and chdir in that order inside the freshly forked
// child before the exec - safe because nothing but the runtime's
// fork/exec trampoline runs between clone and execve. The manager's
// own namespace unshare (step 5) already happened in-process, so
// children naturally inherit it; no Cloneflags are needed here.
//
// fd hygiene (P8) is applied beforehand by closeForeignFDs and
// markKeepFDs: every fd the Go runtime itself opened already carries
// FD_CLOEXEC, but a descriptor the manager inherited at its own exec
// (e.g. a caller's `exec 5<>file` before invoking this binary) carries
// no such flag and isn't cleaned up by anything else, so it is closed
// outright. The --keepfd set is the one carve-out: those survive exec
// at their original number, which os.StartProcess's Files/ExtraFiles
// can't preserve (it renumbers from 3), so they're threaded through by
// clearing their close-on-exec flag directly instead.
//
// onSpawn is invoked with the child's pid right after StartProcess
// succeeds, before this function blocks on Wait, so a caller can start
// forwarding signals to the child immediately.
func spawn(cfg *buildroot.Config, state *State, argv []string, onSpawn func(pid int)) (int, int, error) {
	env := buildroot.ComposeEnv(cfg, state.OriginalRoot, buildroot.HostEnviron())

	if err := closeForeignFDs(state.KeepFD); err != nil {
		return 0, 1, fmt.Errorf("fd hygiene: %w", err)
	}
	if err := markKeepFDs(state.KeepFD); err != nil {
		return 0, 1, fmt.Errorf("fd hygiene: %w", err)
	}

	attr := &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(os.Getuid()), Gid: uint32(os.Getgid())},
	}
	dir := cfg.Cwd
	if !cfg.Nochroot {
		attr.Chroot = state.EffectiveRoot
	} else {
		dir = filepath.Join(state.EffectiveRoot, cfg.Cwd)
	}

	proc, err := os.StartProcess(resolveArgv0(argv[0], state.EffectiveRoot, cfg.Nochroot), argv, &os.ProcAttr{
		Dir:   dir,
		Env:   env,
		Files: []*os.File{os.Stdin, os.Stdout, os.Stderr},
		Sys:   attr,
	})
	if err != nil {
		return 0, 1, err
	}
	if onSpawn != nil {
		onSpawn(proc.Pid)
	}

	ps, err := proc.Wait()
	if err != nil {
		return proc.Pid, 1, err
	}
	return proc.Pid, ps.Sys().(syscall.WaitStatus).ExitStatus(), nil
}

// resolveArgv0 is the path handed to os.StartProcess for argv[0]. The
// runtime execs it inside the child after the SysProcAttr chroot has
// taken effect, so under chroot it already names a path inside
// effectiveRoot; with nochroot it is the host path as given. Either
// way argv[0] is passed through unchanged.
func resolveArgv0(argv0, effectiveRoot string, nochroot bool) string {
	return argv0
}

// closeForeignFDs enumerates this process's open descriptors via
// /proc/self/fd, matching the original's fd 3..sysconf(_SC_OPEN_MAX)
// sweep (main.cpp), and closes exactly the ones that would otherwise
// survive exec unwantedly: numbered >=3, not in keepFD, and lacking
// FD_CLOEXEC. Anything the Go runtime itself opened (the ledger's
// flock handle, log files, etc.) already carries FD_CLOEXEC and is
// left alone here - closing it out from under the runtime's own
// bookkeeping would corrupt whatever still holds that *os.File open.
// The only fds actually missing FD_CLOEXEC are ones the manager
// inherited at its own exec (e.g. a caller's `exec 5<>file` before
// invoking this binary), which is exactly the gap P8 requires closed.
func closeForeignFDs(keepFD map[int]bool) error {
	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return fmt.Errorf("enumerate open fds: %w", err)
	}
	for _, entry := range entries {
		fd, err := strconv.Atoi(entry.Name())
		if err != nil || fd < 3 || keepFD[fd] {
			continue
		}
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
		if err != nil {
			continue
		}
		if flags&unix.FD_CLOEXEC != 0 {
			continue
		}
		if err := unix.Close(fd); err != nil && err != unix.EBADF {
			return fmt.Errorf("close fd %d: %w", fd, err)
		}
	}
	return nil
}

// markKeepFDs walks this process's open descriptors and clears
// FD_CLOEXEC on exactly the ones named in keepFD, leaving every other
// descriptor's close-on-exec flag untouched (already set by the Go
// runtime for anything it opened itself).
func markKeepFDs(keepFD map[int]bool) error {
	for fd := range keepFD {
		if fd < 3 {
			continue
		}
		if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0); err != nil {
			return fmt.Errorf("clear close-on-exec on fd %d: %w", fd, err)
		}
		log.Debugf("preserving fd %d across exec", fd)
	}
	return nil
}

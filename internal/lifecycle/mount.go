package lifecycle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// namespaceFlags is the fixed set unshared when newnamespace is set:
// filesystem info, cgroup, IPC, network, mount, PID, UTS, and SysV
// semaphores. The user namespace is deliberately excluded.
const namespaceFlags = unix.CLONE_FS |
	unix.CLONE_NEWCGROUP |
	unix.CLONE_NEWIPC |
	unix.CLONE_NEWNET |
	unix.CLONE_NEWNS |
	unix.CLONE_NEWPID |
	unix.CLONE_NEWUTS |
	unix.CLONE_SYSVSEM

func unshareNamespaces() error {
	return unix.Unshare(namespaceFlags)
}

func mountOverlay(source, target, options string) error {
	return unix.Mount(source, target, "overlay", 0, options)
}

func mountSame(source, fstype, target string) error {
	return unix.Mount(source, target, fstype, 0, "")
}

func mountBind(source, target string) error {
	return unix.Mount(source, target, "", unix.MS_BIND, "")
}

func mountTmpfs(target string) error {
	return unix.Mount("tmpfs", target, "tmpfs", 0, "")
}

// unmount performs a plain unmount with no flags (no MNT_DETACH, so
// nothing is detached lazily); an error such as EBUSY is returned,
// wrapped with the target, so the caller can report it and leave the
// stack entry in place for retry.
func unmount(target string) error {
	if err := unix.Unmount(target, 0); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	return os.MkdirAll(path, 0755)
}

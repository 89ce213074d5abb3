package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/GothAck/chroot-venv/internal/buildroot"
	"github.com/GothAck/chroot-venv/internal/mounttable"
)

// Stop walks release backward from stage, falling through toward
// StageNone. It returns the stage still owing work: StageNone on full
// success, or the stage whose unmount/removal just failed so a caller
// can retry Stop from exactly that point.
func Stop(cfg *buildroot.Config, state *State, stage Stage) (Stage, error) {
	if stage >= StageMtab {
		if err := releaseMtab(state); err != nil {
			return StageMtab, err
		}
		stage = StageProcesses
	}
	if stage >= StageProcesses {
		if err := releaseProcesses(state); err != nil {
			return StageProcesses, err
		}
		stage = StageTmpfs
	}
	if stage >= StageTmpfs {
		if err := releaseTmpfs(state); err != nil {
			return StageTmpfs, err
		}
		stage = StageBinds
	}
	if stage >= StageBinds {
		if err := releaseBinds(state); err != nil {
			return StageBinds, err
		}
		stage = StageSystemFS
	}
	if stage >= StageSystemFS {
		if !cfg.Nosystem {
			if err := releaseSystemFS(state); err != nil {
				return StageSystemFS, err
			}
		}
		stage = StageRoot
	}
	if stage >= StageRoot {
		if err := releaseRoot(state); err != nil {
			return StageRoot, err
		}
		stage = StageMktemp
	}
	if stage >= StageMktemp {
		if cfg.Mktemp {
			if err := os.RemoveAll(state.EffectiveRoot); err != nil {
				return StageMktemp, fmt.Errorf("remove temp root %s: %w", state.EffectiveRoot, err)
			}
		}
		stage = StageNone
	}
	return StageNone, nil
}

func releaseMtab(state *State) error {
	if state.Ledger == nil {
		return nil
	}
	if err := state.Ledger.Remove(state.OriginalRoot, state.EffectiveRoot); err != nil {
		return fmt.Errorf("ledger remove: %w", err)
	}
	return nil
}

// releaseProcesses terminates any process whose /proc/<pid>/root still
// points at the effective root. A kill failure aborts the sweep and is
// reported so the stage can be retried, rather than silently
// continuing past a process that refused to die.
func releaseProcesses(state *State) error {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return fmt.Errorf("read /proc: %w", err)
	}

	sentAny := false
	for _, entry := range entries {
		name := entry.Name()
		if name == "self" || name == "thread-self" {
			continue
		}
		pid, err := strconv.Atoi(name)
		if err != nil {
			continue
		}
		root, err := os.Readlink(filepath.Join("/proc", name, "root"))
		if err != nil || root != state.EffectiveRoot {
			continue
		}
		log.Warnf("release: killing lingering process %d", pid)
		sentAny = true
		if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
			return fmt.Errorf("kill pid %d: %w", pid, err)
		}
	}
	if sentAny {
		time.Sleep(time.Second)
	}
	return nil
}

func releaseTmpfs(state *State) error {
	for len(state.MountedTmpfs) > 0 {
		target := state.MountedTmpfs[0]
		if err := unmount(target); err != nil {
			return err
		}
		state.MountedTmpfs = state.MountedTmpfs[1:]
	}
	return nil
}

func releaseBinds(state *State) error {
	for len(state.MountedBinds) > 0 {
		target := state.MountedBinds[0]
		if err := unmount(target); err != nil {
			return err
		}
		state.MountedBinds = state.MountedBinds[1:]
	}
	return nil
}

func releaseSystemFS(state *State) error {
	for len(state.MountedSystemFS) > 0 {
		target := state.MountedSystemFS[0]
		if err := unmount(target); err != nil {
			return err
		}
		state.MountedSystemFS = state.MountedSystemFS[1:]
	}
	return nil
}

// releaseRoot sweeps any dangling descendant mounts left inside the
// effective root by a child process before unmounting the overlay
// itself, in reverse descendant order so nested mounts clear before
// their parents.
func releaseRoot(state *State) error {
	tree, err := mounttable.ReadMountInfo(mounttable.DefaultMountInfoPath)
	if err != nil {
		return fmt.Errorf("read mountinfo: %w", err)
	}
	if tree.Root != nil {
		if node := tree.Root.FindMountPoint(state.EffectiveRoot); node != nil {
			descendants := node.RecursiveChildren()
			for i := len(descendants) - 1; i >= 0; i-- {
				if err := unmount(descendants[i].MountPoint); err != nil {
					return fmt.Errorf("unmount dangling mount %s: %w", descendants[i].MountPoint, err)
				}
			}
		}
	}
	if err := unmount(state.EffectiveRoot); err != nil {
		return fmt.Errorf("unmount overlay %s: %w", state.EffectiveRoot, err)
	}
	return nil
}

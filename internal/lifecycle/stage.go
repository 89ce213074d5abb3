// Package lifecycle implements the acquire (Start) / release (Stop)
// staged protocol over the kernel resources a chroot virtual
// environment needs: the ledger lock, an optional temp directory, the
// overlay mount, new namespaces, the system pseudo-filesystems, bind
// mounts, tmpfs mounts, and finally the forked child process.
//
// Each stage can fail; a failure during Start returns the stage that
// must be unwound. Stop walks back from whichever stage it is told to
// start at, falling through toward NONE, and can itself fail partway
// - the returned stage is then the one still owing work, so a caller
// can retry Stop from exactly that point.
package lifecycle

// Stage is an ordinal progress marker through the acquire phase. Each
// value names the latest action that must be reversed if cleanup
// begins from that stage.
type Stage int

const (
	StageNone Stage = iota
	StageMktemp
	StageRoot
	StageSystemFS
	StageBinds
	StageTmpfs
	StageProcesses
	StageMtab
)

func (s Stage) String() string {
	switch s {
	case StageNone:
		return "none"
	case StageMktemp:
		return "mktemp"
	case StageRoot:
		return "root"
	case StageSystemFS:
		return "system_fs"
	case StageBinds:
		return "binds"
	case StageTmpfs:
		return "tmpfs"
	case StageProcesses:
		return "processes"
	case StageMtab:
		return "mtab"
	default:
		return "unknown"
	}
}

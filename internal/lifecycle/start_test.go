package lifecycle

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/GothAck/chroot-venv/internal/buildroot"
)

func TestUpperWorkPathsWithoutBase(t *testing.T) {
	upper, work := upperWorkPaths(&buildroot.Config{}, "/srv/root")
	if upper != "/srv/root.upper" || work != "/srv/root.work" {
		t.Errorf("got (%q, %q), want (/srv/root.upper, /srv/root.work)", upper, work)
	}
}

func TestUpperWorkPathsWithBaseSuffix(t *testing.T) {
	base := "variant"
	upper, work := upperWorkPaths(&buildroot.Config{Base: &base}, "/srv/root")
	if upper != "/srv/root.upper.variant" || work != "/srv/root.work.variant" {
		t.Errorf("got (%q, %q), want base-suffixed paths", upper, work)
	}
}

func TestContainsSubstring(t *testing.T) {
	opts := "lowerdir=/a:/b,upperdir=/u,workdir=/w"
	if !containsSubstring(opts, ",upperdir=/u,workdir=/w") {
		t.Error("expected to find the upper/work pair substring")
	}
	if containsSubstring(opts, ",upperdir=/other") {
		t.Error("did not expect to find an absent substring")
	}
	if containsSubstring(opts, "") {
		t.Error("empty needle should never match")
	}
}

func TestResolveArgv0(t *testing.T) {
	if got := resolveArgv0("/bin/sh", "/root/eff", true); got != "/bin/sh" {
		t.Errorf("nochroot: got %q, want /bin/sh unchanged", got)
	}
	if got := resolveArgv0("/bin/sh", "/root/eff", false); got != "/bin/sh" {
		t.Errorf("chroot: got %q, want /bin/sh unchanged (exec runs after chroot)", got)
	}
}

func TestMarkKeepFDsIgnoresStandardStreams(t *testing.T) {
	// fds 0-2 are skipped outright, so an empty/low-numbered keep set
	// must never attempt an fcntl call.
	if err := markKeepFDs(map[int]bool{0: true, 1: true, 2: true}); err != nil {
		t.Errorf("markKeepFDs with only standard streams should no-op, got error: %v", err)
	}
}

// TestCloseForeignFDsClosesNonCloexecUnkeptFDs simulates the gap P8
// requires closed: a descriptor without FD_CLOEXEC that the manager
// would have inherited at its own exec. It must be closed unless
// named in keepFD - and a Go-runtime-managed fd (FD_CLOEXEC already
// set, e.g. the ledger's flock handle) must survive untouched even
// though it's also absent from keepFD, since exec alone already
// reclaims it.
func TestCloseForeignFDsClosesNonCloexecUnkeptFDs(t *testing.T) {
	foreign, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	foreignFD := int(foreign.Fd())
	if _, err := unix.FcntlInt(uintptr(foreignFD), unix.F_SETFD, 0); err != nil {
		t.Fatal(err)
	}

	kept, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer kept.Close()
	keptFD := int(kept.Fd())
	if _, err := unix.FcntlInt(uintptr(keptFD), unix.F_SETFD, 0); err != nil {
		t.Fatal(err)
	}

	managed, err := os.Open(os.DevNull)
	if err != nil {
		t.Fatal(err)
	}
	defer managed.Close()
	managedFD := int(managed.Fd())

	if err := closeForeignFDs(map[int]bool{keptFD: true}); err != nil {
		t.Fatal(err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(foreignFD, &stat); err == nil {
		t.Errorf("non-cloexec fd %d not in keepFD should have been closed", foreignFD)
	}
	if err := unix.Fstat(keptFD, &stat); err != nil {
		t.Errorf("fd %d is in keepFD and should have been preserved, fstat failed: %v", keptFD, err)
	}
	if err := unix.Fstat(managedFD, &stat); err != nil {
		t.Errorf("fd %d already carries FD_CLOEXEC and should have been left alone, fstat failed: %v", managedFD, err)
	}
}

package lifecycle

import "testing"

// TestPushSystemFSPrepends verifies system filesystem destinations
// build up most-recently-mounted-first, so a forward walk during
// release already reverses acquisition order (proc before sys,sys
// unmounted before proc).
func TestPushSystemFSPrepends(t *testing.T) {
	s := &State{}
	s.pushSystemFS("/root/proc")
	s.pushSystemFS("/root/sys")
	s.pushSystemFS("/root/dev")

	want := []string{"/root/dev", "/root/sys", "/root/proc"}
	if !equalStringSlices(s.MountedSystemFS, want) {
		t.Errorf("MountedSystemFS = %v, want %v", s.MountedSystemFS, want)
	}
}

func TestPushBindAndTmpfsAppendInAcquisitionOrder(t *testing.T) {
	s := &State{}
	s.pushBind("/root/a")
	s.pushBind("/root/b")
	want := []string{"/root/a", "/root/b"}
	if !equalStringSlices(s.MountedBinds, want) {
		t.Errorf("MountedBinds = %v, want %v", s.MountedBinds, want)
	}

	s.pushTmpfs("/root/tmp1")
	s.pushTmpfs("/root/tmp2")
	wantTmpfs := []string{"/root/tmp1", "/root/tmp2"}
	if !equalStringSlices(s.MountedTmpfs, wantTmpfs) {
		t.Errorf("MountedTmpfs = %v, want %v", s.MountedTmpfs, wantTmpfs)
	}
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package mounttable

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempMountInfo(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mountinfo")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadMountInfoLinksParentChild(t *testing.T) {
	path := writeTempMountInfo(t,
		"18 1 0:3 / / rw,relatime shared:1 - ext4 /dev/sda1 rw\n"+
			"19 18 0:4 / /proc rw,relatime - proc proc rw\n"+
			"20 19 0:5 / /proc/sys rw,relatime master:2 - proc proc rw\n")

	tree, err := ReadMountInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Root == nil {
		t.Fatal("expected a root node")
	}
	if tree.Root.MountID != 18 {
		t.Fatalf("root mount id = %d, want 18", tree.Root.MountID)
	}
	if len(tree.Root.Children) != 1 || tree.Root.Children[0].MountPoint != "/proc" {
		t.Fatalf("unexpected children of root: %+v", tree.Root.Children)
	}
	procSys := tree.Root.Children[0].Children
	if len(procSys) != 1 || procSys[0].MountPoint != "/proc/sys" {
		t.Fatalf("unexpected children of /proc: %+v", procSys)
	}
	if procSys[0].OptionalFields["master"] != "2" {
		t.Errorf("optional field master = %q, want 2", procSys[0].OptionalFields["master"])
	}
	if procSys[0].FSType != "proc" || procSys[0].Source != "proc" {
		t.Errorf("unexpected fstype/source: %+v", procSys[0])
	}
}

func TestFindMountPointAndRecursiveChildren(t *testing.T) {
	path := writeTempMountInfo(t,
		"18 1 0:3 / / rw - ext4 /dev/sda1 rw\n"+
			"19 18 0:4 / /mnt rw - ext4 /dev/sdb1 rw\n"+
			"20 19 0:5 / /mnt/inner rw - tmpfs tmpfs rw\n")

	tree, err := ReadMountInfo(path)
	if err != nil {
		t.Fatal(err)
	}

	found := tree.Root.FindMountPoint("/mnt")
	if found == nil {
		t.Fatal("expected to find /mnt")
	}
	children := found.RecursiveChildren()
	if len(children) != 1 || children[0].MountPoint != "/mnt/inner" {
		t.Fatalf("unexpected recursive children: %+v", children)
	}

	if tree.Root.FindMountPoint("/nope") != nil {
		t.Error("FindMountPoint should return nil for an absent mount point")
	}
}

func TestReadMountInfoNoRoot(t *testing.T) {
	// Every node's parent is present in the table: no unique root.
	path := writeTempMountInfo(t,
		"18 19 0:3 / /a rw - ext4 dev rw\n"+
			"19 18 0:4 / /b rw - ext4 dev rw\n")

	tree, err := ReadMountInfo(path)
	if err != nil {
		t.Fatal(err)
	}
	if tree.Root != nil {
		t.Errorf("expected no root to be identified, got mount id %d", tree.Root.MountID)
	}
}

package mounttable

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DefaultMountInfoPath is the tree mount table read when a caller does
// not supply an explicit path.
const DefaultMountInfoPath = "/proc/self/mountinfo"

// Node is a single mountinfo record, linked into a tree by parent id.
//
// Children are owned by their parent; Parent is a non-owning
// back-reference used only to walk upward, never to keep a node alive.
type Node struct {
	MountID       int
	ParentID      int
	MajorMinor    string
	Root          string
	MountPoint    string
	Options       string
	OptionalFields map[string]string
	FSType        string
	Source        string
	SuperOptions  string

	Parent   *Node
	Children []*Node
}

// Tree is a parsed mountinfo table rooted at the single node whose
// parent id does not appear in the table.
type Tree struct {
	Root *Node
	byID map[int]*Node
}

// ReadMountInfo reads and links the mountinfo table at path.
//
// An I/O error on the file is returned. If no record's parent is
// absent from the table (so no unique root can be identified), Tree.Root
// is nil; callers must check for that before walking.
func ReadMountInfo(path string) (*Tree, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byID := make(map[int]*Node)
	var order []*Node

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		node, ok := parseMountInfoLine(scanner.Text())
		if !ok {
			break
		}
		byID[node.MountID] = node
		order = append(order, node)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	var root *Node
	for _, node := range order {
		parent, ok := byID[node.ParentID]
		if !ok {
			if root != nil {
				log.Warnf("mountinfo: multiple roots found (%d and %d), keeping %d", root.MountID, node.MountID, root.MountID)
				continue
			}
			root = node
			continue
		}
		parent.Children = append(parent.Children, node)
		node.Parent = parent
	}
	if root == nil {
		log.Warnf("mountinfo: no root found in %s", path)
	}

	return &Tree{Root: root, byID: byID}, nil
}

func parseMountInfoLine(line string) (*Node, bool) {
	fields := splitFields(line)
	if len(fields) < 6 {
		return nil, false
	}

	mountID, err := strconv.Atoi(fields[0])
	if err != nil {
		return nil, false
	}
	parentID, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, false
	}

	node := &Node{
		MountID:        mountID,
		ParentID:       parentID,
		MajorMinor:     fields[2],
		Root:           fields[3],
		MountPoint:     fields[4],
		Options:        fields[5],
		OptionalFields: make(map[string]string),
	}

	i := 6
	for ; i < len(fields); i++ {
		if fields[i] == "-" {
			break
		}
		key, val, found := strings.Cut(fields[i], ":")
		if !found {
			val = ""
		}
		node.OptionalFields[key] = val
	}
	// Skip the "-" separator itself.
	i++
	if i+2 >= len(fields) {
		return nil, false
	}
	node.FSType = fields[i]
	node.Source = fields[i+1]
	node.SuperOptions = fields[i+2]

	return node, true
}

// RecursiveChildren returns every descendant of n in pre-order.
func (n *Node) RecursiveChildren() []*Node {
	var out []*Node
	for _, c := range n.Children {
		out = append(out, c)
		out = append(out, c.RecursiveChildren()...)
	}
	return out
}

// FindMountPoint returns the first node (searching this node and its
// descendants) whose mount point equals dir, or nil.
func (n *Node) FindMountPoint(dir string) *Node {
	if n.MountPoint == dir {
		return n
	}
	for _, c := range n.Children {
		if found := c.FindMountPoint(dir); found != nil {
			return found
		}
	}
	return nil
}

// By indexes all descendants of n by a caller-supplied projection.
func (n *Node) By(key func(*Node) string) map[string]*Node {
	idx := make(map[string]*Node)
	for _, c := range n.RecursiveChildren() {
		idx[key(c)] = c
	}
	return idx
}

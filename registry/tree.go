package registry

import (
	"sort"
	"strings"

	"github.com/c360/pathcast/errors"
)

// tree holds registered paths as a prefix tree over path segments. The
// hierarchy invariant: no registered path may be an ancestor or descendant of
// another registered path. Interior nodes exist only while a terminal lives
// below them; removal prunes branches back to the last shared ancestor.
type tree struct {
	root *node
}

type node struct {
	children map[string]*node
	terminal bool
}

func newTree() *tree {
	return &tree{root: &node{children: map[string]*node{}}}
}

func newNode() *node {
	return &node{children: map[string]*node{}}
}

// insert adds a normalized path, enforcing the hierarchy invariant.
func (t *tree) insert(path string) error {
	segments := strings.Split(path, "/")

	cur := t.root
	for _, seg := range segments {
		if cur.terminal {
			// An ancestor of this path is already registered.
			return errors.ErrHierarchyViolation
		}
		next, ok := cur.children[seg]
		if !ok {
			next = newNode()
			cur.children[seg] = next
		}
		cur = next
	}

	if cur.terminal {
		return errors.ErrDuplicatePath
	}
	if len(cur.children) > 0 {
		// A descendant of this path is already registered.
		return errors.ErrHierarchyViolation
	}
	cur.terminal = true
	return nil
}

// contains reports whether the exact path is registered.
func (t *tree) contains(path string) bool {
	cur := t.root
	for _, seg := range strings.Split(path, "/") {
		next, ok := cur.children[seg]
		if !ok {
			return false
		}
		cur = next
	}
	return cur.terminal
}

// remove deletes a registered path and prunes now-empty interior nodes.
func (t *tree) remove(path string) error {
	segments := strings.Split(path, "/")

	// Walk down recording the trail so we can prune upward.
	trail := make([]*node, 0, len(segments)+1)
	cur := t.root
	trail = append(trail, cur)
	for _, seg := range segments {
		next, ok := cur.children[seg]
		if !ok {
			return errors.ErrNotFound
		}
		cur = next
		trail = append(trail, cur)
	}
	if !cur.terminal {
		return errors.ErrNotFound
	}
	cur.terminal = false

	for i := len(segments) - 1; i >= 0; i-- {
		child := trail[i+1]
		if child.terminal || len(child.children) > 0 {
			break
		}
		delete(trail[i].children, segments[i])
	}
	return nil
}

// TreeNode is one node of a registry tree snapshot.
type TreeNode struct {
	Name       string     `json:"name"`
	Registered bool       `json:"registered"`
	Children   []TreeNode `json:"children,omitempty"`
}

// snapshot renders the tree with children in lexical order.
func (t *tree) snapshot() TreeNode {
	return snapshotNode("", t.root)
}

func snapshotNode(name string, n *node) TreeNode {
	out := TreeNode{Name: name, Registered: n.terminal}
	if len(n.children) == 0 {
		return out
	}
	names := make([]string, 0, len(n.children))
	for child := range n.children {
		names = append(names, child)
	}
	sort.Strings(names)
	for _, child := range names {
		out.Children = append(out.Children, snapshotNode(child, n.children[child]))
	}
	return out
}

// Package tree provides the in-memory file tree of a project: identity,
// lookup and structural mutation. It performs no I/O.
package tree

import (
	"errors"
	"strings"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned by callers that look up a node that is not in
// the tree.
var ErrNotFound = errors.New("node not found")

// NewID returns a fresh node id.
var NewID = uuid.NewString

// Tree is the top-level ordered node list of one project. Mutations are
// in place; subtrees that an operation does not touch keep their
// pointers.
type Tree struct {
	Nodes models.Nodes
}

// New wraps a node list.
func New(nodes models.Nodes) *Tree {
	if nodes == nil {
		nodes = models.Nodes{}
	}
	return &Tree{Nodes: nodes}
}

// Visit is called for every node in depth-first pre-order. parent is nil
// for top-level nodes. Returning false stops the walk.
type Visit func(n models.Node, parent *models.Folder, path string) bool

type frame struct {
	node   models.Node
	parent *models.Folder
	prefix string
}

// Walk visits nodes depth-first in sibling order using an explicit stack,
// so arbitrarily deep trees do not grow the call stack.
func Walk(nodes models.Nodes, fn Visit) {
	stack := make([]frame, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: nodes[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		path := JoinPath(f.prefix, f.node.NodeName())
		if !fn(f.node, f.parent, path) {
			return
		}
		switch n := f.node.(type) {
		case *models.File:
		case *models.Folder:
			for i := len(n.Children) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: n.Children[i], parent: n, prefix: path})
			}
		}
	}
}

// JoinPath joins a parent path and a child name with "/".
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// SplitPath returns the non-empty segments of a slash path.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// FindByID finds a node by id (depth-first).
func (t *Tree) FindByID(id string) models.Node {
	var found models.Node
	Walk(t.Nodes, func(n models.Node, _ *models.Folder, _ string) bool {
		if n.NodeID() == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// FindFile is FindByID restricted to files.
func (t *Tree) FindFile(id string) *models.File {
	f, _ := t.FindByID(id).(*models.File)
	return f
}

// FindByPath walks the tree by successive name segments. When siblings
// share a name the first one wins.
func (t *Tree) FindByPath(path string) models.Node {
	segments := SplitPath(path)
	if len(segments) == 0 {
		return nil
	}
	level := t.Nodes
	var current models.Node
	for i, seg := range segments {
		current = nil
		for _, n := range level {
			if n.NodeName() == seg {
				current = n
				break
			}
		}
		if current == nil {
			return nil
		}
		if i == len(segments)-1 {
			break
		}
		folder, ok := current.(*models.Folder)
		if !ok {
			return nil
		}
		level = folder.Children
	}
	return current
}

// FindParentID returns the id of the folder that directly contains
// childID. ok is false when the child is top-level or absent.
func (t *Tree) FindParentID(childID string) (id string, ok bool) {
	Walk(t.Nodes, func(n models.Node, parent *models.Folder, _ string) bool {
		if n.NodeID() != childID {
			return true
		}
		if parent != nil {
			id, ok = parent.ID, true
		}
		return false
	})
	return id, ok
}

// PathOf derives the slash path of a node from its ancestors' names.
func (t *Tree) PathOf(id string) (path string, ok bool) {
	Walk(t.Nodes, func(n models.Node, _ *models.Folder, p string) bool {
		if n.NodeID() == id {
			path, ok = p, true
			return false
		}
		return true
	})
	return path, ok
}

// EmbeddedContent returns the content stored in the tree for a file.
func (t *Tree) EmbeddedContent(id string) (string, bool) {
	f := t.FindFile(id)
	if f == nil {
		return "", false
	}
	return f.Content, true
}

// Insert appends node to the children of parentID, or to the top level
// when parentID is empty. A parent that is missing or not a folder
// degrades to a top-level insert.
func (t *Tree) Insert(parentID string, node models.Node) {
	if parentID != "" {
		if folder, ok := t.FindByID(parentID).(*models.Folder); ok {
			folder.Children = append(folder.Children, node)
			return
		}
	}
	t.Nodes = append(t.Nodes, node)
}

// InsertAfter places node directly after siblingID within the same
// parent. A missing sibling degrades to a top-level append.
func (t *Tree) InsertAfter(siblingID string, node models.Node) {
	parentID, hasParent := t.FindParentID(siblingID)
	if !hasParent {
		if i := indexOf(t.Nodes, siblingID); i >= 0 {
			t.Nodes = insertAt(t.Nodes, i+1, node)
			return
		}
		t.Nodes = append(t.Nodes, node)
		return
	}
	folder := t.FindByID(parentID).(*models.Folder)
	folder.Children = insertAt(folder.Children, indexOf(folder.Children, siblingID)+1, node)
}

// Rename replaces a node's name. It is a no-op, returning false, when the
// trimmed name is empty or the node does not exist.
func (t *Tree) Rename(id, newName string) bool {
	name := strings.TrimSpace(newName)
	if name == "" {
		return false
	}
	switch n := t.FindByID(id).(type) {
	case *models.File:
		n.Name = name
	case *models.Folder:
		n.Name = name
	default:
		return false
	}
	return true
}

// Remove detaches a node and returns its id plus every descendant id.
// It returns nil when the node does not exist.
func (t *Tree) Remove(id string) []string {
	parentID, hasParent := t.FindParentID(id)
	var removed models.Node
	if hasParent {
		folder := t.FindByID(parentID).(*models.Folder)
		folder.Children, removed = cut(folder.Children, id)
	} else {
		t.Nodes, removed = cut(t.Nodes, id)
	}
	if removed == nil {
		return nil
	}
	return CollectIDs(removed)
}

// CollectIDs returns the id of n and of every descendant.
func CollectIDs(n models.Node) []string {
	var ids []string
	Walk(models.Nodes{n}, func(node models.Node, _ *models.Folder, _ string) bool {
		ids = append(ids, node.NodeID())
		return true
	})
	return ids
}

// Count returns the number of nodes in the tree.
func (t *Tree) Count() int {
	count := 0
	Walk(t.Nodes, func(models.Node, *models.Folder, string) bool {
		count++
		return true
	})
	return count
}

// Siblings returns the list that contains id (the top level or the
// parent's children).
func (t *Tree) Siblings(id string) models.Nodes {
	if parentID, ok := t.FindParentID(id); ok {
		return t.FindByID(parentID).(*models.Folder).Children
	}
	return t.Nodes
}

func indexOf(nodes models.Nodes, id string) int {
	for i, n := range nodes {
		if n.NodeID() == id {
			return i
		}
	}
	return -1
}

func insertAt(nodes models.Nodes, i int, node models.Node) models.Nodes {
	if i < 0 || i >= len(nodes) {
		return append(nodes, node)
	}
	out := make(models.Nodes, 0, len(nodes)+1)
	out = append(out, nodes[:i]...)
	out = append(out, node)
	return append(out, nodes[i:]...)
}

func cut(nodes models.Nodes, id string) (models.Nodes, models.Node) {
	i := indexOf(nodes, id)
	if i < 0 {
		return nodes, nil
	}
	removed := nodes[i]
	out := make(models.Nodes, 0, len(nodes)-1)
	out = append(out, nodes[:i]...)
	return append(out, nodes[i+1:]...), removed
}

package tree

import (
	"fmt"
	"strings"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
)

// DeepCopy clones n with a fresh id for the node and every descendant.
// The clone's top-level name gets a " (copy)" marker that does not clash
// with any name in siblings; descendants keep their names. The returned
// map sends every old id to its new id so callers can migrate content.
func DeepCopy(n models.Node, siblings models.Nodes) (models.Node, map[string]string) {
	ids := make(map[string]string)
	clone := cloneNode(n, ids)

	taken := make(map[string]bool, len(siblings))
	for _, s := range siblings {
		taken[s.NodeName()] = true
	}
	_, isFolder := n.(*models.Folder)
	name := CopyName(n.NodeName(), isFolder, 1)
	for i := 2; taken[name]; i++ {
		name = CopyName(n.NodeName(), isFolder, i)
	}
	switch c := clone.(type) {
	case *models.File:
		c.Name = name
	case *models.Folder:
		c.Name = name
	}
	return clone, ids
}

// cloneNode copies a subtree iteratively, mapping each id to a new one.
func cloneNode(root models.Node, ids map[string]string) models.Node {
	type pending struct {
		src models.Node
		dst *models.Folder
	}
	var out models.Node
	stack := []pending{{src: root}}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		newID := NewID()
		ids[p.src.NodeID()] = newID

		var copied models.Node
		switch src := p.src.(type) {
		case *models.File:
			copied = &models.File{ID: newID, Name: src.Name, Content: src.Content}
		case *models.Folder:
			folder := &models.Folder{ID: newID, Name: src.Name, Children: make(models.Nodes, 0, len(src.Children))}
			copied = folder
			// Children are appended as they are popped, so push in reverse.
			for i := len(src.Children) - 1; i >= 0; i-- {
				stack = append(stack, pending{src: src.Children[i], dst: folder})
			}
		}
		if p.dst == nil {
			out = copied
		} else {
			p.dst.Children = append(p.dst.Children, copied)
		}
	}
	return out
}

// CopyName derives the display name of a copy. Files keep their
// extension: "report.txt" becomes "report (copy).txt". Folders and
// files without an extension get the marker at the end. n > 1 yields
// "(copy n)".
func CopyName(name string, isFolder bool, n int) string {
	marker := " (copy)"
	if n > 1 {
		marker = fmt.Sprintf(" (copy %d)", n)
	}
	if isFolder {
		return name + marker
	}
	dot := strings.LastIndex(name, ".")
	if dot <= 0 {
		return name + marker
	}
	return name[:dot] + marker + name[dot:]
}

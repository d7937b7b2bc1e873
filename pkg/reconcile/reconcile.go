// Package reconcile converts between the storage service's two project
// representations and the in-memory tree plus content overlay.
package reconcile

import (
	"sort"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/deniskipeles/swalang-sandbox/pkg/tree"
)

// ContentSource yields the current content of a file id.
type ContentSource interface {
	Get(id string) string
}

// BuildTreeFromFlatList turns split-strategy entries into a tree. Entries
// are sorted by path so parents are attached before their children;
// folders implied by a path but not listed are synthesized. When two
// entries share a path the later one wins. Files get empty placeholder
// content and every node gets a fresh id.
func BuildTreeFromFlatList(entries []models.FlatEntry) models.Nodes {
	sorted := make([]models.FlatEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	root := &models.Folder{Children: models.Nodes{}}
	folders := map[string]*models.Folder{"": root}
	nodes := make(map[string]models.Node)

	for _, e := range sorted {
		segments := tree.SplitPath(e.Path)
		if len(segments) == 0 {
			continue
		}

		parent := root
		prefix := ""
		for _, seg := range segments[:len(segments)-1] {
			prefix = tree.JoinPath(prefix, seg)
			folder, ok := folders[prefix]
			if !ok {
				folder = &models.Folder{ID: tree.NewID(), Name: seg, Children: models.Nodes{}}
				attach(parent, nodes[prefix], folder)
				folders[prefix] = folder
				nodes[prefix] = folder
			}
			parent = folder
		}

		path := tree.JoinPath(prefix, segments[len(segments)-1])
		name := segments[len(segments)-1]
		existing := nodes[path]

		if e.IsFolder {
			if _, ok := existing.(*models.Folder); ok {
				// Already synthesized from a deeper path; keep its children.
				continue
			}
			folder := &models.Folder{ID: tree.NewID(), Name: name, Children: models.Nodes{}}
			attach(parent, existing, folder)
			folders[path] = folder
			nodes[path] = folder
			continue
		}

		file := &models.File{ID: tree.NewID(), Name: name}
		attach(parent, existing, file)
		delete(folders, path)
		nodes[path] = file
	}
	return root.Children
}

// attach adds node to parent, replacing existing in place when a
// duplicate path is seen.
func attach(parent *models.Folder, existing, node models.Node) {
	if existing != nil {
		for i, c := range parent.Children {
			if c == existing {
				parent.Children[i] = node
				return
			}
		}
	}
	parent.Children = append(parent.Children, node)
}

// FlattenForUpload lists every file depth-first with its derived path and
// current content. Folders contribute no entry.
func FlattenForUpload(nodes models.Nodes, src ContentSource) []models.UploadFile {
	var files []models.UploadFile
	tree.Walk(nodes, func(n models.Node, _ *models.Folder, path string) bool {
		switch f := n.(type) {
		case *models.File:
			files = append(files, models.UploadFile{Path: path, Content: contentOf(f, src)})
		case *models.Folder:
		}
		return true
	})
	return files
}

// FlattenEntries lists every node as a split-strategy entry.
func FlattenEntries(nodes models.Nodes) []models.FlatEntry {
	var entries []models.FlatEntry
	tree.Walk(nodes, func(n models.Node, _ *models.Folder, path string) bool {
		switch n.(type) {
		case *models.File:
			entries = append(entries, models.FlatEntry{Path: path})
		case *models.Folder:
			entries = append(entries, models.FlatEntry{Path: path, IsFolder: true})
		}
		return true
	})
	return entries
}

// MergeContentIntoTree returns a copy of the tree whose embedded content
// reflects src, ready to be persisted whole. Ids, names and order are
// unchanged; the input tree is not modified.
func MergeContentIntoTree(nodes models.Nodes, src ContentSource) models.Nodes {
	out := make(models.Nodes, 0, len(nodes))
	type pending struct {
		src models.Node
		dst *models.Folder
	}
	stack := make([]pending, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, pending{src: nodes[i]})
	}
	for len(stack) > 0 {
		p := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		var merged models.Node
		switch n := p.src.(type) {
		case *models.File:
			merged = &models.File{ID: n.ID, Name: n.Name, Content: contentOf(n, src)}
		case *models.Folder:
			folder := &models.Folder{ID: n.ID, Name: n.Name, Children: make(models.Nodes, 0, len(n.Children))}
			merged = folder
			for i := len(n.Children) - 1; i >= 0; i-- {
				stack = append(stack, pending{src: n.Children[i], dst: folder})
			}
		}
		if p.dst == nil {
			out = append(out, merged)
		} else {
			p.dst.Children = append(p.dst.Children, merged)
		}
	}
	return out
}

func contentOf(f *models.File, src ContentSource) string {
	if src == nil {
		return f.Content
	}
	return src.Get(f.ID)
}

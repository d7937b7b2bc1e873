// Package models contains the data types shared by the playground packages.
package models

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the two node variants.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Node is a file or folder in the virtual filesystem. The only
// implementations are *File and *Folder; traversals switch on the
// concrete type.
type Node interface {
	NodeID() string
	NodeName() string
	Kind() Kind
	isNode()
}

// File is a leaf. Content is authoritative when the tree is fully
// materialized and empty when content is loaded lazily.
type File struct {
	ID      string
	Name    string
	Content string
}

// Folder holds an ordered list of children. Order is insertion order.
type Folder struct {
	ID       string
	Name     string
	Children Nodes
}

func (f *File) NodeID() string   { return f.ID }
func (f *File) NodeName() string { return f.Name }
func (f *File) Kind() Kind       { return KindFile }
func (*File) isNode()            {}

func (f *Folder) NodeID() string   { return f.ID }
func (f *Folder) NodeName() string { return f.Name }
func (f *Folder) Kind() Kind       { return KindFolder }
func (*Folder) isNode()            {}

// Nodes is an ordered list of sibling nodes. The top-level list of a
// project stands in for a virtual root.
type Nodes []Node

// wireNode is the JSON shape shared by the storage service and the
// original editor: {id, name, type, content?, children?}.
type wireNode struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     Kind   `json:"type"`
	Content  string `json:"content,omitempty"`
	Children Nodes  `json:"children,omitempty"`
	IsFolder bool   `json:"isFolder,omitempty"`
}

// MarshalJSON encodes a file with its type tag.
func (f *File) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID      string `json:"id"`
		Name    string `json:"name"`
		Type    Kind   `json:"type"`
		Content string `json:"content"`
	}{f.ID, f.Name, KindFile, f.Content})
}

// MarshalJSON encodes a folder with its type tag. Children are always
// emitted, even when empty.
func (f *Folder) MarshalJSON() ([]byte, error) {
	children := f.Children
	if children == nil {
		children = Nodes{}
	}
	return json.Marshal(struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Type     Kind   `json:"type"`
		Children Nodes  `json:"children"`
	}{f.ID, f.Name, KindFolder, children})
}

// UnmarshalJSON decodes a list of tagged nodes.
func (ns *Nodes) UnmarshalJSON(data []byte) error {
	var raw []wireNode
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Nodes, 0, len(raw))
	for i := range raw {
		n, err := raw[i].node()
		if err != nil {
			return err
		}
		out = append(out, n)
	}
	*ns = out
	return nil
}

func (w *wireNode) node() (Node, error) {
	kind := w.Type
	if kind == "" && w.IsFolder {
		kind = KindFolder
	}
	switch kind {
	case KindFile:
		return &File{ID: w.ID, Name: w.Name, Content: w.Content}, nil
	case KindFolder:
		children := w.Children
		if children == nil {
			children = Nodes{}
		}
		return &Folder{ID: w.ID, Name: w.Name, Children: children}, nil
	default:
		return nil, fmt.Errorf("node %q: unknown type %q", w.Name, w.Type)
	}
}

// FlatEntry is one record of the split storage strategy. The storage
// service names the path field "name"; "path" is accepted as well.
type FlatEntry struct {
	Path     string
	IsFolder bool
}

// MarshalJSON encodes the entry the way the storage service does.
func (e FlatEntry) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name     string `json:"name"`
		IsFolder bool   `json:"isFolder"`
	}{e.Path, e.IsFolder})
}

// UnmarshalJSON accepts {name, isFolder} and {path, isFolder}.
func (e *FlatEntry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name     string `json:"name"`
		Path     string `json:"path"`
		IsFolder bool   `json:"isFolder"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	e.Path = raw.Path
	if e.Path == "" {
		e.Path = raw.Name
	}
	e.IsFolder = raw.IsFolder
	return nil
}

// UploadFile is one file ready to be sent to the execution sandbox.
type UploadFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

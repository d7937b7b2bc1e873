package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodesUnmarshal(t *testing.T) {
	data := `[
		{"id":"1","name":"src","type":"folder","children":[
			{"id":"2","name":"main.sw","type":"file","content":"print(1)"}
		]},
		{"id":"3","name":"empty","type":"folder"},
		{"id":"4","name":"README.md","type":"file"}
	]`

	var ns Nodes
	require.NoError(t, json.Unmarshal([]byte(data), &ns))
	require.Len(t, ns, 3)

	src, ok := ns[0].(*Folder)
	require.True(t, ok, "first node should be a folder, got %T", ns[0])
	require.Len(t, src.Children, 1)
	main, ok := src.Children[0].(*File)
	require.True(t, ok)
	assert.Equal(t, "print(1)", main.Content)

	empty := ns[1].(*Folder)
	assert.NotNil(t, empty.Children, "folders decode with a non-nil child list")

	assert.Equal(t, KindFile, ns[2].Kind())
}

func TestNodesUnmarshalUnknownType(t *testing.T) {
	var ns Nodes
	err := json.Unmarshal([]byte(`[{"id":"1","name":"x","type":"link"}]`), &ns)
	assert.Error(t, err)
}

func TestNodesUnmarshalIsFolderFallback(t *testing.T) {
	var ns Nodes
	require.NoError(t, json.Unmarshal([]byte(`[{"id":"a","name":"a","isFolder":true}]`), &ns))
	assert.Equal(t, KindFolder, ns[0].Kind())
}

func TestNodesMarshalKeepsOrderAndTags(t *testing.T) {
	ns := Nodes{
		&Folder{ID: "f", Name: "lib"},
		&File{ID: "a", Name: "a.sw", Content: "x"},
	}
	out, err := json.Marshal(ns)
	require.NoError(t, err)
	assert.JSONEq(t,
		`[{"id":"f","name":"lib","type":"folder","children":[]},{"id":"a","name":"a.sw","type":"file","content":"x"}]`,
		string(out))
}

func TestFlatEntryJSON(t *testing.T) {
	var entries []FlatEntry
	require.NoError(t, json.Unmarshal([]byte(`[{"name":"a","isFolder":true},{"path":"a/b.sw"}]`), &entries))
	assert.Equal(t, []FlatEntry{{Path: "a", IsFolder: true}, {Path: "a/b.sw"}}, entries)

	out, err := json.Marshal(entries[1])
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a/b.sw","isFolder":false}`, string(out))
}

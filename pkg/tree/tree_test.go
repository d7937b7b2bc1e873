package tree

import (
	"fmt"
	"testing"

	"github.com/deniskipeles/swalang-sandbox/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample() *Tree {
	return New(models.Nodes{
		&models.Folder{ID: "src", Name: "src", Children: models.Nodes{
			&models.Folder{ID: "lib", Name: "lib", Children: models.Nodes{
				&models.File{ID: "util", Name: "util.sw", Content: "u"},
			}},
			&models.File{ID: "main", Name: "main.sw", Content: "m"},
		}},
		&models.File{ID: "readme", Name: "README.md", Content: "r"},
	})
}

func TestFindByID(t *testing.T) {
	tr := sample()

	tests := []struct {
		id    string
		found bool
	}{
		{"src", true},
		{"util", true},
		{"readme", true},
		{"nonexistent", false},
	}
	for _, tt := range tests {
		node := tr.FindByID(tt.id)
		if (node != nil) != tt.found {
			t.Errorf("FindByID(%q) found=%v, want %v", tt.id, node != nil, tt.found)
		}
	}

	assert.Nil(t, New(nil).FindByID("x"))
	assert.Nil(t, tr.FindFile("src"), "FindFile must not return folders")
	assert.NotNil(t, tr.FindFile("main"))
}

func TestFindByPath(t *testing.T) {
	tr := sample()

	tests := []struct {
		path string
		id   string
	}{
		{"src", "src"},
		{"src/lib/util.sw", "util"},
		{"/src/main.sw", "main"},
		{"README.md", "readme"},
		{"src/missing.sw", ""},
		{"README.md/child", ""},
		{"", ""},
	}
	for _, tt := range tests {
		node := tr.FindByPath(tt.path)
		if tt.id == "" {
			assert.Nil(t, node, "FindByPath(%q)", tt.path)
			continue
		}
		require.NotNil(t, node, "FindByPath(%q)", tt.path)
		assert.Equal(t, tt.id, node.NodeID(), "FindByPath(%q)", tt.path)
	}
}

func TestFindByPathDuplicateNamesFirstMatch(t *testing.T) {
	tr := New(models.Nodes{
		&models.File{ID: "first", Name: "dup.sw"},
		&models.File{ID: "second", Name: "dup.sw"},
	})
	assert.Equal(t, "first", tr.FindByPath("dup.sw").NodeID())
}

func TestFindParentID(t *testing.T) {
	tr := sample()

	id, ok := tr.FindParentID("util")
	assert.True(t, ok)
	assert.Equal(t, "lib", id)

	_, ok = tr.FindParentID("readme")
	assert.False(t, ok, "top-level nodes have no parent")

	_, ok = tr.FindParentID("nonexistent")
	assert.False(t, ok)
}

func TestPathOf(t *testing.T) {
	tr := sample()
	p, ok := tr.PathOf("util")
	require.True(t, ok)
	assert.Equal(t, "src/lib/util.sw", p)

	_, ok = tr.PathOf("nonexistent")
	assert.False(t, ok)
}

func TestInsert(t *testing.T) {
	tr := sample()

	tr.Insert("lib", &models.File{ID: "new", Name: "new.sw"})
	p, _ := tr.PathOf("new")
	assert.Equal(t, "src/lib/new.sw", p)

	tr.Insert("", &models.Folder{ID: "top", Name: "top"})
	assert.Equal(t, "top", tr.Nodes[len(tr.Nodes)-1].NodeID())

	// Missing parent degrades to a top-level insert.
	tr.Insert("ghost", &models.File{ID: "orphan", Name: "orphan.sw"})
	assert.Equal(t, "orphan", tr.Nodes[len(tr.Nodes)-1].NodeID())

	// A file is not a valid parent either.
	tr.Insert("main", &models.File{ID: "x", Name: "x.sw"})
	_, hasParent := tr.FindParentID("x")
	assert.False(t, hasParent)
}

func TestInsertAfter(t *testing.T) {
	tr := sample()

	tr.InsertAfter("lib", &models.File{ID: "after-lib", Name: "a.sw"})
	src := tr.FindByID("src").(*models.Folder)
	require.Len(t, src.Children, 3)
	assert.Equal(t, "after-lib", src.Children[1].NodeID())

	tr.InsertAfter("src", &models.File{ID: "after-src", Name: "b.sw"})
	assert.Equal(t, "after-src", tr.Nodes[1].NodeID())
}

func TestInsertKeepsUntouchedSubtrees(t *testing.T) {
	tr := sample()
	lib := tr.FindByID("lib")
	readme := tr.FindByID("readme")

	tr.Insert("src", &models.File{ID: "n", Name: "n.sw"})

	assert.Same(t, lib, tr.FindByID("lib"))
	assert.Same(t, readme, tr.FindByID("readme"))
}

func TestRename(t *testing.T) {
	tr := sample()

	assert.True(t, tr.Rename("lib", "  pkg  "))
	assert.Equal(t, "pkg", tr.FindByID("lib").NodeName())

	assert.False(t, tr.Rename("lib", "   "), "blank names are rejected")
	assert.Equal(t, "pkg", tr.FindByID("lib").NodeName())

	assert.False(t, tr.Rename("nonexistent", "x"))
}

func TestRenamePreservesIDs(t *testing.T) {
	tr := sample()
	before := CollectIDs(tr.FindByID("src"))

	require.True(t, tr.Rename("src", "source"))

	assert.Equal(t, before, CollectIDs(tr.FindByID("src")))
	p, _ := tr.PathOf("util")
	assert.Equal(t, "source/lib/util.sw", p)
}

func TestRemove(t *testing.T) {
	tr := sample()

	removed := tr.Remove("src")
	assert.ElementsMatch(t, []string{"src", "lib", "util", "main"}, removed)
	for _, id := range removed {
		assert.Nil(t, tr.FindByID(id), "%s should be gone", id)
	}
	assert.Equal(t, 1, tr.Count())

	assert.Nil(t, tr.Remove("nonexistent"))
}

func TestRemoveNested(t *testing.T) {
	tr := sample()
	assert.Equal(t, []string{"util"}, tr.Remove("util"))
	assert.Empty(t, tr.FindByID("lib").(*models.Folder).Children)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 5, sample().Count())
	assert.Equal(t, 0, New(nil).Count())
}

func TestWalkOrder(t *testing.T) {
	var paths []string
	Walk(sample().Nodes, func(_ models.Node, _ *models.Folder, p string) bool {
		paths = append(paths, p)
		return true
	})
	assert.Equal(t, []string{"src", "src/lib", "src/lib/util.sw", "src/main.sw", "README.md"}, paths)
}

func TestWalkDeepTree(t *testing.T) {
	// Deep enough that a naive recursive walk would be noticeably costly;
	// the explicit stack handles it without growing the call stack.
	const depth = 10000
	root := &models.Folder{ID: "d0", Name: "d0"}
	cur := root
	for i := 1; i < depth; i++ {
		next := &models.Folder{ID: fmt.Sprintf("d%d", i), Name: "d"}
		cur.Children = models.Nodes{next}
		cur = next
	}
	cur.Children = models.Nodes{&models.File{ID: "leaf", Name: "leaf.sw"}}

	tr := New(models.Nodes{root})
	assert.NotNil(t, tr.FindByID("leaf"))
	assert.Equal(t, depth+1, tr.Count())
}

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitPath("/a//b/"))
	assert.Empty(t, SplitPath(""))
}

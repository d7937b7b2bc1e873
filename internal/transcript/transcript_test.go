package transcript

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/deniskipeles/swalang-sandbox/internal/console"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "transcripts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndLines(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx, "sess-1", "demo"))

	c := console.New()
	c.Subscribe(func(l console.Line) {
		require.NoError(t, s.Append(ctx, "sess-1", l))
	})
	c.Append("Uploading files...")
	c.Append("hello")
	c.Append("[stderr] boom")

	lines, err := s.Lines(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "Uploading files...", lines[0].Text)
	assert.Equal(t, "[stderr] boom", lines[2].Text)
	assert.EqualValues(t, 3, lines[2].Seq)

	other, err := s.Lines(ctx, "sess-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSessions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx, "a", "p1"))
	require.NoError(t, s.Begin(ctx, "b", "p2"))
	require.NoError(t, s.Begin(ctx, "a", "ignored"))

	sessions, err := s.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	projects := map[string]string{}
	for _, sess := range sessions {
		projects[sess.ID] = sess.Project
	}
	assert.Equal(t, map[string]string{"a": "p1", "b": "p2"}, projects)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "t.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Append(context.Background(), "x", console.Line{Seq: 1, Text: "kept"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	lines, err := s.Lines(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "kept", lines[0].Text)
}

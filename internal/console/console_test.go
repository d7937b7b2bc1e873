package console

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAndLines(t *testing.T) {
	c := New()
	c.Append("one")
	c.Append("two")

	lines := c.Lines()
	require.Len(t, lines, 2)
	assert.EqualValues(t, 1, lines[0].Seq)
	assert.EqualValues(t, 2, lines[1].Seq)
	assert.Equal(t, []string{"one", "two"}, c.Texts())
}

func TestSubscribeUnsubscribe(t *testing.T) {
	c := New()
	var got []string
	cancel := c.Subscribe(func(l Line) { got = append(got, l.Text) })
	other := c.Subscribe(func(Line) {})

	assert.Equal(t, 2, c.Subscribers())
	c.Append("a")
	cancel()
	cancel()
	c.Append("b")
	other()

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 0, c.Subscribers())
}

func TestSubscribersSeeAppendOrder(t *testing.T) {
	c := New()
	var mu sync.Mutex
	var seqs []uint64
	c.Subscribe(func(l Line) {
		mu.Lock()
		seqs = append(seqs, l.Seq)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Append("x")
			}
		}()
	}
	wg.Wait()

	require.Len(t, seqs, 800)
	for i, s := range seqs {
		assert.EqualValues(t, i+1, s)
	}
}

func TestRemoveIf(t *testing.T) {
	c := New()
	c.Append("Connecting to execution server...")
	c.Append("Attempt 1 failed. Retrying in 2 seconds...")
	c.Append("hello")

	n := c.RemoveIf(func(l Line) bool {
		return strings.HasPrefix(l.Text, "Connecting") || strings.Contains(l.Text, "Retrying")
	})

	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"hello"}, c.Texts())

	c.Append("next")
	assert.EqualValues(t, 4, c.Lines()[1].Seq, "sequence numbers keep counting")

	c.Clear()
	assert.Empty(t, c.Lines())
}

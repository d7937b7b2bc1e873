// Package console holds the user-visible output log of a session and
// fans each appended line out to subscribers in order.
package console

import (
	"sync"
	"time"

	"github.com/deniskipeles/swalang-sandbox/internal/metrics"
)

// Line is one console line.
type Line struct {
	Seq  uint64
	Text string
	Time time.Time
}

// Console is an ordered line buffer. Subscribers are called synchronously
// for every Append, in append order, and must not call back into the
// console.
type Console struct {
	mu          sync.Mutex
	lines       []Line
	seq         uint64
	subscribers map[int]func(Line)
	nextSub     int
}

// New creates an empty console.
func New() *Console {
	return &Console{subscribers: make(map[int]func(Line))}
}

// Append adds a line and delivers it to every subscriber.
func (c *Console) Append(text string) Line {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	line := Line{Seq: c.seq, Text: text, Time: time.Now()}
	c.lines = append(c.lines, line)
	for _, fn := range c.subscribers {
		fn(line)
	}
	metrics.RecordConsoleLine()
	return line
}

// Lines returns a copy of the current lines.
func (c *Console) Lines() []Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// Texts returns the text of the current lines.
func (c *Console) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	for i, l := range c.lines {
		out[i] = l.Text
	}
	return out
}

// RemoveIf drops every line matching pred and returns how many went.
func (c *Console) RemoveIf(pred func(Line) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.lines[:0]
	for _, l := range c.lines {
		if !pred(l) {
			kept = append(kept, l)
		}
	}
	removed := len(c.lines) - len(kept)
	clear(c.lines[len(kept):])
	c.lines = kept
	return removed
}

// Clear drops every line.
func (c *Console) Clear() {
	c.RemoveIf(func(Line) bool { return true })
}

// Subscribe registers fn for future lines. The returned func removes it.
func (c *Console) Subscribe(fn func(Line)) (cancel func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subscribers, id)
			c.mu.Unlock()
		})
	}
}

// Subscribers returns the number of active subscribers.
func (c *Console) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subscribers)
}

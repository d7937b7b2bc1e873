// Package content tracks the current text of each file, independent of
// tree shape, together with the set of files open in editor tabs and the
// subset of those with unsaved edits.
package content

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ErrNotOpen is returned when editing a file that has no open tab.
var ErrNotOpen = errors.New("file is not open")

// Source supplies content embedded in the tree for ids the store has
// never loaded.
type Source interface {
	EmbeddedContent(id string) (string, bool)
}

// Fetcher loads a file's content from the storage service by path.
type Fetcher interface {
	FetchContent(ctx context.Context, path, version string) (string, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, path, version string) (string, error)

func (f FetcherFunc) FetchContent(ctx context.Context, path, version string) (string, error) {
	return f(ctx, path, version)
}

// Store maps node ids to content and tracks open and dirty ids.
// Every dirty id is also open.
type Store struct {
	source Source

	mu       sync.RWMutex
	contents map[string]string
	open     map[string]int64 // id -> open sequence, for tab order
	dirty    map[string]struct{}
	purged   map[string]struct{}
	seq      int64

	loads singleflight.Group
}

// New creates an empty store that falls back to source for content it
// has not loaded. source may be nil.
func New(source Source) *Store {
	return &Store{
		source:   source,
		contents: make(map[string]string),
		open:     make(map[string]int64),
		dirty:    make(map[string]struct{}),
		purged:   make(map[string]struct{}),
	}
}

// Get returns the current content of id, defaulting to the content
// embedded in the tree when it was never loaded.
func (s *Store) Get(id string) string {
	s.mu.RLock()
	c, ok := s.contents[id]
	source := s.source
	s.mu.RUnlock()
	if ok {
		return c
	}
	if source != nil {
		if c, ok := source.EmbeddedContent(id); ok {
			return c
		}
	}
	return ""
}

// Lookup returns content that has been explicitly loaded or set.
func (s *Store) Lookup(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contents[id]
	return c, ok
}

// Put records content without marking it dirty. It is used when content
// arrives from storage or is migrated from a copied file.
func (s *Store) Put(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contents[id] = content
}

// Set records an edit and marks id dirty. The file must be open.
func (s *Store) Set(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[id]; !ok {
		return ErrNotOpen
	}
	s.contents[id] = content
	s.dirty[id] = struct{}{}
	return nil
}

// LoadIfAbsent returns the content of id, fetching it by path only when
// the store has none. Concurrent loads of the same id share one fetch,
// which outlives any single caller's context; each caller stops waiting
// when its own context ends. An edit that lands while the fetch is in
// flight wins over the fetched content, and a fetch that completes after
// the id was purged is not stored.
func (s *Store) LoadIfAbsent(ctx context.Context, f Fetcher, id, path, version string) (string, error) {
	if c, ok := s.Lookup(id); ok {
		return c, nil
	}
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(id, func() (interface{}, error) {
		if c, ok := s.Lookup(id); ok {
			return c, nil
		}
		fetched, err := f.FetchContent(fetchCtx, path, version)
		if err != nil {
			return "", err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.contents[id]; ok {
			return c, nil
		}
		if _, gone := s.purged[id]; !gone {
			s.contents[id] = fetched
		}
		return fetched, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Open adds id to the open set. Reopening an open id keeps its position.
func (s *Store) Open(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.open[id]; ok {
		return
	}
	s.seq++
	s.open[id] = s.seq
}

// Close removes id from the open and dirty sets. Its content survives.
func (s *Store) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.open, id)
	delete(s.dirty, id)
}

// IsOpen reports whether id has an open tab.
func (s *Store) IsOpen(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.open[id]
	return ok
}

// IsDirty reports whether id has unsaved edits.
func (s *Store) IsDirty(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirty[id]
	return ok
}

// OpenIDs returns open ids in the order they were opened.
func (s *Store) OpenIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.open))
	for id := range s.open {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.open[ids[i]] < s.open[ids[j]] })
	return ids
}

// DirtyIDs returns dirty ids in tab order.
func (s *Store) DirtyIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.open[ids[i]] < s.open[ids[j]] })
	return ids
}

// ClearDirty marks ids as saved. With no ids every file is marked saved.
func (s *Store) ClearDirty(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(ids) == 0 {
		s.dirty = make(map[string]struct{})
		return
	}
	for _, id := range ids {
		delete(s.dirty, id)
	}
}

// Purge forgets ids entirely: content, open tab and dirty flag. Loads of
// a purged id that are still in flight are dropped when they complete.
func (s *Store) Purge(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.contents, id)
		delete(s.open, id)
		delete(s.dirty, id)
		s.purged[id] = struct{}{}
	}
}

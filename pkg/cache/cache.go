// Package cache provides an on-disk LRU cache for file content that is
// pinned to a snapshot version and therefore never changes.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Entry describes one cached blob.
type Entry struct {
	ID         string
	LocalPath  string
	Size       int64
	LastAccess time.Time
}

// Cache manages locally cached content.
type Cache struct {
	dir     string
	maxSize int64 // Maximum cache size in bytes

	mu      sync.RWMutex
	entries map[string]*Entry
	size    int64
}

// New creates a cache in dir and indexes any blobs already there, so a
// later process reuses what an earlier one fetched.
func New(dir string, maxSize int64) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &Cache{
		dir:     dir,
		maxSize: maxSize,
		entries: make(map[string]*Entry),
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read cache dir: %w", err)
	}
	for _, f := range files {
		if f.IsDir() || strings.HasSuffix(f.Name(), ".tmp") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		c.entries[f.Name()] = &Entry{
			ID:         f.Name(),
			LocalPath:  filepath.Join(dir, f.Name()),
			Size:       info.Size(),
			LastAccess: info.ModTime(),
		}
		c.size += info.Size()
	}
	return c, nil
}

// Key builds a cache key from its parts.
func Key(parts ...string) string {
	return strings.Join(parts, "\x00")
}

// ID converts a key to a filesystem-safe blob name.
func ID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Get returns the local path if the key is cached.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[ID(key)]
	if !ok {
		return "", false
	}
	entry.LastAccess = time.Now()
	return entry.LocalPath, true
}

// ReadString returns the cached content for key.
func (c *Cache) ReadString(key string) (string, bool) {
	path, ok := c.Get(key)
	if !ok {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		c.Evict(key)
		return "", false
	}
	return string(data), true
}

// Put stores content under key.
// Content is written atomically (temp file then rename).
func (c *Cache) Put(key string, r io.Reader, size int64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ID(key)
	if old, ok := c.entries[id]; ok {
		c.size -= old.Size
		delete(c.entries, id)
	}

	for c.size+size > c.maxSize {
		if !c.evictOldest() {
			break
		}
	}

	localPath := filepath.Join(c.dir, id)
	tempPath := localPath + ".tmp"

	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	written, err := io.Copy(f, r)
	f.Close()
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("write content: %w", err)
	}

	if err := os.Rename(tempPath, localPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("rename temp file: %w", err)
	}

	c.entries[id] = &Entry{
		ID:         id,
		LocalPath:  localPath,
		Size:       written,
		LastAccess: time.Now(),
	}
	c.size += written

	return localPath, nil
}

// PutString stores a string under key.
func (c *Cache) PutString(key, content string) error {
	_, err := c.Put(key, strings.NewReader(content), int64(len(content)))
	return err
}

// Evict removes a key from the cache.
func (c *Cache) Evict(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := ID(key)
	entry, ok := c.entries[id]
	if !ok {
		return
	}
	os.Remove(entry.LocalPath)
	c.size -= entry.Size
	delete(c.entries, id)
}

// evictOldest removes the least recently used blob.
// Must be called with lock held.
func (c *Cache) evictOldest() bool {
	var oldest *Entry
	for _, entry := range c.entries {
		if oldest == nil || entry.LastAccess.Before(oldest.LastAccess) {
			oldest = entry
		}
	}
	if oldest == nil {
		return false
	}

	os.Remove(oldest.LocalPath)
	c.size -= oldest.Size
	delete(c.entries, oldest.ID)
	return true
}

// Stats returns cache statistics.
func (c *Cache) Stats() (size, maxSize int64, count int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.size, c.maxSize, len(c.entries)
}

// Clear removes every cached blob and returns how many were removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := len(c.entries)
	for id, entry := range c.entries {
		os.Remove(entry.LocalPath)
		delete(c.entries, id)
	}
	c.size = 0
	return count
}

// Dir returns the cache directory path.
func (c *Cache) Dir() string {
	return c.dir
}


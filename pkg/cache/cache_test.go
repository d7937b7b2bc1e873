package cache

import (
	"bytes"
	"os"
	"testing"
	"time"
)

func TestCache_PutAndGet(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("print(\"hello\")")
	key := Key("proj", "v1", "src/main.sw")
	path, err := c.Put(key, bytes.NewReader(content), int64(len(content)))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Errorf("content mismatch: got %q, want %q", data, content)
	}

	gotPath, ok := c.Get(key)
	if !ok {
		t.Fatal("Get returned not ok")
	}
	if gotPath != path {
		t.Errorf("Get path mismatch: got %q, want %q", gotPath, path)
	}

	got, ok := c.ReadString(key)
	if !ok || got != string(content) {
		t.Errorf("ReadString = %q, %v", got, ok)
	}
}

func TestCache_KeysAreScoped(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.PutString(Key("p", "v1", "a.sw"), "one"); err != nil {
		t.Fatalf("PutString: %v", err)
	}
	if cached(c, Key("p", "v2", "a.sw")) {
		t.Error("a different version must not hit")
	}
}

func TestCache_Evict(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	content := []byte("test")
	path, _ := c.Put("evictme", bytes.NewReader(content), int64(len(content)))

	c.Evict("evictme")

	if cached(c, "evictme") {
		t.Error("file still cached after evict")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file still exists on disk after evict")
	}
}

func TestCache_LRUEviction(t *testing.T) {
	c, err := New(t.TempDir(), 100) // Only 100 bytes
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	c.Put("file1", bytes.NewReader(make([]byte, 30)), 30)
	time.Sleep(10 * time.Millisecond)

	c.Put("file2", bytes.NewReader(make([]byte, 30)), 30)
	time.Sleep(10 * time.Millisecond)

	// Access file1 to make it more recent
	c.Get("file1")

	// 30 + 30 + 50 > 100: file2 is the least recently used.
	c.Put("file3", bytes.NewReader(make([]byte, 50)), 50)

	if cached(c, "file2") {
		t.Error("file2 should have been evicted")
	}
	if !cached(c, "file1") {
		t.Error("file1 should not have been evicted")
	}
	if !cached(c, "file3") {
		t.Error("file3 should be cached")
	}
}

func TestCache_ReindexOnNew(t *testing.T) {
	dir := t.TempDir()
	c, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.PutString("k", "persisted"); err != nil {
		t.Fatalf("PutString: %v", err)
	}

	reopened, err := New(dir, 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, ok := reopened.ReadString("k")
	if !ok || got != "persisted" {
		t.Errorf("ReadString after reopen = %q, %v", got, ok)
	}
	size, _, count := reopened.Stats()
	if size != int64(len("persisted")) || count != 1 {
		t.Errorf("stats after reopen: size=%d count=%d", size, count)
	}
}

func TestCache_Overwrite(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.PutString("k", "aaaa")
	c.PutString("k", "bb")

	size, _, count := c.Stats()
	if size != 2 || count != 1 {
		t.Errorf("stats after overwrite: size=%d count=%d", size, count)
	}
}

func TestCache_Clear(t *testing.T) {
	c, err := New(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.PutString("a", "a")
	c.PutString("b", "bb")

	if n := c.Clear(); n != 2 {
		t.Errorf("Clear removed %d, want 2", n)
	}
	size, _, count := c.Stats()
	if size != 0 || count != 0 {
		t.Errorf("stats after clear: size=%d count=%d", size, count)
	}
}

// cached reports whether key has an entry without touching its access time.
func cached(c *Cache, key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[ID(key)]
	return ok
}

package content

import (
	"context"

	"github.com/deniskipeles/swalang-sandbox/internal/metrics"
	"github.com/deniskipeles/swalang-sandbox/pkg/cache"
)

// Cached wraps f so every load is counted once, by where it was served
// from. With a cache, version-pinned fetches are also kept on disk scoped
// to projectID: the head of a project can change under us, a numbered
// snapshot cannot. c may be nil.
func Cached(f Fetcher, c *cache.Cache, projectID string) Fetcher {
	return FetcherFunc(func(ctx context.Context, path, version string) (string, error) {
		pinned := c != nil && version != ""
		key := cache.Key(projectID, version, path)
		if pinned {
			if s, ok := c.ReadString(key); ok {
				metrics.RecordContentLoad("disk", true)
				return s, nil
			}
		}
		s, err := f.FetchContent(ctx, path, version)
		metrics.RecordContentLoad("storage", err == nil)
		if err != nil {
			return "", err
		}
		if pinned {
			// A failed cache write only costs a refetch later.
			_ = c.PutString(key, s)
		}
		return s, nil
	})
}

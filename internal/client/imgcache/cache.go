// Package imgcache keeps a best-effort local mirror of remote image bytes,
// keyed by server image id, under a dedicated cache directory. Caching is
// advisory: a failed download is reported, never thrown into UI code, and
// correctness never depends on a cache hit.
package imgcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cellatlas/cellsync/internal/common"
	"github.com/cellatlas/cellsync/internal/filex"
	"github.com/cellatlas/cellsync/internal/logging"
	"github.com/sethvargo/go-retry"
)

// Downloader fetches authenticated image bytes. The API client satisfies this.
type Downloader interface {
	DownloadImage(ctx context.Context, id int64) ([]byte, error)
	ImageFileURL(id int64) string
}

// PathRecorder writes the cache pointer back into the image row. The images
// repository satisfies this.
type PathRecorder interface {
	SetCachedPath(ctx context.Context, serverID int64, path *string) error
	ClearAllCachedPaths(ctx context.Context) error
}

// URI is the display location of an image: a local file path when cached,
// otherwise the remote byte-stream URL.
type URI struct {
	URI     string
	IsLocal bool
}

const backgroundFetchTimeout = 30 * time.Second

// Cache owns the cache directory. No automatic eviction: growth is bounded
// only by explicit ClearImage/ClearAll calls.
type Cache struct {
	dir    string
	api    Downloader
	images PathRecorder
	log    logging.Logger
}

// New ensures dir exists and returns a Cache over it.
func New(dir string, api Downloader, images PathRecorder, log logging.Logger) (*Cache, error) {
	abs, err := filex.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("init image cache: %w", err)
	}
	return &Cache{dir: abs, api: api, images: images, log: log.With("component", "imgcache")}, nil
}

func (c *Cache) path(id int64) string {
	return filepath.Join(c.dir, fmt.Sprintf("%d.img", id))
}

// IsCached reports whether bytes for the image are on disk.
func (c *Cache) IsCached(id int64) bool {
	info, err := os.Stat(c.path(id))
	return err == nil && !info.IsDir()
}

// CacheImage downloads the image bytes, writes them atomically and records
// the path in the image row. Transient download failures are retried on a
// short fibonacci backoff before giving up.
func (c *Cache) CacheImage(ctx context.Context, id int64) (string, error) {
	var data []byte
	backoff := retry.WithMaxRetries(2, retry.NewFibonacci(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := c.api.DownloadImage(ctx, id)
		if err != nil {
			return retry.RetryableError(err)
		}
		data = b
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("download image %d: %w", id, err)
	}

	path := c.path(id)
	if err := filex.WriteAtomic(path, data); err != nil {
		return "", fmt.Errorf("cache image %d: %w", id, err)
	}

	if err := c.images.SetCachedPath(ctx, id, &path); err != nil {
		return "", fmt.Errorf("record cache path for image %d: %w", id, err)
	}
	return path, nil
}

// ImageURI resolves the display location for an image. Cached bytes win and
// work offline. When online but uncached, the remote URL is returned and a
// background fetch is kicked off; its result is observed only through the
// next read. Offline and uncached yields common.ErrNotCached so the caller
// can render an explicit unavailable state.
func (c *Cache) ImageURI(ctx context.Context, id int64, online bool) (URI, error) {
	if c.IsCached(id) {
		return URI{URI: c.path(id), IsLocal: true}, nil
	}

	if !online {
		return URI{}, common.ErrNotCached
	}

	// fire-and-forget; the triggering call never waits on it
	go func() {
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundFetchTimeout)
		defer cancel()
		if _, err := c.CacheImage(bctx, id); err != nil {
			c.log.Warn(bctx, "background image caching failed", "image_id", id, "error", err)
		}
	}()

	return URI{URI: c.api.ImageFileURL(id), IsLocal: false}, nil
}

// ClearImage removes the cached file and nulls the stored path.
func (c *Cache) ClearImage(ctx context.Context, id int64) error {
	if err := os.Remove(c.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove cached image %d: %w", id, err)
	}
	if err := c.images.SetCachedPath(ctx, id, nil); err != nil {
		return fmt.Errorf("clear cache path for image %d: %w", id, err)
	}
	return nil
}

// ClearAll wipes the cache directory and nulls every stored path.
func (c *Cache) ClearAll(ctx context.Context) error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	if err := c.images.ClearAllCachedPaths(ctx); err != nil {
		return fmt.Errorf("clear cache paths: %w", err)
	}
	return nil
}

// TotalSize returns the bytes currently held by the cache. Advisory only.
func (c *Cache) TotalSize() (int64, error) {
	return filex.DirSize(c.dir)
}

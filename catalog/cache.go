package catalog

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/klauspost/compress/zstd"
	"github.com/miku/bfkit"
	log "github.com/sirupsen/logrus"
)

// DefaultCacheDir keeps compressed records between runs.
var DefaultCacheDir = filepath.Join(xdg.CacheHome, bfkit.AppName, "marcxml")

// Cache wraps a fetcher and keeps successfully fetched records on disk,
// zstd compressed, for a given time. Misses are never cached.
type Cache struct {
	Fetcher Fetcher
	// Namespace separates caches of different catalogs, e.g. the base URL.
	Namespace string
	Dir       string
	TTL       time.Duration
}

// NewCache returns a cache under the default cache directory.
func NewCache(f Fetcher, namespace string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(DefaultCacheDir, 0755); err != nil {
		return nil, err
	}
	return &Cache{
		Fetcher:   f,
		Namespace: namespace,
		Dir:       DefaultCacheDir,
		TTL:       ttl,
	}, nil
}

// path returns a sharded location for a record.
func (c *Cache) path(id string) string {
	h := sha1.New()
	_, _ = h.Write([]byte(c.Namespace + "\x00" + id))
	sum := fmt.Sprintf("%x", h.Sum(nil))
	shard, filename := sum[:2], sum[2:]
	return filepath.Join(c.Dir, shard, filename+".xml.zst")
}

// get returns the cached record or an empty string, if there is no fresh
// entry.
func (c *Cache) get(id string) (string, error) {
	p := c.path(id)
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if time.Since(info.ModTime()) > c.TTL {
		return "", nil
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return "", err
	}
	defer dec.Close()
	v, err := dec.DecodeAll(b, nil)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

func (c *Cache) put(id, record string) error {
	p := c.path(id)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return err
	}
	defer enc.Close()
	// Concurrent fetches of the same id each write their own temporary file.
	f, err := os.CreateTemp(filepath.Dir(p), "*.wip")
	if err != nil {
		return err
	}
	wip := f.Name()
	if _, err := f.Write(enc.EncodeAll([]byte(record), nil)); err != nil {
		f.Close()
		os.Remove(wip)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(wip)
		return err
	}
	if err := os.Rename(wip, p); err != nil {
		os.Remove(wip)
		return err
	}
	return nil
}

// Fetch returns a cached record, or fetches and caches it. Cache failures
// are logged and do not fail the fetch.
func (c *Cache) Fetch(ctx context.Context, id string) (string, error) {
	v, err := c.get(id)
	if err != nil {
		log.Warnf("cache: %s: %v", id, err)
	}
	if v != "" {
		log.Debugf("cache: hit for %s", id)
		return v, nil
	}
	v, err = c.Fetcher.Fetch(ctx, id)
	if err != nil {
		return "", err
	}
	if err := c.put(id, v); err != nil {
		log.Warnf("cache: %s: %v", id, err)
	}
	return v, nil
}

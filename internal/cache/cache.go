package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/inboxline/mailsync/interfaces"
)

// FileCache persists cache entries as JSON files under a base directory.
// Hierarchical keys ("acct_x/INBOX/remote_g_metadata") map to subdirectories,
// with each path segment URL-escaped for filesystem safety. Writes go to a
// temp file first and are renamed into place so readers never observe a
// partial entry.
type FileCache struct {
	baseDir string
}

func NewFileCache(baseDir string) (*FileCache, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("cache base dir is empty")
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	return &FileCache{baseDir: baseDir}, nil
}

var _ interfaces.MetaCache = (*FileCache)(nil)

func (c *FileCache) entryPath(key string) string {
	segments := strings.Split(key, "/")
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	return filepath.Join(c.baseDir, filepath.Join(escaped...)) + ".json"
}

func (c *FileCache) Get(ctx context.Context, key string, value interface{}) (bool, error) {
	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read cache entry %s: %w", key, err)
	}
	if err := json.Unmarshal(data, value); err != nil {
		return false, fmt.Errorf("failed to decode cache entry %s: %w", key, err)
	}
	return true, nil
}

func (c *FileCache) Set(ctx context.Context, key string, value interface{}) error {
	path := c.entryPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create cache entry dir: %w", err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", key, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit cache entry %s: %w", key, err)
	}
	return nil
}

func (c *FileCache) Remove(ctx context.Context, key string) error {
	err := os.Remove(c.entryPath(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache entry %s: %w", key, err)
	}
	return nil
}

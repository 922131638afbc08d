package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uidMeta struct {
	MsgID uint64   `json:"msgid"`
	ThrID uint64   `json:"thrid"`
	Flags []string `json:"flags"`
}

func TestFileCacheSetGetRemove(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "acct_1/INBOX/remote_g_metadata"
	entry := map[string]uidMeta{
		"4": {MsgID: 9001, ThrID: 7001, Flags: []string{"\\Seen"}},
		"5": {MsgID: 9002, ThrID: 7001, Flags: nil},
	}

	var missing map[string]uidMeta
	found, err := c.Get(ctx, key, &missing)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, key, entry))

	var loaded map[string]uidMeta
	found, err = c.Get(ctx, key, &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entry, loaded)

	require.NoError(t, c.Remove(ctx, key))
	found, err = c.Get(ctx, key, &loaded)
	require.NoError(t, err)
	assert.False(t, found)

	// Removing an absent entry is not an error.
	assert.NoError(t, c.Remove(ctx, key))
}

func TestFileCacheEscapesKeySegments(t *testing.T) {
	base := t.TempDir()
	c, err := NewFileCache(base)
	require.NoError(t, err)

	ctx := context.Background()
	key := "acct_1/[Gmail]/All Mail/remote_g_metadata"
	require.NoError(t, c.Set(ctx, key, map[string]string{"k": "v"}))

	// Folder names with slashes and brackets must stay inside the base dir.
	entries := []string{}
	err = filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			entries = append(entries, path)
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0], base))

	var loaded map[string]string
	found, err := c.Get(ctx, key, &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", loaded["k"])
}

func TestFileCacheOverwrite(t *testing.T) {
	c, err := NewFileCache(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	key := "acct_2/INBOX/remote_g_metadata"
	require.NoError(t, c.Set(ctx, key, map[string]uidMeta{"1": {MsgID: 1}}))
	require.NoError(t, c.Set(ctx, key, map[string]uidMeta{"2": {MsgID: 2}}))

	var loaded map[string]uidMeta
	found, err := c.Get(ctx, key, &loaded)
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, loaded, 1)
	assert.Equal(t, uint64(2), loaded["2"].MsgID)
}

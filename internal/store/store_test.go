package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpopcal/internal/config"
	"kpopcal/internal/model"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })

	return map[string]Store{
		"file":   NewFileStore(t.TempDir()),
		"sqlite": sq,
	}
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	events := []model.Event{
		{Title: "A", Timestamp: 100},
		{Title: "B", Timestamp: 100},
		{Title: "Group - Song", Timestamp: 1700000000000},
	}

	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := s.Exists(ctx, "comebacks")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.Read(ctx, "comebacks")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Write(ctx, "comebacks", events))

			ok, err = s.Exists(ctx, "comebacks")
			require.NoError(t, err)
			assert.True(t, ok)

			got, err := s.Read(ctx, "comebacks")
			require.NoError(t, err)
			assert.Equal(t, events, got)
		})
	}
}

func TestWriteReplacesWholeList(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "releases", []model.Event{{Title: "old", Timestamp: 1}, {Title: "older", Timestamp: 2}}))
			require.NoError(t, s.Write(ctx, "releases", []model.Event{{Title: "new", Timestamp: 3}}))

			got, err := s.Read(ctx, "releases")
			require.NoError(t, err)
			assert.Equal(t, []model.Event{{Title: "new", Timestamp: 3}}, got)
		})
	}
}

func TestEmptyListRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "releases", nil))
			got, err := s.Read(ctx, "releases")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "comebacks", []model.Event{{Title: "C", Timestamp: 1}}))
			require.NoError(t, s.Write(ctx, "releases", []model.Event{{Title: "R", Timestamp: 2}}))

			c, err := s.Read(ctx, "comebacks")
			require.NoError(t, err)
			r, err := s.Read(ctx, "releases")
			require.NoError(t, err)

			assert.Equal(t, "C", c[0].Title)
			assert.Equal(t, "R", r[0].Title)
		})
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Write(ctx, "comebacks", []model.Event{{Title: "C", Timestamp: 1}}))
			require.NoError(t, s.Clear(ctx, "comebacks"))

			ok, err := s.Exists(ctx, "comebacks")
			require.NoError(t, err)
			assert.False(t, ok)

			// Clearing twice is fine.
			require.NoError(t, s.Clear(ctx, "comebacks"))
		})
	}
}

func TestInvalidNamespace(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, s.Write(ctx, "../escape", nil))
			_, err := s.Read(ctx, "")
			assert.Error(t, err)
		})
	}
}

func TestFileStoreCorruptBlob(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewFileStore(root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "comebacks"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "comebacks", blobName), []byte("<html>"), 0o600))

	_, err := s.Read(ctx, "comebacks")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "comebacks", perr.Namespace)

	require.NoError(t, os.WriteFile(filepath.Join(root, "comebacks", blobName), []byte("null"), 0o600))
	_, err = s.Read(ctx, "comebacks")
	assert.True(t, errors.As(err, &perr))
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s := NewFileStore(root)

	require.NoError(t, s.Write(ctx, "comebacks", []model.Event{{Title: "A", Timestamp: 1}}))

	entries, err := os.ReadDir(filepath.Join(root, "comebacks"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, blobName, entries[0].Name())

	info, err := os.Stat(filepath.Join(root, "comebacks", blobName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestOpen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CacheRoot = t.TempDir()

	s, err := Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	cfg.Store.Backend = config.BackendSQLite
	s, err = Open(cfg)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())
	assert.FileExists(t, filepath.Join(cfg.CacheRoot, "kpopcal.db"))

	cfg.Store.Backend = "redis"
	_, err = Open(cfg)
	assert.Error(t, err)
}

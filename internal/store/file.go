package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	appLog "kpopcal/internal/log"
	"kpopcal/internal/model"
)

const blobName = "api.json"

// FileStore keeps each namespace under <root>/<namespace>/api.json.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at root. The directory is created
// lazily on first write.
func NewFileStore(root string) *FileStore {
	if root == "" {
		// Development fallback so runs without a configured root still work.
		root = "./var/cache"
	}
	return &FileStore{root: root}
}

// Root returns the cache root directory.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) pathFor(namespace string) (string, error) {
	if err := validateNamespace(namespace); err != nil {
		return "", err
	}
	return filepath.Join(s.root, namespace, blobName), nil
}

func (s *FileStore) Exists(_ context.Context, namespace string) (bool, error) {
	path, err := s.pathFor(namespace)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Read(_ context.Context, namespace string) ([]model.Event, error) {
	path, err := s.pathFor(namespace)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decode(namespace, data)
}

// Write replaces the namespace blob:
//   - ensures the namespace directory exists (0700)
//   - writes to a temp file in the same directory and fsyncs it
//   - renames it over api.json (0600)
func (s *FileStore) Write(_ context.Context, namespace string, events []model.Event) error {
	path, err := s.pathFor(namespace)
	if err != nil {
		return err
	}
	data, err := encode(events)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".api-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Removing after a successful rename is a no-op.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	appLog.Debug("cache written", "namespace", namespace, "events", len(events), "path", path)
	return nil
}

func (s *FileStore) Clear(_ context.Context, namespace string) error {
	path, err := s.pathFor(namespace)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }

package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalStorage implements Storage using the local filesystem.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(basePath string) *LocalStorage {
	return &LocalStorage{basePath: basePath}
}

func (ls *LocalStorage) dir(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return filepath.Join(ls.basePath, filepath.FromSlash(key)), nil
}

// Save writes a file to {basePath}/{key}/{name}, creating directories as needed.
func (ls *LocalStorage) Save(ctx context.Context, key string, name string, data io.Reader) error {
	dir, err := ls.dir(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	// only the base name, so a name cannot climb out of the key directory
	filePath := filepath.Join(dir, filepath.Base(name))

	file, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write archive data: %w", err)
	}

	return nil
}

// Get opens a file from the local filesystem.
func (ls *LocalStorage) Get(ctx context.Context, key string, name string) (io.ReadCloser, error) {
	dir, err := ls.dir(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filepath.Join(dir, filepath.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive file: %w", err)
	}

	return file, nil
}

// List lists the files stored under key.
func (ls *LocalStorage) List(ctx context.Context, key string) ([]string, error) {
	dir, err := ls.dir(key)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	return names, nil
}

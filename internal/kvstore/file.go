package kvstore

import (
	"context"
	"path/filepath"

	"nithronos/poolwizard/internal/fsatomic"
)

// File keeps one JSON file per key under a directory.
type File struct {
	dir string
}

func NewFile(dir string) *File { return &File{dir: dir} }

func (f *File) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

func (f *File) Get(_ context.Context, key string) ([]byte, error) {
	data, ok, err := fsatomic.ReadFile(f.path(key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func (f *File) Put(ctx context.Context, key string, value []byte) error {
	p := f.path(key)
	return fsatomic.WithLock(p, func() error {
		return fsatomic.WriteFile(ctx, p, value, 0o600)
	})
}

func (f *File) Delete(_ context.Context, key string) error {
	p := f.path(key)
	return fsatomic.WithLock(p, func() error {
		return fsatomic.Remove(p)
	})
}

// Package kvstore provides the durable key-value stores that wizard progress
// and the resulting storage configuration are kept in.
package kvstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

var ErrNotFound = errors.New("key not found")

// Store is a flat key-value store. Values are overwritten wholesale.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open builds the store named by backend rooted at dir. The returned close
// function is never nil.
func Open(backend, dir string) (Store, func() error, error) {
	noop := func() error { return nil }
	switch backend {
	case "", BackendFile:
		return NewFile(dir), noop, nil
	case BackendSQLite:
		s, err := OpenSQLite(filepath.Join(dir, "wizard.db"))
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	case BackendMemory:
		return NewMemory(), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown state backend %q", backend)
}

func sanitizeKey(key string) string {
	out := make([]rune, 0, len(key))
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "unknown"
	}
	return string(out)
}

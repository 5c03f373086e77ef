package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// LocalBackend stores objects on the local filesystem. Used for
// single-node development and in the test suite in place of a real
// S3-compatible bucket.
type LocalBackend struct {
	root string
}

func NewLocalBackend(root string) (*LocalBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &LocalBackend{root: root}, nil
}

func (l *LocalBackend) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalBackend) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(l.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewError(KindNotFound, key, err)
		}
		return nil, NewError(KindTransient, key, err)
	}
	return data, nil
}

func (l *LocalBackend) Put(_ context.Context, key string, data []byte) error {
	full := l.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return NewError(KindTransient, key, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return NewError(KindTransient, key, err)
	}
	return nil
}

func (l *LocalBackend) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, NewError(KindTransient, key, err)
}

func (l *LocalBackend) Delete(_ context.Context, key string) error {
	if err := os.Remove(l.path(key)); err != nil && !os.IsNotExist(err) {
		return NewError(KindTransient, key, err)
	}
	return nil
}

func (l *LocalBackend) List(_ context.Context, prefix string) ([]string, error) {
	dir := l.path(prefix)
	var keys []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, strings.ReplaceAll(rel, string(filepath.Separator), "/"))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, NewError(KindTransient, prefix, err)
	}
	return keys, nil
}

var _ Backend = (*LocalBackend)(nil)

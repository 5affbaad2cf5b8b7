package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore replicates to a mounted path such as a NAS share.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir, prefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("local remote requires a directory")
	}
	full := filepath.Join(dir, prefix)
	if err := os.MkdirAll(full, 0700); err != nil {
		return nil, fmt.Errorf("failed to create remote directory: %w", err)
	}
	return &LocalStore{dir: full}, nil
}

func (s *LocalStore) Put(ctx context.Context, key string, r io.ReadSeeker) error {
	dst := filepath.Join(s.dir, filepath.Base(key))
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r}); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

func (s *LocalStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, filepath.Base(key)))
}

func (s *LocalStore) List(_ context.Context) ([]Object, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var objects []Object
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name()[0] == '.' {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, Object{Key: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	return objects, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(key)))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) URI(key string) string {
	return "file://" + filepath.Join(s.dir, filepath.Base(key))
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

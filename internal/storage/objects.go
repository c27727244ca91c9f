package storage

import (
	"context"
	"fmt"
	"os"
)

// ObjectStore reads and writes whole RADOS objects.
type ObjectStore interface {
	Put(ctx context.Context, pool, object string, content []byte) error
	Get(ctx context.Context, pool, object string) ([]byte, error)
	Remove(ctx context.Context, pool, object string) error
}

// Rados implements ObjectStore with the rados CLI, authenticating as Id.
type Rados struct {
	Runner   Runner
	CephConf string
	Id       string
	TempDir  string // optional, defaults to os.TempDir()
}

func (r *Rados) rados(ctx context.Context, pool string, args ...string) ([]byte, error) {
	base := []string{"-p", pool, "-c", r.CephConf, "--id", r.Id}
	return r.Runner.Run(ctx, "rados", append(base, args...)...)
}

func (r *Rados) Put(ctx context.Context, pool, object string, content []byte) error {
	f, err := os.CreateTemp(r.TempDir, "nfsgw-obj-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	defer os.Remove(f.Name())
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write temp: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	_, err = r.rados(ctx, pool, "put", object, f.Name())
	return err
}

func (r *Rados) Get(ctx context.Context, pool, object string) ([]byte, error) {
	f, err := os.CreateTemp(r.TempDir, "nfsgw-obj-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}

	name := f.Name()
	f.Close()
	defer os.Remove(name)
	if _, err := r.rados(ctx, pool, "get", object, name); err != nil {
		return nil, err
	}

	return os.ReadFile(name)
}

func (r *Rados) Remove(ctx context.Context, pool, object string) error {
	_, err := r.rados(ctx, pool, "rm", object)
	return err
}

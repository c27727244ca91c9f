// Package bootstrap creates the shared export objects of the cluster. Only
// the leader runs it and only until the pool-initialised latch is set.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/golang/glog"
)

const (
	IndexObject   = "ganesha-export-index"
	CounterObject = "ganesha-export-counter"
	CounterStart  = "1000"
)

var ErrNotLeader = errors.New("bootstrap is leader only")

// Latch is the part of the peer coordinator we need.
type Latch interface {
	Observe(ctx context.Context) (peer.Facts, error)
	InitialisePool(ctx context.Context) (peer.Facts, error)
}

type Bootstrapper struct {
	Objects  storage.ObjectStore
	Pool     func() string
	Latch    Latch
	IsLeader func() bool
}

// Run writes the export index (empty) and then the export counter, and sets
// the latch. It returns false without side effects when the latch is already
// set. A failed write leaves the latch unset; the next attempt rewrites both
// objects.
func (b *Bootstrapper) Run(ctx context.Context) (bool, error) {
	if !b.IsLeader() {
		return false, ErrNotLeader
	}

	f, err := b.Latch.Observe(ctx)
	if err != nil {
		return false, fmt.Errorf("observe latch: %w", err)
	}

	if f.PoolInitialised {
		glog.V(1).Infof("bootstrap: pool already initialised")
		return false, nil
	}

	pool := b.Pool()
	if err := b.Objects.Put(ctx, pool, IndexObject, []byte{}); err != nil {
		return false, fmt.Errorf("put %v: %w", IndexObject, err)
	}

	if err := b.Objects.Put(ctx, pool, CounterObject, []byte(CounterStart)); err != nil {
		return false, fmt.Errorf("put %v: %w", CounterObject, err)
	}

	if _, err := b.Latch.InitialisePool(ctx); err != nil {
		return false, fmt.Errorf("set latch: %w", err)
	}

	glog.Infof("bootstrap: pool %v initialised", pool)
	return true, nil
}

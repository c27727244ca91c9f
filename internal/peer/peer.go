// Package peer shares the cluster-wide facts every gateway node reacts to:
// the pool-initialised latch and the export reload nonce.
//
// Facts only ever grow. The latch never goes back to false and the nonce
// never decreases, so concurrent publishers converge by merging, without
// locks.
package peer

import (
	"context"
)

type Facts struct {
	PoolInitialised bool   `json:"poolInitialised"`
	ReloadNonce     uint64 `json:"reloadNonce"`
}

// Merge returns the least upper bound of a and b.
func Merge(a, b Facts) Facts {
	out := a
	out.PoolInitialised = a.PoolInitialised || b.PoolInitialised
	if b.ReloadNonce > out.ReloadNonce {
		out.ReloadNonce = b.ReloadNonce
	}

	return out
}

// Channel is the shared store of peer facts. Publish merges into what is
// already stored; it never overwrites a larger value.
type Channel interface {
	Observe(ctx context.Context) (Facts, error)
	Publish(ctx context.Context, f Facts) error
}

// Notifier tells the other nodes (and ourselves) that the facts changed.
// Delivery is best effort; watchers poll the channel anyway.
type Notifier interface {
	Notify(ctx context.Context, f Facts) error
}

// NotifyFunc adapts a function to a Notifier.
type NotifyFunc func(ctx context.Context, f Facts) error

func (fn NotifyFunc) Notify(ctx context.Context, f Facts) error { return fn(ctx, f) }

type Change string

const (
	ChangePoolInitialised Change = "PEER_POOL_INITIALISED"
	ChangeReloadNonce     Change = "PEER_RELOAD_NONCE"
)

// Changes returns what moved between two snapshots.
func Changes(prev, cur Facts) []Change {
	out := []Change{}
	if cur.PoolInitialised && !prev.PoolInitialised {
		out = append(out, ChangePoolInitialised)
	}

	if cur.ReloadNonce > prev.ReloadNonce {
		out = append(out, ChangeReloadNonce)
	}

	return out
}

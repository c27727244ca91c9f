package peer

import (
	"context"

	"github.com/golang/glog"
)

// Coordinator publishes fact changes and notifies the peers.
type Coordinator struct {
	Channel  Channel
	Notifier Notifier // optional
}

func (c *Coordinator) Observe(ctx context.Context) (Facts, error) {
	return c.Channel.Observe(ctx)
}

// InitialisePool sets the pool-initialised latch.
func (c *Coordinator) InitialisePool(ctx context.Context) (Facts, error) {
	return c.update(ctx, func(f *Facts) { f.PoolInitialised = true })
}

// TriggerReload bumps the reload nonce so that every node reloads its
// exports. Two concurrent bumps may land on the same value; that is still
// a change for everyone else.
func (c *Coordinator) TriggerReload(ctx context.Context) (Facts, error) {
	return c.update(ctx, func(f *Facts) { f.ReloadNonce++ })
}

func (c *Coordinator) update(ctx context.Context, fn func(*Facts)) (Facts, error) {
	f, err := c.Channel.Observe(ctx)
	if err != nil {
		return f, err
	}

	fn(&f)
	if err := c.Channel.Publish(ctx, f); err != nil {
		return f, err
	}

	if c.Notifier != nil {
		if err := c.Notifier.Notify(ctx, f); err != nil {
			glog.Warningf("peer notify failed, watchers will catch up: %v", err)
		}
	}

	return f, nil
}

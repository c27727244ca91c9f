package peer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeIsMonotone(t *testing.T) {
	for _, tc := range []struct {
		name string
		a, b Facts
		want Facts
	}{
		{"zero", Facts{}, Facts{}, Facts{}},
		{"latch stays", Facts{PoolInitialised: true}, Facts{}, Facts{PoolInitialised: true}},
		{"latch set", Facts{}, Facts{PoolInitialised: true}, Facts{PoolInitialised: true}},
		{"nonce max", Facts{ReloadNonce: 5}, Facts{ReloadNonce: 3}, Facts{ReloadNonce: 5}},
		{"both", Facts{ReloadNonce: 1}, Facts{PoolInitialised: true, ReloadNonce: 2}, Facts{PoolInitialised: true, ReloadNonce: 2}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Merge(tc.a, tc.b))
			assert.Equal(t, tc.want, Merge(tc.b, tc.a))
		})
	}
}

func TestChanges(t *testing.T) {
	assert.Empty(t, Changes(Facts{}, Facts{}))
	assert.Empty(t, Changes(Facts{PoolInitialised: true, ReloadNonce: 2}, Facts{PoolInitialised: true, ReloadNonce: 2}))
	assert.Equal(t, []Change{ChangePoolInitialised, ChangeReloadNonce},
		Changes(Facts{}, Facts{PoolInitialised: true, ReloadNonce: 1}))
	assert.Equal(t, []Change{ChangeReloadNonce}, Changes(Facts{ReloadNonce: 1}, Facts{ReloadNonce: 3}))
}

func TestMemoryChannelLatchNeverResets(t *testing.T) {
	ctx := context.Background()
	ch := &MemoryChannel{}
	require.NoError(t, ch.Publish(ctx, Facts{PoolInitialised: true}))
	require.NoError(t, ch.Publish(ctx, Facts{ReloadNonce: 2}))
	require.NoError(t, ch.Publish(ctx, Facts{ReloadNonce: 1}))

	f, err := ch.Observe(ctx)
	require.NoError(t, err)
	assert.Equal(t, Facts{PoolInitialised: true, ReloadNonce: 2}, f)
}

func TestCoordinatorConcurrentInitialise(t *testing.T) {
	ctx := context.Background()
	ch := &MemoryChannel{}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &Coordinator{Channel: ch}
			_, err := c.InitialisePool(ctx)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()
	f, _ := ch.Observe(ctx)
	assert.True(t, f.PoolInitialised)
}

func TestCoordinatorNotifies(t *testing.T) {
	ctx := context.Background()
	var got []Facts
	c := &Coordinator{
		Channel: &MemoryChannel{},
		Notifier: NotifyFunc(func(ctx context.Context, f Facts) error {
			got = append(got, f)
			return errors.New("ignored")
		}),
	}

	_, err := c.TriggerReload(ctx)
	require.NoError(t, err)
	f, err := c.TriggerReload(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), f.ReloadNonce)
	assert.Equal(t, []Facts{{ReloadNonce: 1}, {ReloadNonce: 2}}, got)
}

func TestCoordinatorPublishFailure(t *testing.T) {
	notified := false
	c := &Coordinator{
		Channel: &MemoryChannel{Fail: func(op string) error {
			if op == "publish" {
				return errors.New("unavailable")
			}

			return nil
		}},
		Notifier: NotifyFunc(func(ctx context.Context, f Facts) error {
			notified = true
			return nil
		}),
	}

	_, err := c.InitialisePool(context.Background())
	assert.Error(t, err)
	assert.False(t, notified)
}

func TestWatcherDeliversOncePerChange(t *testing.T) {
	ctx := context.Background()
	ch := &MemoryChannel{}
	var changes []Change
	w := &Watcher{Channel: ch, OnChange: func(c Change, cur Facts) { changes = append(changes, c) }}

	require.NoError(t, w.Check(ctx))
	assert.Empty(t, changes)

	require.NoError(t, ch.Publish(ctx, Facts{PoolInitialised: true}))
	require.NoError(t, w.Check(ctx))
	require.NoError(t, w.Check(ctx))
	assert.Equal(t, []Change{ChangePoolInitialised}, changes)

	// A notification ahead of the store, then a stale poll.
	w.Offer(Facts{PoolInitialised: true, ReloadNonce: 1})
	require.NoError(t, w.Check(ctx))
	assert.Equal(t, []Change{ChangePoolInitialised, ChangeReloadNonce}, changes)
	assert.Equal(t, Facts{PoolInitialised: true, ReloadNonce: 1}, w.Last())
}

func TestWatcherLateStarterSeesLatch(t *testing.T) {
	ctx := context.Background()
	ch := &MemoryChannel{}
	require.NoError(t, ch.Publish(ctx, Facts{PoolInitialised: true, ReloadNonce: 4}))

	var changes []Change
	w := &Watcher{Channel: ch, OnChange: func(c Change, cur Facts) { changes = append(changes, c) }}
	require.NoError(t, w.Check(ctx))
	assert.Equal(t, []Change{ChangePoolInitialised, ChangeReloadNonce}, changes)
}

package controller

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alphauslabs/nfsgw/internal/bootstrap"
	"github.com/alphauslabs/nfsgw/internal/config"
	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/state"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolFact(p storage.PoolFact) Fact { return Fact{Kind: PoolsAvailable, Pool: &p} }

func TestTable(t *testing.T) {
	assert.Equal(t, []string{"request-pool"}, Observers(BrokerAvailable))
	assert.Equal(t, []string{"render-config", "setup-cluster"}, Observers(PoolsAvailable))
	assert.Equal(t, []string{"refresh"}, Observers(ConfigChanged))
	assert.Equal(t, []string{"render-config"}, Observers(Upgrade))
	assert.Equal(t, []string{"pool-initialised"}, Observers(PeerPoolInitialised))
	assert.Equal(t, []string{"peer-departing"}, Observers(PeerDeparting))
	assert.Equal(t, []string{"reload-nonce"}, Observers(PeerReloadNonce))
	assert.Equal(t, []string{"setup-cluster"}, Observers(LeaderBootstrap))
	assert.Equal(t, []string{"departing"}, Observers(NodeDeparting))
}

func TestBrokerAvailableRequestsPool(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	rs := n.c.Dispatch(context.Background(), Fact{Kind: BrokerAvailable})
	assert.Equal(t, map[string]Outcome{"request-pool": Done}, outcomes(rs))
	assert.Len(t, n.runner.Matching("osd pool create ceph-nfs"), 1)
	assert.Len(t, n.runner.Matching("osd pool application enable ceph-nfs ganesha"), 1)
	assert.Len(t, n.runner.Matching("auth get-or-create client.ceph-nfs"), 1)
}

func TestPoolUnavailableDefers(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", true)
	ctx := context.Background()

	rs := n.c.Dispatch(ctx, poolFact(storage.PoolFact{}))
	assert.Equal(t, map[string]Outcome{"render-config": Defer, "setup-cluster": Defer}, outcomes(rs))
	assert.True(t, errors.Is(rs[0].Err, ErrNotReady))
	require.Len(t, n.c.Pending(), 2)
	assert.Equal(t, Unconfigured, n.c.Status().Phase)
	assert.Contains(t, n.c.Status().Message, "Not yet converged")
	assert.Empty(t, n.runner.Calls())

	// Redelivery still not ready: backs off further.
	n.redeliver()
	assert.Len(t, n.after.pauses, 4)
	assert.Equal(t, 2, n.after.stopped)

	// A fresh fact supersedes the pending redeliveries.
	rs = n.c.Dispatch(ctx, poolFact(availablePool))
	assert.Equal(t, map[string]Outcome{"render-config": Done, "setup-cluster": Done}, outcomes(rs))
	assert.Empty(t, n.c.Pending())
	assert.Equal(t, Active, n.c.Status().Phase)
	assert.Equal(t, "Unit is ready", n.c.Status().Message)
}

func TestRedeliveryRunsOnlyTheDeferredObserver(t *testing.T) {
	cl := newCluster()
	cl.fail = func(cmd string) error {
		if strings.Contains(cmd, " add ") {
			return errBoom
		}

		return nil
	}

	n := newNode(t, cl, "node-0", false)
	rs := n.c.Dispatch(context.Background(), poolFact(availablePool))
	assert.Equal(t, map[string]Outcome{"render-config": Done, "setup-cluster": Defer}, outcomes(rs))
	assert.True(t, errors.Is(rs[1].Err, ErrTransient))
	assert.False(t, n.c.State().IsClusterSetup)
	assert.Equal(t, Configured, n.c.Status().Phase)

	cl.mu.Lock()
	cl.fail = nil
	cl.mu.Unlock()
	n.svc.Reset()

	rs = n.redeliver()
	assert.Equal(t, map[string]Outcome{"setup-cluster": Done}, outcomes(rs))
	assert.True(t, n.c.State().IsClusterSetup)
	assert.Empty(t, n.svc.Calls(), "render-config must not run again")
}

func TestIdempotentJoin(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	ctx := context.Background()

	n.c.Dispatch(ctx, poolFact(availablePool))
	n.c.Dispatch(ctx, poolFact(availablePool))
	assert.Len(t, n.runner.Matching("ganesha-rados-grace", "add node-0"), 1)
	assert.Equal(t, 1, n.svc.Count("restart nfs-ganesha"), "second render changes nothing")

	// Crash after the add succeeded but before the flag was persisted.
	cl2 := newCluster()
	m := newNode(t, cl2, "node-1", false)
	m.store.Fail = errBoom
	m.c.Dispatch(ctx, poolFact(availablePool))
	require.True(t, cl2.isMember("node-1"))
	m.store.Fail = nil
	m.start(t)
	assert.False(t, m.c.State().IsClusterSetup)

	rs := m.c.Dispatch(ctx, poolFact(availablePool))
	assert.Equal(t, Done, outcomes(rs)["setup-cluster"])
	assert.True(t, m.c.State().IsClusterSetup)
	assert.Len(t, m.runner.Matching("ganesha-rados-grace", "add node-1"), 1)
}

func TestRestartFailureIsFatal(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	n.svc.Fail = func(call string) error {
		if strings.HasPrefix(call, "restart") {
			return errBoom
		}

		return nil
	}

	rs := n.c.Dispatch(context.Background(), Fact{Kind: Upgrade})
	assert.Equal(t, Defer, rs[0].Outcome, "no pool yet")

	rs = n.c.Dispatch(context.Background(), poolFact(availablePool))
	assert.Equal(t, Fatal, outcomes(rs)["render-config"])
	assert.False(t, n.c.State().IsStarted)
	for _, f := range n.c.Pending() {
		assert.False(t, f.Kind == PoolsAvailable && f.Observer == "render-config", "fatal is not retried")
	}

	assert.NotEmpty(t, n.c.Status().FatalError)
}

func TestConfigChanged(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	ctx := context.Background()

	// Broker not reachable yet and no pool: nothing to do.
	rs := n.c.Dispatch(ctx, Fact{Kind: ConfigChanged})
	assert.Equal(t, Done, rs[0].Outcome)
	assert.Empty(t, n.runner.Calls())

	n.c.Dispatch(ctx, Fact{Kind: BrokerAvailable})
	n.runner.Reset()

	bad := config.Defaults("ceph-nfs")
	bad.Compression.Mode = "sometimes"
	rs = n.c.Dispatch(ctx, Fact{Kind: ConfigChanged, Options: &bad})
	assert.Equal(t, Done, rs[0].Outcome)
	assert.True(t, errors.Is(rs[0].Err, ErrConfiguration))
	assert.Empty(t, n.c.Pending())
	assert.Contains(t, n.c.Status().Message, "Invalid configuration")
	assert.Empty(t, n.runner.Calls())

	good := config.Defaults("ceph-nfs")
	good.Replicas = 2
	rs = n.c.Dispatch(ctx, Fact{Kind: ConfigChanged, Options: &good})
	assert.NoError(t, rs[0].Err)
	assert.Len(t, n.runner.Matching("osd pool set ceph-nfs size 2"), 1)
	assert.Empty(t, n.c.Status().ConfigError)
}

func TestUpgradeDetected(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	n.store.Save("ceph-nfs", state.State{IsStarted: true, Version: "old"})
	n.start(t)

	assert.Equal(t, "test", n.store.states["ceph-nfs"].Version)
	ctx := context.Background()
	require.True(t, n.c.Step(ctx))
	assert.False(t, n.c.Step(ctx))
	require.Len(t, n.c.Pending(), 1)
	assert.Equal(t, Upgrade, n.c.Pending()[0].Kind)
}

func TestPoolInitialisedRestartsOnce(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	ctx := context.Background()
	latch := &peer.Facts{PoolInitialised: true}

	rs := n.c.Dispatch(ctx, Fact{Kind: PeerPoolInitialised, Peers: latch})
	assert.Equal(t, Defer, rs[0].Outcome, "not started yet")

	n.c.Dispatch(ctx, poolFact(availablePool))
	n.svc.Reset()
	n.redeliver()
	n.c.Dispatch(ctx, Fact{Kind: PeerPoolInitialised, Peers: latch})
	assert.Equal(t, 1, n.svc.Count("restart nfs-ganesha"))
	assert.True(t, n.c.State().PoolInitialisedSeen)
}

func TestReloadNonce(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	ctx := context.Background()
	n.c.Dispatch(ctx, poolFact(availablePool))
	n.svc.Reset()

	// Two bumps observed together collapse into one reload.
	require.NoError(t, cl.ch.Publish(ctx, peer.Facts{ReloadNonce: 2}))
	n.sync(t)
	n.c.Dispatch(ctx, Fact{Kind: PeerReloadNonce, Peers: &peer.Facts{ReloadNonce: 2}})
	assert.Equal(t, 1, n.svc.Count("reload ganesha.nfsd"))
	assert.Equal(t, uint64(2), n.c.State().ReloadNonce)

	// Without a payload, the observer reads the channel.
	require.NoError(t, cl.ch.Publish(ctx, peer.Facts{ReloadNonce: 3}))
	n.c.Dispatch(ctx, Fact{Kind: PeerReloadNonce})
	assert.Equal(t, 2, n.svc.Count("reload ganesha.nfsd"))
	assert.Equal(t, uint64(3), n.store.states["ceph-nfs"].ReloadNonce)
}

func TestReloadNonceBeforeStartOnlyRecords(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	rs := n.c.Dispatch(context.Background(), Fact{Kind: PeerReloadNonce, Peers: &peer.Facts{ReloadNonce: 1}})
	assert.Equal(t, Done, rs[0].Outcome)
	assert.Empty(t, n.svc.Calls())
	assert.Equal(t, uint64(1), n.c.State().ReloadNonce)
}

func TestLeaveAlwaysRuns(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	ctx := context.Background()
	n.c.Dispatch(ctx, poolFact(availablePool))
	require.True(t, n.c.State().IsClusterSetup)

	n.c.Dispatch(ctx, poolFact(storage.PoolFact{})) // leaves deferrals behind
	cl.mu.Lock()
	cl.fail = func(cmd string) error {
		if strings.Contains(cmd, " remove ") {
			return errBoom
		}

		return nil
	}
	cl.mu.Unlock()

	rs, err := n.c.Decommission(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Outcome{"departing": Done}, outcomes(rs))
	assert.Len(t, n.runner.Matching("remove node-0"), 1)
	assert.False(t, n.c.State().IsClusterSetup)
	assert.False(t, n.store.states["ceph-nfs"].IsClusterSetup)
	assert.Empty(t, n.c.Pending())
	assert.Equal(t, Terminated, n.c.Status().Phase)

	// Terminal: no retry of the leave, every fact dropped.
	assert.Nil(t, n.c.Dispatch(ctx, poolFact(availablePool)))
	assert.Len(t, n.runner.Matching("remove node-0"), 1)
	_, err = n.c.Decommission(ctx)
	assert.True(t, errors.Is(err, ErrTerminated))
}

func TestLeaveRunsWithoutClusterSetup(t *testing.T) {
	cl := newCluster()
	cl.fail = func(cmd string) error {
		if strings.Contains(cmd, " add ") {
			return errBoom
		}

		return nil
	}

	n := newNode(t, cl, "node-0", false)
	ctx := context.Background()
	rs := n.c.Dispatch(ctx, poolFact(availablePool))
	require.Equal(t, Defer, outcomes(rs)["setup-cluster"])
	require.False(t, n.c.State().IsClusterSetup)

	rs, err := n.c.Decommission(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]Outcome{"departing": Done}, outcomes(rs))
	assert.Len(t, n.runner.Matching("ganesha-rados-grace", "remove node-0"), 1)
	assert.False(t, n.c.State().IsClusterSetup)
	assert.False(t, n.store.states["ceph-nfs"].IsClusterSetup)
	assert.Equal(t, Terminated, n.c.Status().Phase)
}

func TestBootstrapNeverRepeatsOnceLatchSeen(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", true)
	ctx := context.Background()

	n.c.Dispatch(ctx, poolFact(availablePool))
	_, err := n.c.CreateShare(ctx, "s1", 1)
	require.NoError(t, err)
	index, ok := cl.objs.Object("ceph-nfs", bootstrap.IndexObject)
	require.True(t, ok)
	require.Contains(t, string(index), "ganesha-export-1000")
	counter, _ := cl.objs.Object("ceph-nfs", bootstrap.CounterObject)

	// The shared channel loses the latch.
	n.cfg.Peers.(*peer.Coordinator).Channel = &peer.MemoryChannel{}
	rs := n.c.Dispatch(ctx, Fact{Kind: LeaderBootstrap})
	assert.Equal(t, Done, outcomes(rs)["setup-cluster"])
	got, _ := cl.objs.Object("ceph-nfs", bootstrap.IndexObject)
	assert.Equal(t, string(index), string(got))

	// Same after a restart, from the persisted state alone.
	n.c.Dispatch(ctx, Fact{Kind: PeerPoolInitialised, Peers: &peer.Facts{PoolInitialised: true}})
	require.True(t, n.store.states["ceph-nfs"].PoolInitialisedSeen)
	n.start(t)
	n.c.Dispatch(ctx, poolFact(availablePool))
	n.c.Dispatch(ctx, Fact{Kind: LeaderBootstrap})

	got, _ = cl.objs.Object("ceph-nfs", bootstrap.IndexObject)
	assert.Equal(t, string(index), string(got))
	gotCounter, _ := cl.objs.Object("ceph-nfs", bootstrap.CounterObject)
	assert.Equal(t, string(counter), string(gotCounter))
	f, _ := n.cfg.Peers.Observe(ctx)
	assert.False(t, f.PoolInitialised, "no bootstrap, no latch write")
}

func TestDeliverNeverBlocks(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-0", false)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 300; i++ {
			n.c.Deliver(Fact{Kind: PeerDeparting, From: "node-1"})
		}

		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("Deliver blocked on a full queue")
	}

	ctx := context.Background()
	steps := 0
	assert.Eventually(t, func() bool {
		for n.c.Step(ctx) {
			steps++
		}

		return steps == 300
	}, time.Second*5, time.Millisecond*10)
}

func TestLeadershipGating(t *testing.T) {
	cl := newCluster()
	n := newNode(t, cl, "node-1", false)
	ctx := context.Background()

	_, err := n.c.CreateShare(ctx, "share1", 1)
	require.True(t, errors.Is(err, ErrNotLeader))
	assert.Contains(t, err.Error(), "Share creation needs to be run from the application leader")
	assert.Empty(t, n.runner.Calls())
	assert.Empty(t, cl.objs.Writes())
	f, _ := cl.ch.Observe(ctx)
	assert.Equal(t, peer.Facts{}, f)

	assert.True(t, errors.Is(n.c.DeleteShare(ctx, "share1"), ErrNotLeader))
	assert.Empty(t, n.runner.Calls())

	// Non-leaders join grace but never bootstrap.
	n.c.Dispatch(ctx, poolFact(availablePool))
	n.c.Dispatch(ctx, Fact{Kind: LeaderBootstrap})
	assert.Empty(t, cl.objs.Writes())
}

func TestAdvertisedAddress(t *testing.T) {
	ip, err := AdvertisedAddress(true, "10.0.0.100", "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.100", ip)

	ip, err = AdvertisedAddress(false, "10.0.0.100", "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", ip)

	_, err = AdvertisedAddress(true, "", "")
	assert.True(t, errors.Is(err, ErrConfiguration))
}

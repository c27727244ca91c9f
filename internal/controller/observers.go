package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/alphauslabs/nfsgw/internal/bootstrap"
	"github.com/alphauslabs/nfsgw/internal/metrics"
	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/render"
	"github.com/alphauslabs/nfsgw/internal/service"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/golang/glog"
)

const ganeshaApp = "ganesha"

type observer struct {
	name string
	fn   func(*Controller, context.Context, Fact) error
}

var (
	obsRequestPool     = observer{"request-pool", doRequestPool}
	obsRenderConfig    = observer{"render-config", doRenderConfig}
	obsSetupCluster    = observer{"setup-cluster", doSetupCluster}
	obsRefresh         = observer{"refresh", doRefresh}
	obsPoolInitialised = observer{"pool-initialised", doPoolInitialised}
	obsPeerDeparting   = observer{"peer-departing", doPeerDeparting}
	obsReloadNonce     = observer{"reload-nonce", doReloadNonce}
	obsDeparting       = observer{"departing", doDeparting}

	// Observers per fact kind, run in order.
	table = map[Kind][]observer{
		BrokerAvailable:     {obsRequestPool},
		PoolsAvailable:      {obsRenderConfig, obsSetupCluster},
		ConfigChanged:       {obsRefresh},
		Upgrade:             {obsRenderConfig},
		PeerPoolInitialised: {obsPoolInitialised},
		PeerDeparting:       {obsPeerDeparting},
		PeerReloadNonce:     {obsReloadNonce},
		LeaderBootstrap:     {obsSetupCluster},
		NodeDeparting:       {obsDeparting},
	}
)

// Observers returns the observer names registered for kind, in order.
func Observers(kind Kind) []string {
	out := []string{}
	for _, o := range table[kind] {
		out = append(out, o.name)
	}

	return out
}

func doRequestPool(c *Controller, ctx context.Context, f Fact) error {
	opts := c.cfg.Options.Get()
	comp, err := storage.CompressionSettings(opts.Compression)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	err = c.cfg.Broker.RequestReplicatedPool(ctx, storage.PoolRequest{
		Name:        opts.PoolName,
		App:         ganeshaApp,
		Replicas:    opts.Replicas,
		Weight:      opts.PoolWeight,
		Compression: comp,
	})

	switch {
	case errors.Is(err, storage.ErrInvalidOption):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	case err != nil:
		return fmt.Errorf("%w: request pool: %w", ErrTransient, err)
	}

	err = c.cfg.Broker.RequestPermissions(ctx, c.cfg.Node.Name, storage.Capabilities)
	if err != nil {
		return fmt.Errorf("%w: request permissions: %w", ErrTransient, err)
	}

	return nil
}

func (c *Controller) renderContext() render.Context {
	return render.Context{
		PoolFact: c.pool,
		PoolName: c.cfg.Options.Get().PoolName,
		Client:   c.cfg.Node.Name,
		Hostname: c.cfg.Node.Hostname,
		CephConf: c.cfg.CephConf,
	}
}

// renderConfig writes the config set and marks the node started.
func (c *Controller) renderConfig(ctx context.Context) error {
	if !c.pool.Available {
		return fmt.Errorf("%w: pool unavailable, deferring setup", ErrNotReady)
	}

	c.rendering = true
	res, err := c.cfg.Renderer.Render(ctx, c.renderContext())
	var re *render.RestartError
	switch {
	case errors.Is(err, render.ErrPoolUnavailable):
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	case errors.As(err, &re):
		return fmt.Errorf("%w: %w", ErrFatal, err)
	case err != nil:
		return fmt.Errorf("%w: render: %w", ErrTransient, err)
	}

	for _, s := range res.Restarted {
		metrics.ServiceRestarts.WithLabelValues(s).Inc()
	}

	c.st.IsStarted = true
	return nil
}

func doRenderConfig(c *Controller, ctx context.Context, f Fact) error {
	return c.renderConfig(ctx)
}

// Join the grace database once, then, on the leader, create the shared
// export objects unless a peer already did.
func doSetupCluster(c *Controller, ctx context.Context, f Fact) error {
	if !c.pool.Available {
		return fmt.Errorf("%w: pool unavailable", ErrNotReady)
	}

	if !c.st.IsClusterSetup {
		if err := c.cfg.Grace.Join(ctx); err != nil {
			return fmt.Errorf("%w: grace join: %w", ErrTransient, err)
		}

		c.st.IsClusterSetup = true
	}

	if !c.cfg.Leadership.IsLeader() {
		return nil
	}

	// Once seen, the latch holds even if the channel forgets it.
	if c.peers.PoolInitialised || c.st.PoolInitialisedSeen {
		return nil
	}

	ran, err := c.cfg.Bootstrap.Run(ctx)
	switch {
	case errors.Is(err, bootstrap.ErrNotLeader):
		return nil // lost it in between; the new leader does it
	case err != nil:
		return fmt.Errorf("%w: bootstrap: %w", ErrTransient, err)
	}

	if ran {
		c.peers.PoolInitialised = true
	}

	return nil
}

// Render if we can, then ask for the pool again with the new options.
func doRefresh(c *Controller, ctx context.Context, f Fact) error {
	var errRender, errPool error
	if c.pool.Available {
		errRender = c.renderConfig(ctx)
	}

	if c.broker {
		errPool = doRequestPool(c, ctx, f)
	} else {
		glog.Infof("broker not available, cannot request pool at this time")
	}

	if errRender != nil {
		return errRender
	}

	return errPool
}

func doPoolInitialised(c *Controller, ctx context.Context, f Fact) error {
	if c.st.PoolInitialisedSeen {
		return nil
	}

	if !c.st.IsStarted {
		return fmt.Errorf("%w: config not rendered yet", ErrNotReady)
	}

	if err := c.cfg.Services.Restart(ctx, service.Ganesha); err != nil {
		return fmt.Errorf("%w: restart %v: %w", ErrTransient, service.Ganesha, err)
	}

	metrics.ServiceRestarts.WithLabelValues(service.Ganesha).Inc()
	c.st.PoolInitialisedSeen = true
	return nil
}

func doPeerDeparting(c *Controller, ctx context.Context, f Fact) error {
	glog.Infof("peer %v is departing", f.From)
	metrics.PeerDepartures.Inc()
	return nil
}

// Apply a reload nonce we have not applied yet: re-render and ask the NFS
// server to re-read its exports. Several bumps seen together collapse into
// one reload.
func doReloadNonce(c *Controller, ctx context.Context, f Fact) error {
	if f.Peers == nil {
		obs, err := c.cfg.Peers.Observe(ctx)
		if err != nil {
			return fmt.Errorf("%w: observe peers: %w", ErrTransient, err)
		}

		c.peers = peer.Merge(c.peers, obs)
	}

	n := c.peers.ReloadNonce
	if n == c.st.ReloadNonce {
		return nil
	}

	if !c.st.IsStarted {
		// Nothing is serving yet; the first render loads every export.
		c.st.ReloadNonce = n
		return nil
	}

	if err := c.renderConfig(ctx); err != nil {
		return err
	}

	glog.Infof("reloading %v after nonce %v", service.GaneshaDaemon, n)
	if err := c.cfg.Services.Reload(ctx, service.GaneshaDaemon); err != nil {
		glog.Warningf("reload %v failed: %v", service.GaneshaDaemon, err)
	}

	metrics.ExportReloads.Inc()
	c.st.ReloadNonce = n
	return nil
}

// Leave the grace database and stop. The leave is attempted exactly once; if
// it fails the stale member has to be removed by hand.
func doDeparting(c *Controller, ctx context.Context, f Fact) error {
	c.leaving = true
	c.publish()
	if err := c.cfg.Grace.Leave(ctx); err != nil {
		glog.Errorf("grace leave failed, remove %v manually: %v", c.cfg.Node.Hostname, err)
	}

	c.st.IsClusterSetup = false
	if c.cfg.Announcer != nil {
		if err := c.cfg.Announcer.AnnounceDeparture(ctx); err != nil {
			glog.Warningf("announce departure failed: %v", err)
		}
	}

	for k, d := range c.pending {
		d.stop()
		delete(c.pending, k)
	}

	c.terminal = true
	return nil
}

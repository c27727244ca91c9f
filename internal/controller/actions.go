package controller

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

type ShareResult struct {
	Message string `json:"message"`
	Path    string `json:"path"`
	Ip      string `json:"ip"`
}

func (c *Controller) guard(leaderOnly bool, what string) error {
	if c.terminal {
		return ErrTerminated
	}

	if leaderOnly && !c.cfg.Leadership.IsLeader() {
		return fmt.Errorf("%w: %v needs to be run from the application leader", ErrNotLeader, what)
	}

	return nil
}

// CreateShare creates and exports a share, then has every node reload its
// exports. Leader only; other nodes fail without any external call.
func (c *Controller) CreateShare(ctx context.Context, name string, sizeGiB int) (ShareResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out ShareResult
	if err := c.guard(true, "Share creation"); err != nil {
		return out, err
	}

	ctx = context.WithoutCancel(ctx)
	e, err := c.cfg.Exports.Create(ctx, name, sizeGiB)
	if err != nil {
		return out, err
	}

	if _, err := c.cfg.Peers.TriggerReload(ctx); err != nil {
		// The share exists; nodes still pick it up from the watched index.
		glog.Errorf("trigger reload after creating %v failed: %v", e.Name, err)
	}

	ip, err := c.cfg.Address()
	if err != nil {
		glog.Errorf("advertised address: %v", err)
	}

	return ShareResult{Message: "Share created", Path: e.Path, Ip: ip}, nil
}

// ListShares returns the exports as a YAML sequence of {id, name, path}.
func (c *Controller) ListShares(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(false, ""); err != nil {
		return "", err
	}

	return c.cfg.Exports.ListYAML(context.WithoutCancel(ctx))
}

// DeleteShare removes a share. Leader only.
func (c *Controller) DeleteShare(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.guard(true, "Share deletion"); err != nil {
		return err
	}

	ctx = context.WithoutCancel(ctx)
	if err := c.cfg.Exports.Delete(ctx, name); err != nil {
		return err
	}

	if _, err := c.cfg.Peers.TriggerReload(ctx); err != nil {
		glog.Errorf("trigger reload after deleting %v failed: %v", name, err)
	}

	return nil
}

// Decommission takes this node out of the cluster. The controller drops
// every fact afterwards.
func (c *Controller) Decommission(ctx context.Context) ([]Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.terminal {
		return nil, ErrTerminated
	}

	return c.dispatch(context.WithoutCancel(ctx), Fact{Kind: NodeDeparting}), nil
}

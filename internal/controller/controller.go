// Package controller is the convergence controller of a gateway node. It
// receives external facts, runs the observers registered for each fact kind
// one at a time, and keeps the node's persisted convergence state.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alphauslabs/nfsgw/internal"
	"github.com/alphauslabs/nfsgw/internal/config"
	"github.com/alphauslabs/nfsgw/internal/ganesha"
	"github.com/alphauslabs/nfsgw/internal/metrics"
	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/render"
	"github.com/alphauslabs/nfsgw/internal/service"
	"github.com/alphauslabs/nfsgw/internal/state"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/golang/glog"
	gaxv2 "github.com/googleapis/gax-go/v2"
)

// Node identifies this gateway. Name is the application (and storage client)
// identity shared by all nodes; Hostname is our own grace identity.
type Node struct {
	Name     string
	Hostname string
}

type Leadership interface {
	IsLeader() bool
}

type StateStore interface {
	Load(node string) (state.State, error)
	Save(node string, st state.State) error
}

type Renderer interface {
	Render(ctx context.Context, in render.Context) (render.Result, error)
}

type Grace interface {
	Join(ctx context.Context) error
	Leave(ctx context.Context) error
}

type Bootstrapper interface {
	Run(ctx context.Context) (bool, error)
}

type Peers interface {
	Observe(ctx context.Context) (peer.Facts, error)
	InitialisePool(ctx context.Context) (peer.Facts, error)
	TriggerReload(ctx context.Context) (peer.Facts, error)
}

type Exports interface {
	Create(ctx context.Context, name string, sizeGiB int) (ganesha.Export, error)
	ListYAML(ctx context.Context) (string, error)
	Delete(ctx context.Context, name string) error
}

// Announcer tells the other nodes that we are leaving.
type Announcer interface {
	AnnounceDeparture(ctx context.Context) error
}

type Config struct {
	Node     Node
	Version  string // build version, for upgrade detection
	CephConf string
	Options  *config.Live

	Store      StateStore
	Broker     storage.Broker
	Renderer   Renderer
	Services   service.Manager
	Grace      Grace
	Bootstrap  Bootstrapper
	Peers      Peers
	Exports    Exports
	Leadership Leadership
	Announcer  Announcer // optional
	Address    func() (string, error)

	// Pacing of redeliveries, copied per observer. Zero uses defaults.
	Backoff gaxv2.Backoff

	// After runs fn after d and returns a stop function. Defaults to
	// time.AfterFunc.
	After func(d time.Duration, fn func()) func() bool
}

type deferral struct {
	fact Fact
	stop func() bool
}

type Controller struct {
	cfg   Config
	queue chan Fact
	done  chan struct{}

	mu        sync.Mutex // one dispatch or action at a time
	st        state.State
	saved     state.State
	dirty     bool
	pool      storage.PoolFact
	broker    bool
	peers     peer.Facts
	rendering bool
	leaving   bool
	terminal  bool
	lastConf  error
	lastFatal error
	pending   map[string]*deferral
	backoffs  map[string]*gaxv2.Backoff

	smu    sync.RWMutex
	status Status
}

func New(cfg Config) *Controller {
	if cfg.Backoff.Initial == 0 {
		cfg.Backoff = gaxv2.Backoff{Initial: time.Second * 2, Max: time.Minute * 2, Multiplier: 2}
	}

	if cfg.After == nil {
		cfg.After = func(d time.Duration, fn func()) func() bool {
			return time.AfterFunc(d, fn).Stop
		}
	}

	c := &Controller{
		cfg:      cfg,
		queue:    make(chan Fact, 128),
		done:     make(chan struct{}),
		pending:  map[string]*deferral{},
		backoffs: map[string]*gaxv2.Backoff{},
	}

	c.publish()
	return c
}

// Start loads the persisted state. It reports an upgrade when the state was
// written by a different build.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, err := c.cfg.Store.Load(c.cfg.Node.Name)
	if err != nil {
		return err
	}

	c.st, c.saved = st, st
	if c.cfg.Version != "" && st.Version != c.cfg.Version {
		if st.Version != "" {
			glog.Infof("upgrade detected: %v -> %v", st.Version, c.cfg.Version)
			c.Deliver(Fact{Kind: Upgrade})
		}

		c.st.Version = c.cfg.Version
		c.save()
	}

	c.publish()
	return nil
}

// Deliver queues a fact for the dispatch loop and never blocks: facts that
// do not fit in the queue are handed off until there is room or the loop
// has stopped. Broadcast handlers call this while a dispatch is running.
func (c *Controller) Deliver(f Fact) {
	select {
	case c.queue <- f:
	case <-c.done:
	default:
		go c.handoff(f)
	}
}

func (c *Controller) handoff(f Fact) {
	select {
	case c.queue <- f:
	case <-c.done:
	}
}

// Run dispatches queued facts until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			return
		case f := <-c.queue:
			c.Dispatch(ctx, f)
		}
	}
}

// Step dispatches one queued fact, if any, and reports whether it did.
func (c *Controller) Step(ctx context.Context) bool {
	select {
	case f := <-c.queue:
		c.Dispatch(ctx, f)
		return true
	default:
		return false
	}
}

// Dispatch runs the observers of f and returns their outcomes. External
// calls made by observers are not cancelled with ctx.
func (c *Controller) Dispatch(ctx context.Context, f Fact) []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dispatch(context.WithoutCancel(ctx), f)
}

func (c *Controller) dispatch(ctx context.Context, f Fact) []Result {
	defer func(begin time.Time) {
		ms := float64(time.Since(begin)) / float64(time.Millisecond)
		metrics.DispatchLatency.WithLabelValues(string(f.Kind)).Observe(ms)
		glog.V(2).Infof("dispatch %v took %v", f.Kind, time.Since(begin))
	}(time.Now())

	if c.terminal {
		glog.V(1).Infof("terminated, dropping %v", f.Kind)
		return nil
	}

	observers, ok := table[f.Kind]
	if !ok {
		glog.Errorf("no observers for %v", f.Kind)
		return nil
	}

	if f.Observer == "" {
		c.apply(f)
	}

	results := []Result{}
	for _, o := range observers {
		if f.Observer != "" && f.Observer != o.name {
			continue
		}

		key := string(f.Kind) + "/" + o.name
		if d, ok := c.pending[key]; ok {
			d.stop() // this run supersedes it
			delete(c.pending, key)
		}

		err := o.fn(c, ctx, f)
		r := Result{Kind: f.Kind, Observer: o.name, Outcome: classify(err), Err: err}
		c.record(f, r)
		results = append(results, r)
		if c.terminal {
			break
		}
	}

	c.save()
	c.publish()
	return results
}

// apply folds the payload of a fresh fact into the snapshot.
func (c *Controller) apply(f Fact) {
	switch f.Kind {
	case BrokerAvailable:
		c.broker = true
	case PoolsAvailable:
		if f.Pool != nil {
			c.pool = *f.Pool
		}
	case ConfigChanged:
		if f.Options != nil {
			c.cfg.Options.Set(*f.Options)
		}

		c.lastConf = nil
	case PeerPoolInitialised, PeerReloadNonce:
		if f.Peers != nil {
			c.peers = peer.Merge(c.peers, *f.Peers)
		}
	}
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return Done
	case errors.Is(err, ErrFatal):
		return Fatal
	case errors.Is(err, ErrConfiguration):
		return Done // dropped, surfaced in status
	default:
		return Defer
	}
}

func (c *Controller) record(f Fact, r Result) {
	metrics.Dispatches.WithLabelValues(string(r.Kind), r.Observer, string(r.Outcome)).Inc()
	switch r.Outcome {
	case Done:
		delete(c.backoffs, r.Observer)
		if r.Err != nil {
			glog.Errorf("%v/%v: dropped: %v", r.Kind, r.Observer, r.Err)
			c.lastConf = r.Err
		}
	case Defer:
		if errors.Is(r.Err, ErrNotReady) {
			glog.Infof("%v/%v: deferred: %v", r.Kind, r.Observer, r.Err)
		} else {
			glog.Errorf("%v/%v: deferred: %v", r.Kind, r.Observer, r.Err)
		}

		c.schedule(f, r.Observer)
	case Fatal:
		glog.Errorf("%v/%v: fatal: %v", r.Kind, r.Observer, r.Err)
		c.lastFatal = r.Err
		internal.TraceSlack(fmt.Sprintf("[%v] %v/%v: %v", c.cfg.Node.Hostname, r.Kind, r.Observer, r.Err), "nfsgw fatal")
	}
}

// schedule redelivers f to observer alone after the observer's backoff.
func (c *Controller) schedule(f Fact, observer string) {
	bo, ok := c.backoffs[observer]
	if !ok {
		b := c.cfg.Backoff
		bo = &b
		c.backoffs[observer] = bo
	}

	next := Fact{Kind: f.Kind, Observer: observer, Attempt: f.Attempt + 1}
	key := string(f.Kind) + "/" + observer
	d := &deferral{fact: next}
	d.stop = c.cfg.After(bo.Pause(), func() { c.Deliver(next) })
	c.pending[key] = d
	metrics.Deferred.Set(float64(len(c.pending)))
}

func (c *Controller) stopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, d := range c.pending {
		d.stop()
		delete(c.pending, k)
	}

	metrics.Deferred.Set(0)
}

// Pending returns the deferred facts waiting for redelivery, sorted.
func (c *Controller) Pending() []Fact {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingFacts()
}

func (c *Controller) pendingFacts() []Fact {
	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	out := []Fact{}
	for _, k := range keys {
		out = append(out, c.pending[k].fact)
	}

	return out
}

// State returns a copy of the in-memory convergence state.
func (c *Controller) State() state.State {
	c.smu.RLock()
	defer c.smu.RUnlock()
	return c.status.State
}

// save persists the state when it changed. A failed save is retried after
// the next dispatch.
func (c *Controller) save() {
	if c.st == c.saved && !c.dirty {
		return
	}

	if err := c.cfg.Store.Save(c.cfg.Node.Name, c.st); err != nil {
		glog.Errorf("save state failed: %v", err)
		c.dirty = true
		return
	}

	c.saved, c.dirty = c.st, false
}

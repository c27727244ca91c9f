package controller

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alphauslabs/nfsgw/internal/bootstrap"
	"github.com/alphauslabs/nfsgw/internal/config"
	"github.com/alphauslabs/nfsgw/internal/ganesha"
	"github.com/alphauslabs/nfsgw/internal/grace"
	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/render"
	"github.com/alphauslabs/nfsgw/internal/service"
	"github.com/alphauslabs/nfsgw/internal/state"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/stretchr/testify/require"
)

var availablePool = storage.PoolFact{
	Available: true,
	MonHosts:  []string{"10.0.0.1:6789"},
	AuthMode:  "cephx",
	Key:       "AQBkey==",
}

type fakeLeader struct{ v int32 }

func (l *fakeLeader) IsLeader() bool { return atomic.LoadInt32(&l.v) == 1 }

func (l *fakeLeader) set(v bool) {
	var i int32
	if v {
		i = 1
	}

	atomic.StoreInt32(&l.v, i)
}

type memStore struct {
	mu     sync.Mutex
	states map[string]state.State
	saves  int
	Fail   error
}

func (m *memStore) Load(node string) (state.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[node], nil
}

func (m *memStore) Save(node string, st state.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}

	if m.states == nil {
		m.states = map[string]state.State{}
	}

	m.states[node] = st
	m.saves++
	return nil
}

// manualAfter records scheduled redeliveries instead of running them.
type manualAfter struct {
	mu      sync.Mutex
	pauses  []time.Duration
	stopped int
}

func (m *manualAfter) After(d time.Duration, fn func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pauses = append(m.pauses, d)
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.stopped++
		return true
	}
}

// cluster is what the nodes share: the storage objects, the grace database
// and the peer facts channel.
type cluster struct {
	mu      sync.Mutex
	members map[string]bool
	objs    *storage.MemoryObjects
	ch      *peer.MemoryChannel
	fail    func(cmd string) error
}

func newCluster() *cluster {
	return &cluster{
		members: map[string]bool{},
		objs:    &storage.MemoryObjects{},
		ch:      &peer.MemoryChannel{},
	}
}

func (cl *cluster) handle(cmd string) ([]byte, error) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.fail != nil {
		if err := cl.fail(cmd); err != nil {
			return nil, err
		}
	}

	f := strings.Fields(cmd)
	last := f[len(f)-1]
	switch {
	case strings.HasPrefix(cmd, grace.Command) && last == "dump":
		var b strings.Builder
		b.WriteString("cur=1 rec=0\n======\n")
		for m := range cl.members {
			b.WriteString(m + "\n")
		}

		return []byte(b.String()), nil
	case strings.HasPrefix(cmd, grace.Command) && f[len(f)-2] == "add":
		cl.members[last] = true
	case strings.HasPrefix(cmd, grace.Command) && f[len(f)-2] == "remove":
		delete(cl.members, last)
	case strings.Contains(cmd, "subvolume getpath"):
		return []byte("/volumes/_nogroup/" + last + "\n"), nil
	}

	return nil, nil
}

func (cl *cluster) isMember(host string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.members[host]
}

type node struct {
	c        *Controller
	runner   *storage.FakeRunner
	svc      *service.Fake
	store    *memStore
	leader   *fakeLeader
	after    *manualAfter
	watcher  *peer.Watcher
	opts     *config.Live
	hostname string
	cfg      Config
}

func newNode(t *testing.T, cl *cluster, hostname string, leader bool) *node {
	n := &node{
		runner:   &storage.FakeRunner{Handler: cl.handle},
		svc:      &service.Fake{},
		store:    &memStore{},
		leader:   &fakeLeader{},
		after:    &manualAfter{},
		opts:     config.NewLive(config.Defaults("ceph-nfs")),
		hostname: hostname,
	}

	n.leader.set(leader)
	dir := t.TempDir()
	r, err := render.New(render.Files(filepath.Join(dir, "ceph"), filepath.Join(dir, "ganesha")), n.svc)
	require.NoError(t, err)

	pool := func() string { return n.opts.Get().PoolName }
	coord := &peer.Coordinator{Channel: cl.ch}
	n.cfg = Config{
		Node:     Node{Name: "ceph-nfs", Hostname: hostname},
		Version:  "test",
		CephConf: filepath.Join(dir, "ceph", "ceph.conf"),
		Options:  n.opts,
		Store:    n.store,
		Broker:   &storage.CephBroker{Runner: n.runner, CephConf: "c", Id: "admin"},
		Renderer: r,
		Services: n.svc,
		Grace: &grace.Manager{
			Runner:   n.runner,
			UserId:   "ceph-nfs",
			CephConf: "c",
			Pool:     pool,
			Hostname: hostname,
		},
		Bootstrap: &bootstrap.Bootstrapper{
			Objects:  cl.objs,
			Pool:     pool,
			Latch:    coord,
			IsLeader: n.leader.IsLeader,
		},
		Peers: coord,
		Exports: &ganesha.Manager{
			Runner:   n.runner,
			Objects:  cl.objs,
			CephConf: "c",
			Client:   "ceph-nfs",
			Pool:     pool,
			FsName:   func() string { return n.opts.Get().CephFsName },
		},
		Leadership: n.leader,
		Address:    func() (string, error) { return "10.0.0.100", nil },
		After:      n.after.After,
	}

	n.start(t)
	return n
}

// start (re)creates the controller over the node's store, like a process
// restart.
func (n *node) start(t *testing.T) {
	n.c = New(n.cfg)
	require.NoError(t, n.c.Start(context.Background()))
	n.watcher = &peer.Watcher{
		Channel: n.cfg.Peers.(*peer.Coordinator).Channel,
		OnChange: func(ch peer.Change, cur peer.Facts) {
			n.c.Deliver(Fact{Kind: Kind(ch), Peers: &cur})
		},
	}
}

// sync polls the peer channel and dispatches everything queued.
func (n *node) sync(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, n.watcher.Check(ctx))
	for n.c.Step(ctx) {
	}
}

// redeliver dispatches every pending deferral once.
func (n *node) redeliver() []Result {
	out := []Result{}
	for _, f := range n.c.Pending() {
		out = append(out, n.c.Dispatch(context.Background(), f)...)
	}

	return out
}

func outcomes(rs []Result) map[string]Outcome {
	m := map[string]Outcome{}
	for _, r := range rs {
		m[r.Observer] = r.Outcome
	}

	return m
}

var errBoom = errors.New("boom")

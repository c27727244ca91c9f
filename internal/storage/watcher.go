package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// PoolFact is what we know about our pool. Available means the pool exists
// and our client identity has a key.
type PoolFact struct {
	Available bool     `json:"available"`
	MonHosts  []string `json:"monHosts"`
	AuthMode  string   `json:"authMode"`
	Key       string   `json:"key"`
}

func (p PoolFact) Equal(o PoolFact) bool {
	if p.Available != o.Available || p.AuthMode != o.AuthMode || p.Key != o.Key {
		return false
	}

	if len(p.MonHosts) != len(o.MonHosts) {
		return false
	}

	for i := range p.MonHosts {
		if p.MonHosts[i] != o.MonHosts[i] {
			return false
		}
	}

	return true
}

// Watcher polls the cluster and reports broker and pool availability changes.
type Watcher struct {
	Runner   Runner
	CephConf string
	Id       string        // identity used for probing
	Client   string        // gateway identity whose key we read
	Pool     func() string // current pool name; options can change at runtime
	AuthMode func() string
	Interval time.Duration

	OnBroker func()         // broker became reachable
	OnPool   func(PoolFact) // pool fact changed

	broker int32
	last   *PoolFact
}

func (w *Watcher) ceph(ctx context.Context, args ...string) ([]byte, error) {
	base := []string{"-c", w.CephConf, "--id", w.Id}
	return w.Runner.Run(ctx, "ceph", append(base, args...)...)
}

type monDump struct {
	Mons []struct {
		Name       string `json:"name"`
		PublicAddr string `json:"public_addr"`
		Addr       string `json:"addr"`
	} `json:"mons"`
}

// MonHosts parses `ceph mon dump -f json` output into sorted host:port pairs.
func MonHosts(b []byte) ([]string, error) {
	var d monDump
	if err := json.Unmarshal(b, &d); err != nil {
		return nil, err
	}

	out := []string{}
	for _, m := range d.Mons {
		a := m.PublicAddr
		if a == "" {
			a = m.Addr
		}

		if i := strings.Index(a, "/"); i >= 0 {
			a = a[:i] // drop the nonce
		}

		if a != "" {
			out = append(out, a)
		}
	}

	sort.Strings(out)
	return out, nil
}

// Probe returns whether the broker (mons) is reachable, and the current pool fact.
func (w *Watcher) Probe(ctx context.Context) (bool, PoolFact) {
	fact := PoolFact{AuthMode: w.AuthMode()}
	b, err := w.ceph(ctx, "mon", "dump", "-f", "json")
	if err != nil {
		glog.V(1).Infof("probe: mon dump failed: %v", err)
		return false, fact
	}

	fact.MonHosts, err = MonHosts(b)
	if err != nil || len(fact.MonHosts) == 0 {
		glog.Errorf("probe: cannot parse mon dump: %v", err)
		return false, fact
	}

	b, err = w.ceph(ctx, "osd", "pool", "ls")
	if err != nil {
		glog.V(1).Infof("probe: pool ls failed: %v", err)
		return true, fact
	}

	var found bool
	pool := w.Pool()
	for _, p := range strings.Split(string(b), "\n") {
		if strings.TrimSpace(p) == pool {
			found = true
			break
		}
	}

	if !found {
		return true, fact
	}

	b, err = w.ceph(ctx, "auth", "get-key", "client."+w.Client)
	if err != nil {
		glog.V(1).Infof("probe: no key for client.%v yet: %v", w.Client, err)
		return true, fact
	}

	fact.Key = strings.TrimSpace(string(b))
	fact.Available = fact.Key != ""
	return true, fact
}

// Check probes once and fires the callbacks on changes.
func (w *Watcher) Check(ctx context.Context) {
	broker, fact := w.Probe(ctx)
	var b int32
	if broker {
		b = 1
	}

	if atomic.SwapInt32(&w.broker, b) == 0 && broker && w.OnBroker != nil {
		w.OnBroker()
	}

	if w.last != nil && w.last.Equal(fact) {
		return
	}

	wasAvailable := w.last != nil && w.last.Available
	w.last = &fact
	if !wasAvailable && !fact.Available {
		return // nothing to report yet
	}

	if w.OnPool != nil {
		w.OnPool(fact)
	}
}

// Run checks immediately, then every Interval until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		w.Check(ctx)
	}
}

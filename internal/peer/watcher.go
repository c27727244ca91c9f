package peer

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
)

// Watcher turns peer fact snapshots into change callbacks. Snapshots come
// from polling the channel and from notifications (Offer); both paths merge
// into the last known facts so a stale read never moves backwards.
//
// The first snapshot is compared with the zero Facts: a node that starts
// after the latch was set still sees it.
type Watcher struct {
	Channel  Channel
	Interval time.Duration
	OnChange func(c Change, cur Facts)

	mu   sync.Mutex
	last Facts
	poke chan struct{}
	once sync.Once
}

func (w *Watcher) init() {
	w.once.Do(func() { w.poke = make(chan struct{}, 1) })
}

// Last returns the merged facts seen so far.
func (w *Watcher) Last() Facts {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Offer merges f and fires OnChange for whatever moved.
func (w *Watcher) Offer(f Facts) {
	w.mu.Lock()
	prev := w.last
	cur := Merge(prev, f)
	w.last = cur
	w.mu.Unlock()

	if w.OnChange == nil {
		return
	}

	for _, c := range Changes(prev, cur) {
		w.OnChange(c, cur)
	}
}

// Check observes the channel once.
func (w *Watcher) Check(ctx context.Context) error {
	f, err := w.Channel.Observe(ctx)
	if err != nil {
		return err
	}

	w.Offer(f)
	return nil
}

// Poke asks Run for an immediate check.
func (w *Watcher) Poke() {
	w.init()
	select {
	case w.poke <- struct{}{}:
	default:
	}
}

// Run checks immediately, then every Interval or when poked.
func (w *Watcher) Run(ctx context.Context) {
	w.init()
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()

	for {
		if err := w.Check(ctx); err != nil {
			glog.Errorf("peer watch: observe failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.poke:
		}
	}
}

// Package service drives the host's service manager.
package service

import (
	"context"
	"sync"

	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/golang/glog"
)

const (
	Ganesha       = "nfs-ganesha"
	GaneshaDaemon = "ganesha.nfsd"
)

type Manager interface {
	DaemonReload(ctx context.Context) error
	Restart(ctx context.Context, name string) error

	// Reload asks a running daemon to re-read its configuration (SIGHUP).
	Reload(ctx context.Context, daemon string) error
}

// Systemd implements Manager with systemctl and killall.
type Systemd struct {
	Runner storage.Runner
}

func (s *Systemd) DaemonReload(ctx context.Context) error {
	_, err := s.Runner.Run(ctx, "systemctl", "daemon-reload")
	return err
}

func (s *Systemd) Restart(ctx context.Context, name string) error {
	glog.Infof("restarting %v", name)
	_, err := s.Runner.Run(ctx, "systemctl", "restart", name)
	return err
}

func (s *Systemd) Reload(ctx context.Context, daemon string) error {
	glog.Infof("sending SIGHUP to %v", daemon)
	_, err := s.Runner.Run(ctx, "killall", "-HUP", daemon)
	return err
}

var _ Manager = (*Fake)(nil)

// Fake records calls as "daemon-reload", "restart <name>" and
// "reload <daemon>". Fail, when set, decides the error of each call.
type Fake struct {
	mu    sync.Mutex
	calls []string
	Fail  func(call string) error
}

func (f *Fake) do(call string) error {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	fail := f.Fail
	f.mu.Unlock()
	if fail == nil {
		return nil
	}

	return fail(call)
}

func (f *Fake) DaemonReload(ctx context.Context) error { return f.do("daemon-reload") }

func (f *Fake) Restart(ctx context.Context, name string) error { return f.do("restart " + name) }

func (f *Fake) Reload(ctx context.Context, daemon string) error { return f.do("reload " + daemon) }

func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// Count returns how many times call was made.
func (f *Fake) Count(call string) int {
	var n int
	for _, c := range f.Calls() {
		if c == call {
			n++
		}
	}

	return n
}

func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

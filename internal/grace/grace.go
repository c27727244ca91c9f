// Package grace manages this node's membership in the NFS server's shared
// recovery (grace) database.
package grace

import (
	"bufio"
	"bytes"
	"context"
	"strings"

	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/golang/glog"
)

const Command = "ganesha-rados-grace"

type Manager struct {
	Runner   storage.Runner
	UserId   string        // storage client identity
	CephConf string
	Pool     func() string // current pool name
	Hostname string
}

func (m *Manager) grace(ctx context.Context, args ...string) ([]byte, error) {
	base := []string{"--userid", m.UserId, "--cephconf", m.CephConf, "--pool", m.Pool()}
	return m.Runner.Run(ctx, Command, append(base, args...)...)
}

// Members returns the hosts currently in the grace database.
func (m *Manager) Members(ctx context.Context) ([]string, error) {
	b, err := m.grace(ctx, "dump")
	if err != nil {
		return nil, err
	}

	return ParseDump(b), nil
}

// ParseDump extracts member names from `dump` output: a header line with the
// epochs, a separator of '=' and then one member per line.
func ParseDump(b []byte) []string {
	out := []string{}
	var body bool
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "==="):
			body = true
			continue
		case !body:
			continue
		}

		out = append(out, strings.Fields(line)[0])
	}

	return out
}

// Join adds this host to the grace database unless it is already a member,
// so that a crash between the add and persisting the outcome is harmless.
func (m *Manager) Join(ctx context.Context) error {
	members, err := m.Members(ctx)
	if err != nil {
		return err
	}

	for _, v := range members {
		if v == m.Hostname {
			glog.Infof("grace: %v already a member", m.Hostname)
			return nil
		}
	}

	if _, err := m.grace(ctx, "add", m.Hostname); err != nil {
		return err
	}

	glog.Infof("grace: %v joined", m.Hostname)
	return nil
}

// Leave removes this host from the grace database.
func (m *Manager) Leave(ctx context.Context) error {
	_, err := m.grace(ctx, "remove", m.Hostname)
	return err
}

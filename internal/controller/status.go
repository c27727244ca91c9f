package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/alphauslabs/nfsgw/internal/metrics"
	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/state"
)

// Status is what we tell operators. Deferrals are reported as not yet
// converged, never as failures.
type Status struct {
	Node          string      `json:"node"`
	Hostname      string      `json:"hostname"`
	Phase         Phase       `json:"phase"`
	Message       string      `json:"message"`
	Leader        bool        `json:"leader"`
	PoolAvailable bool        `json:"poolAvailable"`
	Peers         peer.Facts  `json:"peers"`
	State         state.State `json:"state"`
	Pending       []string    `json:"pending,omitempty"`
	ConfigError   string      `json:"configError,omitempty"`
	FatalError    string      `json:"fatalError,omitempty"`
	Updated       time.Time   `json:"updated"`
}

// Status returns the status as of the last dispatch.
func (c *Controller) Status() Status {
	c.smu.RLock()
	defer c.smu.RUnlock()
	s := c.status
	s.Pending = append([]string{}, c.status.Pending...)
	return s
}

// publish recomputes the status. Caller holds c.mu (or is New).
func (c *Controller) publish() {
	s := Status{
		Node:          c.cfg.Node.Name,
		Hostname:      c.cfg.Node.Hostname,
		Phase:         c.phase(),
		PoolAvailable: c.pool.Available,
		Peers:         c.peers,
		State:         c.st,
		Updated:       time.Now().UTC(),
	}

	if c.cfg.Leadership != nil {
		s.Leader = c.cfg.Leadership.IsLeader()
	}

	for _, f := range c.pendingFacts() {
		s.Pending = append(s.Pending, string(f.Kind)+"/"+f.Observer)
	}

	if c.lastConf != nil {
		s.ConfigError = c.lastConf.Error()
	}

	if c.lastFatal != nil {
		s.FatalError = c.lastFatal.Error()
	}

	s.Message = message(s)
	for _, p := range Phases {
		var v float64
		if p == s.Phase {
			v = 1
		}

		metrics.Phase.WithLabelValues(string(p)).Set(v)
	}

	if s.Leader {
		metrics.Leader.Set(1)
	} else {
		metrics.Leader.Set(0)
	}

	c.smu.Lock()
	c.status = s
	c.smu.Unlock()
}

func message(s Status) string {
	switch {
	case s.Phase == Terminated:
		return "Unit departed"
	case s.Phase == Leaving:
		return "Leaving cluster"
	case s.FatalError != "":
		return "Fatal: " + s.FatalError
	case s.ConfigError != "":
		return "Invalid configuration: " + s.ConfigError
	case len(s.Pending) > 0:
		obs := []string{}
		for _, p := range s.Pending {
			obs = append(obs, p[strings.Index(p, "/")+1:])
		}

		return fmt.Sprintf("Not yet converged, waiting on %v", strings.Join(obs, ", "))
	case s.Phase == Active:
		return "Unit is ready"
	case s.Phase == Configured:
		return "Waiting to join the cluster"
	case s.Phase == Rendering:
		return "Rendering configuration"
	default:
		return "Waiting for storage pool"
	}
}

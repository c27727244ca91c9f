package appdata

import (
	"sync/atomic"

	"cloud.google.com/go/spanner"
	"github.com/flowerinthenight/hedge"
	"github.com/flowerinthenight/timedoff"
)

type AppData struct {
	Client  *spanner.Client // spanner client
	FleetOp *hedge.Op       // our fleet orchestrator

	// Our resettable timer telling us if we have a leader.
	LeaderActive *timedoff.TimedOff

	leader atomic.Value // host:port of the current leader, "" if none
}

// Leader returns the last leader we heard from, or "" if none.
func (a *AppData) Leader() string {
	v, _ := a.leader.Load().(string)
	return v
}

func (a *AppData) SetLeader(hostPort string) { a.leader.Store(hostPort) }

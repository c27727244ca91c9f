// Package fleet connects a gateway node to its peers through hedge: leader
// election over the spanner lock table and broadcasts to every member.
package fleet

import (
	"fmt"

	"github.com/alphauslabs/nfsgw/internal/appdata"
	"github.com/alphauslabs/nfsgw/internal/controller"
	"github.com/alphauslabs/nfsgw/internal/peer"
)

const (
	EventSource = "nfsgw/internal"
)

var (
	ErrClusterOffline = fmt.Errorf("nfsgw: Cluster not running.")
	ErrNoLeader       = fmt.Errorf("nfsgw: Leader unavailable. Please try again later.")
)

// Deliverer queues facts for the convergence controller.
type Deliverer interface {
	Deliver(f controller.Fact)
}

// PeerSink receives peer fact snapshots from broadcasts.
type PeerSink interface {
	Offer(f peer.Facts)
}

type FleetData struct {
	App *appdata.AppData // global appdata

	Controller Deliverer
	Peers      PeerSink
	Hostname   string // ours, as announced when departing
}

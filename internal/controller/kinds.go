package controller

import (
	"github.com/alphauslabs/nfsgw/internal/config"
	"github.com/alphauslabs/nfsgw/internal/peer"
	"github.com/alphauslabs/nfsgw/internal/storage"
)

// Kind is the type of an external fact.
type Kind string

const (
	BrokerAvailable     Kind = "BROKER_AVAILABLE"
	PoolsAvailable      Kind = "POOLS_AVAILABLE"
	ConfigChanged       Kind = "CONFIG_CHANGED"
	Upgrade             Kind = "UPGRADE"
	PeerPoolInitialised Kind = Kind(peer.ChangePoolInitialised)
	PeerDeparting       Kind = "PEER_DEPARTING"
	PeerReloadNonce     Kind = Kind(peer.ChangeReloadNonce)
	LeaderBootstrap     Kind = "LEADER_BOOTSTRAP"
	NodeDeparting       Kind = "NODE_DEPARTING"
)

// Fact is one delivery to the dispatcher. Payload fields are optional and
// only meaningful for their kind. A redelivery names the single observer to
// run again and carries no payload: it runs against the current snapshot.
type Fact struct {
	Kind Kind

	Pool    *storage.PoolFact // POOLS_AVAILABLE
	Peers   *peer.Facts       // PEER_POOL_INITIALISED, PEER_RELOAD_NONCE
	Options *config.Options   // CONFIG_CHANGED
	From    string            // PEER_DEPARTING: who is leaving

	Observer string // redelivery target
	Attempt  int
}

type Outcome string

const (
	Done  Outcome = "done"
	Defer Outcome = "defer"
	Fatal Outcome = "fatal"
)

// Result is the outcome of one observer run.
type Result struct {
	Kind     Kind
	Observer string
	Outcome  Outcome
	Err      error
}

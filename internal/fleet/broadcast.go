package fleet

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alphauslabs/nfsgw/internal"
	"github.com/alphauslabs/nfsgw/internal/appdata"
	"github.com/alphauslabs/nfsgw/internal/controller"
	"github.com/alphauslabs/nfsgw/internal/peer"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/flowerinthenight/hedge"
	"github.com/golang/glog"
)

var (
	CtrlBroadcastLeaderLiveness = "CTRL_BROADCAST_LEADER_LIVENESS"
	CtrlBroadcastPeerFacts      = "CTRL_BROADCAST_PEER_FACTS"
	CtrlBroadcastPeerDeparting  = "CTRL_BROADCAST_PEER_DEPARTING"

	fnBroadcast = map[string]func(*FleetData, *cloudevents.Event) ([]byte, error){
		CtrlBroadcastLeaderLiveness: doBroadcastLeaderLiveness,
		CtrlBroadcastPeerFacts:      doBroadcastPeerFacts,
		CtrlBroadcastPeerDeparting:  doBroadcastPeerDeparting,
	}
)

type LivenessData struct {
	Leader string `json:"leader"`
}

type DepartingData struct {
	Hostname string `json:"hostname"`
}

func BroadcastHandler(data interface{}, msg []byte) ([]byte, error) {
	fd := data.(*FleetData)
	var e cloudevents.Event
	err := json.Unmarshal(msg, &e)
	if err != nil {
		return nil, err
	}

	if _, ok := fnBroadcast[e.Type()]; !ok {
		return nil, fmt.Errorf("failed: unsupported type: %v", e.Type())
	}

	return fnBroadcast[e.Type()](fd, &e)
}

func doBroadcastLeaderLiveness(fd *FleetData, e *cloudevents.Event) ([]byte, error) {
	var data LivenessData
	if err := e.DataAs(&data); err == nil && data.Leader != "" {
		fd.App.SetLeader(data.Leader)
	}

	if fd.App.LeaderActive != nil {
		fd.App.LeaderActive.On()
	}

	return nil, nil
}

func doBroadcastPeerFacts(fd *FleetData, e *cloudevents.Event) ([]byte, error) {
	var data peer.Facts
	if err := e.DataAs(&data); err != nil {
		return nil, err
	}

	glog.V(1).Infof("peer facts notification: %+v", data)
	fd.Peers.Offer(data)
	return nil, nil
}

func doBroadcastPeerDeparting(fd *FleetData, e *cloudevents.Event) ([]byte, error) {
	var data DepartingData
	if err := e.DataAs(&data); err != nil {
		return nil, err
	}

	fd.Controller.Deliver(controller.Fact{Kind: controller.PeerDeparting, From: data.Hostname})
	return nil, nil
}

// Notifier fans peer fact changes out to every member, ourselves included,
// and announces our departure to the others.
type Notifier struct {
	App      *appdata.AppData
	Hostname string
}

func broadcastErrors(outs []hedge.BroadcastOutput) error {
	var errs []error
	for _, out := range outs {
		if out.Error != nil {
			errs = append(errs, fmt.Errorf("%v: %w", out.Id, out.Error))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%v", errs)
	}

	return nil
}

func (n *Notifier) Notify(ctx context.Context, f peer.Facts) error {
	b, _ := json.Marshal(internal.NewEvent(f, EventSource, CtrlBroadcastPeerFacts))
	return broadcastErrors(n.App.FleetOp.Broadcast(ctx, b))
}

func (n *Notifier) AnnounceDeparture(ctx context.Context) error {
	b, _ := json.Marshal(internal.NewEvent(
		DepartingData{Hostname: n.Hostname},
		EventSource,
		CtrlBroadcastPeerDeparting,
	))

	var skipSelf bool
	if len(n.App.FleetOp.Members()) > 1 {
		skipSelf = true
	}

	outs := n.App.FleetOp.Broadcast(ctx, b, hedge.BroadcastArgs{SkipSelf: skipSelf})
	return broadcastErrors(outs)
}

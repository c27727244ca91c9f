package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/alphauslabs/nfsgw/internal"
	"github.com/alphauslabs/nfsgw/internal/appdata"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/golang/glog"
	gaxv2 "github.com/googleapis/gax-go/v2"
)

var (
	ctrlPingPong = "CTRL_PING_PONG"

	fnLeader = map[string]func(*FleetData, *cloudevents.Event) ([]byte, error){
		ctrlPingPong: doLeaderPingPong,
	}
)

func LeaderHandler(data interface{}, msg []byte) ([]byte, error) {
	fd := data.(*FleetData)
	var e cloudevents.Event
	err := json.Unmarshal(msg, &e)
	if err != nil {
		glog.Errorf("Unmarshal failed: %v", err)
		return nil, err
	}

	if _, ok := fnLeader[e.Type()]; !ok {
		return nil, fmt.Errorf("failed: unsupported type: %v", e.Type())
	}

	return fnLeader[e.Type()](fd, &e)
}

func doLeaderPingPong(fd *FleetData, e *cloudevents.Event) ([]byte, error) {
	var ping string
	if err := e.DataAs(&ping); err != nil || ping != "PING" {
		return nil, fmt.Errorf("invalid message")
	}

	return []byte("PONG"), nil
}

// EnsureLeaderActive pings the leader and reports whether it answered.
func EnsureLeaderActive(ctx context.Context, app *appdata.AppData) (bool, error) {
	msg := internal.NewEvent("PING", EventSource, ctrlPingPong)
	b, _ := json.Marshal(msg)
	r, err := SendToLeader(ctx, app, b)
	if err != nil {
		return false, err
	}

	return string(r) == "PONG", nil
}

// SendToLeader sends m to the leader, retrying with backoff while the fleet
// is starting or the leader is unreachable.
func SendToLeader(ctx context.Context, app *appdata.AppData, m []byte) ([]byte, error) {
	result := make(chan []byte, 1)
	done := make(chan error, 1)
	go func() {
		var err error
		var res []byte
		defer func(b *[]byte, e *error) {
			result <- *b
			done <- *e
		}(&res, &err)

		bo := gaxv2.Backoff{Max: time.Minute}
		for i := 0; i < 10 && !app.FleetOp.IsRunning(); i++ {
			time.Sleep(bo.Pause())
		}

		for i := 0; i < 10; i++ {
			var r []byte
			r, err = app.FleetOp.Send(ctx, m)
			if err != nil {
				time.Sleep(bo.Pause())
				continue
			}

			res = r // to outside
			return
		}
	}()

	for {
		select {
		case e := <-done:
			return <-result, e
		case <-ctx.Done():
			return nil, context.Canceled
		}
	}
}

// LeaderLiveness has the leader announce itself to everyone periodically.
// Followers reset their LeaderActive timer on each announcement.
func LeaderLiveness(ctx context.Context, app *appdata.AppData, every time.Duration) {
	ticker := time.NewTicker(every)
	var active int32

	do := func() {
		atomic.StoreInt32(&active, 1)
		defer atomic.StoreInt32(&active, 0)
		hl, _ := app.FleetOp.HasLock()
		if !hl {
			return // leader's job only
		}

		b, _ := json.Marshal(internal.NewEvent(
			LivenessData{Leader: app.FleetOp.HostPort()},
			EventSource,
			CtrlBroadcastLeaderLiveness,
		))

		outs := app.FleetOp.Broadcast(ctx, b)
		for i, out := range outs {
			if out.Error != nil {
				glog.Errorf("leader liveness: broadcast[%v] failed: %v", i, out.Error)
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
		}

		if atomic.LoadInt32(&active) == 1 {
			continue
		}

		go do()
	}
}

// Leadership answers "are we the leader" from the hedge lock and reports
// when we gain it.
type Leadership struct {
	HasLock func() (bool, string)
	OnGain  func()

	held int32
}

func (l *Leadership) IsLeader() bool {
	hl, _ := l.HasLock()
	return hl
}

// Check samples the lock once; OnGain fires on a not-held to held
// transition.
func (l *Leadership) Check() {
	var v int32
	if l.IsLeader() {
		v = 1
	}

	if atomic.SwapInt32(&l.held, v) == 0 && v == 1 {
		glog.Infof("leadership acquired")
		if l.OnGain != nil {
			l.OnGain()
		}
	}
}

// Watch checks every interval until ctx is done.
func (l *Leadership) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		l.Check()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

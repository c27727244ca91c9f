package storage

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/golang/glog"
)

// Capabilities requested for the gateway client identity.
var Capabilities = []string{
	"mgr", "allow rw",
	"mds", "allow *",
	"osd", "allow rw",
	"mon", `allow r, allow command "auth del", allow command "auth caps", ` +
		`allow command "auth get", allow command "auth get-or-create"`,
}

type PoolRequest struct {
	Name        string
	App         string // application tag
	Replicas    int
	Weight      float64           // percent of the cluster's data this pool is expected to hold
	Compression map[string]string // pool settings, see CompressionSettings
}

// Broker asks the storage cluster for the resources a gateway needs.
type Broker interface {
	RequestReplicatedPool(ctx context.Context, in PoolRequest) error
	RequestPermissions(ctx context.Context, identity string, caps []string) error
}

// CephBroker talks to the cluster through the ceph CLI using an identity
// allowed to create pools and users.
type CephBroker struct {
	Runner   Runner
	CephConf string
	Id       string // admin identity, ex. "admin"
}

func (b *CephBroker) ceph(ctx context.Context, args ...string) ([]byte, error) {
	base := []string{"-c", b.CephConf, "--id", b.Id}
	return b.Runner.Run(ctx, "ceph", append(base, args...)...)
}

// RequestReplicatedPool creates (if needed) and tunes the pool. Every step is
// idempotent on the ceph side.
func (b *CephBroker) RequestReplicatedPool(ctx context.Context, in PoolRequest) error {
	if in.Name == "" || in.Replicas < 1 {
		return fmt.Errorf("%w: pool %q, replicas %v", ErrInvalidOption, in.Name, in.Replicas)
	}

	steps := [][]string{
		{"osd", "pool", "create", in.Name},
		{"osd", "pool", "set", in.Name, "size", strconv.Itoa(in.Replicas)},
	}

	if in.Weight > 0 {
		ratio := strconv.FormatFloat(in.Weight/100, 'f', -1, 64)
		steps = append(steps, []string{"osd", "pool", "set", in.Name, "target_size_ratio", ratio})
	}

	keys := make([]string, 0, len(in.Compression))
	for k := range in.Compression {
		keys = append(keys, k)
	}

	sort.Strings(keys)
	for _, k := range keys {
		steps = append(steps, []string{"osd", "pool", "set", in.Name, k, in.Compression[k]})
	}

	if in.App != "" {
		steps = append(steps, []string{"osd", "pool", "application", "enable", in.Name, in.App})
	}

	for _, s := range steps {
		if _, err := b.ceph(ctx, s...); err != nil {
			return err
		}
	}

	glog.Infof("pool %v requested: replicas=%v, weight=%v", in.Name, in.Replicas, in.Weight)
	return nil
}

// RequestPermissions creates the client identity with caps, or updates the
// caps of an existing one.
func (b *CephBroker) RequestPermissions(ctx context.Context, identity string, caps []string) error {
	if len(caps)%2 != 0 {
		return fmt.Errorf("%w: capability list must be entity/cap pairs", ErrInvalidOption)
	}

	entity := "client." + identity
	args := append([]string{"auth", "get-or-create", entity}, caps...)
	if _, err := b.ceph(ctx, args...); err == nil {
		return nil
	}

	// Exists with different caps.
	args = append([]string{"auth", "caps", entity}, caps...)
	_, err := b.ceph(ctx, args...)
	return err
}

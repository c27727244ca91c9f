package peer

import (
	"context"
	"strconv"

	"github.com/golang/glog"
	"github.com/redis/go-redis/v9"
)

// Merge on the server side: the latch is only ever set, the nonce only
// ever raised. Publishes a change notification when anything moved.
var mergeScript = redis.NewScript(`
local moved = 0
if ARGV[1] == "1" and redis.call("HGET", KEYS[1], "latch") ~= "1" then
	redis.call("HSET", KEYS[1], "latch", "1")
	moved = 1
end
local cur = tonumber(redis.call("HGET", KEYS[1], "nonce") or "0")
local n = tonumber(ARGV[2])
if n > cur then
	redis.call("HSET", KEYS[1], "nonce", ARGV[2])
	moved = 1
end
if moved == 1 then
	redis.call("PUBLISH", KEYS[2], ARGV[2])
end
return moved
`)

// RedisChannel stores the facts in a hash and announces changes on a pub/sub
// channel named after the hash.
type RedisChannel struct {
	Client *redis.Client
	Key    string // ex. "nfsgw:ceph-nfs:peer"
}

var _ Channel = (*RedisChannel)(nil)

func NewRedisChannel(addr string, db int, key string) *RedisChannel {
	return &RedisChannel{
		Client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		Key:    key,
	}
}

func (r *RedisChannel) topic() string { return r.Key + ":changed" }

func (r *RedisChannel) Observe(ctx context.Context) (Facts, error) {
	m, err := r.Client.HGetAll(ctx, r.Key).Result()
	if err != nil {
		return Facts{}, err
	}

	f := Facts{PoolInitialised: m["latch"] == "1"}
	if v, ok := m["nonce"]; ok {
		f.ReloadNonce, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return f, err
		}
	}

	return f, nil
}

func (r *RedisChannel) Publish(ctx context.Context, f Facts) error {
	latch := "0"
	if f.PoolInitialised {
		latch = "1"
	}

	nonce := strconv.FormatUint(f.ReloadNonce, 10)
	return mergeScript.Run(ctx, r.Client, []string{r.Key, r.topic()}, latch, nonce).Err()
}

// Subscribe calls fn for every change announcement until ctx is done.
func (r *RedisChannel) Subscribe(ctx context.Context, fn func()) {
	sub := r.Client.Subscribe(ctx, r.topic())
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}

			glog.V(2).Infof("peer: change announced, nonce=%v", m.Payload)
			fn()
		}
	}
}

func (r *RedisChannel) Close() error { return r.Client.Close() }

// Package redisstore provides a Redis-backed counter store.
//
// Counter state lives in Redis hashes, with every read-modify-write
// expressed as a Lua script so it executes atomically on the server. This
// makes the backend safe for multi-instance deployments sharing one quota
// space.
package redisstore

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"tollgate-ai/tollgate/pkg/store"
)

// Backend is a Redis-backed store.Backend.
type Backend struct {
	client    goredis.Cmdable
	keyPrefix string
	windowTTL time.Duration
}

var _ store.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithKeyPrefix sets the Redis key prefix (default "tollgate:").
func WithKeyPrefix(prefix string) Option {
	return func(b *Backend) { b.keyPrefix = prefix }
}

// WithWindowTTL sets the expiry applied to rate-limit window keys
// (default 10 minutes). Quota counter keys are swept by DeleteBefore
// rather than TTL so expired periods remain queryable.
func WithWindowTTL(ttl time.Duration) Option {
	return func(b *Backend) { b.windowTTL = ttl }
}

// New creates a Redis-backed counter store. The client must be a connected
// *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Backend {
	b := &Backend{
		client:    client,
		keyPrefix: "tollgate:",
		windowTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) key(key string) string {
	return b.keyPrefix + key
}

// incrWindowScript atomically resets the window on rollover and performs
// the check-and-increment.
//
// KEYS[1] = window hash key
// ARGV[1] = window start (unix seconds)
// ARGV[2] = limit
// ARGV[3] = key TTL (seconds)
//
// Returns {count, allowed}.
var incrWindowScript = goredis.NewScript(`
local ws = tonumber(redis.call('HGET', KEYS[1], 'ws') or '-1')
local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local want_ws = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

if ws ~= want_ws then
  ws = want_ws
  count = 0
end

local allowed = 0
if count + 1 <= limit then
  count = count + 1
  allowed = 1
end

redis.call('HSET', KEYS[1], 'ws', ws, 'count', count)
redis.call('EXPIRE', KEYS[1], ARGV[3])
return {count, allowed}
`)

// reserveScript applies the ceiling check and hold in one step.
//
// KEYS[1] = counter hash key
// ARGV[1] = amount
// ARGV[2] = limit
// ARGV[3] = now (unix seconds)
//
// Returns {used, reserved, ok}.
var reserveScript = goredis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])

if used + reserved + amount > limit then
  return {used, reserved, 0}
end

reserved = reserved + amount
redis.call('HSET', KEYS[1], 'used', used, 'reserved', reserved, 'touched', ARGV[3])
return {used, reserved, 1}
`)

// consumeScript settles a hold: reserved -= ARGV[1], used += ARGV[2].
var consumeScript = goredis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')

reserved = reserved - tonumber(ARGV[1])
if reserved < 0 then reserved = 0 end
used = used + tonumber(ARGV[2])

redis.call('HSET', KEYS[1], 'used', used, 'reserved', reserved, 'touched', ARGV[3])
return {used, reserved}
`)

// releaseScript drops a hold without settling it.
var releaseScript = goredis.NewScript(`
local reserved = tonumber(redis.call('HGET', KEYS[1], 'reserved') or '0')

reserved = reserved - tonumber(ARGV[1])
if reserved < 0 then reserved = 0 end

redis.call('HSET', KEYS[1], 'reserved', reserved, 'touched', ARGV[2])
return reserved
`)

// IncrWindow implements store.Backend.
func (b *Backend) IncrWindow(ctx context.Context, key string, windowStart int64, limit int64) (int64, bool, error) {
	res, err := incrWindowScript.Run(ctx, b.client, []string{b.key(key)},
		windowStart, limit, int64(b.windowTTL.Seconds())).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("%w: unexpected script reply %v", store.ErrUnavailable, res)
	}
	return res[0], res[1] == 1, nil
}

// Reserve implements store.Backend.
func (b *Backend) Reserve(ctx context.Context, key string, amount, limit int64) (store.Counter, bool, error) {
	res, err := reserveScript.Run(ctx, b.client, []string{b.key(key)},
		amount, limit, time.Now().Unix()).Int64Slice()
	if err != nil {
		return store.Counter{}, false, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	if len(res) != 3 {
		return store.Counter{}, false, fmt.Errorf("%w: unexpected script reply %v", store.ErrUnavailable, res)
	}
	return store.Counter{Used: res[0], Reserved: res[1]}, res[2] == 1, nil
}

// Consume implements store.Backend.
func (b *Backend) Consume(ctx context.Context, key string, reservedAmount, actualAmount int64) error {
	_, err := consumeScript.Run(ctx, b.client, []string{b.key(key)},
		reservedAmount, actualAmount, time.Now().Unix()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Release implements store.Backend.
func (b *Backend) Release(ctx context.Context, key string, reservedAmount int64) error {
	_, err := releaseScript.Run(ctx, b.client, []string{b.key(key)},
		reservedAmount, time.Now().Unix()).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// Get implements store.Backend.
func (b *Backend) Get(ctx context.Context, key string) (store.Counter, error) {
	vals, err := b.client.HMGet(ctx, b.key(key), "used", "reserved").Result()
	if err != nil {
		return store.Counter{}, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	var c store.Counter
	if len(vals) == 2 {
		c.Used = parseInt64(vals[0])
		c.Reserved = parseInt64(vals[1])
	}
	return c, nil
}

// DeleteBefore implements store.Backend. It scans counter keys and removes
// those whose touched timestamp predates cutoff.
func (b *Backend) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var removed int64
	var cursor uint64
	cut := cutoff.Unix()

	for {
		keys, next, err := b.client.Scan(ctx, cursor, b.keyPrefix+"*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}

		for _, k := range keys {
			touched, err := b.client.HGet(ctx, k, "touched").Int64()
			if err != nil {
				continue // window keys and missing fields are skipped
			}
			if touched < cut {
				if b.client.Del(ctx, k).Err() == nil {
					removed++
				}
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

// Close implements store.Backend. The underlying client is owned by the
// caller and is not closed here.
func (b *Backend) Close() error {
	return nil
}

func parseInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

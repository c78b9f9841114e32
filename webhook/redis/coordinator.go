package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/redis/go-redis/v9"
)

/* Redis coordination for multi-instance deployments
 * Per-event delivery locks: SET NX PX with a random token, released by a
 * compare-and-delete script so a holder never frees someone else's lock
 * Scheduler heartbeats: JSON values with a TTL (see heartbeat.go)
 */

const (
	keyPrefix       = "webhook-dispatch"
	lockPrefix      = keyPrefix + ":lock"      // lock naming: webhook-dispatch:lock:event:{event_id}
	heartbeatPrefix = keyPrefix + ":scheduler" // heartbeat naming: webhook-dispatch:scheduler:{scheduler_id}
	releaseTimeout  = 5 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ webhook.Locker = (*Coordinator)(nil)

type Coordinator struct {
	client *redis.Client
}

// NewCoordinator connects to Redis and verifies the connection
func NewCoordinator(addr, password string, db int) (*Coordinator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &Coordinator{client: client}, nil
}

// NewCoordinatorFromClient wraps an existing client
func NewCoordinatorFromClient(client *redis.Client) *Coordinator {
	return &Coordinator{client: client}
}

// Client exposes the underlying client
func (c *Coordinator) Client() *redis.Client {
	return c.client
}

// Acquire takes the lock for key if nobody holds it. The lock expires after
// ttl even if the holder dies without releasing it.
func (c *Coordinator) Acquire(ctx context.Context, key string, ttl time.Duration) (func() error, bool, error) {
	lockKey := fmt.Sprintf("%s:%s", lockPrefix, key)
	token := uuid.New().String()

	noop := func() error { return nil }
	ok, err := c.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return noop, false, fmt.Errorf("acquiring lock %s: %w", key, err)
	}
	if !ok {
		return noop, false, nil
	}

	// A failed release leaves the lock held until the TTL expires
	release := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := releaseScript.Run(ctx, c.client, []string{lockKey}, token).Err(); err != nil {
			return fmt.Errorf("releasing lock %s: %w", key, err)
		}
		return nil
	}
	return release, true, nil
}

// Ping checks connectivity
func (c *Coordinator) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("pinging Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Coordinator) Close(ctx context.Context) error {
	return c.client.Close()
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatTTL is how long a scheduler counts as alive after its last beat
const HeartbeatTTL = 60 * time.Second

// SchedulerHeartbeat represents the heartbeat data for a retry scheduler
type SchedulerHeartbeat struct {
	SchedulerID   string    `json:"scheduler_id"`
	Hostname      string    `json:"hostname"`
	Status        string    `json:"status"` // "idle", "sweeping"
	LastSweepAt   time.Time `json:"last_sweep_at,omitempty"`
	LastAttempted int       `json:"last_attempted"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// SetSchedulerHeartbeat stores or refreshes a scheduler's heartbeat.
// Schedulers beat every 15 seconds by default; a missing beat for
// HeartbeatTTL marks the scheduler inactive.
func (c *Coordinator) SetSchedulerHeartbeat(ctx context.Context, hb SchedulerHeartbeat) error {
	if hb.SchedulerID == "" {
		return errors.New("scheduler id is required")
	}
	if hb.LastHeartbeat.IsZero() {
		hb.LastHeartbeat = time.Now().UTC()
	}

	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("marshaling heartbeat: %w", err)
	}

	key := fmt.Sprintf("%s:%s", heartbeatPrefix, hb.SchedulerID)
	if err := c.client.Set(ctx, key, data, HeartbeatTTL).Err(); err != nil {
		return fmt.Errorf("setting heartbeat: %w", err)
	}
	return nil
}

// RemoveSchedulerHeartbeat deletes the heartbeat on clean shutdown
func (c *Coordinator) RemoveSchedulerHeartbeat(ctx context.Context, schedulerID string) error {
	key := fmt.Sprintf("%s:%s", heartbeatPrefix, schedulerID)
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("removing heartbeat: %w", err)
	}
	return nil
}

// ActiveSchedulers returns every scheduler with a live heartbeat, ordered by id
func (c *Coordinator) ActiveSchedulers(ctx context.Context) ([]SchedulerHeartbeat, error) {
	pattern := heartbeatPrefix + ":*"
	schedulers := []SchedulerHeartbeat{}

	var cursor uint64
	for {
		keys, nextCursor, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scanning scheduler keys: %w", err)
		}

		for _, key := range keys {
			data, err := c.client.Get(ctx, key).Result()
			if errors.Is(err, redis.Nil) {
				// Key expired between scan and get
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("getting scheduler heartbeat: %w", err)
			}

			var hb SchedulerHeartbeat
			if err := json.Unmarshal([]byte(data), &hb); err != nil {
				continue
			}
			schedulers = append(schedulers, hb)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	sort.Slice(schedulers, func(i, j int) bool {
		return schedulers[i].SchedulerID < schedulers[j].SchedulerID
	})
	return schedulers, nil
}

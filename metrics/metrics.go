package metrics

import (
	"context"
	"time"
)

// Metrics represents the current state of the delivery system.
type Metrics struct {
	// StatusCounts maps event status to the number of events in that status
	StatusCounts map[string]int64 `json:"status_counts"`

	// Throughput represents successful deliveries per time window
	Throughput ThroughputMetrics `json:"throughput"`

	// Schedulers lists retry schedulers with a live heartbeat
	Schedulers []SchedulerInfo `json:"schedulers"`

	// Timestamp when metrics were collected
	Timestamp time.Time `json:"timestamp"`
}

// ThroughputMetrics represents successful attempts over different time windows.
type ThroughputMetrics struct {
	LastMinute         int64 `json:"last_minute"`
	LastFiveMinutes    int64 `json:"last_five_minutes"`
	LastFifteenMinutes int64 `json:"last_fifteen_minutes"`
}

// SchedulerInfo represents information about an active retry scheduler.
type SchedulerInfo struct {
	SchedulerID   string    `json:"scheduler_id"`
	Hostname      string    `json:"hostname"`
	Status        string    `json:"status"`
	LastAttempted int       `json:"last_attempted"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Collector defines the interface for collecting metrics from the delivery system.
type Collector interface {
	// Collect gathers current metrics from the system
	Collect(ctx context.Context) (Metrics, error)

	// GetStatusCounts returns the count of events by status
	GetStatusCounts(ctx context.Context) (map[string]int64, error)

	// GetThroughput returns successful attempts over time windows
	GetThroughput(ctx context.Context) (ThroughputMetrics, error)

	// GetActiveSchedulers returns the schedulers with a live heartbeat
	GetActiveSchedulers(ctx context.Context) ([]SchedulerInfo, error)
}

package webhook

import (
	"context"
	"time"
)

/* Small, focused interfaces following "The Go Way"
 * Interfaces abstract behavior, not things
 * Readers are consumed by the monitor; writers only by Registry and Engine
 */

// EventFilter selects events. Zero fields do not filter. Results are newest first.
type EventFilter struct {
	EndpointID string
	Status     Status
	Type       string
	From       time.Time
	To         time.Time
	Limit      int
}

// AttemptFilter selects attempts. Results are in chronological order.
type AttemptFilter struct {
	EndpointID string
	EventID    string
	From       time.Time
	To         time.Time
	Limit      int
}

// EndpointReader provides read operations for endpoints. Tombstoned endpoints are never returned.
type EndpointReader interface {
	GetEndpoint(ctx context.Context, id string) (Endpoint, error)
	/* ListEndpoints returns endpoints newest first
	 * An empty ownerID lists every owner
	 */
	ListEndpoints(ctx context.Context, ownerID string) ([]Endpoint, error)
	ListActiveEndpoints(ctx context.Context) ([]Endpoint, error)
}

// EndpointWriter provides write operations for endpoints
type EndpointWriter interface {
	CreateEndpoint(ctx context.Context, e Endpoint, secret string) error
	UpdateEndpoint(ctx context.Context, e Endpoint) error
	UpdateSecret(ctx context.Context, id, secret, hint string, at time.Time) error
	TombstoneEndpoint(ctx context.Context, id string, at time.Time) error
}

// SecretReader is the only way to obtain an endpoint's signing secret
type SecretReader interface {
	EndpointSecret(ctx context.Context, endpointID string) (string, error)
}

// EventReader provides read operations for delivery units
type EventReader interface {
	GetEvent(ctx context.Context, id string) (Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]Event, error)
	// DueEvents returns PENDING events whose next retry is at or before now, oldest due first
	DueEvents(ctx context.Context, now time.Time, limit int) ([]Event, error)
}

// EventWriter provides the state transitions of a delivery unit
type EventWriter interface {
	CreateEvent(ctx context.Context, e Event) error
	/* IncrementAttempts atomically adds one to the attempts counter and
	 * returns the new value. Concurrent callers never lose an increment.
	 */
	IncrementAttempts(ctx context.Context, id string, at time.Time) (int, error)
	/* ScheduleRetry, MarkFailed and IncrementAttempts only apply to a
	 * PENDING event and return ErrEventSettled otherwise. MarkDelivered
	 * applies in any state so a manual retry can settle a FAILED event.
	 */
	ScheduleRetry(ctx context.Context, id string, next time.Time) error
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time) error
	// TouchAttempt records an attempt time without changing status or counter
	TouchAttempt(ctx context.Context, id string, at time.Time) error
}

// AttemptReader provides read operations for the attempt audit trail
type AttemptReader interface {
	ListAttempts(ctx context.Context, f AttemptFilter) ([]Attempt, error)
}

// AttemptWriter appends to the attempt audit trail
type AttemptWriter interface {
	CreateAttempt(ctx context.Context, a Attempt) error
}

// LogReader provides read operations for endpoint logs, newest first
type LogReader interface {
	ListLogs(ctx context.Context, endpointID string, limit int) ([]LogEntry, error)
}

// LogWriter appends endpoint log entries
type LogWriter interface {
	AppendLog(ctx context.Context, l LogEntry) error
}

//go:generate go tool mockery --name=Repository --output=mocks

/* Interface composition - combining small interfaces into larger ones
 * This is preferred over large monolithic interfaces
 */
type Repository interface {
	EndpointReader
	EndpointWriter
	SecretReader
	EventReader
	EventWriter
	AttemptReader
	AttemptWriter
	LogReader
	LogWriter
	Close(ctx context.Context) error
}

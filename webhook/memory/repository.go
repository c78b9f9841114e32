// Package memory is an in-process webhook.Repository for tests, demos and
// single-node runs without a database. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/marcelsud/webhook-dispatch/webhook"
)

type record[T any] struct {
	seq   int
	value T
}

var _ webhook.Repository = (*Repository)(nil)

type Repository struct {
	mu        sync.RWMutex
	seq       int
	endpoints map[string]*record[webhook.Endpoint]
	secrets   map[string]string
	events    map[string]*record[webhook.Event]
	attempts  []record[webhook.Attempt]
	logs      []record[webhook.LogEntry]
}

// NewRepository creates an empty repository
func NewRepository() *Repository {
	return &Repository{
		endpoints: make(map[string]*record[webhook.Endpoint]),
		secrets:   make(map[string]string),
		events:    make(map[string]*record[webhook.Event]),
	}
}

func (r *Repository) next() int {
	r.seq++
	return r.seq
}

func (r *Repository) GetEndpoint(_ context.Context, id string) (webhook.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.endpoints[id]
	if !ok || rec.value.DeletedAt != nil {
		return webhook.Endpoint{}, fmt.Errorf("endpoint %s: %w", id, webhook.ErrNotFound)
	}
	return cloneEndpoint(rec.value), nil
}

func (r *Repository) ListEndpoints(_ context.Context, ownerID string) ([]webhook.Endpoint, error) {
	return r.listEndpoints(func(e webhook.Endpoint) bool {
		return ownerID == "" || e.OwnerID == ownerID
	}), nil
}

func (r *Repository) ListActiveEndpoints(_ context.Context) ([]webhook.Endpoint, error) {
	return r.listEndpoints(func(e webhook.Endpoint) bool { return e.Active }), nil
}

func (r *Repository) listEndpoints(keep func(webhook.Endpoint) bool) []webhook.Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*record[webhook.Endpoint], 0, len(r.endpoints))
	for _, rec := range r.endpoints {
		if rec.value.DeletedAt == nil && keep(rec.value) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.value.CreatedAt.Equal(b.value.CreatedAt) {
			return a.value.CreatedAt.After(b.value.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]webhook.Endpoint, len(recs))
	for i, rec := range recs {
		out[i] = cloneEndpoint(rec.value)
	}
	return out
}

func (r *Repository) CreateEndpoint(_ context.Context, e webhook.Endpoint, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[e.ID]; exists {
		return fmt.Errorf("endpoint %s already exists", e.ID)
	}
	r.endpoints[e.ID] = &record[webhook.Endpoint]{seq: r.next(), value: cloneEndpoint(e)}
	r.secrets[e.ID] = secret
	return nil
}

func (r *Repository) UpdateEndpoint(_ context.Context, e webhook.Endpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveEndpoint(e.ID)
	if err != nil {
		return err
	}
	updated := cloneEndpoint(e)
	updated.OwnerID = rec.value.OwnerID
	updated.CreatedAt = rec.value.CreatedAt
	updated.SecretHint = rec.value.SecretHint
	rec.value = updated
	return nil
}

func (r *Repository) UpdateSecret(_ context.Context, id, secret, hint string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveEndpoint(id)
	if err != nil {
		return err
	}
	r.secrets[id] = secret
	rec.value.SecretHint = hint
	rec.value.UpdatedAt = at
	return nil
}

func (r *Repository) TombstoneEndpoint(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.liveEndpoint(id)
	if err != nil {
		return err
	}
	rec.value.Active = false
	rec.value.DeletedAt = &at
	rec.value.UpdatedAt = at
	return nil
}

func (r *Repository) liveEndpoint(id string) (*record[webhook.Endpoint], error) {
	rec, ok := r.endpoints[id]
	if !ok || rec.value.DeletedAt != nil {
		return nil, fmt.Errorf("endpoint %s: %w", id, webhook.ErrNotFound)
	}
	return rec, nil
}

func (r *Repository) EndpointSecret(_ context.Context, endpointID string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, err := r.liveEndpoint(endpointID); err != nil {
		return "", err
	}
	return r.secrets[endpointID], nil
}

func (r *Repository) CreateEvent(_ context.Context, e webhook.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.events[e.ID]; exists {
		return fmt.Errorf("event %s already exists", e.ID)
	}
	if _, err := r.liveEndpoint(e.EndpointID); err != nil {
		return err
	}
	r.events[e.ID] = &record[webhook.Event]{seq: r.next(), value: cloneEvent(e)}
	return nil
}

func (r *Repository) GetEvent(_ context.Context, id string) (webhook.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.events[id]
	if !ok {
		return webhook.Event{}, fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	return cloneEvent(rec.value), nil
}

func (r *Repository) ListEvents(_ context.Context, f webhook.EventFilter) ([]webhook.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*record[webhook.Event], 0)
	for _, rec := range r.events {
		e := rec.value
		switch {
		case f.EndpointID != "" && e.EndpointID != f.EndpointID:
			continue
		case f.Status != 0 && e.Status != f.Status:
			continue
		case f.Type != "" && string(e.Type) != f.Type:
			continue
		case !f.From.IsZero() && e.CreatedAt.Before(f.From):
			continue
		case !f.To.IsZero() && !e.CreatedAt.Before(f.To):
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.value.CreatedAt.Equal(b.value.CreatedAt) {
			return a.value.CreatedAt.After(b.value.CreatedAt)
		}
		return a.seq > b.seq
	})
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}

	out := make([]webhook.Event, len(recs))
	for i, rec := range recs {
		out[i] = cloneEvent(rec.value)
	}
	return out, nil
}

func (r *Repository) DueEvents(_ context.Context, now time.Time, limit int) ([]webhook.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]*record[webhook.Event], 0)
	for _, rec := range r.events {
		e := rec.value
		if e.Status == webhook.Pending && e.NextRetryAt != nil && !e.NextRetryAt.After(now) {
			recs = append(recs, rec)
		}
	}
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.value.NextRetryAt.Equal(*b.value.NextRetryAt) {
			return a.value.NextRetryAt.Before(*b.value.NextRetryAt)
		}
		return a.seq < b.seq
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}

	out := make([]webhook.Event, len(recs))
	for i, rec := range recs {
		out[i] = cloneEvent(rec.value)
	}
	return out, nil
}

func (r *Repository) IncrementAttempts(_ context.Context, id string, at time.Time) (int, error) {
	var n int
	err := r.updatePending(id, func(e *webhook.Event) {
		e.Attempts++
		e.LastAttemptAt = &at
		e.UpdatedAt = at
		n = e.Attempts
	})
	return n, err
}

func (r *Repository) ScheduleRetry(_ context.Context, id string, next time.Time) error {
	return r.updatePending(id, func(e *webhook.Event) {
		e.NextRetryAt = &next
	})
}

func (r *Repository) MarkDelivered(_ context.Context, id string, at time.Time) error {
	return r.updateEvent(id, func(e *webhook.Event) {
		e.Status = webhook.Delivered
		e.NextRetryAt = nil
		e.LastAttemptAt = &at
		e.UpdatedAt = at
	})
}

func (r *Repository) MarkFailed(_ context.Context, id string, at time.Time) error {
	return r.updatePending(id, func(e *webhook.Event) {
		e.Status = webhook.Failed
		e.NextRetryAt = nil
		e.UpdatedAt = at
	})
}

func (r *Repository) TouchAttempt(_ context.Context, id string, at time.Time) error {
	return r.updateEvent(id, func(e *webhook.Event) {
		e.LastAttemptAt = &at
		e.UpdatedAt = at
	})
}

func (r *Repository) updateEvent(id string, fn func(*webhook.Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	fn(&rec.value)
	return nil
}

func (r *Repository) updatePending(id string, fn func(*webhook.Event)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.events[id]
	if !ok {
		return fmt.Errorf("event %s: %w", id, webhook.ErrNotFound)
	}
	if rec.value.Status != webhook.Pending {
		return fmt.Errorf("event %s is %s: %w", id, rec.value.Status, webhook.ErrEventSettled)
	}
	fn(&rec.value)
	return nil
}

func (r *Repository) CreateAttempt(_ context.Context, a webhook.Attempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.StatusCode != nil {
		code := *a.StatusCode
		a.StatusCode = &code
	}
	r.attempts = append(r.attempts, record[webhook.Attempt]{seq: r.next(), value: a})
	return nil
}

func (r *Repository) ListAttempts(_ context.Context, f webhook.AttemptFilter) ([]webhook.Attempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := make([]record[webhook.Attempt], 0)
	for _, rec := range r.attempts {
		a := rec.value
		switch {
		case f.EndpointID != "" && a.EndpointID != f.EndpointID:
			continue
		case f.EventID != "" && a.EventID != f.EventID:
			continue
		case !f.From.IsZero() && a.CreatedAt.Before(f.From):
			continue
		case !f.To.IsZero() && !a.CreatedAt.Before(f.To):
			continue
		}
		recs = append(recs, rec)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].value.CreatedAt.Before(recs[j].value.CreatedAt)
	})
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}

	out := make([]webhook.Attempt, len(recs))
	for i, rec := range recs {
		out[i] = rec.value
	}
	return out, nil
}

func (r *Repository) AppendLog(_ context.Context, l webhook.LogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.Detail = slices.Clone(l.Detail)
	r.logs = append(r.logs, record[webhook.LogEntry]{seq: r.next(), value: l})
	return nil
}

func (r *Repository) ListLogs(_ context.Context, endpointID string, limit int) ([]webhook.LogEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]webhook.LogEntry, 0)
	for i := len(r.logs) - 1; i >= 0; i-- {
		if r.logs[i].value.EndpointID != endpointID {
			continue
		}
		out = append(out, r.logs[i].value)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *Repository) Close(_ context.Context) error {
	return nil
}

func cloneEndpoint(e webhook.Endpoint) webhook.Endpoint {
	e.EventTypes = slices.Clone(e.EventTypes)
	e.Headers = maps.Clone(e.Headers)
	if e.DeletedAt != nil {
		t := *e.DeletedAt
		e.DeletedAt = &t
	}
	return e
}

func cloneEvent(e webhook.Event) webhook.Event {
	e.Payload = slices.Clone(e.Payload)
	if e.NextRetryAt != nil {
		t := *e.NextRetryAt
		e.NextRetryAt = &t
	}
	if e.LastAttemptAt != nil {
		t := *e.LastAttemptAt
		e.LastAttemptAt = &t
	}
	return e
}

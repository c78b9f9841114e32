package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/marcelsud/webhook-dispatch/webhook"
	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
)

/*
PostgreSQL Repository

- Endpoint secrets live in their own table; only SecretReader selects from it
- Deletion is a tombstone (deleted_at); history rows are kept
- The attempts counter is incremented with UPDATE ... RETURNING, so
  concurrent callers never lose an increment
*/

var _ webhook.Repository = (*Repository)(nil)

type Repository struct {
	DB *sqlx.DB
}

// PoolConfig tunes the connection pool
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolConfig returns the default pool (25, 5, 5 min)
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// NewRepository connects with the default pool
func NewRepository(connectionString string) (*Repository, error) {
	return NewRepositoryWithPoolConfig(connectionString, DefaultPoolConfig())
}

// NewRepositoryWithPoolConfig connects and verifies the database is reachable
func NewRepositoryWithPoolConfig(connectionString string, cfg PoolConfig) (*Repository, error) {
	db, err := sqlx.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPoolConfig().PingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &Repository{DB: db}, nil
}

// withTx runs fn inside a transaction, rolling back on error
func (r *Repository) withTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

const endpointColumns = `id, owner_id, url, event_types, active, retry_policy, max_retries,
	base_delay_seconds, timeout_seconds, headers, secret_hint, created_at, updated_at, deleted_at`

type endpointRow struct {
	ID               string         `db:"id"`
	OwnerID          string         `db:"owner_id"`
	URL              string         `db:"url"`
	EventTypes       pq.StringArray `db:"event_types"`
	Active           bool           `db:"active"`
	RetryPolicy      string         `db:"retry_policy"`
	MaxRetries       int            `db:"max_retries"`
	BaseDelaySeconds int            `db:"base_delay_seconds"`
	TimeoutSeconds   int            `db:"timeout_seconds"`
	Headers          []byte         `db:"headers"`
	SecretHint       string         `db:"secret_hint"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	DeletedAt        sql.NullTime   `db:"deleted_at"`
}

func (row endpointRow) toEndpoint() (webhook.Endpoint, error) {
	headers := map[string]string{}
	if len(row.Headers) > 0 {
		if err := json.Unmarshal(row.Headers, &headers); err != nil {
			return webhook.Endpoint{}, fmt.Errorf("decoding headers of endpoint %s: %w", row.ID, err)
		}
	}

	e := webhook.Endpoint{
		ID:         row.ID,
		OwnerID:    row.OwnerID,
		URL:        row.URL,
		EventTypes: []string(row.EventTypes),
		Active:     row.Active,
		Policy: webhook.Policy{
			Strategy:         retry.NewStrategy(row.RetryPolicy),
			MaxRetries:       row.MaxRetries,
			BaseDelaySeconds: row.BaseDelaySeconds,
			TimeoutSeconds:   row.TimeoutSeconds,
		},
		Headers:    headers,
		SecretHint: row.SecretHint,
		CreatedAt:  row.CreatedAt.UTC(),
		UpdatedAt:  row.UpdatedAt.UTC(),
	}
	if row.DeletedAt.Valid {
		t := row.DeletedAt.Time.UTC()
		e.DeletedAt = &t
	}
	return e, nil
}

func (r *Repository) GetEndpoint(ctx context.Context, id string) (webhook.Endpoint, error) {
	query := "SELECT " + endpointColumns + " FROM endpoints WHERE id = $1 AND deleted_at IS NULL"

	var row endpointRow
	err := r.DB.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Endpoint{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Endpoint{}, fmt.Errorf("selecting endpoint: %w", err)
	}
	return row.toEndpoint()
}

func (r *Repository) ListEndpoints(ctx context.Context, ownerID string) ([]webhook.Endpoint, error) {
	query := "SELECT " + endpointColumns + ` FROM endpoints
		WHERE deleted_at IS NULL AND ($1 = '' OR owner_id = $1)
		ORDER BY created_at DESC, id DESC`
	return r.selectEndpoints(ctx, query, ownerID)
}

func (r *Repository) ListActiveEndpoints(ctx context.Context) ([]webhook.Endpoint, error) {
	query := "SELECT " + endpointColumns + ` FROM endpoints
		WHERE deleted_at IS NULL AND active
		ORDER BY created_at, id`
	return r.selectEndpoints(ctx, query)
}

func (r *Repository) selectEndpoints(ctx context.Context, query string, args ...any) ([]webhook.Endpoint, error) {
	var rows []endpointRow
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting endpoints: %w", err)
	}

	out := make([]webhook.Endpoint, 0, len(rows))
	for _, row := range rows {
		e, err := row.toEndpoint()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Repository) CreateEndpoint(ctx context.Context, e webhook.Endpoint, secret string) error {
	headers, err := json.Marshal(nonNilHeaders(e.Headers))
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}

	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO endpoints (id, owner_id, url, event_types, active, retry_policy, max_retries,
				base_delay_seconds, timeout_seconds, headers, secret_hint, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			e.ID, e.OwnerID, e.URL, pq.Array(e.EventTypes), e.Active, e.Policy.Strategy.String(),
			e.Policy.MaxRetries, e.Policy.BaseDelaySeconds, e.Policy.TimeoutSeconds,
			headers, e.SecretHint, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting endpoint: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO endpoint_secrets (endpoint_id, secret, rotated_at) VALUES ($1, $2, $3)`,
			e.ID, secret, e.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("inserting endpoint secret: %w", err)
		}
		return nil
	})
}

func (r *Repository) UpdateEndpoint(ctx context.Context, e webhook.Endpoint) error {
	headers, err := json.Marshal(nonNilHeaders(e.Headers))
	if err != nil {
		return fmt.Errorf("encoding headers: %w", err)
	}

	result, err := r.DB.ExecContext(ctx, `
		UPDATE endpoints
		SET url = $2, event_types = $3, active = $4, retry_policy = $5, max_retries = $6,
			base_delay_seconds = $7, timeout_seconds = $8, headers = $9, updated_at = $10
		WHERE id = $1 AND deleted_at IS NULL`,
		e.ID, e.URL, pq.Array(e.EventTypes), e.Active, e.Policy.Strategy.String(), e.Policy.MaxRetries,
		e.Policy.BaseDelaySeconds, e.Policy.TimeoutSeconds, headers, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating endpoint: %w", err)
	}
	return expectOne(result)
}

func (r *Repository) UpdateSecret(ctx context.Context, id, secret, hint string, at time.Time) error {
	return r.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx,
			`UPDATE endpoints SET secret_hint = $2, updated_at = $3 WHERE id = $1 AND deleted_at IS NULL`,
			id, hint, at,
		)
		if err != nil {
			return fmt.Errorf("updating secret hint: %w", err)
		}
		if err := expectOne(result); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE endpoint_secrets SET secret = $2, rotated_at = $3 WHERE endpoint_id = $1`,
			id, secret, at,
		)
		if err != nil {
			return fmt.Errorf("updating endpoint secret: %w", err)
		}
		return nil
	})
}

func (r *Repository) TombstoneEndpoint(ctx context.Context, id string, at time.Time) error {
	result, err := r.DB.ExecContext(ctx,
		`UPDATE endpoints SET active = FALSE, deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("tombstoning endpoint: %w", err)
	}
	return expectOne(result)
}

func (r *Repository) EndpointSecret(ctx context.Context, endpointID string) (string, error) {
	var secret string
	err := r.DB.GetContext(ctx, &secret, `
		SELECT s.secret FROM endpoint_secrets s
		JOIN endpoints e ON e.id = s.endpoint_id
		WHERE s.endpoint_id = $1 AND e.deleted_at IS NULL`,
		endpointID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", webhook.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("selecting endpoint secret: %w", err)
	}
	return secret, nil
}

const eventColumns = `id, endpoint_id, event_type, payload, status, attempts, last_attempt_at,
	next_retry_at, created_at, updated_at`

type eventRow struct {
	ID            string       `db:"id"`
	EndpointID    string       `db:"endpoint_id"`
	EventType     string       `db:"event_type"`
	Payload       []byte       `db:"payload"`
	Status        string       `db:"status"`
	Attempts      int          `db:"attempts"`
	LastAttemptAt sql.NullTime `db:"last_attempt_at"`
	NextRetryAt   sql.NullTime `db:"next_retry_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (row eventRow) toEvent() webhook.Event {
	return webhook.Event{
		ID:            row.ID,
		EndpointID:    row.EndpointID,
		Type:          payload.Type(row.EventType),
		Payload:       row.Payload,
		Status:        webhook.NewStatus(row.Status),
		Attempts:      row.Attempts,
		LastAttemptAt: nullTime(row.LastAttemptAt),
		NextRetryAt:   nullTime(row.NextRetryAt),
		CreatedAt:     row.CreatedAt.UTC(),
		UpdatedAt:     row.UpdatedAt.UTC(),
	}
}

func (r *Repository) CreateEvent(ctx context.Context, e webhook.Event) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO events (id, endpoint_id, event_type, payload, status, attempts,
			last_attempt_at, next_retry_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.EndpointID, string(e.Type), e.Payload, e.Status.String(), e.Attempts,
		e.LastAttemptAt, e.NextRetryAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, id string) (webhook.Event, error) {
	var row eventRow
	err := r.DB.GetContext(ctx, &row, "SELECT "+eventColumns+" FROM events WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.Event{}, webhook.ErrNotFound
	}
	if err != nil {
		return webhook.Event{}, fmt.Errorf("selecting event: %w", err)
	}
	return row.toEvent(), nil
}

func (r *Repository) ListEvents(ctx context.Context, f webhook.EventFilter) ([]webhook.Event, error) {
	var where []string
	var args []any

	if f.EndpointID != "" {
		where = append(where, "endpoint_id = ?")
		args = append(args, f.EndpointID)
	}
	if f.Status != 0 {
		where = append(where, "status = ?")
		args = append(args, f.Status.String())
	}
	if f.Type != "" {
		where = append(where, "event_type = ?")
		args = append(args, f.Type)
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.To)
	}

	query := "SELECT " + eventColumns + " FROM events" + whereClause(where) + " ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	return r.selectEvents(ctx, r.DB.Rebind(query), args...)
}

func (r *Repository) DueEvents(ctx context.Context, now time.Time, limit int) ([]webhook.Event, error) {
	query := "SELECT " + eventColumns + ` FROM events
		WHERE status = 'PENDING' AND next_retry_at <= $1
		ORDER BY next_retry_at, created_at
		LIMIT $2`
	return r.selectEvents(ctx, query, now, limit)
}

func (r *Repository) selectEvents(ctx context.Context, query string, args ...any) ([]webhook.Event, error) {
	var rows []eventRow
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting events: %w", err)
	}

	out := make([]webhook.Event, len(rows))
	for i, row := range rows {
		out[i] = row.toEvent()
	}
	return out, nil
}

func (r *Repository) IncrementAttempts(ctx context.Context, id string, at time.Time) (int, error) {
	var attempts int
	err := r.DB.GetContext(ctx, &attempts, `
		UPDATE events
		SET attempts = attempts + 1, last_attempt_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'PENDING'
		RETURNING attempts`,
		id, at,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, r.notPending(ctx, id)
	}
	if err != nil {
		return 0, fmt.Errorf("incrementing attempts: %w", err)
	}
	return attempts, nil
}

func (r *Repository) ScheduleRetry(ctx context.Context, id string, next time.Time) error {
	return r.execPending(ctx, "scheduling retry",
		`UPDATE events SET next_retry_at = $2 WHERE id = $1 AND status = 'PENDING'`, id, next)
}

func (r *Repository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return r.execEvent(ctx, "marking event delivered", `
		UPDATE events
		SET status = 'DELIVERED', next_retry_at = NULL, last_attempt_at = $2, updated_at = $2
		WHERE id = $1`, id, at)
}

func (r *Repository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	return r.execPending(ctx, "marking event failed", `
		UPDATE events
		SET status = 'FAILED', next_retry_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'PENDING'`, id, at)
}

func (r *Repository) TouchAttempt(ctx context.Context, id string, at time.Time) error {
	return r.execEvent(ctx, "touching event",
		`UPDATE events SET last_attempt_at = $2, updated_at = $2 WHERE id = $1`, id, at)
}

func (r *Repository) execEvent(ctx context.Context, doing, query string, args ...any) error {
	result, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", doing, err)
	}
	return expectOne(result)
}

// execPending runs an update guarded by status = 'PENDING'
func (r *Repository) execPending(ctx context.Context, doing, query string, args ...any) error {
	err := r.execEvent(ctx, doing, query, args...)
	if errors.Is(err, webhook.ErrNotFound) {
		return r.notPending(ctx, args[0].(string))
	}
	return err
}

// notPending tells a missing event apart from one that already settled
func (r *Repository) notPending(ctx context.Context, id string) error {
	var status string
	err := r.DB.GetContext(ctx, &status, `SELECT status FROM events WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return webhook.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading event status: %w", err)
	}
	return fmt.Errorf("event %s is %s: %w", id, status, webhook.ErrEventSettled)
}

type attemptRow struct {
	ID           string        `db:"id"`
	EventID      string        `db:"event_id"`
	EndpointID   string        `db:"endpoint_id"`
	StatusCode   sql.NullInt64 `db:"status_code"`
	LatencyMs    int64         `db:"latency_ms"`
	ResponseBody string        `db:"response_body"`
	Error        string        `db:"error"`
	Manual       bool          `db:"manual"`
	CreatedAt    time.Time     `db:"created_at"`
}

func (r *Repository) CreateAttempt(ctx context.Context, a webhook.Attempt) error {
	var code sql.NullInt64
	if a.StatusCode != nil {
		code = sql.NullInt64{Int64: int64(*a.StatusCode), Valid: true}
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO delivery_attempts (id, event_id, endpoint_id, status_code, latency_ms,
			response_body, error, manual, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.EventID, a.EndpointID, code, a.LatencyMs, a.ResponseBody, a.Error, a.Manual, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting attempt: %w", err)
	}
	return nil
}

func (r *Repository) ListAttempts(ctx context.Context, f webhook.AttemptFilter) ([]webhook.Attempt, error) {
	var where []string
	var args []any

	if f.EndpointID != "" {
		where = append(where, "endpoint_id = ?")
		args = append(args, f.EndpointID)
	}
	if f.EventID != "" {
		where = append(where, "event_id = ?")
		args = append(args, f.EventID)
	}
	if !f.From.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		where = append(where, "created_at < ?")
		args = append(args, f.To)
	}

	query := `SELECT id, event_id, endpoint_id, status_code, latency_ms, response_body, error, manual, created_at
		FROM delivery_attempts` + whereClause(where) + " ORDER BY created_at, id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	var rows []attemptRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("selecting attempts: %w", err)
	}

	out := make([]webhook.Attempt, len(rows))
	for i, row := range rows {
		a := webhook.Attempt{
			ID:           row.ID,
			EventID:      row.EventID,
			EndpointID:   row.EndpointID,
			LatencyMs:    row.LatencyMs,
			ResponseBody: row.ResponseBody,
			Error:        row.Error,
			Manual:       row.Manual,
			CreatedAt:    row.CreatedAt.UTC(),
		}
		if row.StatusCode.Valid {
			code := int(row.StatusCode.Int64)
			a.StatusCode = &code
		}
		out[i] = a
	}
	return out, nil
}

type logRow struct {
	ID         string    `db:"id"`
	EndpointID string    `db:"endpoint_id"`
	Action     string    `db:"action"`
	Outcome    string    `db:"outcome"`
	Detail     []byte    `db:"detail"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r *Repository) AppendLog(ctx context.Context, l webhook.LogEntry) error {
	detail := []byte(l.Detail)
	if len(detail) == 0 {
		detail = []byte("null")
	}

	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO endpoint_logs (id, endpoint_id, action, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		l.ID, l.EndpointID, l.Action.String(), l.Outcome.String(), detail, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting endpoint log: %w", err)
	}
	return nil
}

func (r *Repository) ListLogs(ctx context.Context, endpointID string, limit int) ([]webhook.LogEntry, error) {
	query := `SELECT id, endpoint_id, action, outcome, detail, created_at
		FROM endpoint_logs WHERE endpoint_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{endpointID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	var rows []logRow
	if err := r.DB.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("selecting endpoint logs: %w", err)
	}

	out := make([]webhook.LogEntry, len(rows))
	for i, row := range rows {
		out[i] = webhook.LogEntry{
			ID:         row.ID,
			EndpointID: row.EndpointID,
			Action:     webhook.NewAction(row.Action),
			Outcome:    webhook.NewOutcome(row.Outcome),
			Detail:     json.RawMessage(row.Detail),
			CreatedAt:  row.CreatedAt.UTC(),
		}
	}
	return out, nil
}

// Close closes the connection pool
func (r *Repository) Close(ctx context.Context) error {
	if r.DB != nil {
		return r.DB.Close()
	}
	return nil
}

func expectOne(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return webhook.ErrNotFound
	}
	return nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nonNilHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

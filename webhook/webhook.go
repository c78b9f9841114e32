package webhook

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/marcelsud/webhook-dispatch/webhook/payload"
	"github.com/marcelsud/webhook-dispatch/webhook/retry"
	"github.com/marcelsud/webhook-dispatch/webhook/signature"
)

/* Entities use value semantics as they represent data, not behavior
 * The signing secret is intentionally absent from Endpoint: it lives behind
 * SecretReader and is only ever handed out once, at registration
 */

const (
	DefaultMaxRetries       = 5
	DefaultBaseDelaySeconds = 60
	DefaultTimeoutSeconds   = 30

	// MaxResponseBodyBytes bounds the response body kept on an Attempt
	MaxResponseBodyBytes = 1024
)

// Policy governs spacing and count of automatic delivery attempts
type Policy struct {
	Strategy         retry.Strategy `json:"retry_policy"`
	MaxRetries       int            `json:"max_retries"`
	BaseDelaySeconds int            `json:"base_delay_seconds"`
	TimeoutSeconds   int            `json:"timeout_seconds"`
}

// DefaultPolicy returns the policy applied when a registration leaves fields unset
func DefaultPolicy() Policy {
	return Policy{
		Strategy:         retry.Exponential,
		MaxRetries:       DefaultMaxRetries,
		BaseDelaySeconds: DefaultBaseDelaySeconds,
		TimeoutSeconds:   DefaultTimeoutSeconds,
	}
}

// Validate checks policy bounds
func (p Policy) Validate() error {
	if err := p.Strategy.Validate(); err != nil {
		return &ValidationError{Field: "retry_policy", Reason: "must be FIXED, LINEAR or EXPONENTIAL"}
	}
	if p.MaxRetries < 1 || p.MaxRetries > 20 {
		return &ValidationError{Field: "max_retries", Reason: "must be between 1 and 20"}
	}
	if p.BaseDelaySeconds < 1 || p.BaseDelaySeconds > 86400 {
		return &ValidationError{Field: "base_delay_seconds", Reason: "must be between 1 and 86400"}
	}
	if p.TimeoutSeconds < 1 || p.TimeoutSeconds > 120 {
		return &ValidationError{Field: "timeout_seconds", Reason: "must be between 1 and 120"}
	}
	return nil
}

// Timeout is the per-attempt request deadline
func (p Policy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// Delay is the wait after the given number of failed attempts
func (p Policy) Delay(attempts int) time.Duration {
	return retry.Duration(attempts, p.Strategy, p.BaseDelaySeconds)
}

// Endpoint is a registered destination URL plus its delivery configuration
type Endpoint struct {
	ID         string            `json:"id"`
	OwnerID    string            `json:"owner_id"`
	URL        string            `json:"url"`
	EventTypes []string          `json:"events"`
	Active     bool              `json:"active"`
	Policy     Policy            `json:"policy"`
	Headers    map[string]string `json:"headers"`
	SecretHint string            `json:"secret"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	DeletedAt  *time.Time        `json:"-"`
}

// Subscribes reports whether the endpoint should receive events of type t
func (e Endpoint) Subscribes(t payload.Type) bool {
	return e.Active && e.DeletedAt == nil && payload.Matches(t, e.EventTypes)
}

// Event is one delivery unit: an endpoint being notified of one domain event
type Event struct {
	ID            string       `json:"id"`
	EndpointID    string       `json:"endpoint_id"`
	Type          payload.Type `json:"event_type"`
	Payload       []byte       `json:"-"`
	Status        Status       `json:"status"`
	Attempts      int          `json:"attempts"`
	LastAttemptAt *time.Time   `json:"last_attempt_at,omitempty"`
	NextRetryAt   *time.Time   `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// Attempt is one HTTP delivery try. Immutable once created.
type Attempt struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"`
	EndpointID   string    `json:"endpoint_id"`
	StatusCode   *int      `json:"status_code"`
	LatencyMs    int64     `json:"latency_ms"`
	ResponseBody string    `json:"response_body,omitempty"`
	Error        string    `json:"error,omitempty"`
	Manual       bool      `json:"manual"`
	CreatedAt    time.Time `json:"created_at"`
}

// Succeeded reports whether the attempt got a 2xx response
func (a Attempt) Succeeded() bool {
	return a.StatusCode != nil && *a.StatusCode >= 200 && *a.StatusCode < 300
}

// LogEntry is an append-only audit record for an endpoint
type LogEntry struct {
	ID         string          `json:"id"`
	EndpointID string          `json:"endpoint_id"`
	Action     Action          `json:"action"`
	Outcome    Outcome         `json:"outcome"`
	Detail     json.RawMessage `json:"detail"`
	CreatedAt  time.Time       `json:"created_at"`
}

// reservedHeaders cannot be set through custom endpoint headers
var reservedHeaders = map[string]bool{
	"Content-Type":   true,
	"Content-Length": true,
	"Host":           true,
	"User-Agent":     true,
}

// IsReservedHeader reports whether name is controlled by the delivery engine
func IsReservedHeader(name string) bool {
	canonical := http.CanonicalHeaderKey(strings.TrimSpace(name))
	if reservedHeaders[canonical] {
		return true
	}
	return strings.HasPrefix(canonical, "X-Webhook-") || canonical == signature.Header
}

// RedactSecret returns the display form of a secret: prefix plus last four characters
func RedactSecret(secret string) string {
	if len(secret) <= 4 {
		return signature.SecretPrefix + "****"
	}
	return signature.SecretPrefix + "****" + secret[len(secret)-4:]
}

// storableText cuts b to at most n bytes on a rune boundary. Invalid UTF-8
// becomes U+FFFD and NUL bytes are dropped so the text fits a TEXT column.
func storableText(b []byte, n int) string {
	s := strings.ToValidUTF8(string(b), "\uFFFD")
	s = strings.ReplaceAll(s, "\x00", "")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

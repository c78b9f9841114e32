package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// eventTypePattern validates event types: hierarchical, full-stop delimited, [a-zA-Z0-9_.]
var eventTypePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+(\.[a-zA-Z0-9_]+)*$`)

// Type names a domain event. The set is closed.
type Type string

const (
	PaymentSuccessType   Type = "payment.success"
	PaymentFailedType    Type = "payment.failed"
	BillCreatedType      Type = "bill.created"
	BillPaidType         Type = "bill.paid"
	BillOverdueType      Type = "bill.overdue"
	BillUpdatedType      Type = "bill.updated"
	UserCreatedType      Type = "user.created"
	UserUpdatedType      Type = "user.updated"
	DocumentUploadedType Type = "document.uploaded"
	ReportGeneratedType  Type = "report.generated"
)

var allTypes = []Type{
	PaymentSuccessType,
	PaymentFailedType,
	BillCreatedType,
	BillPaidType,
	BillOverdueType,
	BillUpdatedType,
	UserCreatedType,
	UserUpdatedType,
	DocumentUploadedType,
	ReportGeneratedType,
}

// Types returns every known event type
func Types() []Type {
	out := make([]Type, len(allTypes))
	copy(out, allTypes)
	return out
}

func (t Type) String() string {
	return string(t)
}

// Validate checks that t belongs to the closed set
func (t Type) Validate() error {
	for _, known := range allTypes {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("unknown event type: %q", string(t))
}

// Payload is implemented by every event variant
type Payload interface {
	Type() Type
}

// Encode returns the canonical bytes for p. These exact bytes are signed
// and delivered; they are never re-encoded afterwards.
func Encode(p Payload) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("payload is nil")
	}
	if err := p.Type().Validate(); err != nil {
		return nil, err
	}

	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", p.Type(), err)
	}
	return b, nil
}

// New returns an empty variant for t
func New(t Type) (Payload, error) {
	switch t {
	case PaymentSuccessType:
		return &PaymentSuccess{}, nil
	case PaymentFailedType:
		return &PaymentFailed{}, nil
	case BillCreatedType:
		return &BillCreated{}, nil
	case BillPaidType:
		return &BillPaid{}, nil
	case BillOverdueType:
		return &BillOverdue{}, nil
	case BillUpdatedType:
		return &BillUpdated{}, nil
	case UserCreatedType:
		return &UserCreated{}, nil
	case UserUpdatedType:
		return &UserUpdated{}, nil
	case DocumentUploadedType:
		return &DocumentUploaded{}, nil
	case ReportGeneratedType:
		return &ReportGenerated{}, nil
	default:
		return nil, fmt.Errorf("unknown event type: %q", string(t))
	}
}

// Decode parses raw into the variant for t. Unknown fields are rejected.
func Decode(t Type, raw []byte) (Payload, error) {
	p, err := New(t)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", t, err)
	}
	return p, nil
}

// Matches reports whether t is selected by any of the subscription patterns.
// Supports exact matching, prefix matching ("bill.*") and "*".
func Matches(t Type, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern == "*" || pattern == string(t) {
			return true
		}

		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			s := string(t)
			if len(s) > len(prefix) && strings.HasPrefix(s, prefix) && s[len(prefix)] == '.' {
				return true
			}
		}
	}
	return false
}

// ValidatePattern validates a subscription pattern. A wildcard must select
// at least one known type.
func ValidatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if pattern == "*" {
		return nil
	}

	base := strings.TrimSuffix(pattern, ".*")
	if !eventTypePattern.MatchString(base) {
		return fmt.Errorf("event type must be hierarchical and contain only [a-zA-Z0-9_.]: %s", pattern)
	}

	if base == pattern {
		return Type(pattern).Validate()
	}

	for _, known := range allTypes {
		if Matches(known, []string{pattern}) {
			return nil
		}
	}
	return fmt.Errorf("wildcard %q matches no known event type", pattern)
}

/* Variants
 * Shared shapes are embedded so each event type stays a distinct Go type
 */

// Payment describes a payment attempt
type Payment struct {
	ID         string            `json:"id"`
	Amount     float64           `json:"amount"`
	Currency   string            `json:"currency,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	BillID     string            `json:"bill_id,omitempty"`
	Method     string            `json:"method,omitempty"`
	CardNumber string            `json:"card_number,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type PaymentSuccess struct {
	Payment
	PaidAt *time.Time `json:"paid_at,omitempty"`
}

func (PaymentSuccess) Type() Type { return PaymentSuccessType }

type PaymentFailed struct {
	Payment
	Reason string `json:"reason,omitempty"`
}

func (PaymentFailed) Type() Type { return PaymentFailedType }

// Bill describes an invoice owed by a user
type Bill struct {
	ID       string     `json:"id"`
	UserID   string     `json:"user_id,omitempty"`
	Amount   float64    `json:"amount"`
	Currency string     `json:"currency,omitempty"`
	DueDate  *time.Time `json:"due_date,omitempty"`
	Status   string     `json:"status,omitempty"`
}

type BillCreated struct{ Bill }

func (BillCreated) Type() Type { return BillCreatedType }

type BillPaid struct {
	Bill
	PaymentID string `json:"payment_id,omitempty"`
}

func (BillPaid) Type() Type { return BillPaidType }

type BillOverdue struct {
	Bill
	DaysOverdue int `json:"days_overdue"`
}

func (BillOverdue) Type() Type { return BillOverdueType }

type BillUpdated struct {
	Bill
	Changes []string `json:"changes,omitempty"`
}

func (BillUpdated) Type() Type { return BillUpdatedType }

// User describes an account holder
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
}

type UserCreated struct{ User }

func (UserCreated) Type() Type { return UserCreatedType }

type UserUpdated struct {
	User
	Changes []string `json:"changes,omitempty"`
}

func (UserUpdated) Type() Type { return UserUpdatedType }

type DocumentUploaded struct {
	ID          string `json:"id"`
	UserID      string `json:"user_id,omitempty"`
	Name        string `json:"name"`
	ContentType string `json:"content_type,omitempty"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (DocumentUploaded) Type() Type { return DocumentUploadedType }

type ReportGenerated struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	URL         string     `json:"url,omitempty"`
	PeriodStart *time.Time `json:"period_start,omitempty"`
	PeriodEnd   *time.Time `json:"period_end,omitempty"`
}

func (ReportGenerated) Type() Type { return ReportGeneratedType }

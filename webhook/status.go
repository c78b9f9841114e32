package webhook

import (
	"fmt"
	"strings"
)

/* Status represents the current state of a delivery unit
 * Follows the lifecycle: Pending -> Delivered | Failed
 */
type Status int

const (
	Pending Status = iota + 1
	Delivered
	Failed
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Delivered:
		return "DELIVERED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// NewStatus creates a Status from a string. Unknown values yield the zero Status.
func NewStatus(str string) Status {
	switch strings.ToUpper(str) {
	case "PENDING":
		return Pending
	case "DELIVERED":
		return Delivered
	case "FAILED":
		return Failed
	default:
		return 0
	}
}

// Validate checks if the status is valid
func (s Status) Validate() error {
	if s < Pending || s > Failed {
		return fmt.Errorf("invalid status: %d", s)
	}
	return nil
}

// IsFinal returns true if the status is a terminal state
func (s Status) IsFinal() bool {
	return s == Delivered || s == Failed
}

// MarshalText implements encoding.TextMarshaler
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Action is what a log entry records
type Action int

const (
	ActionCreated Action = iota + 1
	ActionUpdated
	ActionDeleted
	ActionTriggered
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "CREATED"
	case ActionUpdated:
		return "UPDATED"
	case ActionDeleted:
		return "DELETED"
	case ActionTriggered:
		return "TRIGGERED"
	case ActionFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// NewAction creates an Action from a string
func NewAction(str string) Action {
	switch strings.ToUpper(str) {
	case "CREATED":
		return ActionCreated
	case "UPDATED":
		return ActionUpdated
	case "DELETED":
		return ActionDeleted
	case "TRIGGERED":
		return ActionTriggered
	case "FAILED":
		return ActionFailed
	default:
		return 0
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Outcome is the result recorded alongside an Action
type Outcome int

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// NewOutcome creates an Outcome from a string
func NewOutcome(str string) Outcome {
	switch strings.ToUpper(str) {
	case "SUCCESS":
		return OutcomeSuccess
	case "ERROR":
		return OutcomeError
	default:
		return 0
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

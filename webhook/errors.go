package webhook

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repositories when a row does not exist
var ErrNotFound = errors.New("not found")

// ErrEventSettled is returned by a PENDING-only transition on an event that already left PENDING
var ErrEventSettled = errors.New("event is no longer pending")

// ValidationError reports bad input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// NotFoundError reports a missing (or tombstoned) resource
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ForbiddenError reports an ownership violation
type ForbiddenError struct {
	Resource string
	ID       string
}

func (e *ForbiddenError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("access to %s is forbidden", e.Resource)
	}
	return fmt.Sprintf("access to %s %s is forbidden", e.Resource, e.ID)
}

// DeliveryErrorKind classifies why an attempt failed
type DeliveryErrorKind int

const (
	KindNetwork DeliveryErrorKind = iota + 1
	KindTimeout
	KindStatus
	KindSigning
)

func (k DeliveryErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindStatus:
		return "status"
	case KindSigning:
		return "signing"
	default:
		return "unknown"
	}
}

// DeliveryError describes a failed attempt. It is recorded, never returned to emitters.
type DeliveryError struct {
	Kind       DeliveryErrorKind
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("endpoint responded with status %d", e.StatusCode)
	default:
		if e.Err == nil {
			return e.Kind.String() + " error"
		}
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	}
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFound(resource, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}

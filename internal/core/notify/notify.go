// Package notify defines scheduled notifications, their lifecycle, and the
// delivery and audit collaborators the scheduler talks to.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a scheduled notification.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFired     Status = "fired"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusFired, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

// Notification is a delayed notification owned by the scheduler.
// DueAt is absolute so restarts evaluate it against the wall clock.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	DueAt     time.Time `json:"due_at"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Due reports whether n is eligible for delivery at now.
func (n Notification) Due(now time.Time) bool {
	return !n.DueAt.After(now)
}

// Deliverer hands a ready notification to the platform notification center.
type Deliverer interface {
	Deliver(ctx context.Context, title, body string) error
}

// DeliverFunc adapts a function to the Deliverer interface.
type DeliverFunc func(ctx context.Context, title, body string) error

// Deliver calls f.
func (f DeliverFunc) Deliver(ctx context.Context, title, body string) error {
	return f(ctx, title, body)
}

// ErrDelivery marks a transient delivery failure.
var ErrDelivery = errors.New("delivery failed")

// DeliveryError describes a failed delivery attempt. It matches ErrDelivery
// with errors.Is.
type DeliveryError struct {
	Backend string
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: deliver via %s: %v", ErrDelivery, e.Backend, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{ErrDelivery, e.Err}
}

// AuditEvent records a lifecycle transition of a notification.
type AuditEvent struct {
	ID             int64     `json:"id"`
	NotificationID string    `json:"notification_id"`
	Status         Status    `json:"status"`
	Title          string    `json:"title"`
	Detail         string    `json:"detail,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// AuditLog persists notification lifecycle events. Writes are best-effort:
// the scheduler logs and ignores audit failures.
type AuditLog interface {
	Record(ctx context.Context, ev AuditEvent) error
	List(ctx context.Context, limit int) ([]AuditEvent, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

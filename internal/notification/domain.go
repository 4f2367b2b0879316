// Package notification delivers billing emails, immediately or deferred.
// Deferred sends are durable rows carrying a named predicate that is
// re-evaluated against current store state at fire time; a predicate that
// no longer holds suppresses delivery. That is the only cancellation
// mechanism — there are no cancellation tokens.
package notification

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidMessage   = errors.New("invalid_message")
	ErrUnknownPredicate = errors.New("unknown_predicate")
)

// Message is an outbound email.
type Message struct {
	To      string
	Subject string
	Body    string
	// Kind labels the message for metrics: welcome, payment_confirmed,
	// pending_reminder, renewal_nag.
	Kind string
}

// ScheduledEmail is a pending deferred send.
type ScheduledEmail struct {
	ID            snowflake.ID      `gorm:"primaryKey"`
	Recipient     string            `gorm:"type:text;not null"`
	Subject       string            `gorm:"type:text;not null"`
	Body          string            `gorm:"type:text;not null"`
	Kind          string            `gorm:"type:text;not null"`
	Predicate     string            `gorm:"type:text;not null"`
	PredicateData datatypes.JSONMap `gorm:"type:jsonb"`
	FireAt        time.Time         `gorm:"not null;index"`
	SentAt        *time.Time        `gorm:""`
	SuppressedAt  *time.Time        `gorm:""`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ScheduledEmail) TableName() string { return "scheduled_emails" }

// Predicate decides at fire time whether a scheduled email is still wanted.
type Predicate func(ctx context.Context, data map[string]any) (bool, error)

type Service interface {
	Send(ctx context.Context, msg Message) error
	ScheduleWithPredicate(ctx context.Context, msg Message, predicate string, data map[string]any, fireAt time.Time) error
	// DispatchDue delivers or suppresses emails whose FireAt has passed.
	// Returns the number of rows handled.
	DispatchDue(ctx context.Context, limit int) (int, error)
}

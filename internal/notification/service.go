package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stashworks/jobhub/internal/clock"
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	mailer   Mailer
	registry *Registry
	metrics  *obsmetrics.Metrics
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Mailer   Mailer
	Registry *Registry
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewService(p Params) Service {
	return &service{
		db:       p.DB,
		log:      p.Log.Named("notification.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		mailer:   p.Mailer,
		registry: p.Registry,
		metrics:  p.Metrics,
	}
}

func (s *service) Send(ctx context.Context, msg Message) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if err := s.mailer.Send(ctx, msg.To, msg.Subject, msg.Body); err != nil {
		return err
	}
	s.metrics.IncEmailSent(msg.Kind)
	return nil
}

func (s *service) ScheduleWithPredicate(ctx context.Context, msg Message, predicate string, data map[string]any, fireAt time.Time) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	if strings.TrimSpace(predicate) == "" {
		return ErrUnknownPredicate
	}

	row := ScheduledEmail{
		ID:        s.genID.Generate(),
		Recipient: msg.To,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Kind:      msg.Kind,
		Predicate: predicate,
		FireAt:    fireAt.UTC(),
		CreatedAt: s.clock.Now(),
	}
	if data != nil {
		row.PredicateData = datatypes.JSONMap(data)
	}

	return s.db.WithContext(ctx).Exec(
		`INSERT INTO scheduled_emails (id, recipient, subject, body, kind, predicate, predicate_data, fire_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID,
		row.Recipient,
		row.Subject,
		row.Body,
		row.Kind,
		row.Predicate,
		row.PredicateData,
		row.FireAt,
		row.CreatedAt,
	).Error
}

func (s *service) DispatchDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.clock.Now()

	var due []ScheduledEmail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(
			`SELECT id, recipient, subject, body, kind, predicate, predicate_data, fire_at, sent_at, suppressed_at, created_at
			 FROM scheduled_emails
			 WHERE fire_at <= ? AND sent_at IS NULL AND suppressed_at IS NULL
			 ORDER BY fire_at ASC
			 LIMIT ?`,
			now,
			limit,
		).Scan(&due).Error
	})
	if err != nil {
		return 0, err
	}

	handled := 0
	var dispatchErr error
	for _, row := range due {
		if ctx.Err() != nil {
			dispatchErr = errors.Join(dispatchErr, ctx.Err())
			break
		}

		wanted, err := s.registry.Evaluate(ctx, row.Predicate, map[string]any(row.PredicateData))
		if err != nil && !errors.Is(err, ErrUnknownPredicate) {
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}

		if !wanted {
			if err := s.markSuppressed(ctx, row.ID, now); err != nil {
				dispatchErr = errors.Join(dispatchErr, err)
				continue
			}
			s.metrics.IncEmailSuppressed()
			if errors.Is(err, ErrUnknownPredicate) {
				s.log.Warn("scheduled email referenced unknown predicate",
					zap.String("predicate", row.Predicate),
					zap.String("email_id", row.ID.String()),
				)
			}
			handled++
			continue
		}

		if err := s.mailer.Send(ctx, row.Recipient, row.Subject, row.Body); err != nil {
			// Leave the row in place; the next dispatch pass retries it.
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}
		if err := s.markSent(ctx, row.ID, now); err != nil {
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}
		s.metrics.IncEmailSent(row.Kind)
		handled++
	}

	return handled, dispatchErr
}

func (s *service) markSent(ctx context.Context, id snowflake.ID, at time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE scheduled_emails SET sent_at = ? WHERE id = ? AND sent_at IS NULL`,
		at,
		id,
	).Error
}

func (s *service) markSuppressed(ctx context.Context, id snowflake.ID, at time.Time) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE scheduled_emails SET suppressed_at = ? WHERE id = ? AND suppressed_at IS NULL`,
		at,
		id,
	).Error
}

func validateMessage(msg Message) error {
	if strings.TrimSpace(msg.To) == "" || strings.TrimSpace(msg.Subject) == "" {
		return ErrInvalidMessage
	}
	return nil
}

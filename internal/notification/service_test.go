package notification

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recorderMailer struct {
	sent []Message
}

func (m *recorderMailer) Send(_ context.Context, to, subject, body string) error {
	m.sent = append(m.sent, Message{To: to, Subject: subject, Body: body})
	return nil
}

func newTestService(t *testing.T) (*service, *recorderMailer, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&ScheduledEmail{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	mailer := &recorderMailer{}
	fc := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	svc := &service{
		db:       db,
		log:      zap.NewNop(),
		genID:    node,
		clock:    fc,
		mailer:   mailer,
		registry: NewRegistry(),
	}
	return svc, mailer, fc
}

func TestSendImmediate(t *testing.T) {
	svc, mailer, _ := newTestService(t)

	err := svc.Send(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "Welcome",
		Body:    "<p>hi</p>",
		Kind:    "welcome",
	})
	require.NoError(t, err)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "owner@example.com", mailer.sent[0].To)
}

func TestSendRejectsEmptyRecipient(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Send(context.Background(), Message{Subject: "x"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestDispatchDueSendsWhenPredicateHolds(t *testing.T) {
	svc, mailer, fc := newTestService(t)
	svc.registry.Register("always", func(context.Context, map[string]any) (bool, error) {
		return true, nil
	})

	fireAt := fc.Now().Add(24 * time.Hour)
	err := svc.ScheduleWithPredicate(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "Reminder",
		Body:    "pay up",
		Kind:    "pending_reminder",
	}, "always", nil, fireAt)
	require.NoError(t, err)

	// Not due yet.
	n, err := svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, mailer.sent)

	fc.Advance(25 * time.Hour)
	n, err = svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, mailer.sent, 1)

	// Already sent rows are not picked up again.
	n, err = svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, mailer.sent, 1)
}

func TestDispatchDueSuppressesWhenPredicateFails(t *testing.T) {
	svc, mailer, fc := newTestService(t)
	svc.registry.Register("never", func(context.Context, map[string]any) (bool, error) {
		return false, nil
	})

	err := svc.ScheduleWithPredicate(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "Reminder",
		Body:    "pay up",
		Kind:    "pending_reminder",
	}, "never", nil, fc.Now().Add(time.Hour))
	require.NoError(t, err)

	fc.Advance(2 * time.Hour)
	n, err := svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, mailer.sent)

	var row ScheduledEmail
	require.NoError(t, svc.db.First(&row).Error)
	assert.NotNil(t, row.SuppressedAt)
	assert.Nil(t, row.SentAt)
}

func TestDispatchDueSuppressesUnknownPredicate(t *testing.T) {
	svc, mailer, fc := newTestService(t)

	err := svc.ScheduleWithPredicate(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "Reminder",
		Body:    "pay up",
		Kind:    "pending_reminder",
	}, "no_such_predicate", nil, fc.Now())
	require.NoError(t, err)

	n, err := svc.DispatchDue(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, mailer.sent)
}

func TestScheduleRejectsEmptyPredicate(t *testing.T) {
	svc, _, fc := newTestService(t)

	err := svc.ScheduleWithPredicate(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "x",
	}, "  ", nil, fc.Now())
	assert.ErrorIs(t, err, ErrUnknownPredicate)
}

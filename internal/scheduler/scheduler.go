// Package scheduler runs the periodic billing jobs: the daily renewal
// reminder scan, the deferred-email dispatch loop, and the pending payment
// leak watch. Every job is read-only against billing state; the only side
// effect is notification dispatch and metric updates.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stashworks/jobhub/internal/directory"
	"github.com/stashworks/jobhub/internal/notification"
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	"github.com/stashworks/jobhub/internal/reporter"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler: missing dependency")

const jobTimeout = 5 * time.Minute

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Directory directory.Service
	Notifier  notification.Service
	Reporter  reporter.Reporter
	Metrics   *obsmetrics.Metrics           `optional:"true"`
	Config    Config                        `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	directory directory.Service
	notifier  notification.Service
	reporter  reporter.Reporter
	metrics   *obsmetrics.Metrics

	cron *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.Clock == nil || p.Repo == nil || p.Directory == nil || p.Notifier == nil || p.Reporter == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler"),
		cfg:       p.Config.withDefaults(),
		clock:     p.Clock,
		repo:      p.Repo,
		directory: p.Directory,
		notifier:  p.Notifier,
		reporter:  p.Reporter,
		metrics:   p.Metrics,
	}, nil
}

// Start registers the cron entries and begins running them. The reminder
// scan fires once a day at the configured UTC hour; email dispatch and the
// leak watch run on fixed intervals.
func (s *Scheduler) Start() error {
	s.cron = cron.New(cron.WithLocation(time.UTC))

	entries := []struct {
		spec string
		name string
		fn   func(ctx context.Context) error
	}{
		{fmt.Sprintf("0 %d * * *", s.cfg.ReminderHourUTC), "renewal_reminders", s.RenewalRemindersJob},
		{fmt.Sprintf("@every %s", s.cfg.DispatchInterval), "dispatch_emails", s.DispatchEmailsJob},
		{"@hourly", "pending_payment_watch", s.PendingPaymentWatchJob},
	}
	for _, entry := range entries {
		entry := entry
		if _, err := s.cron.AddFunc(entry.spec, func() {
			s.runJob(context.Background(), entry.name, entry.fn)
		}); err != nil {
			return fmt.Errorf("scheduler: register %s: %w", entry.name, err)
		}
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// RunOnce executes every job a single time, in order. Used by tests and
// the one-shot CLI mode.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var errs error
	for _, job := range []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"renewal_reminders", s.RenewalRemindersJob},
		{"dispatch_emails", s.DispatchEmailsJob},
		{"pending_payment_watch", s.PendingPaymentWatchJob},
	} {
		if err := s.runJob(ctx, job.name, job.fn); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

func (s *Scheduler) runJob(parent context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	start := time.Now()
	s.metrics.IncJobRun(name)

	err := fn(ctx)
	s.metrics.ObserveJobDuration(name, time.Since(start))
	if err != nil {
		s.metrics.IncJobError(name)
		s.log.Error("job failed", zap.String("job", name), zap.Error(err))
		return err
	}
	return nil
}

// DispatchEmailsJob delivers or suppresses scheduled emails whose fire
// time has passed.
func (s *Scheduler) DispatchEmailsJob(ctx context.Context) error {
	handled, err := s.notifier.DispatchDue(ctx, s.cfg.DispatchBatchSize)
	if handled > 0 {
		s.log.Info("dispatched scheduled emails", zap.Int("handled", handled))
	}
	return err
}

// PendingPaymentWatchJob surfaces leaked reconciliations. A pending
// payment much older than any plausible checkout session means a
// confirmation was lost; the job reports it, it never deletes.
func (s *Scheduler) PendingPaymentWatchJob(ctx context.Context) error {
	total, err := s.repo.CountPendingPayments(ctx, s.db)
	if err != nil {
		return err
	}
	s.metrics.SetPendingPayments(float64(total))

	stale, err := s.repo.StalePendingPayments(ctx, s.db, s.clock.Now().Add(-s.cfg.StaleThreshold))
	if err != nil {
		return err
	}
	s.metrics.SetStalePendingPayments(float64(len(stale)))

	for _, pending := range stale {
		s.reporter.Capture("billing.pending_payment_leak",
			zap.String("org_id", pending.OrgID),
			zap.String("reference", pending.Reference),
			zap.Time("created_at", pending.CreatedAt),
		)
	}
	return nil
}

// Package quota is the consumption side of the billing engine: it meters
// veri usage against the time-windowed allowances the subscription service
// allocates, and fails closed when they run out.
package quota

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stashworks/jobhub/internal/directory"
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ServiceVeri is the metered service name.
const ServiceVeri = "veri"

type Service interface {
	// RecordUsage attributes consumption to the oldest active quota with
	// room left. Exhaustion is a business condition, not an error.
	RecordUsage(ctx context.Context, req subscriptiondomain.UsageRequest) (subscriptiondomain.Result, error)
	// Remaining reports unspent capacity across all active quotas.
	Remaining(ctx context.Context, orgID, service string) (float64, error)
}

type service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	directory directory.Service
	metrics   *obsmetrics.Metrics
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	Directory directory.Service
	Metrics   *obsmetrics.Metrics           `optional:"true"`
}

func NewService(p Params) Service {
	return &service{
		db:  p.DB,
		log: p.Log.Named("quota.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		directory: p.Directory,
		metrics:   p.Metrics,
	}
}

func (s *service) RecordUsage(ctx context.Context, req subscriptiondomain.UsageRequest) (subscriptiondomain.Result, error) {
	if req.Amount <= 0 {
		return subscriptiondomain.Fail("usage amount must be positive"), nil
	}
	if req.Service != ServiceVeri {
		return subscriptiondomain.Fail("unknown metered service"), nil
	}

	isMember, err := s.directory.IsOrgMember(ctx, req.Wallet, req.OrgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if !isMember {
		return subscriptiondomain.Fail("wallet is not a member of this organization"), nil
	}

	var recorded bool
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByOrgID(ctx, tx, req.OrgID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.ErrSubscriptionInactive
		}

		now := s.clock.Now()

		// Entitlement: the subscription must carry a live bundle tier.
		bundle, err := s.repo.CurrentTierRecord(ctx, tx, sub.ID, subscriptiondomain.TierBundle, now)
		if err != nil {
			return err
		}
		if bundle == nil {
			return subscriptiondomain.ErrServiceNotEntitled
		}

		quotas, err := s.repo.ActiveQuotas(ctx, tx, sub.ID, now)
		if err != nil {
			return err
		}

		// FIFO across simultaneously valid quotas: spend the oldest with
		// capacity first so mid-cycle top-ups sit behind the original
		// allowance.
		for _, quota := range quotas {
			used, err := s.repo.QuotaUsedSum(ctx, tx, quota.ID, req.Service)
			if err != nil {
				return err
			}
			if used+req.Amount > quota.Veri {
				continue
			}
			if err := s.repo.InsertQuotaUsage(ctx, tx, &subscriptiondomain.QuotaUsage{
				ID:        s.genID.Generate(),
				QuotaID:   quota.ID,
				Wallet:    req.Wallet,
				Service:   req.Service,
				Amount:    req.Amount,
				CreatedAt: now,
			}); err != nil {
				return err
			}
			recorded = true
			return nil
		}

		return subscriptiondomain.ErrQuotaExhausted
	})
	if err != nil {
		switch {
		case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
			return subscriptiondomain.Fail("no subscription found for this organization"), nil
		case errors.Is(err, subscriptiondomain.ErrSubscriptionInactive):
			return subscriptiondomain.Fail("subscription is inactive"), nil
		case errors.Is(err, subscriptiondomain.ErrServiceNotEntitled):
			return subscriptiondomain.Fail("service is not entitled under the current tier"), nil
		case errors.Is(err, subscriptiondomain.ErrQuotaExhausted):
			s.log.Info("quota exhausted",
				zap.String("org_id", req.OrgID),
				zap.String("service", req.Service),
				zap.Float64("amount", req.Amount),
			)
			return subscriptiondomain.Fail("quota exhausted"), nil
		default:
			return subscriptiondomain.Result{}, err
		}
	}

	if recorded {
		s.metrics.AddQuotaUsage(req.Service, req.Amount)
	}
	return subscriptiondomain.Ok("usage recorded", nil), nil
}

func (s *service) Remaining(ctx context.Context, orgID, service string) (float64, error) {
	sub, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, nil
	}

	quotas, err := s.repo.ActiveQuotas(ctx, s.db, sub.ID, s.clock.Now())
	if err != nil {
		return 0, err
	}

	var remaining float64
	for _, quota := range quotas {
		used, err := s.repo.QuotaUsedSum(ctx, s.db, quota.ID, service)
		if err != nil {
			return 0, err
		}
		if left := quota.Veri - used; left > 0 {
			remaining += left
		}
	}
	return remaining, nil
}

var Module = fx.Module("quota",
	fx.Provide(NewService),
)

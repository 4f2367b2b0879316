package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/stashworks/jobhub/internal/config"
	"github.com/stashworks/jobhub/internal/notification"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/zap"
)

// RenewalRemindersJob scans active subscriptions expiring on the current
// calendar day and nags their owners. The scan writes nothing; an owner
// that cannot be resolved is reported and skipped, never retried inline.
func (s *Scheduler) RenewalRemindersJob(ctx context.Context) error {
	now := s.clock.Now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	subs, err := s.repo.ExpiringBetween(ctx, s.db, dayStart, dayEnd)
	if err != nil {
		return err
	}

	sent := 0
	for _, sub := range subs {
		owner, err := s.directory.FindOrgOwner(ctx, sub.OrgID)
		if err != nil {
			return err
		}
		if owner == nil || owner.Email == "" {
			s.reporter.Capture("billing.owner_unresolvable",
				zap.String("org_id", sub.OrgID),
				zap.String("subscription_id", sub.ID.String()),
			)
			continue
		}

		bundle, err := s.repo.CurrentTierRecord(ctx, s.db, sub.ID, subscriptiondomain.TierBundle, now)
		if err != nil {
			return err
		}
		msg := s.renewalMessage(owner.Email, sub.OrgID, bundle)
		if err := s.notifier.Send(ctx, msg); err != nil {
			s.log.Warn("renewal reminder send failed",
				zap.String("org_id", sub.OrgID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	if len(subs) > 0 {
		s.log.Info("renewal reminder scan finished",
			zap.Int("expiring", len(subs)),
			zap.Int("sent", sent),
		)
	}
	return nil
}

// renewalMessage picks a tier-appropriate nag: paid tiers get a renewal
// prompt, the free tier an upgrade prompt.
func (s *Scheduler) renewalMessage(to, orgID string, bundle *subscriptiondomain.TierRecord) notification.Message {
	name := config.BundleStarter
	if bundle != nil {
		name = bundle.BundleName()
	}

	msg := notification.Message{To: to, Kind: "renewal_nag"}
	if name == config.BundleStarter {
		msg.Subject = "Get more out of JobHub"
		msg.Body = fmt.Sprintf("<p>Your organization %s is on the free starter tier. Upgrade to unlock pooling, ATS integration and more veri quota.</p>", orgID)
		return msg
	}
	msg.Subject = fmt.Sprintf("Your %s subscription expires today", name)
	msg.Body = fmt.Sprintf("<p>The %s subscription for organization %s expires today. Renew now to keep your features and quota.</p>", name, orgID)
	return msg
}

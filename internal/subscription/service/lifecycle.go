package service

import (
	"context"

	"github.com/stashworks/jobhub/internal/config"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Cancel implements domain.Service. It flips the status flag only; tier
// and quota history stays intact, and access gating elsewhere checks both
// status and tier windows.
func (s *Service) Cancel(ctx context.Context, orgID, wallet string) (subscriptiondomain.Result, error) {
	return s.setStatus(ctx, orgID, wallet, subscriptiondomain.SubscriptionStatusInactive)
}

// Reactivate implements domain.Service. A starter subscription has nothing
// billable to reactivate, so it is rejected like a free-tier renewal.
func (s *Service) Reactivate(ctx context.Context, orgID, wallet string) (subscriptiondomain.Result, error) {
	isOwner, err := s.directory.IsOrgOwner(ctx, wallet, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if !isOwner {
		return subscriptiondomain.Fail("only the organization owner can manage billing"), nil
	}

	sub, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if sub == nil {
		return subscriptiondomain.Fail("no subscription found for this organization"), nil
	}

	sel, err := s.currentSelection(ctx, s.db, sub.ID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if sel.Bundle == config.BundleStarter {
		s.metrics.IncBillingOp("reactivate", "rejected")
		return subscriptiondomain.Fail("the starter tier is free and cannot be reactivated"), nil
	}

	if err := s.repo.UpdateStatus(ctx, s.db, sub.ID, subscriptiondomain.SubscriptionStatusActive); err != nil {
		return subscriptiondomain.Result{}, err
	}

	s.metrics.IncBillingOp("reactivate", "success")
	return subscriptiondomain.Ok("subscription reactivated", nil), nil
}

func (s *Service) setStatus(ctx context.Context, orgID, wallet string, status subscriptiondomain.SubscriptionStatus) (subscriptiondomain.Result, error) {
	isOwner, err := s.directory.IsOrgOwner(ctx, wallet, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if !isOwner {
		return subscriptiondomain.Fail("only the organization owner can manage billing"), nil
	}

	sub, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if sub == nil {
		return subscriptiondomain.Fail("no subscription found for this organization"), nil
	}

	if err := s.repo.UpdateStatus(ctx, s.db, sub.ID, status); err != nil {
		return subscriptiondomain.Result{}, err
	}

	s.metrics.IncBillingOp("cancel", "success")
	s.log.Info("subscription status changed",
		zap.String("org_id", orgID),
		zap.String("status", string(status)),
	)
	return subscriptiondomain.Ok("subscription "+string(status), nil), nil
}

// Reset implements domain.Service. It deletes the subscription, every
// child record and the org's pending payments, and revokes billing-derived
// permission grants from all members. There is no undo.
func (s *Service) Reset(ctx context.Context, orgID, wallet string) (subscriptiondomain.Result, error) {
	isOwner, err := s.directory.IsOrgOwner(ctx, wallet, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if !isOwner {
		s.metrics.IncBillingOp("reset", "rejected")
		return subscriptiondomain.Fail("only the organization owner can manage billing"), nil
	}

	sub, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if sub == nil {
		return subscriptiondomain.Fail("no subscription found for this organization"), nil
	}

	members, err := s.directory.Members(ctx, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.DeleteSubscriptionTree(ctx, tx, sub.ID, orgID)
	})
	if err != nil {
		s.metrics.IncBillingOp("reset", "error")
		return subscriptiondomain.Result{}, err
	}

	for _, member := range members {
		if err := s.directory.SyncUserPermissions(ctx, member.Wallet, nil); err != nil {
			s.log.Warn("permission revocation failed during reset",
				zap.String("org_id", orgID),
				zap.String("wallet", member.Wallet),
				zap.Error(err),
			)
		}
	}

	s.metrics.IncBillingOp("reset", "success")
	s.log.Info("subscription reset", zap.String("org_id", orgID))
	return subscriptiondomain.Ok("subscription removed", nil), nil
}

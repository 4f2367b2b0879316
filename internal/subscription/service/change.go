package service

import (
	"context"

	"github.com/stashworks/jobhub/internal/pricing"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// applyChange rewrites the tier history for an upgrade or downgrade. The
// effective timing is decided per category by comparing old and new price
// for that category alone:
//
//   - price goes up: the current record is expired at now and the new one
//     starts immediately, since the payer already paid the difference.
//   - price stays or goes down: the current record keeps its window and
//     the new one queues up to start when it ends, so a mid-cycle payer
//     never loses what they paid for.
//
// One payment and one quota cover the whole change regardless of how many
// categories moved.
func (s *Service) applyChange(ctx context.Context, tx *gorm.DB, orgID string, sel pricing.Selection, pending *subscriptiondomain.PendingPayment) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByOrgID(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if sub.Status != subscriptiondomain.SubscriptionStatusActive {
		return nil, subscriptiondomain.ErrSubscriptionInactive
	}

	now := s.clock.Now()

	records, err := s.repo.CurrentTierRecords(ctx, tx, sub.ID, now)
	if err != nil {
		return nil, err
	}
	oldSel := subscriptiondomain.SelectionFromRecords(records)

	current := make(map[subscriptiondomain.TierCategory]*subscriptiondomain.TierRecord, len(records))
	for i := range records {
		rec := records[i]
		current[rec.Category] = &rec
	}

	features, err := s.calc.BundleFeatures(sel.Bundle)
	if err != nil {
		return nil, err
	}
	payloads := subscriptiondomain.TierPayloads(sel, features)

	for _, category := range subscriptiondomain.AllTierCategories {
		oldPrice, newPrice, err := s.categoryPrices(category, oldSel, sel)
		if err != nil {
			return nil, err
		}
		if err := s.writeChangedTier(ctx, tx, sub, category, payloads[category], current[category], newPrice > oldPrice); err != nil {
			return nil, err
		}
	}

	if err := s.writeQuota(ctx, tx, sub.ID, sel, now); err != nil {
		return nil, err
	}
	if err := s.writePayment(ctx, tx, sub.ID, pending, now, sub.ExpiresAt); err != nil {
		return nil, err
	}

	return sub, nil
}

// categoryPrices prices one category in isolation under the old and the
// new configuration. Seat pricing depends on the bundle in force, so old
// seats are priced under the old bundle and new seats under the new one.
func (s *Service) categoryPrices(category subscriptiondomain.TierCategory, oldSel, newSel pricing.Selection) (float64, float64, error) {
	switch category {
	case subscriptiondomain.TierBundle:
		oldPrice, err := s.calc.BundlePrice(oldSel.Bundle)
		if err != nil {
			return 0, 0, err
		}
		newPrice, err := s.calc.BundlePrice(newSel.Bundle)
		if err != nil {
			return 0, 0, err
		}
		return oldPrice, newPrice, nil

	case subscriptiondomain.TierVeriAddon:
		oldPrice, err := s.calc.AddonPrice(oldSel.VeriAddon)
		if err != nil {
			return 0, 0, err
		}
		newPrice, err := s.calc.AddonPrice(newSel.VeriAddon)
		if err != nil {
			return 0, 0, err
		}
		return oldPrice, newPrice, nil

	case subscriptiondomain.TierStashAlert:
		return s.calc.AlertPrice(oldSel.StashAlert), s.calc.AlertPrice(newSel.StashAlert), nil

	case subscriptiondomain.TierExtraSeats:
		oldPrice, err := s.calc.SeatsPrice(oldSel.Bundle, oldSel.ExtraSeats)
		if err != nil {
			return 0, 0, err
		}
		newPrice, err := s.calc.SeatsPrice(newSel.Bundle, newSel.ExtraSeats)
		if err != nil {
			return 0, 0, err
		}
		return oldPrice, newPrice, nil
	}
	return 0, 0, nil
}

func (s *Service) writeChangedTier(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, category subscriptiondomain.TierCategory, payload datatypes.JSONMap, current *subscriptiondomain.TierRecord, upgrade bool) error {
	now := s.clock.Now()

	rec := subscriptiondomain.TierRecord{
		ID:             s.genID.Generate(),
		SubscriptionID: sub.ID,
		Category:       category,
		Payload:        payload,
	}

	switch {
	case current == nil:
		// No live record for this category; start one now.
		rec.ValidFrom = now
		rec.ValidTo = now.AddDate(0, 1, 0)
	case upgrade:
		if err := s.repo.ExpireTierRecord(ctx, tx, current.ID, now); err != nil {
			return err
		}
		rec.ValidFrom = now
		rec.ValidTo = now.AddDate(0, 1, 0)
	default:
		rec.ValidFrom = current.ValidTo
		rec.ValidTo = current.ValidTo.AddDate(0, 1, 0)
	}

	return s.repo.InsertTierRecords(ctx, tx, []subscriptiondomain.TierRecord{rec})
}

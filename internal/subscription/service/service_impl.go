package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stashworks/jobhub/internal/config"
	"github.com/stashworks/jobhub/internal/directory"
	"github.com/stashworks/jobhub/internal/notification"
	obsmetrics "github.com/stashworks/jobhub/internal/observability/metrics"
	"github.com/stashworks/jobhub/internal/orglock"
	"github.com/stashworks/jobhub/internal/payment/gateway"
	"github.com/stashworks/jobhub/internal/pricing"
	"github.com/stashworks/jobhub/internal/reporter"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	subscriptionDuration = "monthly"
	billingLockTTL       = 30 * time.Second
)

var reminderDelays = []time.Duration{24 * time.Hour, 3 * 24 * time.Hour, 7 * 24 * time.Hour}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	cfg config.Config

	genID *snowflake.Node
	clock clock.Clock
	repo  subscriptiondomain.Repository

	calc      *pricing.Calculator
	gateway   gateway.Gateway
	directory directory.Service
	notifier  notification.Service
	locker    *orglock.Locker
	reporter  reporter.Reporter
	metrics   *obsmetrics.Metrics
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Cfg   config.Config
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  subscriptiondomain.Repository

	Calc      *pricing.Calculator
	Gateway   gateway.Gateway
	Directory directory.Service
	Notifier  notification.Service
	Locker    *orglock.Locker      `optional:"true"`
	Reporter  reporter.Reporter
	Metrics   *obsmetrics.Metrics  `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),
		cfg: p.Cfg,

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		calc:      p.Calc,
		gateway:   p.Gateway,
		directory: p.Directory,
		notifier:  p.Notifier,
		locker:    p.Locker,
		reporter:  p.Reporter,
		metrics:   p.Metrics,
	}
}

// Initiate implements domain.Service.
func (s *Service) Initiate(ctx context.Context, req subscriptiondomain.InitiateRequest) (subscriptiondomain.Result, error) {
	isOwner, err := s.directory.IsOrgOwner(ctx, req.Wallet, req.OrgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if !isOwner {
		s.metrics.IncBillingOp("initiate", "rejected")
		return subscriptiondomain.Fail("only the organization owner can manage billing"), nil
	}

	unlock, ok, err := s.lockOrg(ctx, req.OrgID)
	if err != nil {
		return subscriptiondomain.Result{}, err
	}
	if !ok {
		s.metrics.IncBillingOp("initiate", "rejected")
		return subscriptiondomain.Fail("another billing operation is in progress for this organization"), nil
	}
	defer unlock()

	sel := req.Selection
	if sel.Bundle == config.BundleStarter {
		// Seats are never billable on the free tier.
		sel.ExtraSeats = 0
	}

	if res, proceed, err := s.precheck(ctx, req.Action, req.OrgID, &sel); err != nil {
		return subscriptiondomain.Result{}, err
	} else if !proceed {
		s.metrics.IncBillingOp("initiate", "rejected")
		return res, nil
	}

	quote, err := s.calc.Quote(sel)
	if err != nil {
		s.metrics.IncBillingOp("initiate", "rejected")
		return subscriptiondomain.Fail(err.Error()), nil
	}

	if quote.Amount == 0 {
		return s.applyDirect(ctx, req, sel)
	}

	charge, err := s.gateway.CreateCharge(ctx, gateway.CreateChargeRequest{
		Description: quote.Description,
		Amount:      quote.Amount,
		Currency:    s.cfg.Gateway.Currency,
		Metadata: map[string]any{
			"org_id": req.OrgID,
			"wallet": req.Wallet,
			"action": string(req.Action),
		},
		RedirectURL: s.cfg.Gateway.RedirectURL,
		CancelURL:   s.cfg.Gateway.CancelURL,
	})
	if err != nil {
		s.log.Warn("gateway charge creation failed",
			zap.String("org_id", req.OrgID),
			zap.String("action", string(req.Action)),
			zap.Error(err),
		)
		s.metrics.IncBillingOp("initiate", "gateway_error")
		return subscriptiondomain.Fail("could not reach the payment gateway, please retry"), nil
	}

	pending := &subscriptiondomain.PendingPayment{
		ID:        s.genID.Generate(),
		OrgID:     req.OrgID,
		Wallet:    req.Wallet,
		Link:      charge.URL,
		Reference: charge.ID,
		Amount:    quote.Amount,
		Action:    req.Action,
		Payload:   subscriptiondomain.SelectionToPayload(sel),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.InsertPendingPayment(ctx, s.db, pending); err != nil {
		return subscriptiondomain.Result{}, err
	}

	s.scheduleCheckoutReminders(ctx, req, charge.URL)

	s.metrics.IncBillingOp("initiate", "success")
	s.log.Info("checkout opened",
		zap.String("org_id", req.OrgID),
		zap.String("action", string(req.Action)),
		zap.Float64("amount", quote.Amount),
	)
	return subscriptiondomain.Ok("checkout created", map[string]any{
		"checkout_url": charge.URL,
		"reference":    charge.ID,
		"amount":       quote.Amount,
		"description":  quote.Description,
	}), nil
}

// precheck validates the requested action against current state before any
// gateway interaction. For renewals the selection is replaced by whatever
// the subscription currently carries.
func (s *Service) precheck(ctx context.Context, action subscriptiondomain.Action, orgID string, sel *pricing.Selection) (subscriptiondomain.Result, bool, error) {
	sub, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		return subscriptiondomain.Result{}, false, err
	}

	switch action {
	case subscriptiondomain.ActionCreate:
		if sub != nil {
			return subscriptiondomain.Fail("organization already has a subscription"), false, nil
		}
		return subscriptiondomain.Result{}, true, nil

	case subscriptiondomain.ActionRenew:
		if sub == nil {
			return subscriptiondomain.Fail("no subscription to renew"), false, nil
		}
		current, err := s.currentSelection(ctx, s.db, sub.ID)
		if err != nil {
			return subscriptiondomain.Result{}, false, err
		}
		if current.Bundle == config.BundleStarter {
			return subscriptiondomain.Fail("the starter tier is free and cannot be renewed"), false, nil
		}
		*sel = current
		return subscriptiondomain.Result{}, true, nil

	case subscriptiondomain.ActionChange:
		if sub == nil {
			return subscriptiondomain.Fail("no subscription to change"), false, nil
		}
		if sub.Status != subscriptiondomain.SubscriptionStatusActive {
			return subscriptiondomain.Fail("subscription is inactive"), false, nil
		}
		current, err := s.currentSelection(ctx, s.db, sub.ID)
		if err != nil {
			return subscriptiondomain.Result{}, false, err
		}
		if subscriptiondomain.SameSelection(current, *sel) {
			return subscriptiondomain.Fail("requested configuration matches the current subscription"), false, nil
		}
		return subscriptiondomain.Result{}, true, nil

	default:
		return subscriptiondomain.Fail(fmt.Sprintf("unknown billing action %q", action)), false, nil
	}
}

// applyDirect commits a zero-amount action without touching the gateway.
func (s *Service) applyDirect(ctx context.Context, req subscriptiondomain.InitiateRequest, sel pricing.Selection) (subscriptiondomain.Result, error) {
	var sub *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var applyErr error
		switch req.Action {
		case subscriptiondomain.ActionCreate:
			sub, applyErr = s.applyCreate(ctx, tx, req.OrgID, sel, nil)
		case subscriptiondomain.ActionChange:
			sub, applyErr = s.applyChange(ctx, tx, req.OrgID, sel, nil)
		default:
			applyErr = subscriptiondomain.ErrInvalidAction
		}
		return applyErr
	})
	if err != nil {
		if res, handled := s.businessFailure("initiate", err); handled {
			return res, nil
		}
		s.metrics.IncBillingOp("initiate", "error")
		return subscriptiondomain.Result{}, err
	}

	s.postCommit(ctx, req.OrgID, req.Wallet, req.Email, req.Action, false)

	s.metrics.IncBillingOp("initiate", "success")
	return subscriptiondomain.Ok("subscription updated", map[string]any{
		"subscription_id": sub.ID.String(),
	}), nil
}

// Confirm implements domain.Service. It is the reconciliation entry point
// for gateway webhooks: the pending payment is the idempotency guard, so a
// second confirmation of the same reference finds nothing and fails with
// no side effects.
func (s *Service) Confirm(ctx context.Context, req subscriptiondomain.ConfirmRequest) (subscriptiondomain.Result, error) {
	var (
		pending *subscriptiondomain.PendingPayment
		sub     *subscriptiondomain.Subscription
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := s.repo.FindPendingPayment(ctx, tx, req.OrgID, req.Wallet, req.Reference)
		if err != nil {
			return err
		}
		if p == nil {
			return subscriptiondomain.ErrPaymentNotFound
		}

		sel := subscriptiondomain.SelectionFromPayload(p.Payload)
		switch p.Action {
		case subscriptiondomain.ActionCreate:
			sub, err = s.applyCreate(ctx, tx, req.OrgID, sel, p)
		case subscriptiondomain.ActionRenew:
			sub, err = s.applyRenew(ctx, tx, req.OrgID, p)
		case subscriptiondomain.ActionChange:
			sub, err = s.applyChange(ctx, tx, req.OrgID, sel, p)
		default:
			err = subscriptiondomain.ErrInvalidAction
		}
		if err != nil {
			return err
		}

		deleted, err := s.repo.DeletePendingPayment(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			// Another confirmation consumed the guard first.
			return subscriptiondomain.ErrPaymentNotFound
		}

		pending = p
		return nil
	})
	if err != nil {
		if errors.Is(err, subscriptiondomain.ErrPaymentNotFound) {
			// Webhooks are an untrusted trigger; a missing guard is an
			// anomaly to record, never a panic.
			s.reporter.Capture("billing.payment_not_found",
				zap.String("org_id", req.OrgID),
				zap.String("wallet", req.Wallet),
				zap.String("reference", req.Reference),
			)
			s.metrics.IncBillingOp("confirm", "payment_not_found")
			return subscriptiondomain.Fail("Payment not found"), nil
		}
		if res, handled := s.businessFailure("confirm", err); handled {
			return res, nil
		}
		s.metrics.IncBillingOp("confirm", "error")
		return subscriptiondomain.Result{}, err
	}

	s.postCommit(ctx, req.OrgID, req.Wallet, "", pending.Action, true)

	s.metrics.IncBillingOp("confirm", "success")
	s.log.Info("payment reconciled",
		zap.String("org_id", req.OrgID),
		zap.String("action", string(pending.Action)),
		zap.String("reference", pending.Reference),
		zap.Float64("amount", pending.Amount),
	)
	return subscriptiondomain.Ok("payment confirmed", map[string]any{
		"subscription_id": sub.ID.String(),
		"action":          string(pending.Action),
	}), nil
}

// applyCreate writes the full subscription tree for a new agreement. Every
// write shares the caller's transaction; a failure at any step rolls all of
// them back.
func (s *Service) applyCreate(ctx context.Context, tx *gorm.DB, orgID string, sel pricing.Selection, pending *subscriptiondomain.PendingPayment) (*subscriptiondomain.Subscription, error) {
	existing, err := s.repo.FindByOrgID(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, subscriptiondomain.ErrSubscriptionExists
	}

	now := s.clock.Now()
	expiry := now.AddDate(0, 1, 0)

	sub := &subscriptiondomain.Subscription{
		ID:        s.genID.Generate(),
		OrgID:     orgID,
		Status:    subscriptiondomain.SubscriptionStatusActive,
		Duration:  subscriptionDuration,
		CreatedAt: now,
		ExpiresAt: expiry,
	}
	if err := s.repo.InsertSubscription(ctx, tx, sub); err != nil {
		return nil, err
	}

	if err := s.writeTierRecords(ctx, tx, sub.ID, sel, now, expiry); err != nil {
		return nil, err
	}

	if err := s.writeQuota(ctx, tx, sub.ID, sel, now); err != nil {
		return nil, err
	}

	if pending != nil {
		if err := s.writePayment(ctx, tx, sub.ID, pending, now, expiry); err != nil {
			return nil, err
		}
	}

	return sub, nil
}

// applyRenew extends the existing agreement in place: the subscription
// expiry and each category's trailing tier window move out to the new
// expiry, and a fresh quota and payment are recorded. Renewal is the one
// mutation of tier windows that does not append a record, since nothing
// about the tier changed.
func (s *Service) applyRenew(ctx context.Context, tx *gorm.DB, orgID string, pending *subscriptiondomain.PendingPayment) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByOrgID(ctx, tx, orgID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	sel, err := s.currentSelection(ctx, tx, sub.ID)
	if err != nil {
		return nil, err
	}
	if sel.Bundle == config.BundleStarter {
		return nil, subscriptiondomain.ErrFreeTierNotBillable
	}

	now := s.clock.Now()
	newExpiry := sub.ExpiresAt.AddDate(0, 1, 0)

	if err := s.repo.ExtendExpiry(ctx, tx, sub.ID, newExpiry); err != nil {
		return nil, err
	}
	if err := s.repo.ExtendTierWindows(ctx, tx, sub.ID, newExpiry); err != nil {
		return nil, err
	}
	if err := s.writeQuota(ctx, tx, sub.ID, sel, now); err != nil {
		return nil, err
	}
	if err := s.writePayment(ctx, tx, sub.ID, pending, now, newExpiry); err != nil {
		return nil, err
	}

	sub.ExpiresAt = newExpiry
	return sub, nil
}

func (s *Service) writeTierRecords(ctx context.Context, tx *gorm.DB, subID snowflake.ID, sel pricing.Selection, from, to time.Time) error {
	features, err := s.calc.BundleFeatures(sel.Bundle)
	if err != nil {
		return err
	}
	payloads := subscriptiondomain.TierPayloads(sel, features)

	records := make([]subscriptiondomain.TierRecord, 0, len(subscriptiondomain.AllTierCategories))
	for _, category := range subscriptiondomain.AllTierCategories {
		records = append(records, subscriptiondomain.TierRecord{
			ID:             s.genID.Generate(),
			SubscriptionID: subID,
			Category:       category,
			Payload:        payloads[category],
			ValidFrom:      from,
			ValidTo:        to,
		})
	}
	return s.repo.InsertTierRecords(ctx, tx, records)
}

// writeQuota allocates the veri allowance for one billing event. The two
// month window deliberately outlives the subscription month so unconsumed
// quota from a mid-cycle change stays spendable.
func (s *Service) writeQuota(ctx context.Context, tx *gorm.DB, subID snowflake.ID, sel pricing.Selection, now time.Time) error {
	veri, err := s.calc.VeriQuota(sel.Bundle, sel.VeriAddon)
	if err != nil {
		return err
	}
	return s.repo.InsertQuota(ctx, tx, &subscriptiondomain.Quota{
		ID:             s.genID.Generate(),
		SubscriptionID: subID,
		Veri:           veri,
		ValidFrom:      now,
		ValidTo:        now.AddDate(0, 2, 0),
	})
}

func (s *Service) writePayment(ctx context.Context, tx *gorm.DB, subID snowflake.ID, pending *subscriptiondomain.PendingPayment, now, expiry time.Time) error {
	if pending == nil {
		return nil
	}
	payment := &subscriptiondomain.Payment{
		ID:              s.genID.Generate(),
		SubscriptionID:  subID,
		Amount:          pending.Amount,
		Currency:        s.cfg.Gateway.Currency,
		Status:          subscriptiondomain.PaymentStatusConfirmed,
		Type:            subscriptiondomain.PaymentTypeGateway,
		Action:          pending.Action,
		InternalRefCode: pending.ID.String(),
		ExternalRefCode: pending.Reference,
		CreatedAt:       now,
		ExpiresAt:       expiry,
	}
	return s.repo.InsertPayment(ctx, tx, payment)
}

func (s *Service) currentSelection(ctx context.Context, db *gorm.DB, subID snowflake.ID) (pricing.Selection, error) {
	records, err := s.repo.CurrentTierRecords(ctx, db, subID, s.clock.Now())
	if err != nil {
		return pricing.Selection{}, err
	}
	return subscriptiondomain.SelectionFromRecords(records), nil
}

// businessFailure maps expected business conditions onto failure results.
// Anything unrecognized stays an error and propagates.
func (s *Service) businessFailure(operation string, err error) (subscriptiondomain.Result, bool) {
	var msg string
	switch {
	case errors.Is(err, subscriptiondomain.ErrSubscriptionExists):
		msg = "organization already has a subscription"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound):
		msg = "no subscription found for this organization"
	case errors.Is(err, subscriptiondomain.ErrSubscriptionInactive):
		msg = "subscription is inactive"
	case errors.Is(err, subscriptiondomain.ErrFreeTierNotBillable):
		msg = "the starter tier is free and cannot be renewed"
	case errors.Is(err, subscriptiondomain.ErrInvalidAction):
		msg = "unknown billing action"
	default:
		return subscriptiondomain.Result{}, false
	}
	s.metrics.IncBillingOp(operation, "rejected")
	return subscriptiondomain.Fail(msg), true
}

// postCommit performs the side effects that must never roll back the
// transaction they follow: permission grants and outbound email.
func (s *Service) postCommit(ctx context.Context, orgID, wallet, email string, action subscriptiondomain.Action, paid bool) {
	if action == subscriptiondomain.ActionCreate {
		roles := []string{directory.RoleOrgOwner, directory.RoleOrgMember}
		if err := s.directory.SyncUserPermissions(ctx, wallet, roles); err != nil {
			s.log.Warn("permission sync failed",
				zap.String("org_id", orgID),
				zap.String("wallet", wallet),
				zap.Error(err),
			)
		}
	}

	to := email
	if to == "" {
		owner, err := s.directory.FindOrgOwner(ctx, orgID)
		if err != nil || owner == nil || owner.Email == "" {
			s.reporter.Capture("billing.owner_unresolvable",
				zap.String("org_id", orgID),
				zap.Error(err),
			)
			return
		}
		to = owner.Email
	}

	msg := notification.Message{To: to}
	if paid {
		msg.Subject = "Your payment is confirmed"
		msg.Body = fmt.Sprintf("<p>Your %s payment for organization %s has been confirmed.</p>", action, orgID)
		msg.Kind = "payment_confirmed"
	} else {
		msg.Subject = "Welcome to JobHub"
		msg.Body = fmt.Sprintf("<p>Your subscription for organization %s is now active.</p>", orgID)
		msg.Kind = "welcome"
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.log.Warn("post-commit email failed",
			zap.String("org_id", orgID),
			zap.String("kind", msg.Kind),
			zap.Error(err),
		)
	}
}

func (s *Service) scheduleCheckoutReminders(ctx context.Context, req subscriptiondomain.InitiateRequest, checkoutURL string) {
	data := map[string]any{
		"org_id": req.OrgID,
		"wallet": req.Wallet,
	}
	now := s.clock.Now()
	for _, delay := range reminderDelays {
		msg := notification.Message{
			To:      req.Email,
			Subject: "Your checkout is still waiting",
			Body:    fmt.Sprintf("<p>Complete your subscription payment: <a href=%q>checkout</a></p>", checkoutURL),
			Kind:    "pending_reminder",
		}
		err := s.notifier.ScheduleWithPredicate(ctx, msg, subscriptiondomain.PendingPaymentExistsPredicate, data, now.Add(delay))
		if err != nil {
			s.log.Warn("could not schedule checkout reminder",
				zap.String("org_id", req.OrgID),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		}
	}
}

// lockOrg serializes billing operations per organization. Locking is best
// effort: with no redis configured every caller proceeds, matching the
// single-writer assumption enforced by owner-only access.
func (s *Service) lockOrg(ctx context.Context, orgID string) (func(), bool, error) {
	if s.locker == nil {
		return func() {}, true, nil
	}
	key := "billing:org:" + orgID
	token, ok, err := s.locker.TryLock(ctx, key, billingLockTTL)
	if err != nil {
		s.log.Warn("org lock unavailable, proceeding unlocked",
			zap.String("org_id", orgID),
			zap.Error(err),
		)
		return func() {}, true, nil
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		if err := s.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			s.log.Warn("org lock release failed", zap.String("org_id", orgID), zap.Error(err))
		}
	}, true, nil
}

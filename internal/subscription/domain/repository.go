package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository is the persistence surface for the billing engine. Every
// mutating method takes the caller's *gorm.DB so a service transaction can
// thread one tx handle through all writes of a billing event.
type Repository interface {
	InsertSubscription(ctx context.Context, db *gorm.DB, sub *Subscription) error
	InsertTierRecords(ctx context.Context, db *gorm.DB, records []TierRecord) error
	InsertQuota(ctx context.Context, db *gorm.DB, quota *Quota) error
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) error
	InsertPendingPayment(ctx context.Context, db *gorm.DB, pending *PendingPayment) error

	FindByOrgID(ctx context.Context, db *gorm.DB, orgID string) (*Subscription, error)
	UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status SubscriptionStatus) error
	ExtendExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, to time.Time) error

	// CurrentTierRecords returns the record per category whose window
	// contains at.
	CurrentTierRecords(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) ([]TierRecord, error)
	CurrentTierRecord(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, category TierCategory, at time.Time) (*TierRecord, error)
	ExpireTierRecord(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
	// ExtendTierWindows pushes the last record of every category out to to,
	// so each category's history still ends at the subscription expiry. A
	// record queued behind the current one (deferred downgrade) is the one
	// that moves; the outgoing record keeps its window. Used by renewal,
	// the one place tier windows move without a new record.
	ExtendTierWindows(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, to time.Time) error

	// FindPendingPayment locates the in-flight charge for (org, wallet),
	// optionally pinned to a gateway reference.
	FindPendingPayment(ctx context.Context, db *gorm.DB, orgID, wallet, reference string) (*PendingPayment, error)
	// DeletePendingPayment removes the row and reports how many rows went
	// away, so a reconciliation can tell a consumed guard from a race.
	DeletePendingPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error)
	HasPendingPayment(ctx context.Context, db *gorm.DB, orgID, wallet string) (bool, error)
	StalePendingPayments(ctx context.Context, db *gorm.DB, olderThan time.Time) ([]PendingPayment, error)
	CountPendingPayments(ctx context.Context, db *gorm.DB) (int64, error)

	// ActiveQuotas returns quotas whose window contains at, oldest first.
	ActiveQuotas(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) ([]Quota, error)
	QuotaUsedSum(ctx context.Context, db *gorm.DB, quotaID snowflake.ID, service string) (float64, error)
	InsertQuotaUsage(ctx context.Context, db *gorm.DB, usage *QuotaUsage) error

	// ExpiringBetween lists active subscriptions whose expiry falls inside
	// [from, to). Read-only, used by the renewal reminder scan.
	ExpiringBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]Subscription, error)

	// DeleteSubscriptionTree removes the subscription, every child record,
	// and the org's in-flight pending payments, so a stale confirmation
	// cannot rebuild a torn-down org. Destructive and irreversible.
	DeleteSubscriptionTree(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, orgID string) error
}

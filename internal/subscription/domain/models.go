// Package domain contains persistence models for subscriptions, tier
// history, quotas and payments.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusInactive SubscriptionStatus = "inactive"
)

// Subscription is an organization's billing agreement. Only Status and
// ExpiresAt are ever mutated in place; everything else the org has bought
// lives in child tier records.
type Subscription struct {
	ID        snowflake.ID       `gorm:"primaryKey"`
	OrgID     string             `gorm:"not null;uniqueIndex;type:text"`
	Status    SubscriptionStatus `gorm:"type:text;not null"`
	Duration  string             `gorm:"type:text;not null"`
	CreatedAt time.Time          `gorm:"not null"`
	ExpiresAt time.Time          `gorm:"not null;index"`
}

func (Subscription) TableName() string { return "subscriptions" }

// TierCategory partitions what a subscription buys into independently
// versioned facets.
type TierCategory string

const (
	TierBundle     TierCategory = "bundle"
	TierVeriAddon  TierCategory = "veri_addon"
	TierStashAlert TierCategory = "stash_alert"
	TierExtraSeats TierCategory = "extra_seats"
)

// AllTierCategories in a fixed order, used when a billing event writes one
// record per category.
var AllTierCategories = []TierCategory{TierBundle, TierVeriAddon, TierStashAlert, TierExtraSeats}

// TierRecord is one entry in a subscription's append-only tier history.
// A category's current value is the record of that category whose
// [ValidFrom, ValidTo) window contains now. Records are never deleted;
// the only in-place mutations are expiring a window on upgrade and
// extending windows on renewal.
type TierRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	SubscriptionID snowflake.ID      `gorm:"not null;index"`
	Category       TierCategory      `gorm:"type:text;not null;index"`
	Payload        datatypes.JSONMap `gorm:"type:jsonb"`
	ValidFrom      time.Time         `gorm:"not null"`
	ValidTo        time.Time         `gorm:"not null"`
}

func (TierRecord) TableName() string { return "tier_records" }

// BundleName reads the bundle name out of a bundle-category payload.
func (r TierRecord) BundleName() string {
	name, _ := r.Payload["name"].(string)
	return name
}

// AddonName reads the addon name out of a veri_addon payload; nil means the
// subscription carries no addon.
func (r TierRecord) AddonName() *string {
	name, _ := r.Payload["name"].(string)
	if name == "" {
		return nil
	}
	return &name
}

// AlertActive reads the stash_alert payload flag.
func (r TierRecord) AlertActive() bool {
	active, _ := r.Payload["active"].(bool)
	return active
}

// SeatCount reads the extra_seats payload count. JSON round-trips numbers
// as float64.
func (r TierRecord) SeatCount() int {
	switch v := r.Payload["count"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// Quota is a time-windowed veri allowance. Usage is attributed through
// QuotaUsage events; remaining capacity is always computed from the event
// sum, never from a stored aggregate.
type Quota struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	SubscriptionID snowflake.ID `gorm:"not null;index"`
	Veri           float64      `gorm:"not null"`
	ValidFrom      time.Time    `gorm:"not null"`
	ValidTo        time.Time    `gorm:"not null"`
}

func (Quota) TableName() string { return "quotas" }

// QuotaUsage is one consumption event against a quota, attributed to the
// acting wallet.
type QuotaUsage struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	QuotaID   snowflake.ID `gorm:"not null;index"`
	Wallet    string       `gorm:"type:text;not null"`
	Service   string       `gorm:"type:text;not null"`
	Amount    float64      `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (QuotaUsage) TableName() string { return "quota_usages" }

// PaymentStatus and PaymentAction label confirmed payments.
const (
	PaymentStatusConfirmed = "confirmed"
	PaymentTypeGateway     = "gateway"
	PaymentTypeFree        = "free"
)

// Action is the billing operation a payment settles.
type Action string

const (
	ActionCreate Action = "create"
	ActionRenew  Action = "renew"
	ActionChange Action = "change"
)

// Payment is an immutable financial record, created only inside a
// successful reconciliation transaction.
type Payment struct {
	ID              snowflake.ID `gorm:"primaryKey"`
	SubscriptionID  snowflake.ID `gorm:"not null;index"`
	Amount          float64      `gorm:"not null"`
	Currency        string       `gorm:"type:text;not null"`
	Status          string       `gorm:"type:text;not null"`
	Type            string       `gorm:"type:text;not null"`
	Action          Action       `gorm:"type:text;not null"`
	InternalRefCode string       `gorm:"type:text"`
	ExternalRefCode string       `gorm:"type:text;index"`
	CreatedAt       time.Time    `gorm:"not null"`
	ExpiresAt       time.Time    `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// PendingPayment is an in-flight charge awaiting gateway confirmation,
// keyed by the hosted checkout link. It is consumed (read and deleted)
// exactly once at reconciliation; its absence rejects a duplicate or
// fabricated confirmation. A pending payment that outlives its charge is a
// leak worth alerting on, not cleaning up silently.
type PendingPayment struct {
	ID        snowflake.ID      `gorm:"primaryKey"`
	OrgID     string            `gorm:"not null;index;type:text"`
	Wallet    string            `gorm:"not null;index;type:text"`
	Link      string            `gorm:"type:text;not null"`
	Reference string            `gorm:"type:text;not null;uniqueIndex"`
	Amount    float64           `gorm:"not null"`
	Action    Action            `gorm:"type:text;not null"`
	Payload   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time         `gorm:"not null"`
}

func (PendingPayment) TableName() string { return "pending_payments" }

package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) InsertSubscription(ctx context.Context, db *gorm.DB, sub *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (id, org_id, status, duration, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.OrgID,
		sub.Status,
		sub.Duration,
		sub.CreatedAt,
		sub.ExpiresAt,
	).Error
}

func (r *repo) InsertTierRecords(ctx context.Context, db *gorm.DB, records []subscriptiondomain.TierRecord) error {
	for _, rec := range records {
		if err := db.WithContext(ctx).Exec(
			`INSERT INTO tier_records (id, subscription_id, category, payload, valid_from, valid_to)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID,
			rec.SubscriptionID,
			rec.Category,
			rec.Payload,
			rec.ValidFrom,
			rec.ValidTo,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) InsertQuota(ctx context.Context, db *gorm.DB, quota *subscriptiondomain.Quota) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quotas (id, subscription_id, veri, valid_from, valid_to)
		 VALUES (?, ?, ?, ?, ?)`,
		quota.ID,
		quota.SubscriptionID,
		quota.Veri,
		quota.ValidFrom,
		quota.ValidTo,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *subscriptiondomain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, subscription_id, amount, currency, status, type, action,
			internal_ref_code, external_ref_code, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.SubscriptionID,
		payment.Amount,
		payment.Currency,
		payment.Status,
		payment.Type,
		payment.Action,
		payment.InternalRefCode,
		payment.ExternalRefCode,
		payment.CreatedAt,
		payment.ExpiresAt,
	).Error
}

func (r *repo) InsertPendingPayment(ctx context.Context, db *gorm.DB, pending *subscriptiondomain.PendingPayment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO pending_payments (id, org_id, wallet, link, reference, amount, action, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pending.ID,
		pending.OrgID,
		pending.Wallet,
		pending.Link,
		pending.Reference,
		pending.Amount,
		pending.Action,
		pending.Payload,
		pending.CreatedAt,
	).Error
}

func (r *repo) FindByOrgID(ctx context.Context, db *gorm.DB, orgID string) (*subscriptiondomain.Subscription, error) {
	var sub subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, status, duration, created_at, expires_at
		 FROM subscriptions WHERE org_id = ?`,
		orgID,
	).Scan(&sub).Error
	if err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status subscriptiondomain.SubscriptionStatus) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET status = ? WHERE id = ?`,
		status,
		id,
	).Error
}

func (r *repo) ExtendExpiry(ctx context.Context, db *gorm.DB, id snowflake.ID, to time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions SET expires_at = ? WHERE id = ?`,
		to,
		id,
	).Error
}

func (r *repo) CurrentTierRecords(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) ([]subscriptiondomain.TierRecord, error) {
	var records []subscriptiondomain.TierRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, category, payload, valid_from, valid_to
		 FROM tier_records
		 WHERE subscription_id = ? AND valid_from <= ? AND valid_to > ?
		 ORDER BY category ASC, valid_from ASC`,
		subscriptionID,
		at,
		at,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) CurrentTierRecord(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, category subscriptiondomain.TierCategory, at time.Time) (*subscriptiondomain.TierRecord, error) {
	var rec subscriptiondomain.TierRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, category, payload, valid_from, valid_to
		 FROM tier_records
		 WHERE subscription_id = ? AND category = ? AND valid_from <= ? AND valid_to > ?
		 ORDER BY valid_from DESC LIMIT 1`,
		subscriptionID,
		category,
		at,
		at,
	).Scan(&rec).Error
	if err != nil {
		return nil, err
	}
	if rec.ID == 0 {
		return nil, nil
	}
	return &rec, nil
}

func (r *repo) ExpireTierRecord(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tier_records SET valid_to = ? WHERE id = ?`,
		at,
		id,
	).Error
}

func (r *repo) ExtendTierWindows(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, to time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tier_records SET valid_to = ?
		 WHERE subscription_id = ?
		   AND valid_to < ?
		   AND valid_to = (
			SELECT MAX(t2.valid_to) FROM tier_records t2
			WHERE t2.subscription_id = tier_records.subscription_id
			  AND t2.category = tier_records.category
		   )`,
		to,
		subscriptionID,
		to,
	).Error
}

func (r *repo) FindPendingPayment(ctx context.Context, db *gorm.DB, orgID, wallet, reference string) (*subscriptiondomain.PendingPayment, error) {
	var pending subscriptiondomain.PendingPayment
	query := `SELECT id, org_id, wallet, link, reference, amount, action, payload, created_at
		 FROM pending_payments WHERE org_id = ? AND wallet = ?`
	args := []any{orgID, wallet}
	if reference != "" {
		query += ` AND reference = ?`
		args = append(args, reference)
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	err := db.WithContext(ctx).Raw(query, args...).Scan(&pending).Error
	if err != nil {
		return nil, err
	}
	if pending.ID == 0 {
		return nil, nil
	}
	return &pending, nil
}

func (r *repo) DeletePendingPayment(ctx context.Context, db *gorm.DB, id snowflake.ID) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`DELETE FROM pending_payments WHERE id = ?`,
		id,
	)
	return res.RowsAffected, res.Error
}

func (r *repo) HasPendingPayment(ctx context.Context, db *gorm.DB, orgID, wallet string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM pending_payments WHERE org_id = ? AND wallet = ?`,
		orgID,
		wallet,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) StalePendingPayments(ctx context.Context, db *gorm.DB, olderThan time.Time) ([]subscriptiondomain.PendingPayment, error) {
	var rows []subscriptiondomain.PendingPayment
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, wallet, link, reference, amount, action, payload, created_at
		 FROM pending_payments WHERE created_at < ? ORDER BY created_at ASC`,
		olderThan,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) CountPendingPayments(ctx context.Context, db *gorm.DB) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Raw(`SELECT COUNT(1) FROM pending_payments`).Scan(&count).Error
	return count, err
}

func (r *repo) ActiveQuotas(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) ([]subscriptiondomain.Quota, error) {
	var quotas []subscriptiondomain.Quota
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, veri, valid_from, valid_to
		 FROM quotas
		 WHERE subscription_id = ? AND valid_from <= ? AND valid_to > ?
		 ORDER BY valid_from ASC, id ASC`,
		subscriptionID,
		at,
		at,
	).Scan(&quotas).Error
	if err != nil {
		return nil, err
	}
	return quotas, nil
}

func (r *repo) QuotaUsedSum(ctx context.Context, db *gorm.DB, quotaID snowflake.ID, service string) (float64, error) {
	var used float64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM quota_usages WHERE quota_id = ? AND service = ?`,
		quotaID,
		service,
	).Scan(&used).Error
	return used, err
}

func (r *repo) InsertQuotaUsage(ctx context.Context, db *gorm.DB, usage *subscriptiondomain.QuotaUsage) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO quota_usages (id, quota_id, wallet, service, amount, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		usage.ID,
		usage.QuotaID,
		usage.Wallet,
		usage.Service,
		usage.Amount,
		usage.CreatedAt,
	).Error
}

func (r *repo) ExpiringBetween(ctx context.Context, db *gorm.DB, from, to time.Time) ([]subscriptiondomain.Subscription, error) {
	var subs []subscriptiondomain.Subscription
	err := db.WithContext(ctx).Raw(
		`SELECT id, org_id, status, duration, created_at, expires_at
		 FROM subscriptions
		 WHERE status = ? AND expires_at >= ? AND expires_at < ?
		 ORDER BY expires_at ASC`,
		subscriptiondomain.SubscriptionStatusActive,
		from,
		to,
	).Scan(&subs).Error
	if err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repo) DeleteSubscriptionTree(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, orgID string) error {
	statements := []string{
		`DELETE FROM quota_usages WHERE quota_id IN (SELECT id FROM quotas WHERE subscription_id = ?)`,
		`DELETE FROM quotas WHERE subscription_id = ?`,
		`DELETE FROM payments WHERE subscription_id = ?`,
		`DELETE FROM tier_records WHERE subscription_id = ?`,
		`DELETE FROM subscriptions WHERE id = ?`,
	}
	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt, subscriptionID).Error; err != nil {
			return err
		}
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM pending_payments WHERE org_id = ?`,
		orgID,
	).Error
}

package quota

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stashworks/jobhub/internal/directory"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"github.com/stashworks/jobhub/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type memberDirectory struct {
	members map[string]bool
}

func (m *memberDirectory) IsOrgMember(_ context.Context, wallet, _ string) (bool, error) {
	return m.members[wallet], nil
}
func (m *memberDirectory) IsOrgOwner(context.Context, string, string) (bool, error) {
	return false, nil
}
func (m *memberDirectory) FindOrgOwner(context.Context, string) (*directory.OwnerProfile, error) {
	return nil, nil
}
func (m *memberDirectory) Members(context.Context, string) ([]directory.OrgMember, error) {
	return nil, nil
}
func (m *memberDirectory) SyncUserPermissions(context.Context, string, []string) error {
	return nil
}

type fixture struct {
	svc   *service
	db    *gorm.DB
	clock *clock.FakeClock
	node  *snowflake.Node
	subID snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&subscriptiondomain.Subscription{},
		&subscriptiondomain.TierRecord{},
		&subscriptiondomain.Quota{},
		&subscriptiondomain.QuotaUsage{},
	))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	fc := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))

	svc := &service{
		db:        db,
		log:       zap.NewNop(),
		genID:     node,
		clock:     fc,
		repo:      repository.Provide(),
		directory: &memberDirectory{members: map[string]bool{"wallet-member": true}},
	}

	f := &fixture{svc: svc, db: db, clock: fc, node: node}
	f.seedSubscription(t, subscriptiondomain.SubscriptionStatusActive)
	return f
}

func (f *fixture) seedSubscription(t *testing.T, status subscriptiondomain.SubscriptionStatus) {
	t.Helper()
	now := f.clock.Now()
	sub := subscriptiondomain.Subscription{
		ID:        f.node.Generate(),
		OrgID:     "org-42",
		Status:    status,
		Duration:  "monthly",
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 1, 0),
	}
	require.NoError(t, f.db.Create(&sub).Error)
	f.subID = sub.ID

	require.NoError(t, f.db.Create(&subscriptiondomain.TierRecord{
		ID:             f.node.Generate(),
		SubscriptionID: sub.ID,
		Category:       subscriptiondomain.TierBundle,
		Payload:        datatypes.JSONMap{"name": "growth"},
		ValidFrom:      now,
		ValidTo:        now.AddDate(0, 1, 0),
	}).Error)
}

func (f *fixture) addQuota(t *testing.T, veri float64, from time.Time) snowflake.ID {
	t.Helper()
	quota := subscriptiondomain.Quota{
		ID:             f.node.Generate(),
		SubscriptionID: f.subID,
		Veri:           veri,
		ValidFrom:      from,
		ValidTo:        from.AddDate(0, 2, 0),
	}
	require.NoError(t, f.db.Create(&quota).Error)
	return quota.ID
}

func (f *fixture) record(t *testing.T, wallet string, amount float64) subscriptiondomain.Result {
	t.Helper()
	res, err := f.svc.RecordUsage(context.Background(), subscriptiondomain.UsageRequest{
		OrgID:   "org-42",
		Wallet:  wallet,
		Service: ServiceVeri,
		Amount:  amount,
	})
	require.NoError(t, err)
	return res
}

func TestRecordUsage(t *testing.T) {
	f := newFixture(t)
	f.addQuota(t, 100, f.clock.Now())

	res := f.record(t, "wallet-member", 30)
	assert.True(t, res.Success, res.Message)

	remaining, err := f.svc.Remaining(context.Background(), "org-42", ServiceVeri)
	require.NoError(t, err)
	assert.Equal(t, float64(70), remaining)
}

func TestRecordUsageRejectsNonMember(t *testing.T) {
	f := newFixture(t)
	f.addQuota(t, 100, f.clock.Now())

	res := f.record(t, "wallet-stranger", 10)
	assert.False(t, res.Success)
	assert.EqualValues(t, float64(100), mustRemaining(t, f))
}

func TestRecordUsageRejectsInactiveSubscription(t *testing.T) {
	f := newFixture(t)
	f.addQuota(t, 100, f.clock.Now())
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", f.subID).
		Update("status", subscriptiondomain.SubscriptionStatusInactive).Error)

	res := f.record(t, "wallet-member", 10)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "inactive")
}

func TestQuotaNeverOverfills(t *testing.T) {
	f := newFixture(t)
	quotaID := f.addQuota(t, 50, f.clock.Now())

	assert.True(t, f.record(t, "wallet-member", 30).Success)
	assert.True(t, f.record(t, "wallet-member", 20).Success)

	// The quota is full; the next call fails closed.
	res := f.record(t, "wallet-member", 1)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "exhausted")

	var used float64
	require.NoError(t, f.db.Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM quota_usages WHERE quota_id = ?`, quotaID,
	).Scan(&used).Error)
	assert.Equal(t, float64(50), used)
}

func TestFIFOAcrossOverlappingQuotas(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	oldQuota := f.addQuota(t, 40, now.Add(-time.Hour))
	newQuota := f.addQuota(t, 100, now)

	// First spend lands on the older quota.
	assert.True(t, f.record(t, "wallet-member", 40).Success)
	var n int64
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM quota_usages WHERE quota_id = ?`, oldQuota).Scan(&n).Error)
	assert.EqualValues(t, 1, n)

	// The older quota is full; the next spend spills to the newer one.
	assert.True(t, f.record(t, "wallet-member", 60).Success)
	require.NoError(t, f.db.Raw(`SELECT COUNT(1) FROM quota_usages WHERE quota_id = ?`, newQuota).Scan(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestOversizedRequestSkipsToQuotaWithRoom(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()
	f.addQuota(t, 10, now.Add(-time.Hour))
	f.addQuota(t, 100, now)

	// 50 does not fit the old quota but fits the new one.
	assert.True(t, f.record(t, "wallet-member", 50).Success)
}

func mustRemaining(t *testing.T, f *fixture) float64 {
	t.Helper()
	remaining, err := f.svc.Remaining(context.Background(), "org-42", ServiceVeri)
	require.NoError(t, err)
	return remaining
}

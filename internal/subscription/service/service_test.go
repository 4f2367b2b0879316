package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stashworks/jobhub/internal/clock"
	"github.com/stashworks/jobhub/internal/config"
	"github.com/stashworks/jobhub/internal/directory"
	"github.com/stashworks/jobhub/internal/notification"
	"github.com/stashworks/jobhub/internal/payment/gateway"
	"github.com/stashworks/jobhub/internal/pricing"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"github.com/stashworks/jobhub/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manual Mocks

type mockGateway struct {
	calls   int
	nextID  string
	nextURL string
	fail    bool
}

func (m *mockGateway) CreateCharge(_ context.Context, req gateway.CreateChargeRequest) (*gateway.Charge, error) {
	m.calls++
	if m.fail {
		return nil, gateway.ErrChargeFailed
	}
	return &gateway.Charge{ID: m.nextID, URL: m.nextURL}, nil
}

type mockDirectory struct {
	owners  map[string]string // orgID -> wallet
	emails  map[string]string // wallet -> email
	synced  map[string][]string
	members map[string][]string // orgID -> wallets
}

func newMockDirectory() *mockDirectory {
	return &mockDirectory{
		owners:  map[string]string{},
		emails:  map[string]string{},
		synced:  map[string][]string{},
		members: map[string][]string{},
	}
}

func (m *mockDirectory) IsOrgMember(_ context.Context, wallet, orgID string) (bool, error) {
	for _, w := range m.members[orgID] {
		if w == wallet {
			return true, nil
		}
	}
	return m.owners[orgID] == wallet, nil
}

func (m *mockDirectory) IsOrgOwner(_ context.Context, wallet, orgID string) (bool, error) {
	return m.owners[orgID] == wallet, nil
}

func (m *mockDirectory) FindOrgOwner(_ context.Context, orgID string) (*directory.OwnerProfile, error) {
	wallet, ok := m.owners[orgID]
	if !ok {
		return nil, nil
	}
	return &directory.OwnerProfile{Wallet: wallet, Email: m.emails[wallet]}, nil
}

func (m *mockDirectory) Members(_ context.Context, orgID string) ([]directory.OrgMember, error) {
	var out []directory.OrgMember
	for _, w := range m.members[orgID] {
		out = append(out, directory.OrgMember{OrgID: orgID, Wallet: w})
	}
	return out, nil
}

func (m *mockDirectory) SyncUserPermissions(_ context.Context, wallet string, roles []string) error {
	m.synced[wallet] = roles
	return nil
}

type mockNotifier struct {
	sent      []notification.Message
	scheduled []string
}

func (m *mockNotifier) Send(_ context.Context, msg notification.Message) error {
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockNotifier) ScheduleWithPredicate(_ context.Context, msg notification.Message, predicate string, _ map[string]any, _ time.Time) error {
	m.scheduled = append(m.scheduled, predicate)
	return nil
}

func (m *mockNotifier) DispatchDue(context.Context, int) (int, error) { return 0, nil }

type mockReporter struct {
	events []string
}

func (m *mockReporter) Capture(event string, _ ...zap.Field) {
	m.events = append(m.events, event)
}

type fixture struct {
	svc      *Service
	db       *gorm.DB
	gw       *mockGateway
	dir      *mockDirectory
	notifier *mockNotifier
	rep      *mockReporter
	clock    *clock.FakeClock
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
		&subscriptiondomain.Payment{},
		&subscriptiondomain.PendingPayment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	holder := config.NewStaticPricingHolder(config.DefaultPricingCatalog())
	gw := &mockGateway{nextID: "charge-1", nextURL: "https://pay.example/c/charge-1"}
	dir := newMockDirectory()
	dir.owners["org-42"] = "wallet-owner"
	dir.emails["wallet-owner"] = "owner@example.com"
	notifier := &mockNotifier{}
	rep := &mockReporter{}
	fc := clock.NewFakeClock(time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC))

	svc := &Service{
		db:        db,
		log:       zap.NewNop(),
		cfg:       config.Config{Gateway: config.GatewayConfig{Currency: "USD"}},
		genID:     node,
		clock:     fc,
		repo:      repository.Provide(),
		calc:      pricing.NewCalculator(holder),
		gateway:   gw,
		directory: dir,
		notifier:  notifier,
		reporter:  rep,
	}
	return &fixture{svc: svc, db: db, gw: gw, dir: dir, notifier: notifier, rep: rep, clock: fc}
}

func (f *fixture) initiate(t *testing.T, action subscriptiondomain.Action, sel pricing.Selection) subscriptiondomain.Result {
	t.Helper()
	res, err := f.svc.Initiate(context.Background(), subscriptiondomain.InitiateRequest{
		OrgID:     "org-42",
		Wallet:    "wallet-owner",
		Email:     "owner@example.com",
		Action:    action,
		Selection: sel,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) confirm(t *testing.T, reference string) subscriptiondomain.Result {
	t.Helper()
	res, err := f.svc.Confirm(context.Background(), subscriptiondomain.ConfirmRequest{
		OrgID:     "org-42",
		Wallet:    "wallet-owner",
		Reference: reference,
	})
	require.NoError(t, err)
	return res
}

// createPaid runs the full initiate+confirm flow for a paid subscription.
func (f *fixture) createPaid(t *testing.T, sel pricing.Selection) {
	t.Helper()
	res := f.initiate(t, subscriptiondomain.ActionCreate, sel)
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, f.gw.nextID)
	require.True(t, res.Success, res.Message)
}

func (f *fixture) count(t *testing.T, table string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Raw("SELECT COUNT(1) FROM "+table).Scan(&n).Error)
	return n
}

func growthSelection() pricing.Selection {
	return pricing.Selection{Bundle: config.BundleGrowth}
}

func TestInitiatePaidOpensCheckout(t *testing.T) {
	f := newFixture(t)

	res := f.initiate(t, subscriptiondomain.ActionCreate, growthSelection())
	require.True(t, res.Success, res.Message)
	assert.Equal(t, "https://pay.example/c/charge-1", res.Data["checkout_url"])
	assert.Equal(t, 1, f.gw.calls)

	// A pending payment parked, no subscription yet.
	assert.EqualValues(t, 1, f.count(t, "pending_payments"))
	assert.EqualValues(t, 0, f.count(t, "subscriptions"))

	// Three predicate-gated reminders scheduled.
	require.Len(t, f.notifier.scheduled, 3)
	for _, predicate := range f.notifier.scheduled {
		assert.Equal(t, subscriptiondomain.PendingPaymentExistsPredicate, predicate)
	}
}

func TestInitiateRejectsNonOwner(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Initiate(context.Background(), subscriptiondomain.InitiateRequest{
		OrgID:     "org-42",
		Wallet:    "wallet-random",
		Action:    subscriptiondomain.ActionCreate,
		Selection: growthSelection(),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, f.gw.calls)
}

func TestFreeTierCreateSkipsGateway(t *testing.T) {
	f := newFixture(t)

	res := f.initiate(t, subscriptiondomain.ActionCreate, pricing.Selection{Bundle: config.BundleStarter})
	require.True(t, res.Success, res.Message)

	assert.Zero(t, f.gw.calls)
	assert.EqualValues(t, 1, f.count(t, "subscriptions"))
	assert.EqualValues(t, 4, f.count(t, "tier_records"))
	assert.EqualValues(t, 1, f.count(t, "quotas"))
	assert.EqualValues(t, 0, f.count(t, "payments"))
	assert.EqualValues(t, 0, f.count(t, "pending_payments"))

	// Welcome email and owner grants follow the commit.
	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "welcome", f.notifier.sent[0].Kind)
	assert.Equal(t, []string{directory.RoleOrgOwner, directory.RoleOrgMember}, f.dir.synced["wallet-owner"])
}

func TestConfirmCreatesFullTree(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())

	assert.EqualValues(t, 1, f.count(t, "subscriptions"))
	assert.EqualValues(t, 4, f.count(t, "tier_records"))
	assert.EqualValues(t, 1, f.count(t, "quotas"))
	assert.EqualValues(t, 1, f.count(t, "payments"))
	assert.EqualValues(t, 0, f.count(t, "pending_payments"))

	var payment subscriptiondomain.Payment
	require.NoError(t, f.db.First(&payment).Error)
	assert.Equal(t, "charge-1", payment.ExternalRefCode)
	assert.Equal(t, float64(199), payment.Amount)

	var quota subscriptiondomain.Quota
	require.NoError(t, f.db.First(&quota).Error)
	assert.Equal(t, float64(100), quota.Veri)
	assert.Equal(t, f.clock.Now().AddDate(0, 2, 0), quota.ValidTo.UTC())
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())

	// The guard was consumed; a second confirmation of the same reference
	// must fail and write nothing.
	res := f.confirm(t, "charge-1")
	assert.False(t, res.Success)
	assert.Equal(t, "Payment not found", res.Message)
	assert.EqualValues(t, 1, f.count(t, "subscriptions"))
	assert.EqualValues(t, 1, f.count(t, "payments"))
	assert.Contains(t, f.rep.events, "billing.payment_not_found")
}

func TestConfirmFabricatedReference(t *testing.T) {
	f := newFixture(t)

	res := f.confirm(t, "charge-made-up")
	assert.False(t, res.Success)
	assert.Equal(t, "Payment not found", res.Message)
	assert.EqualValues(t, 0, f.count(t, "subscriptions"))
	assert.EqualValues(t, 0, f.count(t, "payments"))
}

func TestRenewExtendsInPlace(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())

	var before subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&before).Error)

	f.gw.nextID = "charge-2"
	f.gw.nextURL = "https://pay.example/c/charge-2"
	res := f.initiate(t, subscriptiondomain.ActionRenew, pricing.Selection{})
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-2")
	require.True(t, res.Success, res.Message)

	var after subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&after).Error)
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, before.ExpiresAt.AddDate(0, 1, 0).UTC(), after.ExpiresAt.UTC())

	// Renewal extends windows in place: still four tier records, all
	// ending at the new expiry.
	assert.EqualValues(t, 4, f.count(t, "tier_records"))
	var records []subscriptiondomain.TierRecord
	require.NoError(t, f.db.Find(&records).Error)
	for _, rec := range records {
		assert.Equal(t, after.ExpiresAt.UTC(), rec.ValidTo.UTC())
	}

	assert.EqualValues(t, 2, f.count(t, "quotas"))
	assert.EqualValues(t, 2, f.count(t, "payments"))
}

func TestRenewRejectsFreeTier(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t, subscriptiondomain.ActionCreate, pricing.Selection{Bundle: config.BundleStarter})
	require.True(t, res.Success, res.Message)

	res = f.initiate(t, subscriptiondomain.ActionRenew, pricing.Selection{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "cannot be renewed")
	assert.Zero(t, f.gw.calls)
}

func TestNoopChangeShortCircuits(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())
	f.gw.calls = 0

	res := f.initiate(t, subscriptiondomain.ActionChange, growthSelection())
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "matches the current subscription")
	assert.Zero(t, f.gw.calls)
}

func TestUpgradeTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())
	now := f.clock.Now()

	f.gw.nextID = "charge-2"
	res := f.initiate(t, subscriptiondomain.ActionChange, pricing.Selection{Bundle: config.BundlePro})
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-2")
	require.True(t, res.Success, res.Message)

	var bundles []subscriptiondomain.TierRecord
	require.NoError(t, f.db.Where("category = ?", subscriptiondomain.TierBundle).Order("valid_from asc").Find(&bundles).Error)
	require.Len(t, bundles, 2)

	// Old record expired at now, new one effective from now.
	assert.Equal(t, config.BundleGrowth, bundles[0].BundleName())
	assert.Equal(t, now, bundles[0].ValidTo.UTC())
	assert.Equal(t, config.BundlePro, bundles[1].BundleName())
	assert.Equal(t, now, bundles[1].ValidFrom.UTC())
	assert.Equal(t, now.AddDate(0, 1, 0), bundles[1].ValidTo.UTC())
}

func TestDowngradeIsDeferred(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, pricing.Selection{Bundle: config.BundlePro})

	var before subscriptiondomain.TierRecord
	require.NoError(t, f.db.Where("category = ?", subscriptiondomain.TierBundle).First(&before).Error)

	f.gw.nextID = "charge-2"
	res := f.initiate(t, subscriptiondomain.ActionChange, growthSelection())
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-2")
	require.True(t, res.Success, res.Message)

	var bundles []subscriptiondomain.TierRecord
	require.NoError(t, f.db.Where("category = ?", subscriptiondomain.TierBundle).Order("valid_from asc").Find(&bundles).Error)
	require.Len(t, bundles, 2)

	// Current record keeps its window; the downgrade queues behind it.
	assert.Equal(t, config.BundlePro, bundles[0].BundleName())
	assert.Equal(t, before.ValidTo.UTC(), bundles[0].ValidTo.UTC())
	assert.Equal(t, config.BundleGrowth, bundles[1].BundleName())
	assert.Equal(t, before.ValidTo.UTC(), bundles[1].ValidFrom.UTC())
	assert.Equal(t, before.ValidTo.AddDate(0, 1, 0).UTC(), bundles[1].ValidTo.UTC())
}

func TestRenewAfterUpgradeExtendsNewWindow(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())

	f.clock.Advance(10 * 24 * time.Hour)
	f.gw.nextID = "charge-2"
	res := f.initiate(t, subscriptiondomain.ActionChange, pricing.Selection{Bundle: config.BundlePro})
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-2")
	require.True(t, res.Success, res.Message)

	f.clock.Advance(10 * 24 * time.Hour)
	f.gw.nextID = "charge-3"
	res = f.initiate(t, subscriptiondomain.ActionRenew, pricing.Selection{})
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-3")
	require.True(t, res.Success, res.Message)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub).Error)

	// The upgraded bundle record, which ended mid-cycle relative to the
	// subscription, now tracks the renewed expiry: the paid entitlement
	// cannot lapse while the subscription runs on.
	var bundles []subscriptiondomain.TierRecord
	require.NoError(t, f.db.Where("category = ?", subscriptiondomain.TierBundle).Order("valid_from asc").Find(&bundles).Error)
	require.Len(t, bundles, 2)
	assert.Equal(t, config.BundlePro, bundles[1].BundleName())
	assert.Equal(t, sub.ExpiresAt.UTC(), bundles[1].ValidTo.UTC())
}

func TestRenewAfterDeferredDowngradeKeepsWindowsDisjoint(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, pricing.Selection{Bundle: config.BundlePro})

	f.gw.nextID = "charge-2"
	res := f.initiate(t, subscriptiondomain.ActionChange, growthSelection())
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-2")
	require.True(t, res.Success, res.Message)

	f.gw.nextID = "charge-3"
	res = f.initiate(t, subscriptiondomain.ActionRenew, pricing.Selection{})
	require.True(t, res.Success, res.Message)
	res = f.confirm(t, "charge-3")
	require.True(t, res.Success, res.Message)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub).Error)

	// The outgoing record keeps its window; only the queued downgrade
	// tracks the new expiry, so no two bundle records overlap.
	var bundles []subscriptiondomain.TierRecord
	require.NoError(t, f.db.Where("category = ?", subscriptiondomain.TierBundle).Order("valid_from asc").Find(&bundles).Error)
	require.Len(t, bundles, 2)
	assert.Equal(t, config.BundlePro, bundles[0].BundleName())
	assert.Equal(t, bundles[0].ValidTo.UTC(), bundles[1].ValidFrom.UTC())
	assert.Equal(t, config.BundleGrowth, bundles[1].BundleName())
	assert.Equal(t, sub.ExpiresAt.UTC(), bundles[1].ValidTo.UTC())
}

func TestStarterChangeToGrowthScenario(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t, subscriptiondomain.ActionCreate, pricing.Selection{Bundle: config.BundleStarter})
	require.True(t, res.Success, res.Message)

	res = f.initiate(t, subscriptiondomain.ActionChange, growthSelection())
	require.True(t, res.Success, res.Message)

	// Checkout URL returned, pending payment parked, subscription tree
	// untouched until confirmation.
	assert.Equal(t, "https://pay.example/c/charge-1", res.Data["checkout_url"])
	assert.EqualValues(t, 1, f.count(t, "pending_payments"))
	assert.EqualValues(t, 1, f.count(t, "subscriptions"))
	assert.EqualValues(t, 4, f.count(t, "tier_records"))
}

func TestGatewayFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.gw.fail = true

	res := f.initiate(t, subscriptiondomain.ActionCreate, growthSelection())
	assert.False(t, res.Success)
	assert.EqualValues(t, 0, f.count(t, "pending_payments"))
	assert.Empty(t, f.notifier.scheduled)
}

func TestCancelAndReactivate(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())

	res, err := f.svc.Cancel(context.Background(), "org-42", "wallet-owner")
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusInactive, sub.Status)
	// History survives cancellation.
	assert.EqualValues(t, 4, f.count(t, "tier_records"))

	res, err = f.svc.Reactivate(context.Background(), "org-42", "wallet-owner")
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)
	require.NoError(t, f.db.First(&sub).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
}

func TestReactivateRejectsFreeTier(t *testing.T) {
	f := newFixture(t)
	res := f.initiate(t, subscriptiondomain.ActionCreate, pricing.Selection{Bundle: config.BundleStarter})
	require.True(t, res.Success, res.Message)

	_, err := f.svc.Cancel(context.Background(), "org-42", "wallet-owner")
	require.NoError(t, err)

	out, err := f.svc.Reactivate(context.Background(), "org-42", "wallet-owner")
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Message, "cannot be reactivated")
}

func TestResetRemovesEverything(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())
	f.dir.members["org-42"] = []string{"wallet-owner", "wallet-member"}

	// An in-flight change parks a pending payment; reset must consume it
	// too, or a stale confirmation could rebuild the torn-down org.
	f.gw.nextID = "charge-2"
	res := f.initiate(t, subscriptiondomain.ActionChange, pricing.Selection{Bundle: config.BundlePro})
	require.True(t, res.Success, res.Message)
	require.EqualValues(t, 1, f.count(t, "pending_payments"))

	res, err := f.svc.Reset(context.Background(), "org-42", "wallet-owner")
	require.NoError(t, err)
	require.True(t, res.Success, res.Message)

	for _, table := range []string{"subscriptions", "tier_records", "quotas", "payments", "pending_payments"} {
		assert.EqualValues(t, 0, f.count(t, table), table)
	}
	assert.Empty(t, f.dir.synced["wallet-owner"])
	assert.Empty(t, f.dir.synced["wallet-member"])

	confirmed := f.confirm(t, "charge-2")
	assert.False(t, confirmed.Success)
	assert.EqualValues(t, 0, f.count(t, "subscriptions"))
}

func TestResetRejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	f.createPaid(t, growthSelection())

	res, err := f.svc.Reset(context.Background(), "org-42", "wallet-random")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualValues(t, 1, f.count(t, "subscriptions"))
	assert.EqualValues(t, 4, f.count(t, "tier_records"))
}

// failingRepo wraps the real repository and fails quota inserts, to prove
// a mid-transaction fault leaves no partial tree behind.
type failingRepo struct {
	subscriptiondomain.Repository
}

var errInjected = errors.New("injected fault")

func (f *failingRepo) InsertQuota(context.Context, *gorm.DB, *subscriptiondomain.Quota) error {
	return errInjected
}

func TestCreateIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.svc.repo = &failingRepo{Repository: repository.Provide()}

	res := f.initiate(t, subscriptiondomain.ActionCreate, growthSelection())
	require.True(t, res.Success, res.Message)

	_, err := f.svc.Confirm(context.Background(), subscriptiondomain.ConfirmRequest{
		OrgID:     "org-42",
		Wallet:    "wallet-owner",
		Reference: "charge-1",
	})
	require.ErrorIs(t, err, errInjected)

	// The whole transaction rolled back: no subscription, no tier
	// records, and the pending payment survives for a retry.
	assert.EqualValues(t, 0, f.count(t, "subscriptions"))
	assert.EqualValues(t, 0, f.count(t, "tier_records"))
	assert.EqualValues(t, 1, f.count(t, "pending_payments"))
}

package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/connect-reconciler/internal/notifications"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type enqueued struct {
	kind    enums.RetryOperationKind
	payload any
	cause   error
}

type fakeRetry struct {
	items []enqueued
}

func (f *fakeRetry) Enqueue(_ context.Context, kind enums.RetryOperationKind, payload any, cause error, _ int) (string, error) {
	f.items = append(f.items, enqueued{kind: kind, payload: payload, cause: cause})
	return "retry-1", nil
}

type recordingNotifier struct {
	messages []notifications.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notifications.Message) error {
	r.messages = append(r.messages, msg)
	return nil
}

type fixture struct {
	svc      Service
	conn     *gorm.DB
	provider *stripeclient.SyntheticClient
	state    *state.Store
	retry    *fakeRetry
	notifier *recordingNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.VendorAccount{}))

	now := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &fixture{
		conn:     conn,
		provider: stripeclient.NewSyntheticClient(clock),
		state:    state.NewStore(state.NewMemoryKV()),
		retry:    &fakeRetry{},
		notifier: &recordingNotifier{},
		now:      now,
	}
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Provider: f.provider,
		State:    f.state,
		Retry:    f.retry,
		Notifier: f.notifier,
		Clock:    clock,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seed(t *testing.T, vendorID int64, accountID string, status enums.VendorAccountStatus) {
	t.Helper()
	require.NoError(t, f.conn.Create(&models.VendorAccount{
		VendorID:        vendorID,
		StripeAccountID: accountID,
		Email:           "vendor@example.com",
		Status:          status,
	}).Error)
}

func (f *fixture) load(t *testing.T, vendorID int64) models.VendorAccount {
	t.Helper()
	var acct models.VendorAccount
	require.NoError(t, f.conn.First(&acct, "vendor_id = ?", vendorID).Error)
	return acct
}

func TestDeriveStatus(t *testing.T) {
	full := Capabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
	partial := Capabilities{ChargesEnabled: true, DetailsSubmitted: true}
	none := Capabilities{}

	cases := []struct {
		name    string
		current enums.VendorAccountStatus
		caps    Capabilities
		want    enums.VendorAccountStatus
	}{
		{"pending to active", enums.VendorAccountPending, full, enums.VendorAccountActive},
		{"active stays active", enums.VendorAccountActive, full, enums.VendorAccountActive},
		{"details missing is pending", enums.VendorAccountActive, none, enums.VendorAccountPending},
		{"partial keeps active", enums.VendorAccountActive, partial, enums.VendorAccountActive},
		{"partial keeps pending", enums.VendorAccountPending, partial, enums.VendorAccountPending},
		{"deleted is terminal", enums.VendorAccountDeleted, full, enums.VendorAccountDeleted},
		{"deleted ignores missing details", enums.VendorAccountDeleted, none, enums.VendorAccountDeleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DeriveStatus(tc.current, tc.caps))
		})
	}
}

func TestSweepDetectsDeletedAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 1, "acct_live", enums.VendorAccountPending)
	f.seed(t, 2, "acct_gone", enums.VendorAccountActive)
	f.provider.MarkDeleted("acct_gone")

	stats, err := f.svc.VerifyVendorAccounts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{Checked: 2, Updated: 1, Deleted: 1}, stats)

	assert.Equal(t, enums.VendorAccountActive, f.load(t, 1).Status)

	gone := f.load(t, 2)
	assert.Equal(t, enums.VendorAccountDeleted, gone.Status)
	require.NotNil(t, gone.DeletedDetectedAt)
	assert.True(t, gone.DeletedDetectedAt.Equal(f.now))

	index, err := f.state.DeletedAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, "acct_gone", index[0].AccountID)
	assert.EqualValues(t, 2, index[0].VendorID)
	assert.True(t, index[0].DetectedAt.Equal(f.now))

	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, notifications.TypeAccountDeleted, f.notifier.messages[0].Type)

	cursor, err := f.state.SweepCursor(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cursor)
}

type flakyKV struct {
	*state.MemoryKV
	hsetFailures int
}

func (k *flakyKV) HSet(ctx context.Context, key, field, value string) error {
	if k.hsetFailures > 0 {
		k.hsetFailures--
		return errors.New("redis timeout")
	}
	return k.MemoryKV.HSet(ctx, key, field, value)
}

func TestDeletionIsRecordedAfterIndexWriteFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 3, "acct_gone", enums.VendorAccountActive)
	f.provider.MarkDeleted("acct_gone")

	store := state.NewStore(&flakyKV{MemoryKV: state.NewMemoryKV(), hsetFailures: 1})
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(f.conn),
		Provider: f.provider,
		State:    store,
		Retry:    f.retry,
		Notifier: f.notifier,
		Clock:    func() time.Time { return f.now },
	})
	require.NoError(t, err)

	err = svc.VerifyAccount(ctx, 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsRetryable(err))
	assert.Equal(t, enums.VendorAccountActive, f.load(t, 3).Status)

	require.NoError(t, svc.VerifyAccount(ctx, 3))
	assert.Equal(t, enums.VendorAccountDeleted, f.load(t, 3).Status)

	index, err := store.DeletedAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, index, 1)
	assert.Equal(t, "acct_gone", index[0].AccountID)
	assert.EqualValues(t, 3, index[0].VendorID)
}

func TestSweepCursorAdvancesAndWraps(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 5, "acct_a", enums.VendorAccountActive)
	f.seed(t, 9, "acct_b", enums.VendorAccountActive)
	f.seed(t, 7, "", enums.VendorAccountUnlinked)
	f.seed(t, 8, "acct_old", enums.VendorAccountDeleted)

	stats, err := f.svc.VerifyVendorAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checked)
	cursor, _ := f.state.SweepCursor(ctx)
	assert.EqualValues(t, 5, cursor)

	stats, err = f.svc.VerifyVendorAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Checked)
	cursor, _ = f.state.SweepCursor(ctx)
	assert.EqualValues(t, 9, cursor)

	stats, err = f.svc.VerifyVendorAccounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, SweepStats{}, stats)
	cursor, _ = f.state.SweepCursor(ctx)
	assert.EqualValues(t, 0, cursor)
}

func TestSweepEnqueuesVerificationOnProviderError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 3, "acct_flaky", enums.VendorAccountPending)
	f.provider.FailNext(stripeclient.OpRetrieveAccount, &stripe.Error{HTTPStatusCode: 503, Msg: "service unavailable"})

	stats, err := f.svc.VerifyVendorAccounts(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, enums.VendorAccountPending, f.load(t, 3).Status)

	require.Len(t, f.retry.items, 1)
	assert.Equal(t, enums.RetryKindAccountVerification, f.retry.items[0].kind)
	assert.Equal(t, VerificationPayload{VendorID: 3, AccountID: "acct_flaky"}, f.retry.items[0].payload)
	assert.True(t, pkgerrors.IsRetryable(f.retry.items[0].cause))

	cursor, _ := f.state.SweepCursor(ctx)
	assert.EqualValues(t, 3, cursor)
}

func TestApplySnapshotIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 4, "acct_4", enums.VendorAccountPending)
	full := Capabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}

	changed, err := f.svc.ApplySnapshot(ctx, "acct_4", full)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = f.svc.ApplySnapshot(ctx, "acct_4", full)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, enums.VendorAccountActive, f.load(t, 4).Status)

	changed, err = f.svc.ApplySnapshot(ctx, "acct_unknown", full)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestDeletedVendorIgnoresSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, 6, "acct_6", enums.VendorAccountActive)

	require.NoError(t, f.svc.HandleAccountDeleted(ctx, "acct_6"))
	require.NoError(t, f.svc.HandleAccountDeleted(ctx, "acct_6"))

	changed, err := f.svc.ApplySnapshot(ctx, "acct_6", Capabilities{ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true})
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, enums.VendorAccountDeleted, f.load(t, 6).Status)
	assert.Len(t, f.notifier.messages, 1)
}

func TestLinkAndRelink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.svc.Link(ctx, LinkInput{VendorID: 11, Email: "shop@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "acct_mock_000001", acct.StripeAccountID)
	assert.Equal(t, enums.VendorAccountPending, acct.Status)

	again, err := f.svc.Link(ctx, LinkInput{VendorID: 11, Email: "shop@example.com"})
	require.NoError(t, err)
	assert.Equal(t, acct.StripeAccountID, again.StripeAccountID)

	require.NoError(t, f.svc.HandleAccountDeleted(ctx, acct.StripeAccountID))
	relinked, err := f.svc.Link(ctx, LinkInput{VendorID: 11, Email: "shop@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "acct_mock_000002", relinked.StripeAccountID)
	assert.Equal(t, enums.VendorAccountPending, relinked.Status)
	assert.Nil(t, f.load(t, 11).DeletedDetectedAt)

	_, err = f.svc.Link(ctx, LinkInput{VendorID: 12, Email: "nope"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestOnboardingLinkAndCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acct, err := f.svc.Link(ctx, LinkInput{VendorID: 21, Email: "a@b.co", Country: "ca"})
	require.NoError(t, err)

	link, err := f.svc.OnboardingLink(ctx, 21, "https://shop.test/refresh", "https://shop.test/return")
	require.NoError(t, err)
	assert.Contains(t, link.URL, acct.StripeAccountID)

	done, err := f.svc.CompleteOnboarding(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, enums.VendorAccountPending, done.Status)

	f.provider.PutAccount(&stripe.Account{ID: acct.StripeAccountID, ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true})
	done, err = f.svc.CompleteOnboarding(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, enums.VendorAccountActive, done.Status)

	f.provider.MarkDeleted(acct.StripeAccountID)
	_, err = f.svc.CompleteOnboarding(ctx, 21)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAccountDeleted))

	_, err = f.svc.OnboardingLink(ctx, 21, "r", "u")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAccountDeleted))
}

func TestRetryHandlerVerifiesVendor(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 31, "acct_31", enums.VendorAccountPending)
	handler := RetryHandler(f.svc)

	payload, err := json.Marshal(VerificationPayload{VendorID: 31})
	require.NoError(t, err)
	require.NoError(t, handler(context.Background(), payload))
	assert.Equal(t, enums.VendorAccountActive, f.load(t, 31).Status)

	require.Error(t, handler(context.Background(), json.RawMessage(`{"vendor_id":0}`)))
	require.Error(t, handler(context.Background(), json.RawMessage(`not json`)))
}

package apikeys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/connect-reconciler/internal/notifications"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

type recordingNotifier struct {
	msgs []notifications.Message
}

func (r *recordingNotifier) Notify(_ context.Context, msg notifications.Message) error {
	r.msgs = append(r.msgs, msg)
	return nil
}

func newTestVerifier(t *testing.T) (*Verifier, *stripeclient.SyntheticClient, *recordingNotifier) {
	t.Helper()
	now := time.Date(2024, 10, 1, 6, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	provider := stripeclient.NewSyntheticClient(clock)
	notifier := &recordingNotifier{}
	v, err := NewVerifier(VerifierParams{
		Provider: provider,
		Store:    state.NewStore(state.NewMemoryKV()),
		Notifier: notifier,
		Clock:    clock,
	})
	require.NoError(t, err)
	return v, provider, notifier
}

func unauthorized() error {
	return &stripe.Error{HTTPStatusCode: 401, Msg: "Invalid API Key provided"}
}

func TestVerifySuccessMarksValid(t *testing.T) {
	v, _, notifier := newTestVerifier(t)

	status, err := v.Verify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, enums.APIKeyValid, status.Status)
	assert.Zero(t, status.Failures)
	require.NotNil(t, status.LastSuccess)
	assert.Empty(t, notifier.msgs)
}

func TestVerifyNotifiesOnFirstAndEveryTenthFailure(t *testing.T) {
	v, provider, notifier := newTestVerifier(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		provider.FailNext(stripeclient.OpRetrieveBalance, unauthorized())
		status, err := v.Verify(ctx)
		require.NoError(t, err)
		assert.Equal(t, enums.APIKeyInvalid, status.Status)
		assert.Equal(t, i+1, status.Failures)
	}

	require.Len(t, notifier.msgs, 3)
	for _, msg := range notifier.msgs {
		assert.Equal(t, notifications.TypeAPIKeyFailure, msg.Type)
		assert.Equal(t, notifications.AudienceOperator, msg.Audience)
	}
	assert.Equal(t, "1", notifier.msgs[0].Data["failures"])
	assert.Equal(t, "10", notifier.msgs[1].Data["failures"])
	assert.Equal(t, "20", notifier.msgs[2].Data["failures"])
}

func TestVerifyRecoveryResetsFailures(t *testing.T) {
	v, provider, _ := newTestVerifier(t)
	ctx := context.Background()

	provider.FailNext(stripeclient.OpRetrieveBalance, unauthorized())
	provider.FailNext(stripeclient.OpRetrieveBalance, unauthorized())
	_, err := v.Verify(ctx)
	require.NoError(t, err)
	_, err = v.Verify(ctx)
	require.NoError(t, err)

	status, err := v.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, enums.APIKeyValid, status.Status)
	assert.Zero(t, status.Failures)
	assert.Empty(t, status.Error)
	assert.NotNil(t, status.LastFailure)

	stored, err := v.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, status.Status, stored.Status)
}

type brokenStore struct{}

func (brokenStore) APIKeyStatus(context.Context) (state.APIKeyStatus, error) {
	return state.APIKeyStatus{}, errors.New("redis down")
}

func (brokenStore) SaveAPIKeyStatus(context.Context, state.APIKeyStatus) error { return nil }

func TestVerifySurfacesStoreErrors(t *testing.T) {
	v, err := NewVerifier(VerifierParams{Provider: stripeclient.NewSyntheticClient(nil), Store: brokenStore{}})
	require.NoError(t, err)
	_, err = v.Verify(context.Background())
	assert.Error(t, err)
}

func TestShouldNotify(t *testing.T) {
	cases := map[int]bool{0: false, 1: true, 2: false, 9: false, 10: true, 11: false, 30: true}
	for failures, want := range cases {
		assert.Equal(t, want, shouldNotify(failures), "failures=%d", failures)
	}
}

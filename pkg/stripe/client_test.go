package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/connect-reconciler/pkg/config"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
)

func fixedNow() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

func TestNewClientFallsBackToSynthetic(t *testing.T) {
	client, err := NewClient(context.Background(), config.AppConfig{Env: "dev"}, config.StripeConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeSynthetic, client.Mode())
	assert.True(t, pkgerrors.IsCode(RequireLive(client), pkgerrors.CodeProviderDown))
}

func TestNewClientRefusesSyntheticInProd(t *testing.T) {
	_, err := NewClient(context.Background(), config.AppConfig{Env: "prod"}, config.StripeConfig{}, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProviderDown))
}

func TestNewClientValidatesKeyEnvironment(t *testing.T) {
	_, err := NewClient(context.Background(), config.AppConfig{Env: "dev"}, config.StripeConfig{APIKey: "sk_live_abc", Env: "test"}, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConfiguration))

	_, err = NewClient(context.Background(), config.AppConfig{Env: "dev"}, config.StripeConfig{APIKey: "sk_test_abc", Env: "staging"}, nil)
	require.Error(t, err)

	client, err := NewClient(context.Background(), config.AppConfig{Env: "dev"}, config.StripeConfig{APIKey: "rk_test_abc"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ModeLive, client.Mode())
	assert.NoError(t, RequireLive(client))
}

func TestSyntheticAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	client := NewSyntheticClient(fixedNow)

	acct, err := client.CreateAccount(ctx, &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String("vendor@example.com"),
	})
	require.NoError(t, err)
	assert.Equal(t, "acct_mock_000001", acct.ID)
	assert.False(t, acct.ChargesEnabled)
	assert.Equal(t, fixedNow().Unix(), acct.Created)

	second, err := client.CreateAccount(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "acct_mock_000002", second.ID)

	updated, err := client.UpdateAccount(ctx, acct.ID, &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{
				Schedule: &stripe.AccountSettingsPayoutsScheduleParams{
					Interval:  stripe.String("weekly"),
					DelayDays: stripe.Int64(7),
				},
			},
		},
	})
	require.NoError(t, err)
	assert.EqualValues(t, "weekly", updated.Settings.Payouts.Schedule.Interval)
	assert.EqualValues(t, 7, updated.Settings.Payouts.Schedule.DelayDays)

	link, err := client.CreateAccountLink(ctx, &stripe.AccountLinkParams{
		Account:    stripe.String(acct.ID),
		RefreshURL: stripe.String("https://market.test/refresh"),
		ReturnURL:  stripe.String("https://market.test/return"),
		Type:       stripe.String("account_onboarding"),
	})
	require.NoError(t, err)
	assert.Contains(t, link.URL, acct.ID)
	assert.Equal(t, fixedNow().Add(5*time.Minute).Unix(), link.ExpiresAt)
}

func TestSyntheticUnknownAccountIsFullyEnabled(t *testing.T) {
	acct, err := NewSyntheticClient(fixedNow).RetrieveAccount(context.Background(), "acct_external", Options{})
	require.NoError(t, err)
	assert.True(t, acct.ChargesEnabled && acct.PayoutsEnabled && acct.DetailsSubmitted)
}

func TestSyntheticDeletedAccountSurfacesAccountDeleted(t *testing.T) {
	client := NewSyntheticClient(fixedNow)
	client.MarkDeleted("acct_gone")

	_, err := client.RetrieveAccount(context.Background(), "acct_gone", Options{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAccountDeleted))
	id, ok := AsAccountDeleted(err)
	require.True(t, ok)
	assert.Equal(t, "acct_gone", id)

	_, err = client.CreatePayout(context.Background(), &stripe.PayoutParams{Amount: stripe.Int64(100)}, Options{StripeAccount: "acct_gone"})
	_, ok = AsAccountDeleted(err)
	assert.True(t, ok)
}

func TestSyntheticPaymentIntentCarriesSplit(t *testing.T) {
	pi, err := NewSyntheticClient(fixedNow).CreatePaymentIntent(context.Background(), &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(10000),
		Currency:             stripe.String("USD"),
		ApplicationFeeAmount: stripe.Int64(1000),
		TransferData:         &stripe.PaymentIntentTransferDataParams{Destination: stripe.String("acct_A")},
		Metadata:             map[string]string{"order_id": "ord-1"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "pi_mock_000001", pi.ID)
	assert.EqualValues(t, "usd", pi.Currency)
	assert.EqualValues(t, 1000, pi.ApplicationFeeAmount)
	assert.Equal(t, "acct_A", pi.TransferData.Destination.ID)
	assert.Equal(t, "ord-1", pi.Metadata["order_id"])
}

func TestSyntheticFailureInjection(t *testing.T) {
	client := NewSyntheticClient(fixedNow)
	client.FailNext(OpRetrieveBalance, &stripe.Error{HTTPStatusCode: http.StatusUnauthorized, Msg: "Invalid API Key"})

	_, err := client.RetrieveBalance(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProviderAPI))
	assert.False(t, pkgerrors.IsRetryable(err))

	_, err = client.RetrieveBalance(context.Background(), Options{})
	assert.NoError(t, err, "failures are one-shot")
}

func TestTranslateErrorRetryability(t *testing.T) {
	rateLimited := translateError("op", "", &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests})
	assert.True(t, pkgerrors.IsRetryable(rateLimited))

	serverErr := translateError("op", "", &stripe.Error{HTTPStatusCode: http.StatusBadGateway})
	assert.True(t, pkgerrors.IsRetryable(serverErr))

	declined := translateError("op", "", &stripe.Error{HTTPStatusCode: http.StatusPaymentRequired, Code: stripe.ErrorCodeCardDeclined})
	assert.False(t, pkgerrors.IsRetryable(declined))

	network := translateError("op", "", errors.New("dial tcp: timeout"))
	assert.True(t, pkgerrors.IsRetryable(network))

	// Resource-missing on a payment call only means deletion when it names the account.
	customer := translateError("op", "acct_A", &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "No such customer: 'cus_1'"})
	assert.False(t, pkgerrors.IsCode(customer, pkgerrors.CodeAccountDeleted))
	dest := translateError("op", "acct_A", &stripe.Error{Code: stripe.ErrorCodeResourceMissing, Msg: "No such destination: 'acct_A'"})
	assert.True(t, pkgerrors.IsCode(dest, pkgerrors.CodeAccountDeleted))
}

func TestVerifyWebhook(t *testing.T) {
	secret := "whsec_test"
	payload := []byte(`{"id":"evt_1","object":"event","type":"payout.paid","account":"acct_A","created":1700000000,"data":{"object":{"id":"po_1","amount":15000,"currency":"usd"}}}`)

	event, err := verifyWebhook(payload, signHeader(payload, secret, time.Now()), secret)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.EqualValues(t, "payout.paid", event.Type)
	assert.Equal(t, "acct_A", event.Account)
	assert.Contains(t, string(event.Data.Raw), "po_1")

	_, err = verifyWebhook(payload, signHeader(payload, "whsec_other", time.Now()), secret)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))

	_, err = verifyWebhook(payload, "garbage", secret)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureInvalid))

	bad := []byte(`{"id":`)
	_, err = verifyWebhook(bad, signHeader(bad, secret, time.Now()), secret)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodePayloadMalformed))
}

func TestAmountConversions(t *testing.T) {
	assert.EqualValues(t, 1999, ToMinorUnits(decimal.RequireFromString("19.99"), "usd"))
	assert.EqualValues(t, 500, ToMinorUnits(decimal.RequireFromString("500"), "JPY"))
	assert.True(t, FromMinorUnits(15000, "usd").Equal(decimal.NewFromInt(150)))
	assert.True(t, FromMinorUnits(15000, "jpy").Equal(decimal.NewFromInt(15000)))
	assert.EqualValues(t, 1000, ApplicationFee(10000, decimal.NewFromInt(10)))
	assert.EqualValues(t, 13, ApplicationFee(125, decimal.NewFromInt(10)))
	assert.EqualValues(t, 0, ApplicationFee(125, decimal.Zero))
}

func signHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

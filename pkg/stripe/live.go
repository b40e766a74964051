package stripe

import (
	"context"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/accountlink"
	"github.com/stripe/stripe-go/v84/balance"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/payout"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
)

// LiveClient talks to the Stripe API through stripe-go.
type LiveClient struct {
	environment string
}

// NewLiveClient validates the key against env and installs it for stripe-go.
func NewLiveClient(env, apiKey string) (*LiveClient, error) {
	env, err := normalizeEnv(env)
	if err != nil {
		return nil, err
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errProviderUnavailable()
	}
	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConfiguration, err, "invalid stripe api key")
	}
	stripe.Key = apiKey
	return &LiveClient{environment: env}, nil
}

func (c *LiveClient) Mode() Mode { return ModeLive }

// Environment reports the normalized Stripe environment in use.
func (c *LiveClient) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *LiveClient) CreateAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error) {
	if params == nil {
		params = &stripe.AccountParams{}
	}
	params.Context = ctx
	acct, err := account.New(params)
	return acct, translateError("create account", "", err)
}

func (c *LiveClient) RetrieveAccount(ctx context.Context, id string, opts Options) (*stripe.Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	applyOptions(&params.Params, opts)
	acct, err := account.GetByID(id, params)
	return acct, translateAccountError("retrieve account", id, err)
}

func (c *LiveClient) UpdateAccount(ctx context.Context, id string, params *stripe.AccountParams) (*stripe.Account, error) {
	if params == nil {
		params = &stripe.AccountParams{}
	}
	params.Context = ctx
	acct, err := account.Update(id, params)
	return acct, translateAccountError("update account", id, err)
}

func (c *LiveClient) CreateAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
	if params == nil {
		params = &stripe.AccountLinkParams{}
	}
	params.Context = ctx
	link, err := accountlink.New(params)
	return link, translateAccountError("create account link", stripe.StringValue(params.Account), err)
}

func (c *LiveClient) CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, opts Options) (*stripe.PaymentIntent, error) {
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	params.Context = ctx
	applyOptions(&params.Params, opts)
	pi, err := paymentintent.New(params)
	destination := ""
	if params.TransferData != nil {
		destination = stripe.StringValue(params.TransferData.Destination)
	}
	return pi, translateError("create payment intent", destination, err)
}

func (c *LiveClient) CreatePayout(ctx context.Context, params *stripe.PayoutParams, opts Options) (*stripe.Payout, error) {
	if params == nil {
		params = &stripe.PayoutParams{}
	}
	params.Context = ctx
	applyOptions(&params.Params, opts)
	po, err := payout.New(params)
	return po, translateError("create payout", opts.StripeAccount, err)
}

func (c *LiveClient) RetrieveBalance(ctx context.Context, opts Options) (*stripe.Balance, error) {
	params := &stripe.BalanceParams{}
	params.Context = ctx
	applyOptions(&params.Params, opts)
	bal, err := balance.Get(params)
	return bal, translateError("retrieve balance", opts.StripeAccount, err)
}

func (c *LiveClient) VerifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return verifyWebhook(payload, signatureHeader, secret)
}

func verifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		// Connected accounts may be pinned to older API versions.
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, translateWebhookError(err)
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(string(event.Type)) == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodePayloadMalformed, "webhook event missing id or type")
	}
	return event, nil
}

func applyOptions(params *stripe.Params, opts Options) {
	if acct := strings.TrimSpace(opts.StripeAccount); acct != "" {
		params.SetStripeAccount(acct)
	}
}

package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/connect-reconciler/pkg/config"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

// Mode tells callers which implementation backs a Client.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeSynthetic Mode = "synthetic"
)

var errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

// Options scopes a call. A non-empty StripeAccount runs it against that
// connected account instead of the platform account.
type Options struct {
	StripeAccount string
}

// Client is the capability every caller depends on. LiveClient and
// SyntheticClient return the same stripe-go resource types.
type Client interface {
	Mode() Mode
	CreateAccount(ctx context.Context, params *stripe.AccountParams) (*stripe.Account, error)
	RetrieveAccount(ctx context.Context, id string, opts Options) (*stripe.Account, error)
	UpdateAccount(ctx context.Context, id string, params *stripe.AccountParams) (*stripe.Account, error)
	CreateAccountLink(ctx context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error)
	CreatePaymentIntent(ctx context.Context, params *stripe.PaymentIntentParams, opts Options) (*stripe.PaymentIntent, error)
	CreatePayout(ctx context.Context, params *stripe.PayoutParams, opts Options) (*stripe.Payout, error)
	RetrieveBalance(ctx context.Context, opts Options) (*stripe.Balance, error)
	VerifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error)
}

// NewClient returns a LiveClient when an API key is configured and a
// SyntheticClient otherwise. Production refuses to run without credentials.
func NewClient(ctx context.Context, app config.AppConfig, cfg config.StripeConfig, logg *logger.Logger) (Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		if app.IsProd() {
			return nil, errProviderUnavailable()
		}
		if logg != nil {
			logg.Warn(ctx, "stripe api key missing; using synthetic provider client")
		}
		return NewSyntheticClient(nil), nil
	}

	live, err := NewLiveClient(env, apiKey)
	if err != nil {
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}
	return live, nil
}

// RequireLive fails with PROVIDER_UNAVAILABLE unless c talks to Stripe.
func RequireLive(c Client) error {
	if c == nil || c.Mode() != ModeLive {
		return errProviderUnavailable()
	}
	return nil
}

func errProviderUnavailable() error {
	return pkgerrors.New(pkgerrors.CodeProviderDown, "stripe api key is not configured")
}

func normalizeEnv(value string) (string, error) {
	env := strings.ToLower(strings.TrimSpace(value))
	switch env {
	case "", testEnv:
		return testEnv, nil
	case liveEnv:
		return liveEnv, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test_") || strings.HasPrefix(key, "rk_test_") {
			return nil
		}
	case liveEnv:
		if strings.HasPrefix(key, "sk_live_") || strings.HasPrefix(key, "rk_live_") {
			return nil
		}
	}
	return errors.New("stripe api key does not match environment " + env)
}

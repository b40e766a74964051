package stripe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v84"
)

// Operation names a SyntheticClient call for failure injection.
type Operation string

const (
	OpCreateAccount       Operation = "create_account"
	OpRetrieveAccount     Operation = "retrieve_account"
	OpUpdateAccount       Operation = "update_account"
	OpCreateAccountLink   Operation = "create_account_link"
	OpCreatePaymentIntent Operation = "create_payment_intent"
	OpCreatePayout        Operation = "create_payout"
	OpRetrieveBalance     Operation = "retrieve_balance"
)

const syntheticLinkHost = "https://connect.mock.local"

// SyntheticClient fabricates Stripe resources in memory so the rest of the
// service runs end to end without credentials. Ids are deterministic per kind.
type SyntheticClient struct {
	mu       sync.Mutex
	now      func() time.Time
	seq      map[string]int
	accounts map[string]*stripe.Account
	deleted  map[string]bool
	failures map[Operation][]error
}

func NewSyntheticClient(now func() time.Time) *SyntheticClient {
	if now == nil {
		now = time.Now
	}
	return &SyntheticClient{
		now:      now,
		seq:      make(map[string]int),
		accounts: make(map[string]*stripe.Account),
		deleted:  make(map[string]bool),
		failures: make(map[Operation][]error),
	}
}

func (c *SyntheticClient) Mode() Mode { return ModeSynthetic }

// PutAccount seeds or replaces an account snapshot.
func (c *SyntheticClient) PutAccount(acct *stripe.Account) {
	if acct == nil || acct.ID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *acct
	c.accounts[acct.ID] = &cp
	delete(c.deleted, acct.ID)
}

// MarkDeleted makes every later call touching id fail as resource missing.
func (c *SyntheticClient) MarkDeleted(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted[id] = true
	delete(c.accounts, id)
}

// FailNext queues err as the result of the next call to op.
func (c *SyntheticClient) FailNext(op Operation, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = append(c.failures[op], err)
}

func (c *SyntheticClient) CreateAccount(_ context.Context, params *stripe.AccountParams) (*stripe.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(OpCreateAccount); err != nil {
		return nil, translateError("create account", "", err)
	}
	if params == nil {
		params = &stripe.AccountParams{}
	}

	acct := &stripe.Account{
		ID:      c.nextID("acct"),
		Object:  "account",
		Type:    stripe.AccountType(valueOr(params.Type, string(stripe.AccountTypeExpress))),
		Country: valueOr(params.Country, "US"),
		Email:   stripe.StringValue(params.Email),
		Created: c.now().Unix(),
	}
	if len(params.Metadata) > 0 {
		acct.Metadata = copyMetadata(params.Metadata)
	}
	c.accounts[acct.ID] = acct
	cp := *acct
	return &cp, nil
}

func (c *SyntheticClient) RetrieveAccount(_ context.Context, id string, _ Options) (*stripe.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(OpRetrieveAccount); err != nil {
		return nil, translateAccountError("retrieve account", id, err)
	}
	if c.deleted[id] {
		return nil, translateAccountError("retrieve account", id, missingAccountError(id))
	}

	acct, ok := c.accounts[id]
	if !ok {
		// Unknown ids behave like accounts that finished onboarding.
		acct = &stripe.Account{
			ID:               id,
			Object:           "account",
			Type:             stripe.AccountTypeExpress,
			Country:          "US",
			ChargesEnabled:   true,
			PayoutsEnabled:   true,
			DetailsSubmitted: true,
			Created:          c.now().Unix(),
		}
		c.accounts[id] = acct
	}
	cp := *acct
	return &cp, nil
}

func (c *SyntheticClient) UpdateAccount(_ context.Context, id string, params *stripe.AccountParams) (*stripe.Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(OpUpdateAccount); err != nil {
		return nil, translateAccountError("update account", id, err)
	}
	if c.deleted[id] {
		return nil, translateAccountError("update account", id, missingAccountError(id))
	}
	acct, ok := c.accounts[id]
	if !ok {
		return nil, translateAccountError("update account", id, missingAccountError(id))
	}
	if params != nil {
		if params.Email != nil {
			acct.Email = *params.Email
		}
		if len(params.Metadata) > 0 {
			if acct.Metadata == nil {
				acct.Metadata = map[string]string{}
			}
			for k, v := range params.Metadata {
				acct.Metadata[k] = v
			}
		}
		if params.Settings != nil && params.Settings.Payouts != nil && params.Settings.Payouts.Schedule != nil {
			schedule := params.Settings.Payouts.Schedule
			if acct.Settings == nil {
				acct.Settings = &stripe.AccountSettings{}
			}
			if acct.Settings.Payouts == nil {
				acct.Settings.Payouts = &stripe.AccountSettingsPayouts{}
			}
			if acct.Settings.Payouts.Schedule == nil {
				acct.Settings.Payouts.Schedule = &stripe.AccountSettingsPayoutsSchedule{}
			}
			if schedule.Interval != nil {
				acct.Settings.Payouts.Schedule.Interval = stripe.AccountSettingsPayoutsScheduleInterval(*schedule.Interval)
			}
			if schedule.DelayDays != nil {
				acct.Settings.Payouts.Schedule.DelayDays = *schedule.DelayDays
			}
		}
	}
	cp := *acct
	return &cp, nil
}

func (c *SyntheticClient) CreateAccountLink(_ context.Context, params *stripe.AccountLinkParams) (*stripe.AccountLink, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params == nil {
		params = &stripe.AccountLinkParams{}
	}
	accountID := stripe.StringValue(params.Account)
	if err := c.popFailure(OpCreateAccountLink); err != nil {
		return nil, translateAccountError("create account link", accountID, err)
	}
	if c.deleted[accountID] {
		return nil, translateAccountError("create account link", accountID, missingAccountError(accountID))
	}

	now := c.now()
	q := url.Values{}
	q.Set("return_url", stripe.StringValue(params.ReturnURL))
	q.Set("refresh_url", stripe.StringValue(params.RefreshURL))
	return &stripe.AccountLink{
		Object:    "account_link",
		Created:   now.Unix(),
		ExpiresAt: now.Add(5 * time.Minute).Unix(),
		URL:       fmt.Sprintf("%s/setup/%s/%s?%s", syntheticLinkHost, valueOr(params.Type, "account_onboarding"), accountID, q.Encode()),
	}, nil
}

func (c *SyntheticClient) CreatePaymentIntent(_ context.Context, params *stripe.PaymentIntentParams, opts Options) (*stripe.PaymentIntent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if params == nil {
		params = &stripe.PaymentIntentParams{}
	}
	destination := ""
	if params.TransferData != nil {
		destination = stripe.StringValue(params.TransferData.Destination)
	}
	if err := c.popFailure(OpCreatePaymentIntent); err != nil {
		return nil, translateError("create payment intent", destination, err)
	}
	if c.deleted[destination] || c.deleted[opts.StripeAccount] {
		missing := firstNonEmpty(destination, opts.StripeAccount)
		return nil, translateError("create payment intent", missing, missingAccountError(missing))
	}

	id := c.nextID("pi")
	pi := &stripe.PaymentIntent{
		ID:                   id,
		Object:               "payment_intent",
		Amount:               valueOrInt(params.Amount),
		Currency:             stripe.Currency(strings.ToLower(valueOr(params.Currency, "usd"))),
		ApplicationFeeAmount: valueOrInt(params.ApplicationFeeAmount),
		ClientSecret:         id + "_secret_mock",
		Status:               stripe.PaymentIntentStatusRequiresPaymentMethod,
		Created:              c.now().Unix(),
		Metadata:             copyMetadata(params.Metadata),
	}
	if destination != "" {
		pi.TransferData = &stripe.PaymentIntentTransferData{Destination: &stripe.Account{ID: destination}}
	}
	return pi, nil
}

func (c *SyntheticClient) CreatePayout(_ context.Context, params *stripe.PayoutParams, opts Options) (*stripe.Payout, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(OpCreatePayout); err != nil {
		return nil, translateError("create payout", opts.StripeAccount, err)
	}
	if c.deleted[opts.StripeAccount] {
		return nil, translateError("create payout", opts.StripeAccount, missingAccountError(opts.StripeAccount))
	}
	if params == nil {
		params = &stripe.PayoutParams{}
	}

	now := c.now()
	return &stripe.Payout{
		ID:          c.nextID("po"),
		Object:      "payout",
		Amount:      valueOrInt(params.Amount),
		Currency:    stripe.Currency(strings.ToLower(valueOr(params.Currency, "usd"))),
		Description: stripe.StringValue(params.Description),
		Status:      stripe.PayoutStatusPending,
		Created:     now.Unix(),
		ArrivalDate: now.Add(48 * time.Hour).Unix(),
		Metadata:    copyMetadata(params.Metadata),
	}, nil
}

func (c *SyntheticClient) RetrieveBalance(_ context.Context, opts Options) (*stripe.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(OpRetrieveBalance); err != nil {
		return nil, translateError("retrieve balance", opts.StripeAccount, err)
	}
	return &stripe.Balance{Object: "balance"}, nil
}

// VerifyWebhook performs the real HMAC check; signatures are local crypto.
func (c *SyntheticClient) VerifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	return verifyWebhook(payload, signatureHeader, secret)
}

func (c *SyntheticClient) popFailure(op Operation) error {
	queue := c.failures[op]
	if len(queue) == 0 {
		return nil
	}
	err := queue[0]
	c.failures[op] = queue[1:]
	return err
}

func (c *SyntheticClient) nextID(prefix string) string {
	c.seq[prefix]++
	return fmt.Sprintf("%s_mock_%06d", prefix, c.seq[prefix])
}

func missingAccountError(id string) error {
	return &stripe.Error{
		Code:           stripe.ErrorCodeResourceMissing,
		Type:           stripe.ErrorTypeInvalidRequest,
		HTTPStatusCode: http.StatusNotFound,
		Msg:            fmt.Sprintf("No such account: '%s'", id),
	}
}

func valueOr(v *string, fallback string) string {
	if v == nil || strings.TrimSpace(*v) == "" {
		return fallback
	}
	return *v
}

func valueOrInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func copyMetadata(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

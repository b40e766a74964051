package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/stripe/stripe-go/v84"
)

// Kind is the closed set of provider event types this service acts on.
type Kind string

const (
	KindPaymentIntentSucceeded     Kind = "payment_intent.succeeded"
	KindPaymentIntentPaymentFailed Kind = "payment_intent.payment_failed"
	KindChargeRefunded             Kind = "charge.refunded"
	KindPayoutCreated              Kind = "payout.created"
	KindPayoutPaid                 Kind = "payout.paid"
	KindPayoutFailed               Kind = "payout.failed"
	KindAccountUpdated             Kind = "account.updated"
	KindUnknown                    Kind = "unknown"
)

var knownKinds = []Kind{
	KindPaymentIntentSucceeded,
	KindPaymentIntentPaymentFailed,
	KindChargeRefunded,
	KindPayoutCreated,
	KindPayoutPaid,
	KindPayoutFailed,
	KindAccountUpdated,
}

func (k Kind) String() string {
	return string(k)
}

// ParseKind maps a provider event type onto Kind. Anything unrecognized is
// KindUnknown.
func ParseKind(raw string) Kind {
	for _, k := range knownKinds {
		if string(k) == raw {
			return k
		}
	}
	return KindUnknown
}

// Event is a verified provider event reduced to what the handlers need.
type Event struct {
	ID        string
	Kind      Kind
	RawType   string
	AccountID string
	Created   time.Time
	Livemode  bool
	Data      json.RawMessage
}

// FromStripe converts a verified stripe-go event.
func FromStripe(evt stripe.Event) Event {
	e := Event{
		ID:        evt.ID,
		Kind:      ParseKind(string(evt.Type)),
		RawType:   string(evt.Type),
		AccountID: evt.Account,
		Livemode:  evt.Livemode,
	}
	if evt.Created > 0 {
		e.Created = time.Unix(evt.Created, 0).UTC()
	}
	if evt.Data != nil {
		e.Data = evt.Data.Raw
	}
	return e
}

// PaymentIntent decodes the event object as a payment intent.
func (e Event) PaymentIntent() (*stripe.PaymentIntent, error) {
	var pi stripe.PaymentIntent
	if err := e.decode(&pi); err != nil {
		return nil, err
	}
	return &pi, nil
}

func (e Event) Charge() (*stripe.Charge, error) {
	var ch stripe.Charge
	if err := e.decode(&ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

func (e Event) Payout() (*stripe.Payout, error) {
	var po stripe.Payout
	if err := e.decode(&po); err != nil {
		return nil, err
	}
	return &po, nil
}

func (e Event) Account() (*stripe.Account, error) {
	var acct stripe.Account
	if err := e.decode(&acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (e Event) decode(dst any) error {
	if len(e.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodePayloadMalformed, fmt.Sprintf("%s event has no data object", e.RawType))
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodePayloadMalformed, err, fmt.Sprintf("decode %s payload", e.RawType))
	}
	return nil
}

package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/shopspring/decimal"
)

// Type identifies the kind of notification being sent.
type Type string

const (
	TypePayoutInTransit Type = "payout_in_transit"
	TypePayoutDeposited Type = "payout_deposited"
	TypePayoutFailed    Type = "payout_failed"
	TypeAPIKeyFailure   Type = "api_key_failure"
	TypeAccountDeleted  Type = "account_deleted"
)

// Audience is who a notification is addressed to.
type Audience string

const (
	AudienceVendor   Audience = "vendor"
	AudienceOperator Audience = "operator"
)

// Message is a single outbound notification.
type Message struct {
	Type      Type              `json:"type"`
	Audience  Audience          `json:"audience"`
	VendorID  int64             `json:"vendor_id,omitempty"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Notifier delivers messages to vendors or operators.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// LogNotifier writes notifications to the structured log. It is the default driver.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	if logg == nil {
		logg = logger.Nop()
	}
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Notify(ctx context.Context, msg Message) error {
	fields := map[string]any{
		"notification_type": string(msg.Type),
		"audience":          string(msg.Audience),
		"subject":           msg.Subject,
	}
	if msg.VendorID != 0 {
		fields["vendor_id"] = msg.VendorID
	}
	for k, v := range msg.Data {
		fields["data."+k] = v
	}
	n.logg.Info(n.logg.WithFields(ctx, fields), msg.Body)
	return nil
}

// Multi fans a message out to every notifier and joins the failures.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

// PayoutInTransit tells a vendor a payout has been created and is on its way.
func PayoutInTransit(vendorID int64, payoutID string, amount decimal.Decimal, currency string, arrival *time.Time, now time.Time) Message {
	body := fmt.Sprintf("A payout of %s %s is on its way to your bank account.", amount.StringFixed(2), currency)
	data := map[string]string{"payout_id": payoutID, "amount": amount.String(), "currency": currency}
	if arrival != nil {
		body = fmt.Sprintf("A payout of %s %s is on its way and should arrive by %s.", amount.StringFixed(2), currency, arrival.UTC().Format("2006-01-02"))
		data["arrival_date"] = arrival.UTC().Format(time.RFC3339)
	}
	return Message{
		Type:      TypePayoutInTransit,
		Audience:  AudienceVendor,
		VendorID:  vendorID,
		Subject:   "Payout in transit",
		Body:      body,
		Data:      data,
		CreatedAt: now,
	}
}

// PayoutDeposited tells a vendor a payout landed.
func PayoutDeposited(vendorID int64, payoutID string, amount decimal.Decimal, currency string, now time.Time) Message {
	return Message{
		Type:      TypePayoutDeposited,
		Audience:  AudienceVendor,
		VendorID:  vendorID,
		Subject:   "Payout deposited",
		Body:      fmt.Sprintf("Your payout of %s %s has been deposited.", amount.StringFixed(2), currency),
		Data:      map[string]string{"payout_id": payoutID, "amount": amount.String(), "currency": currency},
		CreatedAt: now,
	}
}

// PayoutFailed tells a vendor a payout failed. The same message is also sent to operators by callers.
func PayoutFailed(vendorID int64, payoutID string, amount decimal.Decimal, currency, reason string, now time.Time) Message {
	body := fmt.Sprintf("Your payout of %s %s failed.", amount.StringFixed(2), currency)
	if reason != "" {
		body = fmt.Sprintf("Your payout of %s %s failed: %s", amount.StringFixed(2), currency, reason)
	}
	return Message{
		Type:      TypePayoutFailed,
		Audience:  AudienceVendor,
		VendorID:  vendorID,
		Subject:   "Payout failed",
		Body:      body,
		Data:      map[string]string{"payout_id": payoutID, "amount": amount.String(), "currency": currency, "reason": reason},
		CreatedAt: now,
	}
}

// APIKeyFailure alerts operators that provider credential checks keep failing.
func APIKeyFailure(failures int, errMsg string, now time.Time) Message {
	return Message{
		Type:     TypeAPIKeyFailure,
		Audience: AudienceOperator,
		Subject:  "Stripe API key issue",
		Body: fmt.Sprintf(
			"Stripe API key verification has failed %d times. Error: %s. Check the Stripe Connect configuration.",
			failures, errMsg,
		),
		Data:      map[string]string{"failures": fmt.Sprint(failures), "error": errMsg},
		CreatedAt: now,
	}
}

// AccountDeleted alerts operators that a vendor's connected account no longer exists.
func AccountDeleted(vendorID int64, accountID string, now time.Time) Message {
	return Message{
		Type:      TypeAccountDeleted,
		Audience:  AudienceOperator,
		VendorID:  vendorID,
		Subject:   "Connected account deleted",
		Body:      fmt.Sprintf("Connected account %s for vendor %d was deleted and needs to be relinked.", accountID, vendorID),
		Data:      map[string]string{"account_id": accountID, "vendor_id": fmt.Sprint(vendorID)},
		CreatedAt: now,
	}
}

package payouts

import (
	"context"
	"encoding/json"
	"fmt"
)

// ManualPayoutPayload is the retry queue payload for payout.
type ManualPayoutPayload struct {
	VendorID       int64  `json:"vendor_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	Description    string `json:"description,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RetryHandler replays a queued manual payout.
func RetryHandler(svc Service) func(ctx context.Context, payload json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p ManualPayoutPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payout payload: %w", err)
		}
		if p.VendorID <= 0 || p.Amount == "" || p.Currency == "" {
			return fmt.Errorf("incomplete payout payload")
		}
		return svc.RetryPayout(ctx, p)
	}
}

package vendors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var errBadPayload = errors.New("invalid account verification payload")

// VerificationPayload is the retry queue payload for account_verification.
type VerificationPayload struct {
	VendorID  int64  `json:"vendor_id"`
	AccountID string `json:"account_id,omitempty"`
}

// RetryHandler replays a queued account verification.
func RetryHandler(svc Service) func(ctx context.Context, payload json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p VerificationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("%w: %v", errBadPayload, err)
		}
		if p.VendorID <= 0 {
			return errBadPayload
		}
		return svc.VerifyAccount(ctx, p.VendorID)
	}
}

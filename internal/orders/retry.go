package orders

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// PaymentPayload is the retry queue payload for payment.
type PaymentPayload struct {
	OrderID         uuid.UUID `json:"order_id"`
	PaymentMethodID string    `json:"payment_method_id,omitempty"`
}

// RetryHandler replays a queued payment creation.
func RetryHandler(svc Service) func(ctx context.Context, payload json.RawMessage) error {
	return func(ctx context.Context, payload json.RawMessage) error {
		var p PaymentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("decode payment payload: %w", err)
		}
		if p.OrderID == uuid.Nil {
			return fmt.Errorf("payment payload missing order id")
		}
		return svc.RetryPayment(ctx, p)
	}
}

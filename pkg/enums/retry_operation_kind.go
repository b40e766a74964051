package enums

import "fmt"

// RetryOperationKind tags retry queue items with the handler that replays them.
type RetryOperationKind string

const (
	RetryKindPayment             RetryOperationKind = "payment"
	RetryKindPayout              RetryOperationKind = "payout"
	RetryKindAccountVerification RetryOperationKind = "account_verification"
	RetryKindWebhookEvent        RetryOperationKind = "webhook_event"
)

var validRetryOperationKinds = []RetryOperationKind{
	RetryKindPayment,
	RetryKindPayout,
	RetryKindAccountVerification,
	RetryKindWebhookEvent,
}

func (k RetryOperationKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a built-in kind. Registries may accept others.
func (k RetryOperationKind) IsValid() bool {
	for _, candidate := range validRetryOperationKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseRetryOperationKind converts raw input into a RetryOperationKind.
func ParseRetryOperationKind(value string) (RetryOperationKind, error) {
	for _, candidate := range validRetryOperationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid retry operation kind %q", value)
}

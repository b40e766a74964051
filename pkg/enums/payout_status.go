package enums

import "strings"

// PayoutStatus mirrors the provider's payout status. Unknown upstream values
// are kept verbatim and treated as pending.
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusInTransit PayoutStatus = "in_transit"
	PayoutStatusPaid      PayoutStatus = "paid"
	PayoutStatusFailed    PayoutStatus = "failed"
	PayoutStatusCanceled  PayoutStatus = "canceled"
)

func (s PayoutStatus) String() string {
	return string(s)
}

// IsFinal reports whether s can no longer change.
func (s PayoutStatus) IsFinal() bool {
	switch s {
	case PayoutStatusPaid, PayoutStatusFailed, PayoutStatusCanceled:
		return true
	}
	return false
}

// Bucket collapses s into paid, failed or pending for aggregation.
func (s PayoutStatus) Bucket() PayoutStatus {
	switch s {
	case PayoutStatusPaid, PayoutStatusFailed:
		return s
	}
	return PayoutStatusPending
}

// CanAdvanceTo reports whether a stored status may be overwritten by next.
// Final statuses never move; anything may move to a final status.
func (s PayoutStatus) CanAdvanceTo(next PayoutStatus) bool {
	if s == "" {
		return true
	}
	if s.IsFinal() {
		return false
	}
	if next.IsFinal() {
		return true
	}
	return s != PayoutStatusInTransit || next == PayoutStatusInTransit
}

// NormalizePayoutStatus lowercases raw provider input.
func NormalizePayoutStatus(value string) PayoutStatus {
	return PayoutStatus(strings.ToLower(strings.TrimSpace(value)))
}

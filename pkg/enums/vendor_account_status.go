package enums

import "fmt"

// VendorAccountStatus tracks a vendor's connected-account lifecycle.
type VendorAccountStatus string

const (
	VendorAccountUnlinked VendorAccountStatus = "unlinked"
	VendorAccountPending  VendorAccountStatus = "pending"
	VendorAccountActive   VendorAccountStatus = "active"
	VendorAccountDeleted  VendorAccountStatus = "deleted"
)

var validVendorAccountStatuses = []VendorAccountStatus{
	VendorAccountUnlinked,
	VendorAccountPending,
	VendorAccountActive,
	VendorAccountDeleted,
}

func (s VendorAccountStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known VendorAccountStatus.
func (s VendorAccountStatus) IsValid() bool {
	for _, candidate := range validVendorAccountStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether only relinking can move the account out of s.
func (s VendorAccountStatus) IsTerminal() bool {
	return s == VendorAccountDeleted
}

// ParseVendorAccountStatus converts raw input into a VendorAccountStatus.
func ParseVendorAccountStatus(value string) (VendorAccountStatus, error) {
	for _, candidate := range validVendorAccountStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid vendor account status %q", value)
}

package vendors

import (
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/stripe/stripe-go/v84"
)

// Capabilities is the slice of remote account state that drives local status.
type Capabilities struct {
	ChargesEnabled   bool `json:"charges_enabled"`
	PayoutsEnabled   bool `json:"payouts_enabled"`
	DetailsSubmitted bool `json:"details_submitted"`
}

func CapabilitiesFromAccount(acct *stripe.Account) Capabilities {
	if acct == nil {
		return Capabilities{}
	}
	return Capabilities{
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}
}

// DeriveStatus applies the reconciliation rule. A deleted account stays
// deleted; only relinking with a new account id resets it.
func DeriveStatus(current enums.VendorAccountStatus, caps Capabilities) enums.VendorAccountStatus {
	if current == enums.VendorAccountDeleted {
		return current
	}
	switch {
	case caps.ChargesEnabled && caps.PayoutsEnabled && caps.DetailsSubmitted:
		return enums.VendorAccountActive
	case !caps.DetailsSubmitted:
		return enums.VendorAccountPending
	default:
		return current
	}
}

package auth

import (
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Subject  string
	Role     enums.ActorRole
	VendorID *int64
	JTI      string
}

// AccessTokenClaims represents the typed JWT accepted by the API.
// Vendor tokens carry the vendor they act for; admin tokens do not.
type AccessTokenClaims struct {
	Role     enums.ActorRole `json:"role"`
	VendorID *int64          `json:"vendor_id,omitempty"`
	jwt.RegisteredClaims
}

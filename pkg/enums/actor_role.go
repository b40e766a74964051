package enums

import (
	"fmt"
	"strings"
)

// ActorRole is the role claim carried by API access tokens.
type ActorRole string

const (
	ActorRoleAdmin  ActorRole = "admin"
	ActorRoleVendor ActorRole = "vendor"
)

func (r ActorRole) String() string {
	return string(r)
}

func (r ActorRole) IsValid() bool {
	return r == ActorRoleAdmin || r == ActorRoleVendor
}

func ParseActorRole(value string) (ActorRole, error) {
	r := ActorRole(strings.ToLower(strings.TrimSpace(value)))
	if !r.IsValid() {
		return "", fmt.Errorf("invalid actor role %q", value)
	}
	return r, nil
}

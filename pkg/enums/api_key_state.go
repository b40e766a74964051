package enums

// APIKeyState is the last verification outcome for the provider API key.
type APIKeyState string

const (
	APIKeyUnknown APIKeyState = "unknown"
	APIKeyValid   APIKeyState = "valid"
	APIKeyInvalid APIKeyState = "invalid"
)

func (s APIKeyState) String() string {
	return string(s)
}

package validators

import "strings"

// SanitizeString trims surrounding whitespace and caps the result at maxLen
// bytes. A maxLen of zero or less disables the cap.
func SanitizeString(input string, maxLen int) string {
	trimmed := strings.TrimSpace(input)
	if maxLen > 0 && len(trimmed) > maxLen {
		return trimmed[:maxLen]
	}
	return trimmed
}

// CurrencyCode returns the lowercase three letter form providers expect.
func CurrencyCode(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

// CountryCode returns the uppercase ISO 3166-1 alpha-2 form.
func CountryCode(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

package stripe

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currencies Stripe expresses without a minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"bif": {}, "clp": {}, "djf": {}, "gnf": {}, "jpy": {}, "kmf": {}, "krw": {}, "mga": {},
	"pyg": {}, "rwf": {}, "ugx": {}, "vnd": {}, "vuv": {}, "xaf": {}, "xof": {}, "xpf": {},
}

// IsZeroDecimal reports whether currency has no minor unit.
func IsZeroDecimal(currency string) bool {
	_, ok := zeroDecimalCurrencies[strings.ToLower(strings.TrimSpace(currency))]
	return ok
}

func currencyExponent(currency string) int32 {
	if IsZeroDecimal(currency) {
		return 0
	}
	return 2
}

// ToMinorUnits converts a major-unit amount into Stripe's integer representation.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(currencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts Stripe's integer amount into major units.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-currencyExponent(currency))
}

// ApplicationFee returns round(amount * percent / 100) in minor units.
func ApplicationFee(amountMinor int64, percent decimal.Decimal) int64 {
	if amountMinor <= 0 || !percent.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amountMinor).Mul(percent).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}

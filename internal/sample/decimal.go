package sample

import "github.com/shopspring/decimal"

// Decimal is SensApp's Numeric sample variant: an exact decimal value with
// at least 38 significant digits of precision, backed by
// shopspring/decimal.
type Decimal = decimal.Decimal

// ParseDecimal parses s into a Decimal, returning shopspring/decimal's own
// parse error (not a sensapperr kind) on malformed input.
func ParseDecimal(s string) (Decimal, error) {
	return decimal.NewFromString(s)
}

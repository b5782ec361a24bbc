package money

import "github.com/shopspring/decimal"

// Format renders an amount held in minor units as a decimal string with
// exponent fraction digits, e.g. Format(1250, 2) == "12.50".
func Format(minor int64, exponent int32) string {
	if exponent <= 0 {
		return decimal.NewFromInt(minor).String()
	}
	return decimal.New(minor, -exponent).StringFixed(exponent)
}

// Amount pairs a minor-unit value with its display form for API responses.
type Amount struct {
	Minor    int64  `json:"minor"`
	Display  string `json:"display"`
	Currency string `json:"currency"`
}

// NewAmount builds an Amount for the configured currency.
func NewAmount(minor int64, currency string, exponent int32) Amount {
	return Amount{Minor: minor, Display: Format(minor, exponent), Currency: currency}
}

package models

import (
	"regexp"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
)

const (
	// BTCScale is the number of fractional digits kept for BTC amounts
	BTCScale int32 = 8
	// USDScale is the number of fractional digits kept for USD amounts
	USDScale int32 = 2
)

var (
	// Epsilon is the remainder at or below which an order counts as fully filled
	Epsilon = decimal.New(1, -BTCScale)

	maxAmount = decimal.New(1, 12) // numeric(20,8)
	maxPrice  = decimal.New(1, 16) // numeric(18,2)

	decimalPattern = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// IsDust reports whether a remaining amount is small enough to be treated as zero
func IsDust(d decimal.Decimal) bool {
	return d.LessThanOrEqual(Epsilon)
}

// QuoteValue is the USD value of amount BTC at price, rounded to cents
func QuoteValue(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).Round(USDScale)
}

// ParseAmount parses a positive BTC amount with at most 8 fractional digits
func ParseAmount(s string) (decimal.Decimal, error) {
	return parsePositive("amount", s, BTCScale, maxAmount)
}

// ParsePrice parses a positive USD price with at most 2 fractional digits
func ParsePrice(s string) (decimal.Decimal, error) {
	return parsePositive("price", s, USDScale, maxPrice)
}

// ValidateOrder checks amount and price that did not come through the parsers
func ValidateOrder(amount, price decimal.Decimal) error {
	if err := checkPositive("amount", amount, BTCScale, maxAmount); err != nil {
		return err
	}
	return checkPositive("price", price, USDScale, maxPrice)
}

func parsePositive(field, s string, scale int32, max decimal.Decimal) (decimal.Decimal, error) {
	if !decimalPattern.MatchString(s) {
		return decimal.Zero, apperror.New(apperror.ValidationError, field+" must be a decimal number")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, apperror.Wrap(apperror.ValidationError, field+" must be a decimal number", err)
	}
	if err := checkPositive(field, d, scale, max); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

func checkPositive(field string, d decimal.Decimal, scale int32, max decimal.Decimal) error {
	if !d.IsPositive() {
		return apperror.New(apperror.ValidationError, field+" must be positive")
	}
	if !d.Equal(d.Truncate(scale)) {
		return apperror.New(apperror.ValidationError, field+" has too many decimal places")
	}
	if d.GreaterThanOrEqual(max) {
		return apperror.New(apperror.ValidationError, field+" is too large")
	}
	return nil
}

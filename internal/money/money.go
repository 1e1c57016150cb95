package money

import (
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places carried by every amount.
const Scale = 2

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrTooManyDecimals = errors.New("amount has too many decimal places")
	ErrOutOfRange      = errors.New("amount out of range")
)

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ParseMinor converts a decimal string such as "100.50" into minor units.
func ParseMinor(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" || strings.ContainsAny(trimmed, "eE") {
		return 0, ErrInvalidAmount
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	return FromDecimal(value)
}

func FromDecimal(value decimal.Decimal) (int64, error) {
	if !value.Equal(value.Truncate(Scale)) {
		return 0, ErrTooManyDecimals
	}
	minor := value.Shift(Scale)
	if minor.Abs().GreaterThan(maxMinor) {
		return 0, ErrOutOfRange
	}
	return minor.IntPart(), nil
}

func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -Scale)
}

func FormatMinor(value int64) string {
	return ToDecimal(value).StringFixed(Scale)
}

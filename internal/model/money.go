package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount возвращается, если сумма не положительна, точнее копейки или не помещается в int64.
var ErrInvalidAmount = errors.New("invalid amount")

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// ToMinor переводит сумму в основных единицах в копейки.
func ToMinor(amount decimal.Decimal) (int64, error) {
	shifted := amount.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount)
	}
	if !shifted.IsPositive() {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidAmount, amount)
	}
	if shifted.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s is too large", ErrInvalidAmount, amount)
	}
	return shifted.IntPart(), nil
}

// FromMinor переводит сумму в копейках в основные единицы.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

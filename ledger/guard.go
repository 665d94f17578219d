package ledger

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CheckRedemption rejects a redemption that would take the balance below
// zero. balance already includes the opening balance.
func CheckRedemption(balance, cost int64) error {
	if balance < cost {
		return &InsufficientBalanceError{
			Available: balance,
			Requested: cost,
			Shortfall: cost - balance,
		}
	}
	return nil
}

// ParsePoints parses a point value from user input. Integral decimals such
// as "10" or "10.0" are accepted; fractions and non-numbers are rejected.
func ParsePoints(field, s string) (int64, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return 0, &MalformedInputError{Field: field, Value: s, Reason: "required"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0, &MalformedInputError{Field: field, Value: s, Reason: "not a number"}
	}
	if !d.IsInteger() {
		return 0, &MalformedInputError{Field: field, Value: s, Reason: "not a whole number"}
	}
	if d.GreaterThan(decimal.NewFromInt(maxPoints)) || d.LessThan(decimal.NewFromInt(-maxPoints)) {
		return 0, &MalformedInputError{Field: field, Value: s, Reason: "out of range"}
	}
	return d.IntPart(), nil
}

// ParseCost parses a redemption cost, which must be positive.
func ParseCost(field, s string) (int64, error) {
	cost, err := ParsePoints(field, s)
	if err != nil {
		return 0, err
	}
	if cost <= 0 {
		return 0, &MalformedInputError{Field: field, Value: s, Reason: "must be positive"}
	}
	return cost, nil
}

// maxPoints bounds a single record so folds cannot overflow int64.
const maxPoints = 1 << 40

package models

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// AmountDecimals is the fixed precision of Amount.
const AmountDecimals = 6

const amountUnit = 1_000_000

// Amount is a token quantity in micro-units (six decimals). It encodes to
// JSON as a plain decimal number.
type Amount int64

// Whole returns n whole tokens.
func Whole(n int64) Amount { return Amount(n * amountUnit) }

// ParseAmount parses a decimal string such as "5", "2.50" or "0.000001".
// Exponents and more than six fractional digits are rejected.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}
	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" && (!hasDot || fracPart == "") {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if len(fracPart) > AmountDecimals {
		return 0, fmt.Errorf("amount %q has more than %d decimals", s, AmountDecimals)
	}
	for _, part := range []string{intPart, fracPart} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
		}
	}
	var whole int64
	if intPart != "" {
		w, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil || w > (1<<62)/amountUnit {
			return 0, fmt.Errorf("amount %q out of range", s)
		}
		whole = w
	}
	var frac int64
	if fracPart != "" {
		padded := fracPart + strings.Repeat("0", AmountDecimals-len(fracPart))
		f, err := strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", s)
		}
		frac = f
	}
	v := Amount(whole*amountUnit + frac)
	if neg {
		v = -v
	}
	return v, nil
}

// String formats the amount with at least two decimals: 5 → "5.00".
func (a Amount) String() string {
	sign := ""
	v := int64(a)
	if v < 0 {
		sign = "-"
		v = -v
	}
	frac := fmt.Sprintf("%06d", v%amountUnit)
	frac = strings.TrimRight(frac, "0")
	for len(frac) < 2 {
		frac += "0"
	}
	return fmt.Sprintf("%s%d.%s", sign, v/amountUnit, frac)
}

// Float returns the amount as a float for display and scoring only.
func (a Amount) Float() float64 { return float64(a) / amountUnit }

// BaseUnits converts the amount to on-chain base units for a token with the
// given number of decimals. Precision beyond the token's decimals is
// truncated.
func (a Amount) BaseUnits(decimals int) *big.Int {
	v := big.NewInt(int64(a))
	switch {
	case decimals > AmountDecimals:
		v.Mul(v, pow10(decimals-AmountDecimals))
	case decimals < AmountDecimals:
		v.Quo(v, pow10(AmountDecimals-decimals))
	}
	return v
}

// AmountFromBaseUnits is the inverse of BaseUnits. Values beyond the int64
// range saturate.
func AmountFromBaseUnits(units *big.Int, decimals int) Amount {
	if units == nil {
		return 0
	}
	v := new(big.Int).Set(units)
	switch {
	case decimals > AmountDecimals:
		v.Quo(v, pow10(decimals-AmountDecimals))
	case decimals < AmountDecimals:
		v.Mul(v, pow10(AmountDecimals-decimals))
	}
	if !v.IsInt64() {
		if v.Sign() < 0 {
			return Amount(-1 << 63)
		}
		return Amount(1<<63 - 1)
	}
	return Amount(v.Int64())
}

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// MarshalJSON encodes the amount as a JSON number without trailing zeros.
func (a Amount) MarshalJSON() ([]byte, error) {
	s := a.String()
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	return []byte(s), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

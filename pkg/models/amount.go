package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// AmountScale is the number of minor units in one whole unit (6 decimals, USDC precision).
const AmountScale = 1_000_000

const amountDecimals = 6

// Amount is a non-floating monetary value in micro-units.
type Amount int64

// ErrInvalidAmount is returned when a decimal string cannot be parsed as an Amount.
var ErrInvalidAmount = errors.New("invalid amount")

// NewAmount converts a float to an Amount, rounding to the nearest micro-unit.
// Intended for literals and configuration, never for arithmetic.
func NewAmount(v float64) Amount {
	return Amount(math.Round(v * AmountScale))
}

// ParseAmount parses a decimal string such as "0.001" exactly.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
		return NewAmount(f), nil
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > amountDecimals {
		return 0, fmt.Errorf("%w: %q has more than %d decimal places", ErrInvalidAmount, s, amountDecimals)
	}
	frac += strings.Repeat("0", amountDecimals-len(frac))
	if whole == "" {
		whole = "0"
	}

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if w > math.MaxInt64/AmountScale-1 {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}

	v := Amount(w*AmountScale + f)
	if neg {
		v = -v
	}
	return v, nil
}

// MustParseAmount is ParseAmount for constants; it panics on error.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the amount as a minimal decimal ("0.001", "1", "-2.5").
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	whole := v / AmountScale
	frac := v % AmountScale
	if frac == 0 {
		return sign + strconv.FormatInt(whole, 10)
	}
	fs := fmt.Sprintf("%06d", frac)
	return sign + strconv.FormatInt(whole, 10) + "." + strings.TrimRight(fs, "0")
}

// Dollars renders the amount with a dollar sign and four decimals, as used in reason messages.
func (a Amount) Dollars() string {
	return fmt.Sprintf("$%.4f", a.Float64())
}

// Float64 returns an approximate float value for display and ratios.
func (a Amount) Float64() float64 {
	return float64(a) / AmountScale
}

// MarshalJSON encodes the amount as a JSON number.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		s = str
	}
	v, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MarshalYAML encodes the amount as a decimal scalar.
func (a Amount) MarshalYAML() (any, error) {
	return a.Float64(), nil
}

// UnmarshalYAML decodes a decimal scalar.
func (a *Amount) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseAmount(node.Value)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

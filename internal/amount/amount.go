// Package amount normalizes caller-supplied numeric values into big integers.
// Values reaching this package represent money: normalization must be lossless
// for every accepted encoding (hex string, decimal string, JSON number, big.Int).
package amount

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
)

// MaxUint256 is the default unlimited-approval amount (2^256 - 1).
var MaxUint256 = func() *big.Int {
	v, _ := new(big.Int).SetString(strings.Repeat("f", 64), 16)
	return v
}()

// Parse converts a hex string ("0x64"), a decimal string ("100"), a number, a
// json.Number, or a *big.Int into a canonical *big.Int without precision loss.
// Nil and empty inputs normalize to zero.
func Parse(raw any) (*big.Int, error) {
	switch v := raw.(type) {
	case nil:
		return big.NewInt(0), nil
	case *big.Int:
		if v == nil {
			return big.NewInt(0), nil
		}
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case float64:
		// JSON numbers decode as float64; reject anything that is not an
		// exactly-representable integer instead of rounding money.
		if v != math.Trunc(v) || math.Abs(v) >= 1<<53 {
			return nil, agerr.New(agerr.CodeUsage, fmt.Sprintf("numeric value %v cannot be represented exactly; pass it as a string", v))
		}
		return big.NewInt(int64(v)), nil
	case json.Number:
		return parseString(v.String())
	case string:
		return parseString(v)
	default:
		return nil, agerr.New(agerr.CodeUsage, fmt.Sprintf("unsupported numeric value of type %T", raw))
	}
}

func parseString(raw string) (*big.Int, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return big.NewInt(0), nil
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		out, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, agerr.New(agerr.CodeUsage, fmt.Sprintf("invalid hex value %q", raw))
		}
		return out, nil
	}
	out, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, agerr.New(agerr.CodeUsage, fmt.Sprintf("invalid decimal value %q", raw))
	}
	return out, nil
}

// ParseOrDefault is Parse with a fallback for absent values. A nil default
// passes through as nil, letting callers keep "absent" distinct from zero.
func ParseOrDefault(raw any, def *big.Int) (*big.Int, error) {
	absent := raw == nil
	if s, ok := raw.(string); ok && strings.TrimSpace(s) == "" {
		absent = true
	}
	if absent {
		if def == nil {
			return nil, nil
		}
		return new(big.Int).Set(def), nil
	}
	return Parse(raw)
}

// FormatUnits renders a base-unit integer as a human-readable decimal string,
// trimming trailing zeros ("1250000" at 6 decimals -> "1.25").
func FormatUnits(raw *big.Int, decimals int) string {
	if raw == nil {
		return "0"
	}
	neg := raw.Sign() < 0
	s := new(big.Int).Abs(raw).String()
	if decimals <= 0 {
		if neg {
			return "-" + s
		}
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if neg && out != "0" {
		return "-" + out
	}
	return out
}

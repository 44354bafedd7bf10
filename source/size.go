package source

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/warp/su-allocator/generic"
)

var kib = decimal.NewFromInt(1024)

// sizeExponents gives each unit as a power of 1024 relative to GB.
var sizeExponents = map[string]int64{
	"B":  -3,
	"KB": -2,
	"MB": -1,
	"GB": 0,
	"TB": 1,
}

// ParseSize parses a quota-tool size such as "5.02 TB" or "512MB" into GB.
// An empty string is zero.
func ParseSize(s string) (generic.Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return generic.NewAmountFromDecimal(decimal.Zero, generic.UnitGB), nil
	}

	num, unit := s, "GB"
	if i := strings.IndexFunc(s, unicode.IsLetter); i >= 0 {
		num, unit = strings.TrimSpace(s[:i]), strings.ToUpper(strings.TrimSpace(s[i:]))
	}

	exp, ok := sizeExponents[unit]
	if !ok {
		return generic.Amount{}, fmt.Errorf("unknown file size unit %q", unit)
	}
	value, err := decimal.NewFromString(num)
	if err != nil {
		return generic.Amount{}, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if value.IsNegative() {
		return generic.Amount{}, fmt.Errorf("negative size %q", s)
	}
	if exp < 0 {
		value = value.Div(kib.Pow(decimal.NewFromInt(-exp)))
	} else {
		value = value.Mul(kib.Pow(decimal.NewFromInt(exp)))
	}
	return generic.NewAmountFromDecimal(value, generic.UnitGB), nil
}

package attribution

import (
	"strings"

	"github.com/shopspring/decimal"
)

// MalformedFunc is told about numeric fields that failed to parse.
type MalformedFunc func(entity, field string)

var hundred = decimal.NewFromInt(100)

// parseMoney reads a raw decimal. Absent values are zero. Unparsable values
// are zero and reported through onMalformed.
func parseMoney(raw *string, entity, field string, onMalformed MalformedFunc) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	s := strings.TrimSpace(*raw)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		if onMalformed != nil {
			onMalformed(entity, field)
		}
		return decimal.Zero
	}
	return d
}

// ratio divides num by den rounded to two places, or zero when den is zero.
func ratio(num decimal.Decimal, den int64) float64 {
	if den == 0 {
		return 0
	}
	return num.Div(decimal.NewFromInt(den)).Round(2).InexactFloat64()
}

// percent returns num/den*100 rounded to two places, or zero when den is zero.
func percent(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return decimal.NewFromInt(num).Mul(hundred).Div(decimal.NewFromInt(den)).Round(2).InexactFloat64()
}

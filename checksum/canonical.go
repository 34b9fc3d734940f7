package checksum

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DecimalScale is the fixed scale every decimal is rendered at before hashing.
// Cross-path aggregates are compared at this scale, so it must never change
// within a digest algorithm version.
const DecimalScale = 2

// StringNormalization declares how string fields are normalized before
// encoding. Normalization is opt-in and must be declared identically at
// archival and validation time, otherwise equal strings hash differently.
type StringNormalization struct {
	Uppercase bool
}

// Canonicalize converts a typed field value into its deterministic textual
// form: fixed-scale decimals with no locale separators, base-10 integers,
// RFC 3339 UTC timestamps, trimmed strings. Same type+value always yields the
// same string on any machine, in any locale or timezone.
func Canonicalize(value any, norm StringNormalization) (string, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v.StringFixed(DecimalScale), nil
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero.StringFixed(DecimalScale), nil
		}
		return v.StringFixed(DecimalScale), nil
	case decimal.NullDecimal:
		if !v.Valid {
			return decimal.Zero.StringFixed(DecimalScale), nil
		}
		return v.Decimal.StringFixed(DecimalScale), nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(v)
		if norm.Uppercase {
			s = strings.ToUpper(s)
		}
		return s, nil
	default:
		// No %v fallback: an unknown type silently encoded one way today and
		// another way after a refactor is exactly the drift this engine hunts.
		return "", fmt.Errorf("cannot canonicalize value of type %T", value)
	}
}

// ParseCanonicalDecimal reports whether a canonical value is numeric, and if
// so returns it. Validators use this to decide between tolerance-aware decimal
// comparison and exact string comparison.
func ParseCanonicalDecimal(canonical string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(canonical)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

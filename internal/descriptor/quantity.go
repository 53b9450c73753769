package descriptor

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// Quantity is a parsed resource amount, held in milli-units so that
// fractional CPUs ("250m", "0.5") and byte sizes ("128Mi") compare without
// floating point. Quantities of different resources are never compared.
type Quantity struct {
	Milli int64
	raw   string
}

var quantityPattern = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)(m|Ki|Mi|Gi|Ti)?$`)

var quantityScale = map[string]float64{
	"":   1000,
	"m":  1,
	"Ki": 1000 * (1 << 10),
	"Mi": 1000 * (1 << 20),
	"Gi": 1000 * (1 << 30),
	"Ti": 1000 * (1 << 40),
}

// ParseQuantity parses a resource quantity: a plain decimal number, a
// millis value with the `m` suffix, or a binary-suffixed size (Ki, Mi,
// Gi, Ti). Negative quantities are invalid.
func ParseQuantity(s string) (Quantity, error) {
	m := quantityPattern.FindStringSubmatch(s)
	if m == nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q", s)
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return Quantity{}, fmt.Errorf("invalid quantity %q: %v", s, err)
	}
	milli := math.Round(value * quantityScale[m[2]])
	if milli > math.MaxInt64 {
		return Quantity{}, fmt.Errorf("quantity %q overflows", s)
	}
	return Quantity{Milli: int64(milli), raw: s}, nil
}

// Cmp returns -1, 0, or 1 as q is less than, equal to, or greater than o.
func (q Quantity) Cmp(o Quantity) int {
	switch {
	case q.Milli < o.Milli:
		return -1
	case q.Milli > o.Milli:
		return 1
	default:
		return 0
	}
}

func (q Quantity) String() string {
	return q.raw
}

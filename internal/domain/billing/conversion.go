package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/usagebill/backend/internal/domain/shared"
)

// RoundingMode selects how a converted total is rounded to its scale
type RoundingMode string

const (
	RoundHalfEven RoundingMode = "half_even"
	RoundHalfUp   RoundingMode = "half_up"
	RoundUp       RoundingMode = "up"
	RoundDown     RoundingMode = "down"
	RoundCeiling  RoundingMode = "ceiling"
	RoundFloor    RoundingMode = "floor"
)

// IsValid returns true if the mode is known
func (m RoundingMode) IsValid() bool {
	switch m {
	case RoundHalfEven, RoundHalfUp, RoundUp, RoundDown, RoundCeiling, RoundFloor:
		return true
	}
	return false
}

// Apply rounds d to scale places
func (m RoundingMode) Apply(d decimal.Decimal, scale int32) decimal.Decimal {
	switch m {
	case RoundHalfUp:
		return d.Round(scale)
	case RoundUp:
		return d.RoundUp(scale)
	case RoundDown:
		return d.RoundDown(scale)
	case RoundCeiling:
		return d.RoundCeil(scale)
	case RoundFloor:
		return d.RoundFloor(scale)
	}
	return d.RoundBank(scale)
}

const (
	// DefaultLineItemScale is the scale of line item quantities without an explicit rule
	DefaultLineItemScale int32 = 6
	// DefaultRoundingMode is used when a rule does not name one
	DefaultRoundingMode = RoundHalfEven
)

// ConversionRule converts quantities from one unit to another by the exact
// ratio Numerator/Denominator. When Per is set the result is further
// multiplied by the window length expressed in that time unit, which turns a
// level (gigabyte) into an amount over time (gigabyte-hour).
type ConversionRule struct {
	From        string
	To          string
	Numerator   decimal.Decimal
	Denominator decimal.Decimal
	Per         string
	Scale       int32
	Rounding    RoundingMode
}

// Validate checks the rule
func (r ConversionRule) Validate() error {
	if r.From == "" || r.To == "" {
		return shared.NewDomainError("INVALID_CONVERSION", "conversion rules need both units")
	}
	if !r.Numerator.IsPositive() || !r.Denominator.IsPositive() {
		return shared.NewDomainError("INVALID_CONVERSION",
			fmt.Sprintf("%s->%s: factor must be a positive ratio", r.From, r.To))
	}
	if r.Per != "" {
		if _, ok := timeUnits[r.Per]; !ok {
			return shared.NewDomainError("INVALID_CONVERSION",
				fmt.Sprintf("%s->%s: unknown time unit %q", r.From, r.To, r.Per))
		}
	}
	if r.Scale < 0 {
		return shared.NewDomainError("INVALID_CONVERSION", fmt.Sprintf("%s->%s: negative scale", r.From, r.To))
	}
	if r.Rounding != "" && !r.Rounding.IsValid() {
		return shared.NewDomainError("INVALID_CONVERSION",
			fmt.Sprintf("%s->%s: unknown rounding mode %q", r.From, r.To, r.Rounding))
	}
	return nil
}

var timeUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
}

type conversionKey struct {
	from string
	to   string
}

type precision struct {
	scale    int32
	rounding RoundingMode
}

// ConversionTable is an immutable set of conversion rules with the rounding
// precision of each target unit
type ConversionTable struct {
	rules     map[conversionKey]ConversionRule
	precision map[string]precision
}

// NewConversionTable builds a table. Rules sharing a target unit must agree
// on its scale and rounding mode.
func NewConversionTable(rules []ConversionRule) (*ConversionTable, error) {
	t := &ConversionTable{
		rules:     make(map[conversionKey]ConversionRule, len(rules)),
		precision: make(map[string]precision),
	}
	for _, r := range rules {
		if err := t.add(r); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *ConversionTable) add(r ConversionRule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.Rounding == "" {
		r.Rounding = DefaultRoundingMode
	}
	k := conversionKey{from: r.From, to: r.To}
	if _, dup := t.rules[k]; dup {
		return shared.NewDomainError("INVALID_CONVERSION", fmt.Sprintf("%s->%s configured twice", r.From, r.To))
	}
	p := precision{scale: r.Scale, rounding: r.Rounding}
	if existing, ok := t.precision[r.To]; ok && existing != p {
		return shared.NewDomainError("INVALID_CONVERSION",
			fmt.Sprintf("unit %s has conflicting precision (%d %s vs %d %s)",
				r.To, existing.scale, existing.rounding, p.scale, p.rounding))
	}
	t.precision[r.To] = p
	t.rules[k] = r
	return nil
}

// Merge returns a new table with the rules of other added to t. Rules of
// other replace rules of t for the same unit pair.
func (t *ConversionTable) Merge(other *ConversionTable) *ConversionTable {
	merged := &ConversionTable{
		rules:     make(map[conversionKey]ConversionRule),
		precision: make(map[string]precision),
	}
	for _, src := range []*ConversionTable{other, t} {
		if src == nil {
			continue
		}
		for k, r := range src.rules {
			if _, exists := merged.rules[k]; exists {
				continue
			}
			if p, ok := merged.precision[r.To]; ok && (p.scale != r.Scale || p.rounding != r.Rounding) {
				// the overriding table owns the precision of its target units
				r.Scale, r.Rounding = p.scale, p.rounding
			}
			merged.precision[r.To] = precision{scale: r.Scale, rounding: r.Rounding}
			merged.rules[k] = r
		}
	}
	return merged
}

// Lookup returns the rule converting from one unit to another. Equal units
// always convert by identity.
func (t *ConversionTable) Lookup(from, to string) (ConversionRule, bool) {
	if from == to {
		scale, mode := t.Precision(to)
		return ConversionRule{
			From: from, To: to,
			Numerator: decimalOne, Denominator: decimalOne,
			Scale: scale, Rounding: mode,
		}, true
	}
	if t == nil {
		return ConversionRule{}, false
	}
	r, ok := t.rules[conversionKey{from: from, to: to}]
	return r, ok
}

// Precision returns the scale and rounding mode of a target unit
func (t *ConversionTable) Precision(unit string) (int32, RoundingMode) {
	if t != nil {
		if p, ok := t.precision[unit]; ok {
			return p.scale, p.rounding
		}
	}
	return DefaultLineItemScale, DefaultRoundingMode
}

// Apply converts an entry quantity exactly, without rounding to the target
// scale. window supplies the time multiplier of rate conversions.
func (r ConversionRule) Apply(quantity decimal.Decimal, window BillingWindow) decimal.Decimal {
	out := quantity.Mul(r.Numerator)
	if !r.Denominator.Equal(decimalOne) {
		out = out.DivRound(r.Denominator, internalPrecision)
	}
	if r.Per != "" {
		per := timeUnits[r.Per]
		elapsed := decimal.NewFromInt(window.Duration().Nanoseconds()).
			DivRound(decimal.NewFromInt(per.Nanoseconds()), internalPrecision)
		out = out.Mul(elapsed)
	}
	return out
}

// Round rounds a converted total to the precision of the rule's target unit
func (r ConversionRule) Round(total decimal.Decimal) decimal.Decimal {
	mode := r.Rounding
	if mode == "" {
		mode = DefaultRoundingMode
	}
	return mode.Apply(total, r.Scale)
}

var byteUnits = []string{"byte", "kilobyte", "megabyte", "gigabyte", "terabyte"}

var timeUnitOrder = []string{"second", "minute", "hour", "day"}

// DefaultConversionTable returns the built-in conversions between binary
// byte units (1024-based) and between time units
func DefaultConversionTable() *ConversionTable {
	var rules []ConversionRule
	for i, from := range byteUnits {
		for j, to := range byteUnits {
			if i == j {
				continue
			}
			rules = append(rules, scaledRule(from, to, decimal.NewFromInt(1024), i-j))
		}
	}
	for _, from := range timeUnitOrder {
		for _, to := range timeUnitOrder {
			if from == to {
				continue
			}
			rules = append(rules, ConversionRule{
				From:        from,
				To:          to,
				Numerator:   decimal.NewFromInt(int64(timeUnits[from])),
				Denominator: decimal.NewFromInt(int64(timeUnits[to])),
				Scale:       DefaultLineItemScale,
			})
		}
	}
	t, err := NewConversionTable(rules)
	if err != nil {
		panic("usagebill: invalid built-in conversion table: " + err.Error())
	}
	return t
}

// scaledRule builds a rule whose factor is base^exp
func scaledRule(from, to string, base decimal.Decimal, exp int) ConversionRule {
	r := ConversionRule{From: from, To: to, Numerator: decimalOne, Denominator: decimalOne, Scale: DefaultLineItemScale}
	for ; exp > 0; exp-- {
		r.Numerator = r.Numerator.Mul(base)
	}
	for ; exp < 0; exp++ {
		r.Denominator = r.Denominator.Mul(base)
	}
	return r
}

// ParseRoundingMode parses a rounding mode name; empty means the default
func ParseRoundingMode(s string) (RoundingMode, error) {
	m := RoundingMode(strings.ToLower(strings.TrimSpace(s)))
	if m == "" {
		return DefaultRoundingMode, nil
	}
	if !m.IsValid() {
		return "", shared.NewDomainError("INVALID_CONVERSION", fmt.Sprintf("unknown rounding mode %q", s))
	}
	return m, nil
}

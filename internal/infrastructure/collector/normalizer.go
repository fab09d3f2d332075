package collector

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"github.com/usagebill/backend/internal/domain/billing"
)

// Metering backends
const (
	BackendCeilometer = "ceilometer"
	BackendGnocchi    = "gnocchi"
)

// Normalizer maps one backend's raw sample record onto a UsageEvent. A record
// that cannot be decoded still yields an event, flagged with
// billing.MalformedKey, so the transformer accounts for it.
type Normalizer interface {
	Backend() string
	Normalize(raw gjson.Result) billing.UsageEvent
}

// NormalizerFor returns the normalizer of a metering backend
func NormalizerFor(backend string) (Normalizer, error) {
	switch backend {
	case BackendCeilometer:
		return ceilometerNormalizer{}, nil
	case BackendGnocchi:
		return gnocchiNormalizer{}, nil
	}
	return nil, fmt.Errorf("unknown metering backend %q", backend)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseTimestamp reads an ISO-8601 timestamp; values without a zone are UTC
func parseTimestamp(v gjson.Result) (time.Time, error) {
	if !v.Exists() || v.Str == "" {
		return time.Time{}, fmt.Errorf("missing timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, v.Str); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v.Str)
}

// parseValue reads a JSON number or numeric string without going through float64
func parseValue(v gjson.Result) (decimal.Decimal, error) {
	if !v.Exists() {
		return decimal.Zero, fmt.Errorf("missing value")
	}
	switch v.Type {
	case gjson.Number:
		return decimal.NewFromString(v.Raw)
	case gjson.String:
		return decimal.NewFromString(strings.TrimSpace(v.Str))
	case gjson.Null:
		return decimal.Zero, fmt.Errorf("null value")
	}
	return decimal.Zero, fmt.Errorf("value %s is not numeric", v.Raw)
}

// stringMap copies the scalar members of a JSON object, skipping the listed keys
func stringMap(obj gjson.Result, skip ...string) map[string]string {
	if !obj.IsObject() {
		return nil
	}
	out := make(map[string]string)
	obj.ForEach(func(key, value gjson.Result) bool {
		for _, s := range skip {
			if key.Str == s {
				return true
			}
		}
		switch value.Type {
		case gjson.String:
			out[key.Str] = value.Str
		case gjson.Number, gjson.True, gjson.False:
			out[key.Str] = value.Raw
		}
		return true
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

func markMalformed(e billing.UsageEvent, problems []string) billing.UsageEvent {
	if len(problems) == 0 {
		return e
	}
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[billing.MalformedKey] = strings.Join(problems, "; ")
	e.Metadata = md
	return e
}

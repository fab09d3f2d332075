package billing

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// productShare is the usage attributed to one metadata value of a series
type productShare struct {
	key      string
	quantity decimal.Decimal
}

// sampleState returns the upper-cased status of a sample from the first
// state key present in its metadata
func sampleState(rule MetricRule, e UsageEvent) string {
	for _, k := range rule.stateKeys() {
		if v, ok := e.Metadata[k]; ok {
			return strings.ToUpper(v)
		}
	}
	return ""
}

func isTracked(rule MetricRule, state string) bool {
	if state == "" {
		return false
	}
	for _, s := range rule.TrackedStates {
		if strings.EqualFold(s, state) {
			return true
		}
	}
	return false
}

// uptimeShares divides the window seconds equally between the product keys
// a resource was sampled as while in a tracked state. A static target
// yields a single share under the empty key. Sample timestamps only decide
// window membership; polling gaps never shorten the uptime.
func uptimeShares(rule MetricRule, target ProductTarget, window BillingWindow, samples []UsageEvent) []productShare {
	keys := make(map[string]struct{})
	for _, e := range samples {
		if !isTracked(rule, sampleState(rule, e)) {
			continue
		}
		key := ""
		if target.Keyed() {
			key = e.Metadata[target.From]
			if key == "" {
				continue
			}
		}
		keys[key] = struct{}{}
	}
	if len(keys) == 0 {
		return nil
	}

	seconds := decimal.NewFromInt(int64(window.Duration() / time.Second))
	each := seconds.DivRound(decimal.NewFromInt(int64(len(keys))), internalPrecision)
	shares := make([]productShare, 0, len(keys))
	for k := range keys {
		shares = append(shares, productShare{key: k, quantity: each})
	}
	sort.Slice(shares, func(i, j int) bool { return shares[i].key < shares[j].key })
	return shares
}

// wholeHours is the number of complete hours in the window
func wholeHours(window BillingWindow) decimal.Decimal {
	return decimal.NewFromInt(int64(window.Duration() / time.Hour))
}

// fromImage returns the largest sampled size times the whole window hours.
// ok is false when any sample shows the resource was not booted from an
// image: the first image key present holds one of the none values.
func fromImage(rule MetricRule, window BillingWindow, samples []UsageEvent) (decimal.Decimal, bool) {
	size := decimal.Zero
	for _, e := range samples {
		for _, k := range rule.ImageKeys {
			v, present := e.Metadata[k]
			if !present {
				continue
			}
			for _, none := range rule.NoneValues {
				if v == none {
					return decimal.Zero, false
				}
			}
			break
		}
		for _, k := range rule.SizeKeys {
			v, present := e.Metadata[k]
			if !present {
				continue
			}
			d, err := decimal.NewFromString(v)
			if err == nil && d.GreaterThan(size) {
				size = d
			}
		}
	}
	return size.Mul(wholeHours(window)), true
}

var activeLimit = decimal.NewFromInt(2)

// activeHours bills whole window hours at the highest 0/1 status reading.
// Readings of 2 and above are error codes and are ignored.
func activeHours(window BillingWindow, samples []UsageEvent) decimal.Decimal {
	peak := decimal.Zero
	for _, e := range samples {
		if e.Value.LessThan(activeLimit) && e.Value.GreaterThan(peak) {
			peak = e.Value
		}
	}
	return peak.Mul(wholeHours(window))
}

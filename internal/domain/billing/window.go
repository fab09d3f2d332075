package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/usagebill/backend/internal/domain/shared"
)

// Granularity is the length class of a billing window
type Granularity string

const (
	GranularityHourly  Granularity = "hourly"
	GranularityDaily   Granularity = "daily"
	GranularityMonthly Granularity = "monthly"
)

// String returns the string representation of Granularity
func (g Granularity) String() string {
	return string(g)
}

// IsValid returns true if the granularity is supported
func (g Granularity) IsValid() bool {
	switch g {
	case GranularityHourly, GranularityDaily, GranularityMonthly:
		return true
	}
	return false
}

// ParseGranularity parses a granularity name, case-insensitively
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.IsValid() {
		return "", shared.NewDomainError("INVALID_GRANULARITY", fmt.Sprintf("unsupported billing granularity %q", s))
	}
	return g, nil
}

// BillingWindow is a half-open interval [Start, End) aligned to local
// boundaries of Timezone. Start and End are stored in UTC.
type BillingWindow struct {
	Start       time.Time   `json:"start"`
	End         time.Time   `json:"end"`
	Granularity Granularity `json:"granularity"`
	Timezone    string      `json:"timezone"`
}

// WindowAt returns the window of the given granularity containing t
func WindowAt(g Granularity, timezone string, t time.Time) (BillingWindow, error) {
	if !g.IsValid() {
		return BillingWindow{}, shared.NewDomainError("INVALID_GRANULARITY", fmt.Sprintf("unsupported billing granularity %q", g))
	}
	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return BillingWindow{}, shared.NewDomainError("INVALID_TIMEZONE", fmt.Sprintf("unknown timezone %q", timezone))
	}

	lt := t.In(loc)
	var start, end time.Time
	switch g {
	case GranularityHourly:
		start = time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc)
		// A repeated local hour (DST fall back) may resolve to either occurrence.
		switch {
		case t.Sub(start) >= time.Hour:
			start = start.Add(time.Hour)
		case start.After(t):
			start = start.Add(-time.Hour)
		}
		end = start.Add(time.Hour)
	case GranularityDaily:
		start = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
		end = time.Date(lt.Year(), lt.Month(), lt.Day()+1, 0, 0, 0, 0, loc)
	case GranularityMonthly:
		start = time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, loc)
		end = time.Date(lt.Year(), lt.Month()+1, 1, 0, 0, 0, 0, loc)
	}

	return BillingWindow{
		Start:       start.UTC(),
		End:         end.UTC(),
		Granularity: g,
		Timezone:    timezone,
	}, nil
}

// WindowsBetween returns consecutive complete windows starting with the one
// containing from, stopping before any window that ends after to. A limit of
// zero means no limit.
func WindowsBetween(g Granularity, timezone string, from, to time.Time, limit int) ([]BillingWindow, error) {
	w, err := WindowAt(g, timezone, from)
	if err != nil {
		return nil, err
	}
	var windows []BillingWindow
	for !w.End.After(to) {
		if limit > 0 && len(windows) >= limit {
			break
		}
		windows = append(windows, w)
		if w, err = w.Next(); err != nil {
			return nil, err
		}
	}
	return windows, nil
}

// Next returns the window immediately following w
func (w BillingWindow) Next() (BillingWindow, error) {
	return WindowAt(w.Granularity, w.Timezone, w.End)
}

// Contains reports whether t falls inside [Start, End)
func (w BillingWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the elapsed length of the window
func (w BillingWindow) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// IsZero reports whether the window is unset
func (w BillingWindow) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// Validate checks the window invariants
func (w BillingWindow) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return shared.NewDomainError("INVALID_WINDOW", "window bounds must be set")
	}
	if !w.End.After(w.Start) {
		return shared.NewDomainError("INVALID_WINDOW", "window end must be after start")
	}
	if !w.Granularity.IsValid() {
		return shared.NewDomainError("INVALID_GRANULARITY", fmt.Sprintf("unsupported billing granularity %q", w.Granularity))
	}
	return nil
}

// String formats the window as start/end in RFC 3339
func (w BillingWindow) String() string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

// Key returns the ledger key of the window for a tenant
func (w BillingWindow) Key(tenantID string) WindowKey {
	return WindowKey{TenantID: tenantID, Start: w.Start.UTC(), End: w.End.UTC()}
}

// WindowKey identifies a (tenant, window) pair in the ledger
type WindowKey struct {
	TenantID string    `json:"tenant_id"`
	Start    time.Time `json:"window_start"`
	End      time.Time `json:"window_end"`
}

// String formats the key as tenant/start/end
func (k WindowKey) String() string {
	return k.TenantID + "/" + k.Start.UTC().Format(time.RFC3339) + "/" + k.End.UTC().Format(time.RFC3339)
}

// Validate checks that the key is complete
func (k WindowKey) Validate() error {
	if k.TenantID == "" {
		return shared.NewDomainError("INVALID_TENANT", "tenant ID cannot be empty")
	}
	if k.Start.IsZero() || !k.End.After(k.Start) {
		return shared.NewDomainError("INVALID_WINDOW", "window key bounds are invalid")
	}
	return nil
}

package billing

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ContentHash returns the blake2b-256 digest of the canonical encoding of an
// entry set. Provenance is not part of the digest, so only billable content
// pins a rated window. Entries are encoded in canonical order regardless of the
// order they are passed in.
func ContentHash(tenantID string, window BillingWindow, entries []UsageEntry) string {
	sorted := make([]UsageEntry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted)

	h, _ := blake2b.New256(nil)
	writeLine(h, "usagebill/v1", tenantID, formatTime(window.Start), formatTime(window.End))
	for _, e := range sorted {
		writeLine(h,
			e.ResourceID,
			e.ResourceType,
			e.Metric,
			e.ProductCode,
			e.Quantity.StringFixed(QuantityScale),
			e.Unit,
			string(e.Aggregation),
		)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// QuotationKey derives the idempotency key sent with a quotation. The same
// tenant, window, content and override epoch always produce the same key.
func QuotationKey(tenantID string, window BillingWindow, contentHash string, epoch int) string {
	parts := []string{tenantID, formatTime(window.Start), formatTime(window.End), contentHash}
	if epoch > 0 {
		parts = append(parts, "epoch="+strconv.Itoa(epoch))
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return "ub-" + hex.EncodeToString(sum[:16])
}

type lineWriter interface {
	Write(p []byte) (int, error)
}

func writeLine(w lineWriter, fields ...string) {
	_, _ = w.Write([]byte(strings.Join(fields, "\x1f")))
	_, _ = w.Write([]byte{'\n'})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

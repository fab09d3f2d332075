package billing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures by how callers must react to them
type ErrorKind string

const (
	// KindTransientIO is a network or backend availability failure. Retryable.
	KindTransientIO ErrorKind = "TRANSIENT_IO"
	// KindConfigurationGap is missing mapping or catalog data. Entry scoped.
	KindConfigurationGap ErrorKind = "CONFIGURATION_GAP"
	// KindUnmappedRegion is a tenant region without a backend region key.
	// It is a configuration gap that fails the rating closed.
	KindUnmappedRegion ErrorKind = "UNMAPPED_REGION"
	// KindLedgerConflict means a rated window would be re-rated with different content
	KindLedgerConflict ErrorKind = "LEDGER_CONFLICT"
	// KindValidation is a malformed sample or unresolvable tenant. Event scoped.
	KindValidation ErrorKind = "VALIDATION_ERROR"
	// KindNotReady means a later stage ran before an earlier one completed
	KindNotReady ErrorKind = "NOT_READY"
	// KindQuotationRejected is a definitive rejection by the rating backend
	KindQuotationRejected ErrorKind = "QUOTATION_REJECTED"
)

// String returns the string representation of ErrorKind
func (k ErrorKind) String() string {
	return string(k)
}

// PipelineError is the error type returned by every pipeline stage
type PipelineError struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

// Error implements the error interface
func (e *PipelineError) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the same kind. An unmapped region also matches
// ErrConfigurationGap.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok || t.Op != "" || t.Message != "" || t.Err != nil {
		return false
	}
	if t.Kind == e.Kind {
		return true
	}
	return t.Kind == KindConfigurationGap && e.Kind == KindUnmappedRegion
}

// Sentinels for errors.Is matching
var (
	ErrTransientIO       = &PipelineError{Kind: KindTransientIO}
	ErrConfigurationGap  = &PipelineError{Kind: KindConfigurationGap}
	ErrUnmappedRegion    = &PipelineError{Kind: KindUnmappedRegion}
	ErrLedgerConflict    = &PipelineError{Kind: KindLedgerConflict}
	ErrValidation        = &PipelineError{Kind: KindValidation}
	ErrNotReady          = &PipelineError{Kind: KindNotReady}
	ErrQuotationRejected = &PipelineError{Kind: KindQuotationRejected}
)

// NewTransientError wraps an I/O failure as retryable
func NewTransientError(op string, err error) *PipelineError {
	return &PipelineError{Kind: KindTransientIO, Op: op, Err: err}
}

// NewConfigurationGap reports missing configuration
func NewConfigurationGap(op, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: KindConfigurationGap, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewUnmappedRegion reports a tenant region without a backend region key
func NewUnmappedRegion(tenantID, region string) *PipelineError {
	return &PipelineError{
		Kind:    KindUnmappedRegion,
		Op:      "rate",
		Message: fmt.Sprintf("region %q of tenant %s has no backend mapping", region, tenantID),
	}
}

// NewLedgerConflict reports that the window head in stage headStage holds
// content that a write with newHash may not replace. An empty stage means the
// head vanished.
func NewLedgerConflict(key WindowKey, headStage Stage, headHash, newHash string) *PipelineError {
	state := "absent"
	if headStage != "" {
		state = headStage.String()
	}
	return &PipelineError{
		Kind: KindLedgerConflict,
		Op:   "ledger",
		Message: fmt.Sprintf("window %s is %s with content %s, refusing content %s",
			key, state, shortHash(headHash), shortHash(newHash)),
	}
}

// NewValidationError reports malformed input
func NewValidationError(op, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewNotReady reports that a prerequisite stage has not completed
func NewNotReady(op, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: KindNotReady, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NewRatingInProgress reports that another worker holds the lock of a window being rated
func NewRatingInProgress(key WindowKey) *PipelineError {
	return &PipelineError{Kind: KindNotReady, Op: "rate", Message: fmt.Sprintf("rating of %s already in progress", key)}
}

// NewQuotationRejected wraps a definitive backend rejection
func NewQuotationRejected(op string, err error) *PipelineError {
	return &PipelineError{Kind: KindQuotationRejected, Op: op, Err: err}
}

// KindOf returns the kind of a pipeline error, or "" for foreign errors
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsRetryable reports whether err may succeed on retry
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientIO)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "<empty>"
	}
	return h
}

// Issue is an accumulated, non-fatal finding attached to a run result
type Issue struct {
	Kind        ErrorKind `json:"kind"`
	ResourceID  string    `json:"resource_id,omitempty"`
	Metric      string    `json:"metric,omitempty"`
	ProductCode string    `json:"product_code,omitempty"`
	Reason      string    `json:"reason"`
	Detail      string    `json:"detail,omitempty"`
	Count       int       `json:"count,omitempty"`
}

// Issue and skip reasons
const (
	ReasonMissingField     = "missing_field"
	ReasonTenantMismatch   = "tenant_mismatch"
	ReasonOutsideWindow    = "outside_window"
	ReasonUnitMismatch     = "unit_mismatch"
	ReasonUntrustedSource  = "untrusted_source"
	ReasonMalformedSample  = "malformed_sample"
	ReasonNoMetricRule     = "no_metric_rule"
	ReasonNoProductMapping = "no_product_mapping"
	ReasonIgnoredProduct   = "ignored_product"
	ReasonUnknownProduct   = "unknown_product"
	ReasonNoConversion     = "no_conversion"
)

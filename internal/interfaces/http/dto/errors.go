package dto

import (
	"errors"
	"net/http"

	"github.com/usagebill/backend/internal/domain/billing"
	"github.com/usagebill/backend/internal/domain/shared"
)

// Error code constants
// Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	ErrCodeInternal     = "ERR_INTERNAL"
	ErrCodeBadRequest   = "ERR_BAD_REQUEST"
	ErrCodeValidation   = "ERR_VALIDATION"
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	ErrCodeForbidden    = "ERR_FORBIDDEN"
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
	ErrCodeNotFound     = "ERR_NOT_FOUND"
	ErrCodeConflict     = "ERR_CONFLICT"
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	ErrCodeUnavailable  = "ERR_UNAVAILABLE"
)

// Pipeline error codes, one per error kind
const (
	ErrCodeTransientIO       = "ERR_TRANSIENT_IO"
	ErrCodeConfigurationGap  = "ERR_CONFIGURATION_GAP"
	ErrCodeUnmappedRegion    = "ERR_UNMAPPED_REGION"
	ErrCodeLedgerConflict    = "ERR_LEDGER_CONFLICT"
	ErrCodeNotReady          = "ERR_NOT_READY"
	ErrCodeQuotationRejected = "ERR_QUOTATION_REJECTED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeUnauthorized: http.StatusUnauthorized,
	ErrCodeForbidden:    http.StatusForbidden,
	ErrCodeTokenExpired: http.StatusUnauthorized,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeInvalidState: http.StatusConflict,
	ErrCodeUnavailable:  http.StatusServiceUnavailable,

	ErrCodeTransientIO:       http.StatusServiceUnavailable,
	ErrCodeConfigurationGap:  http.StatusUnprocessableEntity,
	ErrCodeUnmappedRegion:    http.StatusUnprocessableEntity,
	ErrCodeLedgerConflict:    http.StatusConflict,
	ErrCodeNotReady:          http.StatusTooEarly,
	ErrCodeQuotationRejected: http.StatusBadGateway,
}

var kindCodes = map[billing.ErrorKind]string{
	billing.KindTransientIO:       ErrCodeTransientIO,
	billing.KindConfigurationGap:  ErrCodeConfigurationGap,
	billing.KindUnmappedRegion:    ErrCodeUnmappedRegion,
	billing.KindLedgerConflict:    ErrCodeLedgerConflict,
	billing.KindValidation:        ErrCodeValidation,
	billing.KindNotReady:          ErrCodeNotReady,
	billing.KindQuotationRejected: ErrCodeQuotationRejected,
}

// domainCodes maps shared.DomainError codes to API codes
var domainCodes = map[string]string{
	"NOT_FOUND":               ErrCodeNotFound,
	"INVALID_INPUT":           ErrCodeBadRequest,
	"INVALID_TENANT":          ErrCodeBadRequest,
	"INVALID_WINDOW":          ErrCodeBadRequest,
	"INVALID_OVERRIDE":        ErrCodeValidation,
	"INVALID_STATE":           ErrCodeInvalidState,
	"CONCURRENT_MODIFICATION": ErrCodeConflict,
	"CONCURRENCY_CONFLICT":    ErrCodeConflict,
	"ALREADY_EXISTS":          ErrCodeConflict,
	"UNAUTHORIZED":            ErrCodeUnauthorized,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ClassifyError returns the API code and the client-safe message for err.
// Errors outside the pipeline and domain taxonomies are internal.
func ClassifyError(err error) (code, message string) {
	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		if code, ok := domainCodes[domainErr.Code]; ok {
			return code, domainErr.Message
		}
		return ErrCodeBadRequest, domainErr.Message
	}
	if kind := billing.KindOf(err); kind != "" {
		if code, ok := kindCodes[kind]; ok {
			return code, err.Error()
		}
	}
	return ErrCodeInternal, "An unexpected error occurred"
}

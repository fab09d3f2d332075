// Package erp holds the pricing backend drivers. Every driver returns the
// backend's catalog and turns a quotation into one backend document.
package erp

import (
	"errors"
	"fmt"

	"github.com/usagebill/backend/internal/domain/billing"
)

// Driver names accepted by pricing.driver
const (
	DriverOdoo     = "odoo"
	DriverStripe   = "stripe"
	DriverJSONFile = "jsonfile"
)

var (
	// ErrUnknownDriver is returned by New for an unsupported driver name
	ErrUnknownDriver = errors.New("erp: unknown pricing driver")
	// ErrUnknownCustomer means the backend has no account for the tenant
	ErrUnknownCustomer = errors.New("erp: no customer account for tenant")
)

// rejected wraps a definitive backend refusal
func rejected(op string, format string, args ...any) error {
	return billing.NewQuotationRejected(op, fmt.Errorf(format, args...))
}

// transient wraps a failure worth retrying
func transient(op string, err error) error {
	return billing.NewTransientError(op, err)
}

package erp

import (
	"fmt"
	"strings"

	"github.com/usagebill/backend/internal/infrastructure/config"
)

// StripeConfig holds the Stripe driver settings
type StripeConfig struct {
	// SecretKey is the Stripe secret API key (sk_test_xxx or sk_live_xxx)
	SecretKey string

	// IsTestMode requires a test key when set and a live key otherwise
	IsTestMode bool

	// DefaultCurrency is used for draft invoices
	DefaultCurrency string
}

// StripeConfigFrom converts the loaded configuration section
func StripeConfigFrom(cfg config.StripeConfig) *StripeConfig {
	return &StripeConfig{
		SecretKey:       cfg.SecretKey,
		IsTestMode:      cfg.IsTestMode,
		DefaultCurrency: cfg.DefaultCurrency,
	}
}

// Validate validates the Stripe configuration
func (c *StripeConfig) Validate() error {
	if c.SecretKey == "" {
		return fmt.Errorf("stripe: secret key is required")
	}

	// restricted keys (rk_) follow the same mode split
	prefix := "sk_live"
	if c.IsTestMode {
		prefix = "sk_test"
	}
	if !strings.HasPrefix(c.SecretKey, prefix) && !strings.HasPrefix(c.SecretKey, "r"+prefix[1:]) {
		if c.IsTestMode {
			return fmt.Errorf("stripe: test mode enabled but secret key is not a test key")
		}
		return fmt.Errorf("stripe: live mode enabled but secret key is not a live key")
	}

	if c.DefaultCurrency == "" {
		return fmt.Errorf("stripe: default currency is required")
	}
	return nil
}

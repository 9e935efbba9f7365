package config

import (
	"fmt"
	"math/big"
	"strings"

	"rentescrow/crypto"
)

// Validate checks address and amount syntax. Empty role addresses are
// allowed; init refuses to run without an owner.
func (c *Config) Validate() error {
	for field, value := range map[string]string{
		"Owner":            c.Owner,
		"Marketplace":      c.Marketplace,
		"DisputeAuthority": c.DisputeAuthority,
		"Vault":            c.Vault,
	} {
		if strings.TrimSpace(value) == "" {
			continue
		}
		if _, err := crypto.ParseAddress(value); err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
	}
	if _, err := ParseAmount(c.ProtectionFee); err != nil {
		return fmt.Errorf("ProtectionFee: %w", err)
	}
	if _, err := ParseAmount(c.CommissionFee); err != nil {
		return fmt.Errorf("CommissionFee: %w", err)
	}
	for i, alloc := range c.Allocations {
		if _, err := crypto.ParseAddress(alloc.Address); err != nil {
			return fmt.Errorf("Allocations[%d].Address: %w", i, err)
		}
		if _, err := ParseAmount(alloc.Amount); err != nil {
			return fmt.Errorf("Allocations[%d].Amount: %w", i, err)
		}
	}
	switch c.Backend {
	case BackendLevelDB, BackendBolt:
	default:
		return fmt.Errorf("Backend: unknown storage backend %q", c.Backend)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("Log.Level: unknown level %q", c.Log.Level)
	}
	return nil
}

// ParseAmount parses a positive base-10 integer quantity.
func ParseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", amount)
	}
	return amount, nil
}

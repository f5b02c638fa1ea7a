package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidateCore checks the settings every service needs before it can start.
func (c *Config) ValidateCore() error {
	if strings.TrimSpace(c.Database.URL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.JWT.Secret == "" || c.JWT.Secret == "change-this-secret" {
		return errors.New("JWT_SECRET must be set to a non-default value")
	}
	if c.Business.AllowOverdraft {
		floor, err := decimal.NewFromString(c.Business.OverdraftFloor)
		if err != nil {
			return fmt.Errorf("OVERDRAFT_FLOOR is not a valid decimal: %w", err)
		}
		if floor.IsPositive() {
			return errors.New("OVERDRAFT_FLOOR must be zero or negative")
		}
	}
	if c.Business.AllocatorRetries <= 0 {
		return errors.New("ACCOUNT_NUMBER_RETRIES must be positive")
	}
	return nil
}

// OverdraftFloorDecimal parses the configured floor. Zero when overdraft is
// disabled.
func (c *BusinessConfig) OverdraftFloorDecimal() decimal.Decimal {
	if !c.AllowOverdraft {
		return decimal.Zero
	}
	floor, err := decimal.NewFromString(c.OverdraftFloor)
	if err != nil {
		return decimal.Zero
	}
	return floor
}

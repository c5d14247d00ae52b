package cdp

import (
	"fmt"
	"math/big"
)

// Config captures the runtime configuration for the CDP module.
type Config struct {
	DebtTokenSymbol         string             `toml:"DebtTokenSymbol"`
	MaxDebtSupplyWei        *big.Int           `toml:"MaxDebtSupplyWei"`
	LiquidationDelaySeconds uint64             `toml:"LiquidationDelaySeconds"`
	Collateral              []CollateralParams `toml:"collateral"`
}

// CollateralParams describes one collateral type in configuration form.
type CollateralParams struct {
	Symbol                string   `toml:"Symbol"`
	Active                bool     `toml:"Active"`
	LiquidationRatioBps   uint64   `toml:"LiquidationRatioBps"`
	StabilityFeeBps       uint64   `toml:"StabilityFeeBps"`
	LiquidationPenaltyBps uint64   `toml:"LiquidationPenaltyBps"`
	DebtCeilingWei        *big.Int `toml:"DebtCeilingWei"`
}

// CollateralConfig converts the configuration entry into a directory record.
func (p CollateralParams) CollateralConfig() *CollateralConfig {
	ceiling := big.NewInt(0)
	if p.DebtCeilingWei != nil {
		ceiling = new(big.Int).Set(p.DebtCeilingWei)
	}
	return &CollateralConfig{
		Symbol:                p.Symbol,
		Active:                p.Active,
		LiquidationRatioBps:   p.LiquidationRatioBps,
		StabilityFeeBps:       p.StabilityFeeBps,
		LiquidationPenaltyBps: p.LiquidationPenaltyBps,
		DebtCeiling:           ceiling,
		AggregateDebt:         big.NewInt(0),
	}
}

// Normalize applies defaults for unset fields.
func (c Config) Normalize() Config {
	if c.DebtTokenSymbol == "" {
		c.DebtTokenSymbol = "DUSD"
	}
	if c.LiquidationDelaySeconds == 0 {
		c.LiquidationDelaySeconds = DefaultLiquidationDelay
	}
	return c
}

// Validate checks the module configuration for internally consistent values.
func (c Config) Validate() error {
	if c.LiquidationDelaySeconds > MaxLiquidationDelay {
		return fmt.Errorf("cdp config: liquidation delay %d exceeds maximum %d", c.LiquidationDelaySeconds, uint64(MaxLiquidationDelay))
	}
	if c.MaxDebtSupplyWei != nil && c.MaxDebtSupplyWei.Sign() < 0 {
		return fmt.Errorf("cdp config: max debt supply must be non-negative")
	}
	seen := make(map[string]struct{}, len(c.Collateral))
	for _, entry := range c.Collateral {
		if _, err := SanitizeCollateralConfig(entry.CollateralConfig()); err != nil {
			return fmt.Errorf("cdp config: %w", err)
		}
		symbol, err := NormalizeSymbol(entry.Symbol)
		if err != nil {
			return fmt.Errorf("cdp config: %w", err)
		}
		if _, ok := seen[symbol]; ok {
			return fmt.Errorf("cdp config: duplicate collateral symbol %s", symbol)
		}
		seen[symbol] = struct{}{}
	}
	return nil
}

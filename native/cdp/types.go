package cdp

import (
	"fmt"
	"math/big"
	"strings"
)

// Position captures a single collateralized debt position. Amount values are
// denominated in the smallest unit of their asset and expressed as big
// integers to match ledger precision.
type Position struct {
	// ID is the unique, monotonically increasing identifier assigned at
	// creation. Identifiers are never reused.
	ID uint64
	// Owner is the account holding the position. Ownership never transfers.
	Owner [20]byte
	// CollateralType references the directory entry whose risk parameters
	// govern this position. Immutable after creation.
	CollateralType string
	// Collateral is the locked collateral amount.
	Collateral *big.Int
	// Debt is the outstanding minted debt.
	Debt *big.Int
	// Liquidated marks the terminal state. Once set, every further mutation
	// of the position fails.
	Liquidated bool
	// CreatedAt records the unix timestamp of creation.
	CreatedAt uint64
}

// Clone returns a deep copy of the position so callers can safely mutate the
// copy without affecting the stored instance.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	if p.Collateral != nil {
		clone.Collateral = new(big.Int).Set(p.Collateral)
	} else {
		clone.Collateral = big.NewInt(0)
	}
	if p.Debt != nil {
		clone.Debt = new(big.Int).Set(p.Debt)
	} else {
		clone.Debt = big.NewInt(0)
	}
	return &clone
}

// CollateralConfig groups the risk parameters of a registered collateral
// type. AggregateDebt tracks the sum of all non-liquidated positions' debt in
// this type and may never exceed DebtCeiling after a mint.
type CollateralConfig struct {
	Symbol                string
	Active                bool
	LiquidationRatioBps   uint64
	StabilityFeeBps       uint64
	LiquidationPenaltyBps uint64
	DebtCeiling           *big.Int
	AggregateDebt         *big.Int
}

// Clone returns a deep copy of the collateral configuration.
func (c *CollateralConfig) Clone() *CollateralConfig {
	if c == nil {
		return nil
	}
	clone := *c
	if c.DebtCeiling != nil {
		clone.DebtCeiling = new(big.Int).Set(c.DebtCeiling)
	} else {
		clone.DebtCeiling = big.NewInt(0)
	}
	if c.AggregateDebt != nil {
		clone.AggregateDebt = new(big.Int).Set(c.AggregateDebt)
	} else {
		clone.AggregateDebt = big.NewInt(0)
	}
	return &clone
}

// NormalizeSymbol canonicalises a collateral symbol to its trimmed uppercase
// form and rejects empty values.
func NormalizeSymbol(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", fmt.Errorf("collateral symbol must not be empty")
	}
	return trimmed, nil
}

// SanitizeCollateralConfig validates and normalises the supplied collateral
// configuration, returning a cloned instance with canonical symbol casing and
// non-nil amount fields. The function does not mutate the original value.
func SanitizeCollateralConfig(c *CollateralConfig) (*CollateralConfig, error) {
	if c == nil {
		return nil, fmt.Errorf("nil collateral config")
	}
	clone := c.Clone()
	symbol, err := NormalizeSymbol(clone.Symbol)
	if err != nil {
		return nil, err
	}
	clone.Symbol = symbol
	if clone.LiquidationRatioBps < 10_000 {
		return nil, fmt.Errorf("collateral %s: liquidation ratio below 100%%: %d", symbol, clone.LiquidationRatioBps)
	}
	if clone.StabilityFeeBps > 10_000 {
		return nil, fmt.Errorf("collateral %s: stability fee bps out of range: %d", symbol, clone.StabilityFeeBps)
	}
	if clone.LiquidationPenaltyBps > 5_000 {
		return nil, fmt.Errorf("collateral %s: liquidation penalty bps out of range: %d", symbol, clone.LiquidationPenaltyBps)
	}
	if clone.DebtCeiling.Sign() < 0 {
		return nil, fmt.Errorf("collateral %s: debt ceiling must be non-negative", symbol)
	}
	if clone.AggregateDebt.Sign() < 0 {
		return nil, fmt.Errorf("collateral %s: aggregate debt must be non-negative", symbol)
	}
	return clone, nil
}

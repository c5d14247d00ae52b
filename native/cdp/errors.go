package cdp

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	errNilState     = errors.New("cdp engine: state not configured")
	errNilDirectory = errors.New("cdp engine: collateral directory not configured")
	errNilToken     = errors.New("cdp engine: debt token not configured")
	errNilAsset     = errors.New("cdp engine: collateral asset not configured")
	errNilLedger    = errors.New("cdp coordinator: ledger not configured")

	// ErrInvalidAmount rejects zero or otherwise nonsensical quantities.
	ErrInvalidAmount = errors.New("cdp engine: amount must be positive")
	// ErrUnknownCollateral is returned when the directory has no entry for
	// the requested collateral type.
	ErrUnknownCollateral = errors.New("cdp engine: unknown collateral type")
	// ErrCollateralInactive is returned when the directory entry exists but
	// has been disabled.
	ErrCollateralInactive = errors.New("cdp engine: collateral type inactive")
	// ErrNotOwner is returned when the caller does not own the position.
	ErrNotOwner = errors.New("cdp engine: caller is not the position owner")
	// ErrPositionNotFound is returned for unknown position identifiers.
	ErrPositionNotFound = errors.New("cdp engine: position not found")
	// ErrPositionClosed is returned for any mutation of a liquidated
	// position. Liquidation is terminal.
	ErrPositionClosed = errors.New("cdp engine: position already liquidated")
	// ErrDebtCeilingExceeded is returned when a mint would push the
	// collateral type's aggregate debt above its ceiling.
	ErrDebtCeilingExceeded = errors.New("cdp engine: collateral debt ceiling exceeded")
	// ErrNotLiquidatable is returned when a position does not meet the
	// liquidation eligibility check.
	ErrNotLiquidatable = errors.New("cdp engine: position not eligible for liquidation")
	// ErrUnauthorized is returned when the caller lacks the role a command
	// requires.
	ErrUnauthorized = errors.New("cdp engine: caller lacks required role")
	// ErrInvalidDelay rejects liquidation delays above the upper bound.
	ErrInvalidDelay = errors.New("cdp coordinator: liquidation delay exceeds upper bound")

	// ErrCollateralAlreadyRegistered is returned by the directory when
	// registering a symbol twice.
	ErrCollateralAlreadyRegistered = errors.New("cdp directory: collateral already registered")
	// ErrCollateralNotRegistered is returned by the directory for lookups and
	// updates of unknown symbols.
	ErrCollateralNotRegistered = errors.New("cdp directory: collateral not registered")
	// ErrAggregateDebtOutstanding blocks removal of a collateral type that
	// still backs outstanding debt.
	ErrAggregateDebtOutstanding = errors.New("cdp directory: aggregate debt outstanding")
)

// InsufficientCollateralError reports a mutation that would leave the
// position below its required collateralization.
type InsufficientCollateralError struct {
	Required  *big.Int
	Available *big.Int
}

func (e *InsufficientCollateralError) Error() string {
	return fmt.Sprintf("cdp engine: insufficient collateral: required %s, available %s", e.Required, e.Available)
}

// DelayNotMetError distinguishes "eligible but too early" from "never
// eligible": the position is unsafe yet the cooling-off window has not
// elapsed.
type DelayNotMetError struct {
	RequiredAt uint64
	Now        uint64
}

func (e *DelayNotMetError) Error() string {
	return fmt.Sprintf("cdp coordinator: liquidation delay not met: eligible at %d, now %d", e.RequiredAt, e.Now)
}

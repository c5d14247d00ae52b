package cdp

import (
	"encoding/hex"
	"math/big"
	"strconv"
)

const (
	EventTypePositionOpened      = "cdp.position.opened"
	EventTypeCollateralDeposited = "cdp.position.collateral_deposited"
	EventTypeCollateralWithdrawn = "cdp.position.collateral_withdrawn"
	EventTypeDebtMinted          = "cdp.position.debt_minted"
	EventTypeDebtRepaid          = "cdp.position.debt_repaid"
	EventTypePositionLiquidated  = "cdp.position.liquidated"
	EventTypeLiquidationMarked   = "cdp.liquidation.marked"
	EventTypeDelayUpdated        = "cdp.liquidation.delay_updated"
	EventTypeCollateralListed    = "cdp.collateral.registered"
	EventTypeCollateralUpdated   = "cdp.collateral.updated"
	EventTypeCollateralRemoved   = "cdp.collateral.removed"
)

// Event is the canonical structured payload emitted by the CDP engine and its
// coordinator. Attribute values are stringified for transport-agnostic
// consumption.
type Event struct {
	Type       string
	Attributes map[string]string
}

// EventType implements the events.Event interface.
func (e *Event) EventType() string {
	if e == nil {
		return ""
	}
	return e.Type
}

func newPositionEvent(eventType string, p *Position) *Event {
	attrs := map[string]string{}
	if p != nil {
		attrs["id"] = strconv.FormatUint(p.ID, 10)
		attrs["owner"] = hex.EncodeToString(p.Owner[:])
		attrs["collateralType"] = p.CollateralType
		attrs["collateral"] = bigString(p.Collateral)
		attrs["debt"] = bigString(p.Debt)
	}
	return &Event{Type: eventType, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewPositionOpenedEvent returns the canonical payload for a newly opened
// position.
func NewPositionOpenedEvent(p *Position) *Event { return newPositionEvent(EventTypePositionOpened, p) }

// NewCollateralDepositedEvent returns the payload emitted after a deposit.
func NewCollateralDepositedEvent(p *Position, amount *big.Int) *Event {
	evt := newPositionEvent(EventTypeCollateralDeposited, p)
	evt.Attributes["amount"] = bigString(amount)
	return evt
}

// NewCollateralWithdrawnEvent returns the payload emitted after a withdrawal.
func NewCollateralWithdrawnEvent(p *Position, amount *big.Int) *Event {
	evt := newPositionEvent(EventTypeCollateralWithdrawn, p)
	evt.Attributes["amount"] = bigString(amount)
	return evt
}

// NewDebtMintedEvent returns the payload emitted after debt is minted.
func NewDebtMintedEvent(p *Position, amount *big.Int) *Event {
	evt := newPositionEvent(EventTypeDebtMinted, p)
	evt.Attributes["amount"] = bigString(amount)
	return evt
}

// NewDebtRepaidEvent returns the payload emitted after debt is repaid.
func NewDebtRepaidEvent(p *Position, amount *big.Int) *Event {
	evt := newPositionEvent(EventTypeDebtRepaid, p)
	evt.Attributes["amount"] = bigString(amount)
	return evt
}

// NewPositionLiquidatedEvent returns the payload emitted once a position has
// been seized and closed.
func NewPositionLiquidatedEvent(id uint64, owner, liquidator [20]byte, collateral, debt, penalty *big.Int) *Event {
	return &Event{
		Type: EventTypePositionLiquidated,
		Attributes: map[string]string{
			"id":         strconv.FormatUint(id, 10),
			"owner":      hex.EncodeToString(owner[:]),
			"liquidator": hex.EncodeToString(liquidator[:]),
			"collateral": bigString(collateral),
			"debt":       bigString(debt),
			"penalty":    bigString(penalty),
		},
	}
}

// NewLiquidationMarkedEvent returns the payload emitted when a position is
// first observed unsafe.
func NewLiquidationMarkedEvent(id uint64, markedAt uint64) *Event {
	return &Event{
		Type: EventTypeLiquidationMarked,
		Attributes: map[string]string{
			"id":       strconv.FormatUint(id, 10),
			"markedAt": strconv.FormatUint(markedAt, 10),
		},
	}
}

// NewDelayUpdatedEvent returns the payload emitted when the liquidation delay
// changes.
func NewDelayUpdatedEvent(delaySeconds uint64) *Event {
	return &Event{
		Type: EventTypeDelayUpdated,
		Attributes: map[string]string{
			"delaySeconds": strconv.FormatUint(delaySeconds, 10),
		},
	}
}

func newCollateralEvent(eventType string, cfg *CollateralConfig) *Event {
	attrs := map[string]string{}
	if cfg != nil {
		attrs["symbol"] = cfg.Symbol
		attrs["active"] = strconv.FormatBool(cfg.Active)
		attrs["liquidationRatioBps"] = strconv.FormatUint(cfg.LiquidationRatioBps, 10)
		attrs["liquidationPenaltyBps"] = strconv.FormatUint(cfg.LiquidationPenaltyBps, 10)
		attrs["stabilityFeeBps"] = strconv.FormatUint(cfg.StabilityFeeBps, 10)
		attrs["debtCeiling"] = bigString(cfg.DebtCeiling)
	}
	return &Event{Type: eventType, Attributes: attrs}
}

// NewCollateralRegisteredEvent returns the payload for a new directory entry.
func NewCollateralRegisteredEvent(cfg *CollateralConfig) *Event {
	return newCollateralEvent(EventTypeCollateralListed, cfg)
}

// NewCollateralUpdatedEvent returns the payload for a parameter update.
func NewCollateralUpdatedEvent(cfg *CollateralConfig) *Event {
	return newCollateralEvent(EventTypeCollateralUpdated, cfg)
}

// NewCollateralRemovedEvent returns the payload for a removed directory entry.
func NewCollateralRemovedEvent(symbol string) *Event {
	return &Event{
		Type:       EventTypeCollateralRemoved,
		Attributes: map[string]string{"symbol": symbol},
	}
}

package cdp

import (
	"math/big"
	"sync"

	"cdpcore/core/events"
	nativecommon "cdpcore/native/common"
)

type directoryState interface {
	CDPGetCollateralConfig(symbol string) (*CollateralConfig, error)
	CDPPutCollateralConfig(cfg *CollateralConfig) error
	CDPDeleteCollateralConfig(symbol string) error
	CDPCollateralList() ([]string, error)
}

// Directory owns the per-collateral-type risk parameters and the aggregate
// debt bookkeeping. Reads are always live: a parameter update retroactively
// changes the health of every open position in that type.
type Directory struct {
	state   directoryState
	roles   RoleView
	pauses  nativecommon.PauseView
	emitter events.Emitter

	mu sync.Mutex
}

// NewDirectory creates a collateral directory with a no-op emitter.
func NewDirectory() *Directory {
	return &Directory{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the directory.
func (d *Directory) SetState(state directoryState) { d.state = state }

// SetRoles wires the authorization capability checked on admin writes.
func (d *Directory) SetRoles(roles RoleView) { d.roles = roles }

// SetPauses wires the pause switches guarding directory writes.
func (d *Directory) SetPauses(p nativecommon.PauseView) { d.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (d *Directory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		d.emitter = events.NoopEmitter{}
		return
	}
	d.emitter = emitter
}

func (d *Directory) emit(evt *Event) {
	if d == nil || d.emitter == nil || evt == nil {
		return
	}
	d.emitter.Emit(evt)
}

func (d *Directory) requireAdmin(caller [20]byte) error {
	if d.roles == nil || !d.roles.HasRole(RoleAdmin, caller) {
		return ErrUnauthorized
	}
	return nil
}

func (d *Directory) load(symbol string) (*CollateralConfig, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return nil, ErrCollateralNotRegistered
	}
	cfg, err := d.state.CDPGetCollateralConfig(normalized)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrCollateralNotRegistered
	}
	return cfg, nil
}

// Register adds a new collateral type. The aggregate debt of a fresh entry is
// always zero regardless of the supplied value.
func (d *Directory) Register(caller [20]byte, cfg *CollateralConfig) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(d.pauses, moduleName); err != nil {
		return err
	}
	if err := d.requireAdmin(caller); err != nil {
		return err
	}
	sanitized, err := SanitizeCollateralConfig(cfg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, err := d.state.CDPGetCollateralConfig(sanitized.Symbol)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrCollateralAlreadyRegistered
	}
	sanitized.AggregateDebt = big.NewInt(0)
	if err := d.state.CDPPutCollateralConfig(sanitized); err != nil {
		return err
	}
	d.emit(NewCollateralRegisteredEvent(sanitized))
	return nil
}

// Update replaces the risk parameters of a registered collateral type. The
// aggregate debt is carried over from the stored entry; callers cannot reset
// it through this path.
func (d *Directory) Update(caller [20]byte, cfg *CollateralConfig) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(d.pauses, moduleName); err != nil {
		return err
	}
	if err := d.requireAdmin(caller); err != nil {
		return err
	}
	sanitized, err := SanitizeCollateralConfig(cfg)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	existing, err := d.state.CDPGetCollateralConfig(sanitized.Symbol)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrCollateralNotRegistered
	}
	sanitized.AggregateDebt = existing.AggregateDebt
	if sanitized.AggregateDebt == nil {
		sanitized.AggregateDebt = big.NewInt(0)
	}
	if err := d.state.CDPPutCollateralConfig(sanitized); err != nil {
		return err
	}
	d.emit(NewCollateralUpdatedEvent(sanitized))
	return nil
}

// Remove deletes a collateral type. Removal is only permitted once no
// outstanding debt is backed by the type.
func (d *Directory) Remove(caller [20]byte, symbol string) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(d.pauses, moduleName); err != nil {
		return err
	}
	if err := d.requireAdmin(caller); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg, err := d.load(symbol)
	if err != nil {
		return err
	}
	if cfg.AggregateDebt != nil && cfg.AggregateDebt.Sign() > 0 {
		return ErrAggregateDebtOutstanding
	}
	if err := d.state.CDPDeleteCollateralConfig(cfg.Symbol); err != nil {
		return err
	}
	d.emit(NewCollateralRemovedEvent(cfg.Symbol))
	return nil
}

// Config returns a copy of the stored configuration for the symbol.
func (d *Directory) Config(symbol string) (*CollateralConfig, error) {
	cfg, err := d.load(symbol)
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// List returns the registered collateral symbols.
func (d *Directory) List() ([]string, error) {
	if d == nil || d.state == nil {
		return nil, errNilState
	}
	return d.state.CDPCollateralList()
}

// IsActive reports whether the symbol is registered and enabled.
func (d *Directory) IsActive(symbol string) bool {
	cfg, err := d.load(symbol)
	if err != nil {
		return false
	}
	return cfg.Active
}

// LiquidationRatioBps returns the live minimum collateral-to-debt ratio.
func (d *Directory) LiquidationRatioBps(symbol string) (uint64, error) {
	cfg, err := d.load(symbol)
	if err != nil {
		return 0, err
	}
	return cfg.LiquidationRatioBps, nil
}

// PenaltyBps returns the live liquidation penalty rate.
func (d *Directory) PenaltyBps(symbol string) (uint64, error) {
	cfg, err := d.load(symbol)
	if err != nil {
		return 0, err
	}
	return cfg.LiquidationPenaltyBps, nil
}

// StabilityFeeBps returns the stored stability fee rate. Accrual mechanics
// are outside the engine; the rate is carried for integrators.
func (d *Directory) StabilityFeeBps(symbol string) (uint64, error) {
	cfg, err := d.load(symbol)
	if err != nil {
		return 0, err
	}
	return cfg.StabilityFeeBps, nil
}

// DebtCeiling returns the maximum aggregate debt permitted for the type.
func (d *Directory) DebtCeiling(symbol string) (*big.Int, error) {
	cfg, err := d.load(symbol)
	if err != nil {
		return nil, err
	}
	if cfg.DebtCeiling == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(cfg.DebtCeiling), nil
}

// AggregateDebt returns the current aggregate debt for the type.
func (d *Directory) AggregateDebt(symbol string) (*big.Int, error) {
	cfg, err := d.load(symbol)
	if err != nil {
		return nil, err
	}
	if cfg.AggregateDebt == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(cfg.AggregateDebt), nil
}

// SetAggregateDebt overwrites the aggregate debt counter for the type. This
// is the ledger's internal bookkeeping entry point; the engine serializes
// calls per collateral type and performs the ceiling check on mints. Negative
// values are rejected.
func (d *Directory) SetAggregateDebt(symbol string, value *big.Int) error {
	if d == nil || d.state == nil {
		return errNilState
	}
	if value == nil || value.Sign() < 0 {
		return ErrInvalidAmount
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	cfg, err := d.load(symbol)
	if err != nil {
		return err
	}
	cfg.AggregateDebt = new(big.Int).Set(value)
	return d.state.CDPPutCollateralConfig(cfg)
}

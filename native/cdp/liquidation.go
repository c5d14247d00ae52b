package cdp

import (
	"math/big"
	"sync"
	"time"

	"cdpcore/core/events"
	nativecommon "cdpcore/native/common"
)

// MaxLiquidationDelay bounds the cooling-off window so an administrator can
// never disable liquidation outright.
const MaxLiquidationDelay = 7 * 24 * 60 * 60

// DefaultLiquidationDelay is the cooling-off window applied until an
// administrator configures one.
const DefaultLiquidationDelay = 60 * 60

type coordinatorState interface {
	CDPGetLiquidationMark(id uint64) (uint64, bool, error)
	CDPPutLiquidationMark(id uint64, markedAt uint64) error
	CDPClearLiquidationMark(id uint64) error
}

// LiquidationInfo aggregates the read-only liquidation view of a position.
// When the position is not currently liquidatable the penalty and seize
// fields report zero.
type LiquidationInfo struct {
	IsLiquidatable    bool
	CollateralValue   *big.Int
	DebtValue         *big.Int
	PenaltyAmount     *big.Int
	CollateralToSeize *big.Int
}

// Coordinator layers a mandatory cooling-off delay on top of the ledger's raw
// eligibility check, giving owners a grace window to self-cure before forced
// liquidation.
type Coordinator struct {
	engine  *Engine
	state   coordinatorState
	roles   RoleView
	pauses  nativecommon.PauseView
	emitter events.Emitter
	nowFn   func() int64

	mu    sync.RWMutex
	delay uint64
}

// NewCoordinator creates a liquidation coordinator bound to the ledger it
// finalizes positions through.
func NewCoordinator(engine *Engine) *Coordinator {
	return &Coordinator{
		engine:  engine,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		delay:   DefaultLiquidationDelay,
	}
}

// SetState configures the state backend storing liquidation marks.
func (c *Coordinator) SetState(state coordinatorState) { c.state = state }

// SetRoles wires the authorization capability.
func (c *Coordinator) SetRoles(roles RoleView) { c.roles = roles }

// SetPauses wires the pause switches guarding liquidation.
func (c *Coordinator) SetPauses(p nativecommon.PauseView) { c.pauses = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

// SetNowFunc overrides the time source used for mark and delay arithmetic.
func (c *Coordinator) SetNowFunc(now func() int64) {
	if now == nil {
		c.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	c.nowFn = now
}

func (c *Coordinator) now() uint64 {
	if c == nil || c.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := c.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (c *Coordinator) emit(evt *Event) {
	if c == nil || c.emitter == nil || evt == nil {
		return
	}
	c.emitter.Emit(evt)
}

func (c *Coordinator) ready() error {
	if c == nil || c.state == nil {
		return errNilState
	}
	if c.engine == nil {
		return errNilLedger
	}
	return nil
}

// LiquidationDelay returns the configured cooling-off window in seconds.
func (c *Coordinator) LiquidationDelay() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.delay
}

// SetLiquidationDelay updates the cooling-off window. Admin only; values
// above MaxLiquidationDelay are rejected so liquidation cannot be disabled
// through configuration.
func (c *Coordinator) SetLiquidationDelay(caller [20]byte, seconds uint64) error {
	if c == nil {
		return errNilLedger
	}
	if c.roles == nil || !c.roles.HasRole(RoleAdmin, caller) {
		return ErrUnauthorized
	}
	if seconds > MaxLiquidationDelay {
		return ErrInvalidDelay
	}
	c.mu.Lock()
	c.delay = seconds
	c.mu.Unlock()
	c.emit(NewDelayUpdatedEvent(seconds))
	return nil
}

// MarkLiquidatable records the first observed moment a position became
// unsafe. The call is idempotent: a later call never resets an existing mark,
// so the delay always counts from first detection. A mark is only recorded
// while the ledger reports the position unsafe.
func (c *Coordinator) MarkLiquidatable(id uint64) error {
	if err := c.ready(); err != nil {
		return err
	}
	unsafe, err := c.engine.IsLiquidatable(id)
	if err != nil {
		return err
	}
	if !unsafe {
		return ErrNotLiquidatable
	}
	if _, ok, err := c.state.CDPGetLiquidationMark(id); err != nil {
		return err
	} else if ok {
		return nil
	}
	markedAt := c.now()
	if err := c.state.CDPPutLiquidationMark(id, markedAt); err != nil {
		return err
	}
	c.emit(NewLiquidationMarkedEvent(id, markedAt))
	return nil
}

// IsLiquidatable reports whether the position may be seized right now: it
// must currently fail the live safety check AND the cooling-off window since
// its first mark must have elapsed. A position that was never marked is not
// liquidatable regardless of its health.
func (c *Coordinator) IsLiquidatable(id uint64) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	unsafe, err := c.engine.IsLiquidatable(id)
	if err != nil {
		return false, err
	}
	if !unsafe {
		return false, nil
	}
	markedAt, ok, err := c.state.CDPGetLiquidationMark(id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return c.now() >= markedAt+c.LiquidationDelay(), nil
}

// Liquidate seizes an unsafe, marked position once the cooling-off window has
// elapsed. The penalty cut is transferred to the caller, the remainder routes
// back to the original owner, the position is zeroed through the ledger, and
// the mark is cleared. The seized penalty is returned alongside the prior
// collateral and debt.
func (c *Coordinator) Liquidate(caller [20]byte, id uint64) (penalty, collateral, debt *big.Int, err error) {
	if err = c.ready(); err != nil {
		return nil, nil, nil, err
	}
	if err = nativecommon.Guard(c.pauses, moduleName); err != nil {
		return nil, nil, nil, err
	}
	if c.roles == nil || !c.roles.HasRole(RoleLiquidator, caller) {
		return nil, nil, nil, ErrUnauthorized
	}
	lock := c.engine.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := c.engine.loadPosition(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if pos.Liquidated {
		return nil, nil, nil, ErrPositionClosed
	}
	ratio, err := c.engine.directory.LiquidationRatioBps(pos.CollateralType)
	if err != nil {
		return nil, nil, nil, err
	}
	if IsSafe(pos.Collateral, pos.Debt, ratio) {
		return nil, nil, nil, ErrNotLiquidatable
	}
	markedAt, marked, err := c.state.CDPGetLiquidationMark(id)
	if err != nil {
		return nil, nil, nil, err
	}
	if !marked {
		return nil, nil, nil, ErrNotLiquidatable
	}
	now := c.now()
	requiredAt := markedAt + c.LiquidationDelay()
	if now < requiredAt {
		return nil, nil, nil, &DelayNotMetError{RequiredAt: requiredAt, Now: now}
	}
	penaltyBps, err := c.engine.directory.PenaltyBps(pos.CollateralType)
	if err != nil {
		return nil, nil, nil, err
	}
	penalty = PenaltyAmount(pos.Collateral, penaltyBps)
	collateral, debt, err = c.engine.executeLiquidation(pos, caller, penalty)
	if err != nil {
		return nil, nil, nil, err
	}
	// Best effort: the seizure is already final, and a leftover mark on a
	// closed position can never match again.
	c.state.CDPClearLiquidationMark(id)
	return penalty, collateral, debt, nil
}

// GetLiquidationInfo returns the aggregate liquidation view for a position.
func (c *Coordinator) GetLiquidationInfo(id uint64) (*LiquidationInfo, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	pos, err := c.engine.loadPosition(id)
	if err != nil {
		return nil, err
	}
	info := &LiquidationInfo{
		CollateralValue:   new(big.Int).Set(pos.Collateral),
		DebtValue:         new(big.Int).Set(pos.Debt),
		PenaltyAmount:     big.NewInt(0),
		CollateralToSeize: big.NewInt(0),
	}
	eligible, err := c.IsLiquidatable(id)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return info, nil
	}
	penaltyBps, err := c.engine.directory.PenaltyBps(pos.CollateralType)
	if err != nil {
		return nil, err
	}
	info.IsLiquidatable = true
	info.PenaltyAmount = PenaltyAmount(pos.Collateral, penaltyBps)
	info.CollateralToSeize = new(big.Int).Set(pos.Collateral)
	return info, nil
}

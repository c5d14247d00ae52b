package cdp

import (
	"errors"
	"math/big"
	"sync"
	"time"

	"cdpcore/core/events"
	nativecommon "cdpcore/native/common"
	"cdpcore/observability"
)

const moduleName = "cdp"

// Role names checked through the injected RoleView capability.
const (
	RoleAdmin      = "ROLE_CDP_ADMIN"
	RoleLiquidator = "ROLE_LIQUIDATOR"
)

type engineState interface {
	CDPGetPosition(id uint64) (*Position, error)
	CDPPutPosition(pos *Position) error
	CDPNextPositionID() (uint64, error)
	CDPOwnerIndexAppend(owner [20]byte, id uint64) error
	CDPPositionsByOwner(owner [20]byte) ([]uint64, error)
}

// CollateralDirectory is the parameter-store collaborator consulted on every
// debt-affecting or collateral-reducing mutation. Values are read live, never
// snapshotted per position.
type CollateralDirectory interface {
	IsActive(symbol string) bool
	LiquidationRatioBps(symbol string) (uint64, error)
	PenaltyBps(symbol string) (uint64, error)
	DebtCeiling(symbol string) (*big.Int, error)
	AggregateDebt(symbol string) (*big.Int, error)
	SetAggregateDebt(symbol string, value *big.Int) error
}

// DebtToken is the mintable/burnable fungible ledger backing minted debt. The
// engine calls it and never replicates its bookkeeping.
type DebtToken interface {
	Mint(to [20]byte, amount *big.Int) error
	Burn(from [20]byte, amount *big.Int) error
}

// CollateralAsset moves a collateral token between user accounts and the
// engine's vault. A failed transfer fails the whole operation.
type CollateralAsset interface {
	TransferIn(from [20]byte, amount *big.Int) error
	TransferOut(to [20]byte, amount *big.Int) error
}

// RoleView is the injected authorization capability. Permission checks run at
// command entry and stay orthogonal to the accounting logic.
type RoleView interface {
	HasRole(role string, addr [20]byte) bool
}

// Marker receives the ledger's signal that a position has been observed
// unsafe. The liquidation coordinator implements it.
type Marker interface {
	MarkLiquidatable(id uint64) error
}

// Engine owns all position records and enforces the collateralization
// invariant on every mutation. Operations on the same position serialize on a
// per-position lock; distinct positions proceed in parallel.
type Engine struct {
	state     engineState
	directory CollateralDirectory
	token     DebtToken
	assets    map[string]CollateralAsset
	roles     RoleView
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	metrics   *observability.EngineMetrics
	marker    Marker
	nowFn     func() int64

	mu      sync.Mutex
	locks   map[uint64]*sync.Mutex
	typeMu  map[string]*sync.Mutex
	assetMu sync.RWMutex
}

// NewEngine creates a CDP engine with a no-op emitter and the wall clock.
// Collaborators are wired through the Set* methods before first use.
func NewEngine() *Engine {
	return &Engine{
		assets:  make(map[string]CollateralAsset),
		emitter: events.NoopEmitter{},
		locks:   make(map[uint64]*sync.Mutex),
		typeMu:  make(map[string]*sync.Mutex),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetDirectory wires the collateral parameter store.
func (e *Engine) SetDirectory(directory CollateralDirectory) { e.directory = directory }

// SetDebtToken wires the fungible ledger that mints and burns debt.
func (e *Engine) SetDebtToken(token DebtToken) { e.token = token }

// SetCollateralAsset registers the transfer capability for a collateral
// symbol.
func (e *Engine) SetCollateralAsset(symbol string, asset CollateralAsset) {
	normalized, err := NormalizeSymbol(symbol)
	if err != nil {
		return
	}
	e.assetMu.Lock()
	defer e.assetMu.Unlock()
	if asset == nil {
		delete(e.assets, normalized)
		return
	}
	e.assets[normalized] = asset
}

// SetRoles wires the authorization capability.
func (e *Engine) SetRoles(roles RoleView) { e.roles = roles }

// SetPauses wires the pause switches guarding mutations.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics wires the observability counters recorded per operation.
func (e *Engine) SetMetrics(metrics *observability.EngineMetrics) { e.metrics = metrics }

// SetMarker wires the coordinator notified when a mutation observes an
// unsafe position.
func (e *Engine) SetMarker(marker Marker) { e.marker = marker }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) observe(op string, started time.Time, err error) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.ObserveOperation(op, started, err)
}

// positionLock returns the mutex serializing mutations of a single position.
func (e *Engine) positionLock(id uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// collateralLock returns the mutex serializing aggregate-debt updates for a
// collateral type. It must only be acquired while holding the position lock
// to keep the lock order fixed.
func (e *Engine) collateralLock(symbol string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.typeMu[symbol]
	if !ok {
		lock = &sync.Mutex{}
		e.typeMu[symbol] = lock
	}
	return lock
}

func (e *Engine) collateralAsset(symbol string) (CollateralAsset, error) {
	e.assetMu.RLock()
	defer e.assetMu.RUnlock()
	asset, ok := e.assets[symbol]
	if !ok || asset == nil {
		return nil, errNilAsset
	}
	return asset, nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.directory == nil {
		return errNilDirectory
	}
	return nil
}

func (e *Engine) loadPosition(id uint64) (*Position, error) {
	pos, err := e.state.CDPGetPosition(id)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		return nil, ErrPositionNotFound
	}
	if pos.Collateral == nil {
		pos.Collateral = big.NewInt(0)
	}
	if pos.Debt == nil {
		pos.Debt = big.NewInt(0)
	}
	return pos, nil
}

// loadMutable loads a position for an owner-gated mutation and runs the
// shared precondition checks.
func (e *Engine) loadMutable(caller [20]byte, id uint64, amount *big.Int) (*Position, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	if pos.Owner != caller {
		return nil, ErrNotOwner
	}
	if pos.Liquidated {
		return nil, ErrPositionClosed
	}
	return pos, nil
}

// Open creates a new position after pulling the collateral into the vault.
// Nothing is recorded until the transfer has succeeded.
func (e *Engine) Open(owner [20]byte, symbol string, amount *big.Int) (id uint64, err error) {
	started := time.Now()
	defer func() { e.observe("open", started, err) }()

	if err = e.ready(); err != nil {
		return 0, err
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	normalized, symErr := NormalizeSymbol(symbol)
	if symErr != nil {
		return 0, ErrUnknownCollateral
	}
	if _, ratioErr := e.directory.LiquidationRatioBps(normalized); ratioErr != nil {
		return 0, ErrUnknownCollateral
	}
	if !e.directory.IsActive(normalized) {
		return 0, ErrCollateralInactive
	}
	asset, err := e.collateralAsset(normalized)
	if err != nil {
		return 0, err
	}
	if err = asset.TransferIn(owner, amount); err != nil {
		return 0, err
	}

	id, err = e.state.CDPNextPositionID()
	if err != nil {
		return 0, e.refund(asset, owner, amount, err)
	}
	pos := &Position{
		ID:             id,
		Owner:          owner,
		CollateralType: normalized,
		Collateral:     new(big.Int).Set(amount),
		Debt:           big.NewInt(0),
		CreatedAt:      uint64(e.now()),
	}
	// Index before record: if either write fails the collateral is returned,
	// and a dangling index id resolves to not-found instead of a position
	// record claiming collateral the vault no longer holds.
	if err = e.state.CDPOwnerIndexAppend(owner, id); err != nil {
		return 0, e.refund(asset, owner, amount, err)
	}
	if err = e.state.CDPPutPosition(pos); err != nil {
		return 0, e.refund(asset, owner, amount, err)
	}
	e.emit(NewPositionOpenedEvent(pos))
	return id, nil
}

// refund returns collateral pulled into the vault after a later step failed.
// A failed refund is joined onto the original error so it cannot pass
// unnoticed.
func (e *Engine) refund(asset CollateralAsset, to [20]byte, amount *big.Int, err error) error {
	if refundErr := asset.TransferOut(to, amount); refundErr != nil {
		return errors.Join(err, refundErr)
	}
	return err
}

// DepositCollateral locks additional collateral into the position. Adding
// collateral can only improve health, so no ratio check runs.
func (e *Engine) DepositCollateral(caller [20]byte, id uint64, amount *big.Int) (err error) {
	started := time.Now()
	defer func() { e.observe("deposit_collateral", started, err) }()

	if err = e.ready(); err != nil {
		return err
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.loadMutable(caller, id, amount)
	if err != nil {
		return err
	}
	asset, err := e.collateralAsset(pos.CollateralType)
	if err != nil {
		return err
	}
	if err = asset.TransferIn(caller, amount); err != nil {
		return err
	}
	pos.Collateral = new(big.Int).Add(pos.Collateral, amount)
	if err = e.state.CDPPutPosition(pos); err != nil {
		return e.refund(asset, caller, amount, err)
	}
	e.emit(NewCollateralDepositedEvent(pos, amount))
	return nil
}

// WithdrawCollateral releases collateral back to the owner while ensuring the
// remaining balance still covers any outstanding debt at the live ratio.
func (e *Engine) WithdrawCollateral(caller [20]byte, id uint64, amount *big.Int) (err error) {
	started := time.Now()
	defer func() { e.observe("withdraw_collateral", started, err) }()

	if err = e.ready(); err != nil {
		return err
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.loadMutable(caller, id, amount)
	if err != nil {
		return err
	}
	if pos.Collateral.Cmp(amount) < 0 {
		return ErrInvalidAmount
	}
	remaining := new(big.Int).Sub(pos.Collateral, amount)
	if pos.Debt.Sign() > 0 {
		ratio, ratioErr := e.directory.LiquidationRatioBps(pos.CollateralType)
		if ratioErr != nil {
			return ratioErr
		}
		if !IsSafe(remaining, pos.Debt, ratio) {
			return &InsufficientCollateralError{
				Required:  RequiredCollateral(pos.Debt, ratio),
				Available: remaining,
			}
		}
	}
	asset, err := e.collateralAsset(pos.CollateralType)
	if err != nil {
		return err
	}
	if err = asset.TransferOut(caller, amount); err != nil {
		return err
	}
	pos.Collateral = remaining
	if err = e.state.CDPPutPosition(pos); err != nil {
		// Claw the payout back so the stored collateral and the vault agree.
		if clawErr := asset.TransferIn(caller, amount); clawErr != nil {
			return errors.Join(err, clawErr)
		}
		return err
	}
	e.emit(NewCollateralWithdrawnEvent(pos, amount))
	return nil
}

// MintDebt issues new debt against the position. The directory aggregate and
// the position record are updated before the token mint; a failed mint rolls
// both back so the operation leaves no observable change.
func (e *Engine) MintDebt(caller [20]byte, id uint64, amount *big.Int) (err error) {
	started := time.Now()
	defer func() { e.observe("mint_debt", started, err) }()

	if err = e.ready(); err != nil {
		return err
	}
	if e.token == nil {
		return errNilToken
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.loadMutable(caller, id, amount)
	if err != nil {
		return err
	}
	typeLock := e.collateralLock(pos.CollateralType)
	typeLock.Lock()
	defer typeLock.Unlock()

	newDebt := new(big.Int).Add(pos.Debt, amount)
	ratio, err := e.directory.LiquidationRatioBps(pos.CollateralType)
	if err != nil {
		return err
	}
	ceiling, err := e.directory.DebtCeiling(pos.CollateralType)
	if err != nil {
		return err
	}
	aggregate, err := e.directory.AggregateDebt(pos.CollateralType)
	if err != nil {
		return err
	}
	newAggregate := new(big.Int).Add(aggregate, amount)
	if newAggregate.Cmp(ceiling) > 0 {
		return ErrDebtCeilingExceeded
	}
	required := RequiredCollateral(newDebt, ratio)
	if required.Cmp(pos.Collateral) > 0 {
		return &InsufficientCollateralError{
			Required:  required,
			Available: new(big.Int).Set(pos.Collateral),
		}
	}

	priorDebt := pos.Debt
	if err = e.directory.SetAggregateDebt(pos.CollateralType, newAggregate); err != nil {
		return err
	}
	pos.Debt = newDebt
	if err = e.state.CDPPutPosition(pos); err != nil {
		pos.Debt = priorDebt
		if restoreErr := e.directory.SetAggregateDebt(pos.CollateralType, aggregate); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		return err
	}
	if err = e.token.Mint(caller, amount); err != nil {
		pos.Debt = priorDebt
		if restoreErr := e.state.CDPPutPosition(pos); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		if restoreErr := e.directory.SetAggregateDebt(pos.CollateralType, aggregate); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		return err
	}
	e.emit(NewDebtMintedEvent(pos, amount))
	return nil
}

// RepayDebt burns debt tokens from the owner and reduces the position's debt.
// The burn runs first; if it fails (e.g. insufficient balance) the operation
// aborts with ledger state untouched.
func (e *Engine) RepayDebt(caller [20]byte, id uint64, amount *big.Int) (err error) {
	started := time.Now()
	defer func() { e.observe("repay_debt", started, err) }()

	if err = e.ready(); err != nil {
		return err
	}
	if e.token == nil {
		return errNilToken
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	lock := e.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.loadMutable(caller, id, amount)
	if err != nil {
		return err
	}
	if amount.Cmp(pos.Debt) > 0 {
		return ErrInvalidAmount
	}
	typeLock := e.collateralLock(pos.CollateralType)
	typeLock.Lock()
	defer typeLock.Unlock()

	aggregate, err := e.directory.AggregateDebt(pos.CollateralType)
	if err != nil {
		return err
	}
	if err = e.token.Burn(caller, amount); err != nil {
		return err
	}
	priorDebt := pos.Debt
	pos.Debt = new(big.Int).Sub(pos.Debt, amount)
	if err = e.state.CDPPutPosition(pos); err != nil {
		// Re-mint the burned tokens so the caller's balance and the
		// recorded debt agree.
		if restoreErr := e.token.Mint(caller, amount); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		return err
	}
	newAggregate := new(big.Int).Sub(aggregate, amount)
	if newAggregate.Sign() < 0 {
		newAggregate = big.NewInt(0)
	}
	if err = e.directory.SetAggregateDebt(pos.CollateralType, newAggregate); err != nil {
		pos.Debt = priorDebt
		if restoreErr := e.state.CDPPutPosition(pos); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		if restoreErr := e.token.Mint(caller, amount); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		return err
	}
	e.emit(NewDebtRepaidEvent(pos, amount))
	return nil
}

// Liquidate seizes an unsafe position directly through the ledger. The caller
// must hold the liquidator role; the cooling-off window enforced by the
// coordinator does not apply on this path. The penalty cut is transferred to
// the caller, the remainder returns to the original owner, and the prior
// (collateral, debt) snapshot is returned.
func (e *Engine) Liquidate(caller [20]byte, id uint64) (collateral, debt *big.Int, err error) {
	started := time.Now()
	defer func() { e.observe("liquidate", started, err) }()

	if err = e.ready(); err != nil {
		return nil, nil, err
	}
	if err = nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if e.roles == nil || !e.roles.HasRole(RoleLiquidator, caller) {
		return nil, nil, ErrUnauthorized
	}
	lock := e.positionLock(id)
	lock.Lock()
	defer lock.Unlock()

	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, nil, err
	}
	if pos.Liquidated {
		return nil, nil, ErrPositionClosed
	}
	ratio, err := e.directory.LiquidationRatioBps(pos.CollateralType)
	if err != nil {
		return nil, nil, err
	}
	if IsSafe(pos.Collateral, pos.Debt, ratio) {
		return nil, nil, ErrNotLiquidatable
	}
	penaltyBps, err := e.directory.PenaltyBps(pos.CollateralType)
	if err != nil {
		return nil, nil, err
	}
	penalty := PenaltyAmount(pos.Collateral, penaltyBps)
	collateral, debt, err = e.executeLiquidation(pos, caller, penalty)
	if err != nil {
		return nil, nil, err
	}
	return collateral, debt, nil
}

// executeLiquidation zeroes an unsafe position and distributes its
// collateral: the penalty cut to the recipient, the remainder back to the
// owner. The caller must hold the position lock and have verified
// eligibility. On a failed transfer the prior state is restored so the
// operation leaves no observable change.
func (e *Engine) executeLiquidation(pos *Position, recipient [20]byte, penalty *big.Int) (*big.Int, *big.Int, error) {
	asset, err := e.collateralAsset(pos.CollateralType)
	if err != nil {
		return nil, nil, err
	}
	typeLock := e.collateralLock(pos.CollateralType)
	typeLock.Lock()
	defer typeLock.Unlock()

	aggregate, err := e.directory.AggregateDebt(pos.CollateralType)
	if err != nil {
		return nil, nil, err
	}
	priorCollateral := new(big.Int).Set(pos.Collateral)
	priorDebt := new(big.Int).Set(pos.Debt)
	remainder := new(big.Int).Sub(priorCollateral, penalty)

	pos.Collateral = big.NewInt(0)
	pos.Debt = big.NewInt(0)
	pos.Liquidated = true
	if err := e.state.CDPPutPosition(pos); err != nil {
		return nil, nil, err
	}
	newAggregate := new(big.Int).Sub(aggregate, priorDebt)
	if newAggregate.Sign() < 0 {
		newAggregate = big.NewInt(0)
	}
	if err := e.directory.SetAggregateDebt(pos.CollateralType, newAggregate); err != nil {
		if restoreErr := e.restorePosition(pos, priorCollateral, priorDebt); restoreErr != nil {
			err = errors.Join(err, restoreErr)
		}
		return nil, nil, err
	}

	if penalty.Sign() > 0 {
		if err := asset.TransferOut(recipient, penalty); err != nil {
			return nil, nil, e.rollbackLiquidation(pos, asset, [20]byte{}, nil, priorCollateral, priorDebt, aggregate, err)
		}
	}
	if remainder.Sign() > 0 {
		if err := asset.TransferOut(pos.Owner, remainder); err != nil {
			return nil, nil, e.rollbackLiquidation(pos, asset, recipient, penalty, priorCollateral, priorDebt, aggregate, err)
		}
	}
	e.emit(NewPositionLiquidatedEvent(pos.ID, pos.Owner, recipient, priorCollateral, priorDebt, penalty))
	if e.metrics != nil {
		e.metrics.RecordLiquidation()
	}
	return priorCollateral, priorDebt, nil
}

func (e *Engine) restorePosition(pos *Position, collateral, debt *big.Int) error {
	pos.Collateral = new(big.Int).Set(collateral)
	pos.Debt = new(big.Int).Set(debt)
	pos.Liquidated = false
	return e.state.CDPPutPosition(pos)
}

// rollbackLiquidation undoes a partially executed seizure: an already-paid
// penalty is pulled back, the position record and the aggregate counter are
// restored. Every rollback failure is joined onto the original error.
func (e *Engine) rollbackLiquidation(pos *Position, asset CollateralAsset, paidRecipient [20]byte, paidPenalty, collateral, debt, aggregate *big.Int, err error) error {
	if paidPenalty != nil && paidPenalty.Sign() > 0 {
		if clawErr := asset.TransferIn(paidRecipient, paidPenalty); clawErr != nil {
			err = errors.Join(err, clawErr)
		}
	}
	if restoreErr := e.restorePosition(pos, collateral, debt); restoreErr != nil {
		err = errors.Join(err, restoreErr)
	}
	if restoreErr := e.directory.SetAggregateDebt(pos.CollateralType, aggregate); restoreErr != nil {
		err = errors.Join(err, restoreErr)
	}
	return err
}

// MarkUnsafe checks the live health of a position and, when unsafe, signals
// the wired coordinator so the cooling-off window starts counting. Anyone may
// trigger the check; the mark is only recorded when the ledger actually
// reports the position unsafe.
func (e *Engine) MarkUnsafe(id uint64) (err error) {
	started := time.Now()
	defer func() { e.observe("mark_unsafe", started, err) }()

	if err = e.ready(); err != nil {
		return err
	}
	unsafe, err := e.IsLiquidatable(id)
	if err != nil {
		return err
	}
	if !unsafe {
		return ErrNotLiquidatable
	}
	if e.marker == nil {
		return nil
	}
	return e.marker.MarkLiquidatable(id)
}

// --- Views ---

// Owner returns the position's owner account.
func (e *Engine) Owner(id uint64) ([20]byte, error) {
	if err := e.ready(); err != nil {
		return [20]byte{}, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return [20]byte{}, err
	}
	return pos.Owner, nil
}

// CollateralType returns the position's collateral symbol.
func (e *Engine) CollateralType(id uint64) (string, error) {
	if err := e.ready(); err != nil {
		return "", err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return "", err
	}
	return pos.CollateralType, nil
}

// CollateralAmount returns the position's locked collateral.
func (e *Engine) CollateralAmount(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pos.Collateral), nil
}

// DebtAmount returns the position's outstanding debt.
func (e *Engine) DebtAmount(id uint64) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(pos.Debt), nil
}

// IsLiquidated reports whether the position has reached its terminal state.
func (e *Engine) IsLiquidated(id uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return false, err
	}
	return pos.Liquidated, nil
}

// IsLiquidatable reports whether the position currently fails the live
// collateralization check. Directory values are read at call time, never
// cached, so parameter updates retroactively change the answer.
func (e *Engine) IsLiquidatable(id uint64) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return false, err
	}
	if pos.Liquidated {
		return false, nil
	}
	ratio, err := e.directory.LiquidationRatioBps(pos.CollateralType)
	if err != nil {
		return false, err
	}
	return !IsSafe(pos.Collateral, pos.Debt, ratio), nil
}

// Position returns a copy of the stored position record.
func (e *Engine) Position(id uint64) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(id)
	if err != nil {
		return nil, err
	}
	return pos.Clone(), nil
}

// PositionsByOwner returns the identifiers of every position the owner has
// opened, including liquidated ones.
func (e *Engine) PositionsByOwner(owner [20]byte) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.state.CDPPositionsByOwner(owner)
}

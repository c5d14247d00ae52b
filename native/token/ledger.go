package token

import (
	"errors"
	"math/big"
	"sync"

	nativecommon "cdpcore/native/common"
)

var (
	errNilState = errors.New("token ledger: state not configured")

	// ErrInvalidAmount rejects zero or negative quantities.
	ErrInvalidAmount = errors.New("token ledger: amount must be positive")
	// ErrInsufficientBalance is returned when a burn or transfer exceeds the
	// account balance.
	ErrInsufficientBalance = errors.New("token ledger: insufficient balance")
	// ErrSupplyCapExceeded is returned when a mint would push total supply
	// above the configured cap.
	ErrSupplyCapExceeded = errors.New("token ledger: supply cap exceeded")
)

const moduleName = "token"

type ledgerState interface {
	TokenBalance(symbol string, addr [20]byte) (*big.Int, error)
	TokenSetBalance(symbol string, addr [20]byte, amount *big.Int) error
	TokenSupply(symbol string) (*big.Int, error)
	TokenSetSupply(symbol string, amount *big.Int) error
}

// Ledger is a mintable and burnable fungible balance ledger for a single
// token symbol, with an optional total supply cap. A nil cap means unbounded.
type Ledger struct {
	symbol string
	cap    *big.Int
	state  ledgerState
	pauses nativecommon.PauseView

	mu sync.Mutex
}

// NewLedger creates a ledger for the given symbol. The supply cap is cloned;
// pass nil for an uncapped token.
func NewLedger(symbol string, supplyCap *big.Int) *Ledger {
	l := &Ledger{symbol: symbol}
	if supplyCap != nil {
		l.cap = new(big.Int).Set(supplyCap)
	}
	return l
}

// SetState configures the state backend used by the ledger.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// SetPauses wires the pause switches guarding ledger mutations.
func (l *Ledger) SetPauses(p nativecommon.PauseView) { l.pauses = p }

// Symbol returns the token symbol the ledger accounts for.
func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) balance(addr [20]byte) (*big.Int, error) {
	value, err := l.state.TokenBalance(l.symbol, addr)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *Ledger) supply() (*big.Int, error) {
	value, err := l.state.TokenSupply(l.symbol)
	if err != nil {
		return nil, err
	}
	if value == nil {
		return big.NewInt(0), nil
	}
	return value, nil
}

// Mint credits freshly issued tokens to the recipient, enforcing the supply
// cap.
func (l *Ledger) Mint(to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, err := l.supply()
	if err != nil {
		return err
	}
	newSupply := new(big.Int).Add(supply, amount)
	if l.cap != nil && newSupply.Cmp(l.cap) > 0 {
		return ErrSupplyCapExceeded
	}
	balance, err := l.balance(to)
	if err != nil {
		return err
	}
	if err := l.state.TokenSetBalance(l.symbol, to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return l.state.TokenSetSupply(l.symbol, newSupply)
}

// Burn destroys tokens held by the account. The burn fails outright when the
// balance does not cover the amount.
func (l *Ledger) Burn(from [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.balance(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	supply, err := l.supply()
	if err != nil {
		return err
	}
	newSupply := new(big.Int).Sub(supply, amount)
	if newSupply.Sign() < 0 {
		newSupply = big.NewInt(0)
	}
	if err := l.state.TokenSetBalance(l.symbol, from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	return l.state.TokenSetSupply(l.symbol, newSupply)
}

// Transfer moves tokens between two accounts without changing total supply.
func (l *Ledger) Transfer(from, to [20]byte, amount *big.Int) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(l.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fromBalance, err := l.balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := l.balance(to)
	if err != nil {
		return err
	}
	if err := l.state.TokenSetBalance(l.symbol, from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.TokenSetBalance(l.symbol, to, new(big.Int).Add(toBalance, amount))
}

// BalanceOf returns the account balance.
func (l *Ledger) BalanceOf(addr [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.balance(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance), nil
}

// TotalSupply returns the outstanding token supply.
func (l *Ledger) TotalSupply() (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	supply, err := l.supply()
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(supply), nil
}

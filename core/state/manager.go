package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"cdpcore/native/cdp"
	"cdpcore/storage"
)

// Manager provides typed read/write access to engine state over a generic
// key-value database. Record payloads are RLP encoded and keys are hashed
// with keccak256 so the backing store only ever sees fixed-width keys.
type Manager struct {
	db storage.Database

	counterMu sync.Mutex
	pauseMu   sync.RWMutex
	roleMu    sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	positionPrefix     = []byte("cdp/position:")
	positionCounterKey = ethcrypto.Keccak256([]byte("cdp/position-seq"))
	ownerIndexPrefix   = []byte("cdp/owner:")
	collateralPrefix   = []byte("cdp/collateral:")
	collateralListKey  = ethcrypto.Keccak256([]byte("cdp/collateral-list"))
	markPrefix         = []byte("cdp/mark:")
	balancePrefix      = []byte("token/balance:")
	supplyPrefix       = []byte("token/supply:")
	rolePrefix         = []byte("role:")
	pausePrefix        = []byte("pause:")
)

func positionKey(id uint64) []byte {
	buf := make([]byte, len(positionPrefix)+8)
	copy(buf, positionPrefix)
	binary.BigEndian.PutUint64(buf[len(positionPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func ownerIndexKey(owner [20]byte) []byte {
	buf := make([]byte, len(ownerIndexPrefix)+len(owner))
	copy(buf, ownerIndexPrefix)
	copy(buf[len(ownerIndexPrefix):], owner[:])
	return ethcrypto.Keccak256(buf)
}

func collateralKey(symbol string) []byte {
	buf := make([]byte, len(collateralPrefix)+len(symbol))
	copy(buf, collateralPrefix)
	copy(buf[len(collateralPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func markKey(id uint64) []byte {
	buf := make([]byte, len(markPrefix)+8)
	copy(buf, markPrefix)
	binary.BigEndian.PutUint64(buf[len(markPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(symbol string, addr [20]byte) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr[:])
	return ethcrypto.Keccak256(buf)
}

func supplyKey(symbol string) []byte {
	buf := make([]byte, len(supplyPrefix)+len(symbol))
	copy(buf, supplyPrefix)
	copy(buf[len(supplyPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

func pauseKey(module string) []byte {
	buf := make([]byte, len(pausePrefix)+len(module))
	copy(buf, pausePrefix)
	copy(buf[len(pausePrefix):], module)
	return ethcrypto.Keccak256(buf)
}

// get returns the raw value for a key, mapping a missing key to (nil, nil).
func (m *Manager) get(key []byte) ([]byte, error) {
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// --- Position ledger state ---

// CDPGetPosition loads a position record. A missing identifier yields nil.
func (m *Manager) CDPGetPosition(id uint64) (*cdp.Position, error) {
	data, err := m.get(positionKey(id))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	pos := new(cdp.Position)
	if err := rlp.DecodeBytes(data, pos); err != nil {
		return nil, fmt.Errorf("state: decode position %d: %w", id, err)
	}
	return pos, nil
}

// CDPPutPosition persists a position record.
func (m *Manager) CDPPutPosition(pos *cdp.Position) error {
	if pos == nil {
		return fmt.Errorf("state: position must not be nil")
	}
	encoded, err := rlp.EncodeToBytes(pos.Clone())
	if err != nil {
		return fmt.Errorf("state: encode position %d: %w", pos.ID, err)
	}
	return m.db.Put(positionKey(pos.ID), encoded)
}

// CDPNextPositionID allocates the next position identifier. The counter is
// monotonic and identifiers are never reused, so removals can never recycle
// an id.
func (m *Manager) CDPNextPositionID() (uint64, error) {
	m.counterMu.Lock()
	defer m.counterMu.Unlock()
	data, err := m.get(positionCounterKey)
	if err != nil {
		return 0, err
	}
	var counter uint64
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &counter); err != nil {
			return 0, fmt.Errorf("state: decode position counter: %w", err)
		}
	}
	counter++
	encoded, err := rlp.EncodeToBytes(counter)
	if err != nil {
		return 0, err
	}
	if err := m.db.Put(positionCounterKey, encoded); err != nil {
		return 0, err
	}
	return counter, nil
}

// CDPOwnerIndexAppend records a position id in the owner's enumeration
// index. Duplicate ids are ignored to keep the index deterministic.
func (m *Manager) CDPOwnerIndexAppend(owner [20]byte, id uint64) error {
	key := ownerIndexKey(owner)
	ids, err := m.ownerIndex(key)
	if err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	encoded, err := rlp.EncodeToBytes(ids)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// CDPPositionsByOwner returns every position id recorded for the owner.
func (m *Manager) CDPPositionsByOwner(owner [20]byte) ([]uint64, error) {
	return m.ownerIndex(ownerIndexKey(owner))
}

func (m *Manager) ownerIndex(key []byte) ([]uint64, error) {
	data, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []uint64{}, nil
	}
	var ids []uint64
	if err := rlp.DecodeBytes(data, &ids); err != nil {
		return nil, fmt.Errorf("state: decode owner index: %w", err)
	}
	return ids, nil
}

// --- Collateral directory state ---

// CDPGetCollateralConfig loads a collateral configuration. A missing symbol
// yields nil.
func (m *Manager) CDPGetCollateralConfig(symbol string) (*cdp.CollateralConfig, error) {
	data, err := m.get(collateralKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	cfg := new(cdp.CollateralConfig)
	if err := rlp.DecodeBytes(data, cfg); err != nil {
		return nil, fmt.Errorf("state: decode collateral %s: %w", symbol, err)
	}
	return cfg, nil
}

// CDPPutCollateralConfig persists a collateral configuration and records the
// symbol in the directory index.
func (m *Manager) CDPPutCollateralConfig(cfg *cdp.CollateralConfig) error {
	if cfg == nil {
		return fmt.Errorf("state: collateral config must not be nil")
	}
	encoded, err := rlp.EncodeToBytes(cfg.Clone())
	if err != nil {
		return fmt.Errorf("state: encode collateral %s: %w", cfg.Symbol, err)
	}
	if err := m.db.Put(collateralKey(cfg.Symbol), encoded); err != nil {
		return err
	}
	list, err := m.CDPCollateralList()
	if err != nil {
		return err
	}
	for _, existing := range list {
		if existing == cfg.Symbol {
			return nil
		}
	}
	list = append(list, cfg.Symbol)
	return m.writeCollateralList(list)
}

// CDPDeleteCollateralConfig removes a collateral configuration and its index
// entry.
func (m *Manager) CDPDeleteCollateralConfig(symbol string) error {
	if err := m.db.Delete(collateralKey(symbol)); err != nil {
		return err
	}
	list, err := m.CDPCollateralList()
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if existing != symbol {
			filtered = append(filtered, existing)
		}
	}
	return m.writeCollateralList(filtered)
}

// CDPCollateralList returns the registered collateral symbols in
// registration order.
func (m *Manager) CDPCollateralList() ([]string, error) {
	data, err := m.get(collateralListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, fmt.Errorf("state: decode collateral list: %w", err)
	}
	return list, nil
}

func (m *Manager) writeCollateralList(list []string) error {
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(collateralListKey, encoded)
}

// --- Liquidation mark state ---

// CDPGetLiquidationMark returns the first-observed unsafe timestamp for the
// position. The boolean reports whether a mark exists.
func (m *Manager) CDPGetLiquidationMark(id uint64) (uint64, bool, error) {
	data, err := m.get(markKey(id))
	if err != nil {
		return 0, false, err
	}
	if len(data) == 0 {
		return 0, false, nil
	}
	var markedAt uint64
	if err := rlp.DecodeBytes(data, &markedAt); err != nil {
		return 0, false, fmt.Errorf("state: decode liquidation mark %d: %w", id, err)
	}
	return markedAt, true, nil
}

// CDPPutLiquidationMark records the first-observed unsafe timestamp.
func (m *Manager) CDPPutLiquidationMark(id uint64, markedAt uint64) error {
	encoded, err := rlp.EncodeToBytes(markedAt)
	if err != nil {
		return err
	}
	return m.db.Put(markKey(id), encoded)
}

// CDPClearLiquidationMark removes the mark after liquidation executes.
func (m *Manager) CDPClearLiquidationMark(id uint64) error {
	return m.db.Delete(markKey(id))
}

// --- Token ledger state ---

// TokenBalance returns the balance of an account for a token symbol.
func (m *Manager) TokenBalance(symbol string, addr [20]byte) (*big.Int, error) {
	data, err := m.get(balanceKey(symbol, addr))
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if len(data) == 0 {
		return balance, nil
	}
	if err := rlp.DecodeBytes(data, balance); err != nil {
		return nil, fmt.Errorf("state: decode balance %s: %w", symbol, err)
	}
	return balance, nil
}

// TokenSetBalance overwrites the balance of an account. Negative balances
// are rejected.
func (m *Manager) TokenSetBalance(symbol string, addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(symbol, addr), encoded)
}

// TokenSupply returns the outstanding supply of a token symbol.
func (m *Manager) TokenSupply(symbol string) (*big.Int, error) {
	data, err := m.get(supplyKey(symbol))
	if err != nil {
		return nil, err
	}
	supply := new(big.Int)
	if len(data) == 0 {
		return supply, nil
	}
	if err := rlp.DecodeBytes(data, supply); err != nil {
		return nil, fmt.Errorf("state: decode supply %s: %w", symbol, err)
	}
	return supply, nil
}

// TokenSetSupply overwrites the outstanding supply of a token symbol.
func (m *Manager) TokenSetSupply(symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("state: supply must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(supplyKey(symbol), encoded)
}

// --- Role registry ---

// SetRole grants the role to the address. Granting an already-held role is a
// no-op.
func (m *Manager) SetRole(role string, addr [20]byte) error {
	normalized := strings.TrimSpace(role)
	if normalized == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	m.roleMu.Lock()
	defer m.roleMu.Unlock()
	members, err := m.roleMembers(normalized)
	if err != nil {
		return err
	}
	for _, member := range members {
		if bytes.Equal(member, addr[:]) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr[:]...))
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	return m.db.Put(roleKey(normalized), encoded)
}

// UnsetRole revokes the role from the address.
func (m *Manager) UnsetRole(role string, addr [20]byte) error {
	normalized := strings.TrimSpace(role)
	if normalized == "" {
		return fmt.Errorf("state: role must not be empty")
	}
	m.roleMu.Lock()
	defer m.roleMu.Unlock()
	members, err := m.roleMembers(normalized)
	if err != nil {
		return err
	}
	filtered := members[:0]
	for _, member := range members {
		if !bytes.Equal(member, addr[:]) {
			filtered = append(filtered, member)
		}
	}
	encoded, err := rlp.EncodeToBytes(filtered)
	if err != nil {
		return err
	}
	return m.db.Put(roleKey(normalized), encoded)
}

// HasRole reports whether the address holds the role. Lookup failures read as
// "no role" so authorization always fails closed.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	members, err := m.roleMembers(strings.TrimSpace(role))
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr[:]) {
			return true
		}
	}
	return false
}

func (m *Manager) roleMembers(role string) ([][]byte, error) {
	data, err := m.get(roleKey(role))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return [][]byte{}, nil
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, fmt.Errorf("state: decode role %s: %w", role, err)
	}
	return members, nil
}

// --- Pause switches ---

// SetModulePaused flips the pause switch for a module's mutating flows.
func (m *Manager) SetModulePaused(module string, paused bool) error {
	normalized := strings.TrimSpace(module)
	if normalized == "" {
		return fmt.Errorf("state: module must not be empty")
	}
	m.pauseMu.Lock()
	defer m.pauseMu.Unlock()
	encoded, err := rlp.EncodeToBytes(paused)
	if err != nil {
		return err
	}
	return m.db.Put(pauseKey(normalized), encoded)
}

// IsPaused reports whether a module's mutating flows are halted. It
// implements the PauseView consumed by the engines.
func (m *Manager) IsPaused(module string) bool {
	m.pauseMu.RLock()
	defer m.pauseMu.RUnlock()
	data, err := m.get(pauseKey(strings.TrimSpace(module)))
	if err != nil || len(data) == 0 {
		return false
	}
	var paused bool
	if err := rlp.DecodeBytes(data, &paused); err != nil {
		return false
	}
	return paused
}

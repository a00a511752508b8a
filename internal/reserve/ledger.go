/*
Reserve implements the fund reservation ledger.

# Module
  - per-asset balance counters: available / reserved / confirmed outflow
  - reservation tokens: one live token per order, immutable once terminal

# Source
  - reserve requests from core submit
  - confirm/release/settle from osm transitions
  - free-balance syncs from the venue account feed

# Produce
  - reservation state consumed by osm and snapshots

# Sharded
  - per asset (independent locks; no cross-asset transaction exists)
*/
package reserve

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"main/internal/schema"
)

var (
	ErrInsufficientFunds      = errors.New("insufficient available funds")
	ErrUnknownAsset           = errors.New("asset has no balance state")
	ErrUnknownToken           = errors.New("reservation token not found")
	ErrAlreadyTerminal        = errors.New("reservation token already terminal")
	ErrDuplicateReservation   = errors.New("order already holds a live reservation")
	ErrInvalidReservationArgs = errors.New("invalid reservation arguments")
)

// TokenState tracks the lifecycle of a reservation token.
type TokenState uint8

const (
	TokenReserved TokenState = iota + 1
	TokenConfirmed
	TokenReleased
)

// Token is a hold against an asset balance. Amount is the original hold,
// Remaining the part neither confirmed nor released yet.
type Token struct {
	ID        uuid.UUID
	OrderID   uint64
	Asset     schema.AssetID
	Amount    schema.Amount
	Remaining schema.Amount
	State     TokenState
	CreatedAt int64
	ExpiresAt int64
}

// Balance is a point-in-time view of one asset's counters. Unsynced is the
// outflow confirmed since the last venue balance sync; the ledger maintains
// Available + Reserved + Unsynced == LastFree after every mutation.
type Balance struct {
	Available schema.Amount
	Reserved  schema.Amount
	Confirmed schema.Amount
	Unsynced  schema.Amount
	LastFree  schema.Amount
}

// Config controls reservation defaults.
type Config struct {
	TTL             time.Duration
	SafetyMarginBps int64
}

const defaultTTL = 30 * time.Second

type assetState struct {
	mu  sync.Mutex
	bal Balance
}

// Ledger tracks balances and reservation tokens. All mutations for one asset
// are serialized under that asset's lock; the check-and-reserve step is a
// single critical section, never a read-then-write across two.
type Ledger struct {
	mu      sync.RWMutex
	assets  map[schema.AssetID]*assetState
	tokens  map[uuid.UUID]*Token
	byOrder map[uint64]uuid.UUID

	cfg Config
	now func() int64
	log *zap.Logger
}

// NewLedger creates an empty reservation ledger.
func NewLedger(cfg Config, log *zap.Logger) *Ledger {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		assets:  make(map[schema.AssetID]*assetState),
		tokens:  make(map[uuid.UUID]*Token),
		byOrder: make(map[uint64]uuid.UUID),
		cfg:     cfg,
		now:     func() int64 { return time.Now().UTC().UnixNano() },
		log:     log,
	}
}

// WithClock swaps the timestamp source.
func (l *Ledger) WithClock(now func() int64) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

// SetFreeBalance applies a venue-reported free balance for an asset and
// returns the resulting counters. Reserved holds survive the sync; the
// unsynced confirmed outflow is folded into the new baseline.
func (l *Ledger) SetFreeBalance(asset schema.AssetID, free schema.Amount) Balance {
	st := l.assetState(asset)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.bal.LastFree = free
	st.bal.Unsynced = 0
	avail := free - st.bal.Reserved
	if avail < 0 {
		avail = 0
	}
	st.bal.Available = avail
	return st.bal
}

// Reserve places a hold of amount against the asset for the order.
func (l *Ledger) Reserve(asset schema.AssetID, amount schema.Amount, orderID uint64) (Token, error) {
	return l.ReserveWithID(uuid.New(), asset, amount, orderID, l.now())
}

// ReserveWithID is Reserve with a caller-supplied token identity and
// timestamp; replay uses it to reproduce recorded reservations exactly.
func (l *Ledger) ReserveWithID(id uuid.UUID, asset schema.AssetID, amount schema.Amount, orderID uint64, now int64) (Token, error) {
	if amount <= 0 || orderID == 0 {
		return Token{}, ErrInvalidReservationArgs
	}

	l.mu.Lock()
	if prev, ok := l.byOrder[orderID]; ok {
		l.mu.Unlock()
		l.log.Warn("duplicate reservation attempt",
			zap.Uint64("orderId", orderID),
			zap.String("existingToken", prev.String()))
		return Token{}, ErrDuplicateReservation
	}
	// claim the order slot before leaving the map lock so a concurrent
	// reserve for the same order cannot slip past the check
	l.byOrder[orderID] = id
	l.mu.Unlock()

	st := l.assetState(asset)
	st.mu.Lock()
	max := st.bal.Available
	if l.cfg.SafetyMarginBps > 0 {
		max = max - mulBps(max, l.cfg.SafetyMarginBps)
	}
	if amount > max {
		st.mu.Unlock()
		l.mu.Lock()
		delete(l.byOrder, orderID)
		l.mu.Unlock()
		return Token{}, ErrInsufficientFunds
	}
	st.bal.Available -= amount
	st.bal.Reserved += amount
	st.mu.Unlock()

	tok := &Token{
		ID:        id,
		OrderID:   orderID,
		Asset:     asset,
		Amount:    amount,
		Remaining: amount,
		State:     TokenReserved,
		CreatedAt: now,
		ExpiresAt: now + l.cfg.TTL.Nanoseconds(),
	}

	l.mu.Lock()
	l.tokens[id] = tok
	l.mu.Unlock()

	return *tok, nil
}

// Confirm moves amount of the token's hold from reserved to confirmed
// outflow. Amounts above the remaining hold are clamped. Confirming an
// already-CONFIRMED token is a no-op success; a RELEASED token fails with
// ErrAlreadyTerminal. Neither ever re-applies the balance delta.
func (l *Ledger) Confirm(tokenID uuid.UUID, amount schema.Amount) error {
	if amount <= 0 {
		return ErrInvalidReservationArgs
	}
	tok, st, err := l.lookup(tokenID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch tok.State {
	case TokenConfirmed:
		return nil
	case TokenReleased:
		return ErrAlreadyTerminal
	}

	if amount > tok.Remaining {
		l.log.Warn("confirm clamped to remaining hold",
			zap.String("token", tokenID.String()),
			zap.Int64("amount", int64(amount)),
			zap.Int64("remaining", int64(tok.Remaining)))
		amount = tok.Remaining
	}
	st.bal.Reserved -= amount
	st.bal.Confirmed += amount
	st.bal.Unsynced += amount
	tok.Remaining -= amount
	if tok.Remaining == 0 {
		tok.State = TokenConfirmed
		l.unbind(tok.OrderID)
	}
	return nil
}

// Release returns the token's remaining hold to available. Releasing an
// already-RELEASED token is a no-op success; a CONFIRMED token fails with
// ErrAlreadyTerminal.
func (l *Ledger) Release(tokenID uuid.UUID) error {
	tok, st, err := l.lookup(tokenID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch tok.State {
	case TokenReleased:
		return nil
	case TokenConfirmed:
		return ErrAlreadyTerminal
	}

	st.bal.Reserved -= tok.Remaining
	st.bal.Available += tok.Remaining
	tok.Remaining = 0
	tok.State = TokenReleased
	l.unbind(tok.OrderID)
	return nil
}

// Settle terminalizes a token as CONFIRMED, returning any unconfirmed
// remainder (rounding dust after a final fill) to available. Idempotent on
// CONFIRMED tokens; fails on RELEASED ones.
func (l *Ledger) Settle(tokenID uuid.UUID) error {
	tok, st, err := l.lookup(tokenID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	switch tok.State {
	case TokenConfirmed:
		return nil
	case TokenReleased:
		return ErrAlreadyTerminal
	}

	if tok.Remaining > 0 {
		st.bal.Reserved -= tok.Remaining
		st.bal.Available += tok.Remaining
		tok.Remaining = 0
	}
	tok.State = TokenConfirmed
	l.unbind(tok.OrderID)
	return nil
}

// Available returns the asset's available balance.
func (l *Ledger) Available(asset schema.AssetID) schema.Amount {
	bal, ok := l.BalanceOf(asset)
	if !ok {
		return 0
	}
	return bal.Available
}

// BalanceOf returns the asset's counters.
func (l *Ledger) BalanceOf(asset schema.AssetID) (Balance, bool) {
	l.mu.RLock()
	st, ok := l.assets[asset]
	l.mu.RUnlock()
	if !ok {
		return Balance{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.bal, true
}

// TokenByID returns a copy of the token.
func (l *Ledger) TokenByID(id uuid.UUID) (Token, bool) {
	l.mu.RLock()
	tok, ok := l.tokens[id]
	l.mu.RUnlock()
	if !ok {
		return Token{}, false
	}
	st := l.assetState(tok.Asset)
	st.mu.Lock()
	defer st.mu.Unlock()
	return *tok, true
}

// LiveTokenOf returns the order's live reservation, if any.
func (l *Ledger) LiveTokenOf(orderID uint64) (Token, bool) {
	l.mu.RLock()
	id, ok := l.byOrder[orderID]
	l.mu.RUnlock()
	if !ok {
		return Token{}, false
	}
	return l.TokenByID(id)
}

// LiveTokenCount returns the number of non-terminal tokens.
func (l *Ledger) LiveTokenCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byOrder)
}

// Assets returns the asset ids with balance state, for snapshots.
func (l *Ledger) Assets() []schema.AssetID {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]schema.AssetID, 0, len(l.assets))
	for id := range l.assets {
		out = append(out, id)
	}
	return out
}

func (l *Ledger) assetState(asset schema.AssetID) *assetState {
	l.mu.RLock()
	st, ok := l.assets[asset]
	l.mu.RUnlock()
	if ok {
		return st
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.assets[asset]; ok {
		return st
	}
	st = &assetState{}
	l.assets[asset] = st
	return st
}

func (l *Ledger) lookup(tokenID uuid.UUID) (*Token, *assetState, error) {
	l.mu.RLock()
	tok, ok := l.tokens[tokenID]
	l.mu.RUnlock()
	if !ok {
		return nil, nil, ErrUnknownToken
	}
	return tok, l.assetState(tok.Asset), nil
}

func (l *Ledger) unbind(orderID uint64) {
	l.mu.Lock()
	delete(l.byOrder, orderID)
	l.mu.Unlock()
}

// mulBps multiplies before dividing so balances under 10000 still carry a
// margin; products that would overflow divide first instead.
func mulBps(v schema.Amount, bps int64) schema.Amount {
	x := int64(v)
	if bps > 0 && x > math.MaxInt64/bps {
		return schema.Amount(x / 10000 * bps)
	}
	return schema.Amount(x * bps / 10000)
}

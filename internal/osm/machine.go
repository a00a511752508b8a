/*
Osm is the order state machine.

# Module
  - order registry keyed by order id, idempotent on client order id
  - transition table for the normal path, correction branch for reconciliation
  - reservation confirm/release driven by execution reports
  - timeout sweep for orders never acknowledged
  - terminal orders archived out of memory after a grace window

# Source
  - registrations from core submit
  - primary-channel execution reports from feed
  - corrections from recon

# Produce
  - ledger events for every successful mutation, appended before the
    mutation is visible to any other component
  - gate releases on terminal states

# Sharded
  - per order (striped locks; no transition for one order ever runs
    concurrently with another for the same order)
*/
package osm

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/reserve"
	"main/internal/schema"
)

var (
	ErrDuplicateClientOrderID = errors.New("client order id already registered")
	ErrDuplicateOrder         = errors.New("order already registered")
	ErrUnknownOrder           = errors.New("order not found")
	ErrInvalidTransition      = errors.New("invalid order state transition")
	ErrInvalidFill            = errors.New("invalid fill quantity")
)

const stripeCount = 64

// Order is the machine's view of one order.
type Order struct {
	ID            uint64
	ClientOrderID schema.Str32
	AccountID     schema.AccountID
	StrategyID    schema.StrategyID
	SymbolID      schema.SymbolID
	VenueID       schema.VenueID
	Side          schema.OrderSide
	Type          schema.OrderType
	TimeInForce   schema.TimeInForce
	Price         schema.Price
	Qty           schema.Quantity
	LeavesQty     schema.Quantity
	FilledQty     schema.Quantity
	State         schema.OrderState
	TokenID       uuid.UUID
	RegisteredAt  int64
	AckedAt       int64
	TerminalAt    int64

	CancelAttempts int
	Unresolved     bool
}

// Releaser receives the terminal-state notification that returns an order's
// admitted exposure. The gate grants, the machine releases.
type Releaser interface {
	Release(orderID uint64)
}

// TimeoutContext describes an unacknowledged order to the timeout policy.
type TimeoutContext struct {
	OrderID      uint64
	SymbolID     schema.SymbolID
	VenueID      schema.VenueID
	RegisteredAt int64
}

// TimeoutFn decides how long an order may wait for its first ack.
type TimeoutFn func(TimeoutContext) time.Duration

const defaultAckTimeout = 30 * time.Second

// Config controls machine policies. ArchiveAfter is how long a terminal
// order stays queryable before the sweep drops it from memory;
// ExecDedupeSize bounds the redelivery window (zero picks a default).
type Config struct {
	AckTimeout       time.Duration
	MaxCancelRetries int
	ArchiveAfter     time.Duration
	ExecDedupeSize   int
	TimeoutFn        TimeoutFn
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = defaultAckTimeout
	}
	if c.MaxCancelRetries <= 0 {
		c.MaxCancelRetries = 3
	}
	if c.ArchiveAfter <= 0 {
		c.ArchiveAfter = 5 * time.Minute
	}
	return c
}

// Machine tracks every registered order. A nil journal disables event
// emission; rebuild uses that mode so replaying a ledger does not append
// the same events again.
type Machine struct {
	mu       sync.RWMutex
	orders   map[uint64]*Order
	byClient map[schema.Str32]uint64
	seenExec *schema.ExecSet
	stripes  [stripeCount]sync.Mutex

	cfg     Config
	journal *ledger.Ledger
	funds   *reserve.Ledger
	gate    Releaser
	now     func() int64
	log     *zap.Logger
}

// NewMachine creates a machine over the given reservation ledger.
func NewMachine(cfg Config, journal *ledger.Ledger, funds *reserve.Ledger, gate Releaser, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Machine{
		orders:   make(map[uint64]*Order),
		byClient: make(map[schema.Str32]uint64),
		seenExec: schema.NewExecSet(cfg.ExecDedupeSize),
		cfg:      cfg,
		journal:  journal,
		funds:    funds,
		gate:     gate,
		now:      func() int64 { return time.Now().UTC().UnixNano() },
		log:      log,
	}
}

// WithClock swaps the timestamp source.
func (m *Machine) WithClock(now func() int64) *Machine {
	if now != nil {
		m.now = now
	}
	return m
}

// Register records a new order in NEW state. The client order id is the
// idempotency boundary: a duplicate fails and the caller must treat the
// order as already submitted, never retry.
func (m *Machine) Register(o Order) error {
	if o.ID == 0 {
		return ErrUnknownOrder
	}
	lock := m.stripe(o.ID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	if _, ok := m.orders[o.ID]; ok {
		m.mu.Unlock()
		return ErrDuplicateOrder
	}
	if !o.ClientOrderID.IsZero() {
		if _, ok := m.byClient[o.ClientOrderID]; ok {
			m.mu.Unlock()
			return ErrDuplicateClientOrderID
		}
		m.byClient[o.ClientOrderID] = o.ID
	}
	m.mu.Unlock()

	o.State = schema.OrderStateNew
	o.LeavesQty = o.Qty
	if o.RegisteredAt == 0 {
		o.RegisteredAt = m.now()
	}

	if err := m.journalOrderNew(o); err != nil {
		m.mu.Lock()
		delete(m.byClient, o.ClientOrderID)
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.orders[o.ID] = &o
	m.mu.Unlock()
	return nil
}

// Order returns a copy of the order.
func (m *Machine) Order(id uint64) (Order, bool) {
	lock := m.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	o, ok := m.orders[id]
	m.mu.RUnlock()
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// StateOf returns the order's current state.
func (m *Machine) StateOf(id uint64) schema.OrderState {
	o, ok := m.Order(id)
	if !ok {
		return schema.OrderStateUnknown
	}
	return o.State
}

// ByClientOrderID resolves a client order id to its order.
func (m *Machine) ByClientOrderID(clientID schema.Str32) (Order, bool) {
	m.mu.RLock()
	id, ok := m.byClient[clientID]
	m.mu.RUnlock()
	if !ok {
		return Order{}, false
	}
	return m.Order(id)
}

// OpenOrders returns copies of every non-terminal order.
func (m *Machine) OpenOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Order, 0, len(m.orders))
	for _, o := range m.orders {
		if !o.State.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// UnresolvedOrders returns orders whose cancel retries were exhausted; the
// reconciler owns settling their true state.
func (m *Machine) UnresolvedOrders() []Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Order
	for _, o := range m.orders {
		if o.Unresolved && !o.State.IsTerminal() {
			out = append(out, *o)
		}
	}
	return out
}

// Len returns the number of registered orders.
func (m *Machine) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.orders)
}

// ArchiveTerminal drops terminal orders older than the archive window from
// memory and returns their ids. Every event of an archived order is already
// in the ledger; the in-memory registry only has to cover the window in
// which late reports and reconciliation can still reference it.
func (m *Machine) ArchiveTerminal() []uint64 {
	now := m.now()
	window := m.cfg.ArchiveAfter.Nanoseconds()

	m.mu.Lock()
	defer m.mu.Unlock()

	var archived []uint64
	for id, o := range m.orders {
		if !o.State.IsTerminal() || o.TerminalAt == 0 {
			continue
		}
		if now-o.TerminalAt < window {
			continue
		}
		delete(m.orders, id)
		if cur, ok := m.byClient[o.ClientOrderID]; ok && cur == id {
			delete(m.byClient, o.ClientOrderID)
		}
		archived = append(archived, id)
	}
	return archived
}

func (m *Machine) stripe(orderID uint64) *sync.Mutex {
	return &m.stripes[orderID%stripeCount]
}

func (m *Machine) journalOrderNew(o Order) error {
	if m.journal == nil {
		return nil
	}
	payload := codec.EncodeOrderNew(make([]byte, 0, codec.OrderNewPayloadSize), schema.OrderNew{
		OrderID:       o.ID,
		AccountID:     o.AccountID,
		StrategyID:    o.StrategyID,
		SymbolID:      o.SymbolID,
		VenueID:       o.VenueID,
		Side:          o.Side,
		Type:          o.Type,
		TimeInForce:   o.TimeInForce,
		Price:         o.Price,
		Qty:           o.Qty,
		ClientOrderID: o.ClientOrderID,
	})
	_, err := m.journal.Append(schema.EventOrderNew, schema.SourceLocal, payload, o.ID)
	return err
}

func (m *Machine) journalExec(eventType schema.EventType, source uint16, rep schema.ExecReport) error {
	if m.journal == nil {
		return nil
	}
	payload := codec.EncodeExecReport(make([]byte, 0, codec.ExecReportPayloadSize), rep)
	_, err := m.journal.Append(eventType, source, payload, rep.OrderID)
	return err
}

func (m *Machine) journalReserve(eventType schema.EventType, o *Order, flags uint16, amount schema.Amount) {
	if m.journal == nil {
		return
	}
	res := schema.Reservation{
		TokenID: [16]byte(o.TokenID),
		OrderID: o.ID,
		AssetID: m.reserveAsset(o),
		Flags:   flags,
		Amount:  amount,
	}
	payload := codec.EncodeReservation(make([]byte, 0, codec.ReservationPayloadSize), res)
	if _, err := m.journal.Append(eventType, schema.SourceLocal, payload, o.ID); err != nil {
		m.log.Error("reservation journal append failed",
			zap.Uint64("orderId", o.ID),
			zap.Error(err))
	}
}

func (m *Machine) reserveAsset(o *Order) schema.AssetID {
	tok, ok := m.funds.TokenByID(o.TokenID)
	if !ok {
		return 0
	}
	return tok.Asset
}

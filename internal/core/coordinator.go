package core

import (
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/osm"
	"main/internal/reserve"
	"main/internal/risk"
	"main/internal/schema"
)

var (
	ErrUnknownSymbol = errors.New("symbol not registered")
	ErrInvalidOrder  = errors.New("invalid order submission")
)

const submitStripes = 64

// RefProvider supplies the market context for sanity checks.
type RefProvider interface {
	Ref(symbol schema.SymbolID) risk.RefData
}

// RefFunc adapts a function to RefProvider.
type RefFunc func(symbol schema.SymbolID) risk.RefData

func (f RefFunc) Ref(symbol schema.SymbolID) risk.RefData { return f(symbol) }

// Coordinator runs submit as gate check, reservation, and registration under
// one logical owner per client order id. A duplicate client order id never
// reaches the reservation step.
type Coordinator struct {
	stripes [submitStripes]sync.Mutex

	registry *schema.Registry
	gate     *risk.Gate
	funds    *reserve.Ledger
	machine  *osm.Machine
	journal  *ledger.Ledger
	metrics  *obs.Metrics
	refdata  RefProvider
	log      *zap.Logger
}

// NewCoordinator wires the submission path.
func NewCoordinator(registry *schema.Registry, gate *risk.Gate, funds *reserve.Ledger, machine *osm.Machine, journal *ledger.Ledger, metrics *obs.Metrics, refdata RefProvider, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		registry: registry,
		gate:     gate,
		funds:    funds,
		machine:  machine,
		journal:  journal,
		metrics:  metrics,
		refdata:  refdata,
		log:      log,
	}
}

// Submit risk-checks, reserves and registers one order. A denied verdict is
// a normal outcome, not an error; errors mean the submission itself could
// not be processed.
func (c *Coordinator) Submit(order schema.OrderNew) (risk.Verdict, error) {
	if order.OrderID == 0 || order.Qty <= 0 || order.Price <= 0 {
		return risk.Verdict{}, ErrInvalidOrder
	}
	sym, ok := c.registry.Symbol(order.SymbolID)
	if !ok {
		return risk.Verdict{}, ErrUnknownSymbol
	}

	lock := c.stripe(order.ClientOrderID)
	lock.Lock()
	defer lock.Unlock()

	if !order.ClientOrderID.IsZero() {
		if _, dup := c.machine.ByClientOrderID(order.ClientOrderID); dup {
			return risk.Verdict{}, osm.ErrDuplicateClientOrderID
		}
	}

	started := time.Now()
	var ref risk.RefData
	if c.refdata != nil {
		ref = c.refdata.Ref(order.SymbolID)
	}
	verdict := c.gate.Check(order, ref)
	c.metrics.ObserveRiskEval(time.Since(started))

	if !verdict.Approved {
		c.metrics.IncRiskReason(verdict.Reason)
		c.journalVerdict(order, verdict)
		return verdict, nil
	}

	asset, amount := reserveFor(order, sym, verdict.Notional)
	tok, err := c.funds.Reserve(asset, amount, order.OrderID)
	if err != nil {
		c.gate.Release(order.OrderID)
		if errors.Is(err, reserve.ErrInsufficientFunds) {
			verdict = risk.Verdict{
				Action:   schema.RiskActionDeny,
				Reason:   schema.RiskReasonInsufficientFunds,
				Notional: verdict.Notional,
			}
			c.metrics.IncRiskReason(verdict.Reason)
			c.journalVerdict(order, verdict)
			return verdict, nil
		}
		return risk.Verdict{}, err
	}

	c.journalVerdict(order, verdict)
	if err := c.journalReserve(tok, order.OrderID); err != nil {
		c.unwind(order.OrderID, tok)
		return risk.Verdict{}, err
	}

	err = c.machine.Register(osm.Order{
		ID:            order.OrderID,
		ClientOrderID: order.ClientOrderID,
		AccountID:     order.AccountID,
		StrategyID:    order.StrategyID,
		SymbolID:      order.SymbolID,
		VenueID:       order.VenueID,
		Side:          order.Side,
		Type:          order.Type,
		TimeInForce:   order.TimeInForce,
		Price:         order.Price,
		Qty:           order.Qty,
		TokenID:       tok.ID,
	})
	if err != nil {
		c.unwind(order.OrderID, tok)
		c.journalUnwind(tok, order.OrderID)
		return risk.Verdict{}, err
	}

	c.metrics.ObserveOrderFlow(time.Since(started))
	return verdict, nil
}

// OrderState returns the machine's view of an order.
func (c *Coordinator) OrderState(orderID uint64) schema.OrderState {
	return c.machine.StateOf(orderID)
}

// Available returns the reservation ledger's available balance.
func (c *Coordinator) Available(asset schema.AssetID) schema.Amount {
	return c.funds.Available(asset)
}

// LimitUsage returns the gate's current counters.
func (c *Coordinator) LimitUsage() []risk.LimitUsage {
	return c.gate.Usage()
}

func (c *Coordinator) stripe(clientID schema.Str32) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write(clientID.Slice())
	return &c.stripes[h.Sum32()%submitStripes]
}

// unwind reverses a partial submit: the reservation is released and the
// gate's counters are returned.
func (c *Coordinator) unwind(orderID uint64, tok reserve.Token) {
	if err := c.funds.Release(tok.ID); err != nil {
		c.log.Error("submit unwind release failed",
			zap.Uint64("orderId", orderID),
			zap.Error(err))
	}
	c.gate.Release(orderID)
}

func (c *Coordinator) journalVerdict(order schema.OrderNew, v risk.Verdict) {
	if c.journal == nil {
		return
	}
	payload := codec.EncodeRiskVerdict(make([]byte, 0, codec.RiskVerdictPayloadSize), schema.RiskVerdict{
		OrderID:    order.OrderID,
		AccountID:  order.AccountID,
		StrategyID: order.StrategyID,
		SymbolID:   order.SymbolID,
		VenueID:    order.VenueID,
		Action:     v.Action,
		Reason:     v.Reason,
		Dimension:  v.Dimension,
		Notional:   v.Notional,
	})
	if _, err := c.journal.Append(schema.EventRiskVerdict, schema.SourceLocal, payload, order.OrderID); err != nil {
		c.log.Error("verdict journal append failed",
			zap.Uint64("orderId", order.OrderID),
			zap.Error(err))
	}
}

// journalUnwind compensates a journaled reserve whose order never made it
// into the machine. Without it, replay would rebuild a reservation the
// live system released and the two states would diverge.
func (c *Coordinator) journalUnwind(tok reserve.Token, orderID uint64) {
	if c.journal == nil {
		return
	}
	payload := codec.EncodeReservation(make([]byte, 0, codec.ReservationPayloadSize), schema.Reservation{
		TokenID: [16]byte(tok.ID),
		OrderID: orderID,
		AssetID: tok.Asset,
		Flags:   schema.ReserveFlagUnwind,
		Amount:  tok.Amount,
	})
	if _, err := c.journal.Append(schema.EventReserveRelease, schema.SourceLocal, payload, orderID); err != nil {
		c.log.Error("unwind journal append failed",
			zap.Uint64("orderId", orderID),
			zap.Error(err))
	}
}

func (c *Coordinator) journalReserve(tok reserve.Token, orderID uint64) error {
	if c.journal == nil {
		return nil
	}
	payload := codec.EncodeReservation(make([]byte, 0, codec.ReservationPayloadSize), schema.Reservation{
		TokenID: [16]byte(tok.ID),
		OrderID: orderID,
		AssetID: tok.Asset,
		Amount:  tok.Amount,
	})
	_, err := c.journal.Append(schema.EventReserve, schema.SourceLocal, payload, orderID)
	return err
}

// reserveFor picks the asset and amount a candidate order must hold: buys
// hold the quote notional, sells hold the base quantity.
func reserveFor(order schema.OrderNew, sym schema.Symbol, notional schema.Notional) (schema.AssetID, schema.Amount) {
	if order.Side == schema.OrderSideBuy {
		return sym.Quote, schema.Amount(notional)
	}
	return sym.Base, schema.Amount(order.Qty)
}

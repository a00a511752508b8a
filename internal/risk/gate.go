/*
Risk implements the pre-trade gate.

# Module
  - four-dimensional notional limits: account / symbol / venue / strategy
  - self-trade prevention against the gate's own resting-order view
  - token-bucket rate admission per dimension key
  - price band, tick alignment, and fat-finger sanity checks

# Source
  - candidate orders from core submit
  - terminal notifications from osm (Release)

# Produce
  - verdicts consumed by core; denied orders never reach the reservation step

Checks short-circuit in a fixed order: limits, self-trade, rate, sanity.
Bucket tokens are only consumed on full approval, never speculatively.
*/
package risk

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"main/internal/schema"
)

const maxInt64 = int64(^uint64(0) >> 1)

// Verdict is the outcome of a gate check. VictimOrderID is set when a
// cancel-oldest or cancel-smallest self-trade policy approves the candidate
// at the cost of a resting order; the caller owns issuing that cancel.
type Verdict struct {
	Approved      bool
	Action        schema.RiskAction
	Reason        schema.RiskReason
	Dimension     schema.LimitDimension
	Notional      schema.Notional
	VictimOrderID uint64
	SuggestedQty  schema.Quantity
}

// RefData is the read-only market context for sanity checks.
type RefData struct {
	ReferencePrice schema.Price
	TypicalQty     schema.Quantity
	TickSize       schema.Price
	MinNotional    schema.Notional
	Halted         bool
}

type limitKey struct {
	dim schema.LimitDimension
	id  uint64
}

type counter struct {
	used schema.Notional
	max  schema.Notional
}

type restingOrder struct {
	orderID    uint64
	account    schema.AccountID
	side       schema.OrderSide
	price      schema.Price
	qty        schema.Quantity
	admittedAt int64
}

type admission struct {
	notional schema.Notional
	symbol   schema.SymbolID
	keys     [4]limitKey
}

// LimitUsage is a snapshot row of one limit counter.
type LimitUsage struct {
	Dimension schema.LimitDimension
	Key       uint64
	Used      schema.Notional
	Max       schema.Notional
}

// Gate evaluates candidate orders and tracks admitted exposure. Approval
// increments the relevant counters; the matching decrement happens when osm
// reaches a terminal state and calls Release. The gate never releases on
// its own.
type Gate struct {
	mu       sync.Mutex
	cfg      Config
	counters map[limitKey]*counter
	buckets  map[limitKey]*bucket
	resting  map[schema.SymbolID][]restingOrder
	admitted map[uint64]admission

	now func() int64
	log *zap.Logger
}

// NewGate creates a gate with the given limits.
func NewGate(cfg Config, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gate{
		cfg:      cfg.withDefaults(),
		counters: make(map[limitKey]*counter),
		buckets:  make(map[limitKey]*bucket),
		resting:  make(map[schema.SymbolID][]restingOrder),
		admitted: make(map[uint64]admission),
		now:      func() int64 { return time.Now().UTC().UnixNano() },
		log:      log,
	}
	for _, lim := range g.cfg.Limits {
		g.counters[limitKey{dim: lim.Dimension, id: lim.Key}] = &counter{max: lim.Max}
	}
	return g
}

// WithClock swaps the timestamp source.
func (g *Gate) WithClock(now func() int64) *Gate {
	if now != nil {
		g.now = now
	}
	return g
}

// Reconfigure swaps limits in place, preserving used exposure and bucket
// levels so a config reload does not forget admitted orders.
func (g *Gate) Reconfigure(cfg Config) {
	cfg = cfg.withDefaults()
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cfg = cfg
	next := make(map[limitKey]*counter, len(cfg.Limits))
	for _, lim := range cfg.Limits {
		key := limitKey{dim: lim.Dimension, id: lim.Key}
		c := &counter{max: lim.Max}
		if prev, ok := g.counters[key]; ok {
			c.used = prev.used
		}
		next[key] = c
	}
	g.counters = next
}

// Check evaluates a candidate order against every gate stage.
func (g *Gate) Check(order schema.OrderNew, ref RefData) Verdict {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cfg.KillSwitch {
		return g.deny(order, schema.RiskReasonKillSwitch, schema.DimensionUnknown)
	}

	notional, overflow := mulNotional(order.Price, order.Qty)
	if overflow {
		return g.deny(order, schema.RiskReasonFatFinger, schema.DimensionUnknown)
	}

	keys := keysFor(order)

	for _, key := range keys {
		c, ok := g.counters[key]
		if !ok {
			continue
		}
		if c.max > 0 && c.used+notional > c.max {
			return g.deny(order, schema.RiskReasonLimitExceeded, key.dim)
		}
	}

	victim, crossed := g.findSelfTrade(order, now)
	if crossed {
		switch g.cfg.STP.Policy {
		case STPReject:
			return g.deny(order, schema.RiskReasonSelfTrade, schema.DimensionUnknown)
		case STPWarnOnly:
			g.log.Warn("self-trade crossing admitted by policy",
				zap.Uint64("orderId", order.OrderID),
				zap.Uint64("restingOrderId", victim))
			victim = 0
		}
	} else {
		victim = 0
	}

	for _, key := range keys {
		b := g.bucketFor(key, now)
		b.refill(now)
		if !b.ready() {
			return g.deny(order, schema.RiskReasonRateLimited, key.dim)
		}
	}

	if v, bad := g.checkSanity(order, notional, ref); bad {
		return v
	}

	for _, key := range keys {
		g.buckets[key].take()
	}
	for _, key := range keys {
		if c, ok := g.counters[key]; ok {
			c.used += notional
		}
	}
	g.resting[order.SymbolID] = append(g.resting[order.SymbolID], restingOrder{
		orderID:    order.OrderID,
		account:    order.AccountID,
		side:       order.Side,
		price:      order.Price,
		qty:        order.Qty,
		admittedAt: now,
	})
	g.admitted[order.OrderID] = admission{
		notional: notional,
		symbol:   order.SymbolID,
		keys:     keys,
	}

	return Verdict{
		Approved:      true,
		Action:        schema.RiskActionAllow,
		Reason:        schema.RiskReasonNone,
		Notional:      notional,
		VictimOrderID: victim,
	}
}

// Release drops an admitted order's exposure and resting entry. Unknown and
// already-released orders are ignored so duplicate terminal notifications
// cannot drive counters negative.
func (g *Gate) Release(orderID uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	adm, ok := g.admitted[orderID]
	if !ok {
		return
	}
	delete(g.admitted, orderID)

	for _, key := range adm.keys {
		c, ok := g.counters[key]
		if !ok {
			continue
		}
		c.used -= adm.notional
		if c.used < 0 {
			c.used = 0
		}
	}

	book := g.resting[adm.symbol]
	for i := range book {
		if book[i].orderID == orderID {
			g.resting[adm.symbol] = append(book[:i], book[i+1:]...)
			break
		}
	}
}

// Usage returns the current limit counters for snapshots and metrics.
func (g *Gate) Usage() []LimitUsage {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]LimitUsage, 0, len(g.counters))
	for key, c := range g.counters {
		out = append(out, LimitUsage{
			Dimension: key.dim,
			Key:       key.id,
			Used:      c.used,
			Max:       c.max,
		})
	}
	return out
}

func (g *Gate) deny(order schema.OrderNew, reason schema.RiskReason, dim schema.LimitDimension) Verdict {
	g.log.Info("order denied",
		zap.Uint64("orderId", order.OrderID),
		zap.Uint16("reason", uint16(reason)),
		zap.Uint16("dimension", uint16(dim)))
	return Verdict{
		Action:    schema.RiskActionDeny,
		Reason:    reason,
		Dimension: dim,
	}
}

// findSelfTrade scans the caller's resting orders on the candidate's symbol
// for an opposing order whose price crosses within the tolerance, admitted
// within the configured window. The returned victim follows the cancel
// policy: oldest admission or smallest quantity.
func (g *Gate) findSelfTrade(order schema.OrderNew, now int64) (uint64, bool) {
	window := g.cfg.STP.Window.Nanoseconds()
	var (
		victim  uint64
		bestTS  int64 = maxInt64
		bestQty schema.Quantity
	)
	for _, r := range g.resting[order.SymbolID] {
		if r.account != order.AccountID || r.side == order.Side {
			continue
		}
		if window > 0 && now-r.admittedAt > window {
			continue
		}
		buy, sell := order.Price, r.price
		if order.Side == schema.OrderSideSell {
			buy, sell = r.price, order.Price
		}
		if !crosses(buy, sell, g.cfg.STP.ToleranceBps) {
			continue
		}
		switch g.cfg.STP.Policy {
		case STPCancelSmallest:
			if victim == 0 || r.qty < bestQty {
				victim, bestQty = r.orderID, r.qty
			}
		default:
			if r.admittedAt < bestTS {
				victim, bestTS = r.orderID, r.admittedAt
			}
		}
	}
	return victim, victim != 0
}

func (g *Gate) checkSanity(order schema.OrderNew, notional schema.Notional, ref RefData) (Verdict, bool) {
	if ref.Halted {
		return g.deny(order, schema.RiskReasonPriceBand, schema.DimensionUnknown), true
	}
	if ref.TickSize > 0 && order.Price%ref.TickSize != 0 {
		return g.deny(order, schema.RiskReasonPriceBand, schema.DimensionUnknown), true
	}
	if g.cfg.Band.MaxDeviationBps > 0 && order.Type == schema.OrderTypeLimit && ref.ReferencePrice > 0 {
		diff := absInt64(int64(order.Price) - int64(ref.ReferencePrice))
		if exceedsDeviation(diff, int64(ref.ReferencePrice), g.cfg.Band.MaxDeviationBps) {
			return g.deny(order, schema.RiskReasonPriceBand, schema.DimensionUnknown), true
		}
	}
	if ref.MinNotional > 0 && notional < ref.MinNotional {
		return g.deny(order, schema.RiskReasonFatFinger, schema.DimensionUnknown), true
	}
	if g.cfg.Band.FatFingerMultiple > 0 && ref.TypicalQty > 0 {
		maxQty := schema.Quantity(int64(ref.TypicalQty) * g.cfg.Band.FatFingerMultiple)
		if order.Qty > maxQty {
			v := g.deny(order, schema.RiskReasonFatFinger, schema.DimensionUnknown)
			v.SuggestedQty = maxQty
			return v, true
		}
	}
	return Verdict{}, false
}

func (g *Gate) bucketFor(key limitKey, now int64) *bucket {
	b, ok := g.buckets[key]
	if !ok {
		b = newBucket(g.cfg.Rate, now)
		g.buckets[key] = b
	}
	return b
}

func keysFor(order schema.OrderNew) [4]limitKey {
	return [4]limitKey{
		{dim: schema.DimensionAccount, id: uint64(order.AccountID)},
		{dim: schema.DimensionSymbol, id: uint64(order.SymbolID)},
		{dim: schema.DimensionVenue, id: uint64(order.VenueID)},
		{dim: schema.DimensionStrategy, id: uint64(order.StrategyID)},
	}
}

// crosses reports whether a buy at buy and a sell at sell overlap once the
// sell side is discounted by the tolerance.
func crosses(buy, sell schema.Price, tolBps int64) bool {
	if buy <= 0 || sell <= 0 {
		return false
	}
	s := int64(sell)
	if tolBps > 0 {
		if s > maxInt64/(10000-tolBps) || int64(buy) > maxInt64/10000 {
			return true
		}
		return int64(buy)*10000 >= s*(10000-tolBps)
	}
	return buy >= sell
}

func mulNotional(price schema.Price, qty schema.Quantity) (schema.Notional, bool) {
	p := int64(price)
	q := int64(qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return schema.Notional(int64(price) * int64(qty)), false
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func exceedsDeviation(diff int64, ref int64, bps int64) bool {
	if diff <= 0 || ref <= 0 || bps <= 0 {
		return false
	}
	if diff > maxInt64/10000 {
		return true
	}
	lhs := diff * 10000
	if ref > maxInt64/bps {
		return true
	}
	rhs := ref * bps
	return lhs > rhs
}

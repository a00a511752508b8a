package osm

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"main/internal/reserve"
	"main/internal/schema"
)

const quote = schema.AssetID(2)

type fakeGate struct {
	released []uint64
}

func (g *fakeGate) Release(orderID uint64) { g.released = append(g.released, orderID) }

type fixture struct {
	machine *Machine
	funds   *reserve.Ledger
	gate    *fakeGate
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	funds := reserve.NewLedger(reserve.Config{}, nil)
	funds.SetFreeBalance(quote, 1_000_000)
	gate := &fakeGate{}
	return &fixture{
		machine: NewMachine(cfg, nil, funds, gate, nil),
		funds:   funds,
		gate:    gate,
	}
}

// registerBuy reserves price*qty of quote and registers the order.
func (f *fixture) registerBuy(t *testing.T, id uint64, price schema.Price, qty schema.Quantity) Order {
	t.Helper()
	tok, err := f.funds.Reserve(quote, schema.Amount(int64(price)*int64(qty)), id)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	o := Order{
		ID:            id,
		ClientOrderID: schema.NewStr32("c-" + string(rune('0'+id%10))),
		AccountID:     1,
		SymbolID:      1,
		VenueID:       1,
		Side:          schema.OrderSideBuy,
		Type:          schema.OrderTypeLimit,
		Price:         price,
		Qty:           qty,
		TokenID:       tok.ID,
	}
	if err := f.machine.Register(o); err != nil {
		t.Fatalf("register: %v", err)
	}
	return o
}

func execID() [16]byte { return [16]byte(uuid.New()) }

func (f *fixture) apply(t *testing.T, orderID uint64, kind schema.ExecKind, qty, leaves schema.Quantity) {
	t.Helper()
	err := f.machine.Apply(schema.SourcePrimary, schema.ExecReport{
		ExecID:    execID(),
		OrderID:   orderID,
		SymbolID:  1,
		Kind:      kind,
		Qty:       qty,
		LeavesQty: leaves,
	})
	if err != nil {
		t.Fatalf("apply %d: %v", kind, err)
	}
}

func TestRegisterDuplicates(t *testing.T) {
	f := newFixture(t, Config{})
	f.registerBuy(t, 1, 10, 5)

	err := f.machine.Register(Order{ID: 1, ClientOrderID: schema.NewStr32("other")})
	if err != ErrDuplicateOrder {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	err = f.machine.Register(Order{ID: 2, ClientOrderID: schema.NewStr32("c-1")})
	if err != ErrDuplicateClientOrderID {
		t.Fatalf("expected ErrDuplicateClientOrderID, got %v", err)
	}
}

func TestLifecycleAckFillFilled(t *testing.T) {
	f := newFixture(t, Config{})
	o := f.registerBuy(t, 1, 10, 6)

	f.apply(t, 1, schema.ExecAck, 0, 6)
	if f.machine.StateOf(1) != schema.OrderStateAcked {
		t.Fatalf("state after ack: %d", f.machine.StateOf(1))
	}

	f.apply(t, 1, schema.ExecFill, 4, 2)
	got, _ := f.machine.Order(1)
	if got.State != schema.OrderStatePartFilled || got.FilledQty != 4 || got.LeavesQty != 2 {
		t.Fatalf("after partial fill: %+v", got)
	}
	tok, _ := f.funds.TokenByID(o.TokenID)
	if tok.Remaining != 20 { // 60 reserved, 40 confirmed
		t.Fatalf("token remaining after partial fill: %d", tok.Remaining)
	}

	f.apply(t, 1, schema.ExecFill, 2, 0)
	got, _ = f.machine.Order(1)
	if got.State != schema.OrderStateFilled || got.FilledQty != 6 || got.LeavesQty != 0 {
		t.Fatalf("after final fill: %+v", got)
	}
	tok, _ = f.funds.TokenByID(o.TokenID)
	if tok.State != reserve.TokenConfirmed || tok.Remaining != 0 {
		t.Fatalf("token not settled: %+v", tok)
	}
	if len(f.gate.released) != 1 || f.gate.released[0] != 1 {
		t.Fatalf("gate release mismatch: %v", f.gate.released)
	}
	bal, _ := f.funds.BalanceOf(quote)
	if bal.Confirmed != 60 || bal.Reserved != 0 {
		t.Fatalf("balance after full fill: %+v", bal)
	}
}

func TestExecDedupe(t *testing.T) {
	f := newFixture(t, Config{})
	f.registerBuy(t, 1, 10, 6)
	f.apply(t, 1, schema.ExecAck, 0, 6)

	rep := schema.ExecReport{
		ExecID:    execID(),
		OrderID:   1,
		Kind:      schema.ExecFill,
		Qty:       4,
		LeavesQty: 2,
	}
	if err := f.machine.Apply(schema.SourcePrimary, rep); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// same exec id redelivered
	if err := f.machine.Apply(schema.SourcePrimary, rep); err != nil {
		t.Fatalf("redelivery should be absorbed: %v", err)
	}
	got, _ := f.machine.Order(1)
	if got.FilledQty != 4 {
		t.Fatalf("duplicate fill re-applied: %+v", got)
	}
	bal, _ := f.funds.BalanceOf(quote)
	if bal.Confirmed != 40 {
		t.Fatalf("duplicate fill re-confirmed: %+v", bal)
	}
}

func TestInvalidTransitions(t *testing.T) {
	f := newFixture(t, Config{})
	f.registerBuy(t, 1, 10, 5)

	// fill before ack
	err := f.machine.Apply(schema.SourcePrimary, schema.ExecReport{
		ExecID: execID(), OrderID: 1, Kind: schema.ExecFill, Qty: 2, LeavesQty: 3,
	})
	if err != ErrInvalidTransition {
		t.Fatalf("fill before ack: %v", err)
	}

	f.apply(t, 1, schema.ExecAck, 0, 5)
	f.apply(t, 1, schema.ExecCancel, 0, 0)

	// terminal order accepts nothing
	err = f.machine.Apply(schema.SourcePrimary, schema.ExecReport{
		ExecID: execID(), OrderID: 1, Kind: schema.ExecAck,
	})
	if err != ErrInvalidTransition {
		t.Fatalf("ack after cancel: %v", err)
	}
	if f.machine.StateOf(1) != schema.OrderStateCanceled {
		t.Fatalf("state moved on rejected transition")
	}
}

func TestCancelReleasesReservation(t *testing.T) {
	f := newFixture(t, Config{})
	o := f.registerBuy(t, 1, 10, 5)
	f.apply(t, 1, schema.ExecAck, 0, 5)
	f.apply(t, 1, schema.ExecCancel, 0, 0)

	tok, _ := f.funds.TokenByID(o.TokenID)
	if tok.State != reserve.TokenReleased {
		t.Fatalf("token not released: %+v", tok)
	}
	if f.funds.Available(quote) != 1_000_000 {
		t.Fatalf("available after cancel: %d", f.funds.Available(quote))
	}
	if len(f.gate.released) != 1 {
		t.Fatalf("gate not released")
	}
}

func TestFillClampedToLeaves(t *testing.T) {
	f := newFixture(t, Config{})
	f.registerBuy(t, 1, 10, 5)
	f.apply(t, 1, schema.ExecAck, 0, 5)

	// venue reports more than the remaining quantity
	f.apply(t, 1, schema.ExecFill, 9, 0)
	got, _ := f.machine.Order(1)
	if got.State != schema.OrderStateFilled || got.FilledQty != 5 {
		t.Fatalf("overfill not clamped: %+v", got)
	}
}

func TestCancelRejectExhaustionFlagsUnresolved(t *testing.T) {
	f := newFixture(t, Config{MaxCancelRetries: 2})
	f.registerBuy(t, 1, 10, 5)
	f.apply(t, 1, schema.ExecAck, 0, 5)

	f.apply(t, 1, schema.ExecCancelReject, 0, 0)
	got, _ := f.machine.Order(1)
	if got.Unresolved {
		t.Fatalf("unresolved too early: %+v", got)
	}

	f.apply(t, 1, schema.ExecCancelReject, 0, 0)
	got, _ = f.machine.Order(1)
	if !got.Unresolved || got.CancelAttempts != 2 {
		t.Fatalf("retries exhausted but not flagged: %+v", got)
	}
	if len(f.machine.UnresolvedOrders()) != 1 {
		t.Fatalf("unresolved order not listed")
	}
}

func TestSweepTimeouts(t *testing.T) {
	var clock int64
	f := newFixture(t, Config{AckTimeout: time.Second})
	f.machine.WithClock(func() int64 { return clock })

	clock = 1
	o := f.registerBuy(t, 1, 10, 5)
	f.registerBuy(t, 2, 10, 5)
	f.apply(t, 2, schema.ExecAck, 0, 5)

	clock += time.Second.Nanoseconds()
	expired := f.machine.SweepTimeouts()
	if len(expired) != 1 || expired[0] != 1 {
		t.Fatalf("sweep mismatch: %v", expired)
	}
	if f.machine.StateOf(1) != schema.OrderStateExpired {
		t.Fatalf("order not expired")
	}
	if f.machine.StateOf(2) != schema.OrderStateAcked {
		t.Fatalf("acked order swept")
	}
	tok, _ := f.funds.TokenByID(o.TokenID)
	if tok.State != reserve.TokenReleased {
		t.Fatalf("expired order kept its reservation: %+v", tok)
	}
}

func TestArchiveTerminal(t *testing.T) {
	var clock int64 = 1
	f := newFixture(t, Config{ArchiveAfter: time.Minute})
	f.machine.WithClock(func() int64 { return clock })

	f.registerBuy(t, 1, 10, 5)
	f.apply(t, 1, schema.ExecAck, 0, 5)
	f.apply(t, 1, schema.ExecCancel, 0, 0)
	f.registerBuy(t, 2, 10, 5)

	// terminal but still inside the grace window
	if archived := f.machine.ArchiveTerminal(); len(archived) != 0 {
		t.Fatalf("archived a fresh terminal order: %v", archived)
	}

	clock += time.Minute.Nanoseconds()
	archived := f.machine.ArchiveTerminal()
	if len(archived) != 1 || archived[0] != 1 {
		t.Fatalf("archive mismatch: %v", archived)
	}
	if f.machine.Len() != 1 {
		t.Fatalf("registry still holds the archived order: %d", f.machine.Len())
	}
	if f.machine.StateOf(2) != schema.OrderStateNew {
		t.Fatalf("open order archived")
	}

	// the archived order's client id is free for a new life
	if err := f.machine.Register(Order{ID: 3, ClientOrderID: schema.NewStr32("c-1")}); err != nil {
		t.Fatalf("client id not freed by archival: %v", err)
	}
}

func TestApplyCorrection(t *testing.T) {
	f := newFixture(t, Config{})
	o := f.registerBuy(t, 1, 10, 5)
	f.apply(t, 1, schema.ExecAck, 0, 5)

	// drop-copy proved the order filled while the primary channel was silent
	err := f.machine.ApplyCorrection(schema.Correction{
		DiscrepancyID: execID(),
		OrderID:       1,
		To:            schema.OrderStateFilled,
		Evidence:      schema.ExecFill,
		FilledQty:     5,
	})
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	got, _ := f.machine.Order(1)
	if got.State != schema.OrderStateFilled || got.FilledQty != 5 || got.LeavesQty != 0 {
		t.Fatalf("after correction: %+v", got)
	}
	tok, _ := f.funds.TokenByID(o.TokenID)
	if tok.State != reserve.TokenConfirmed || tok.Remaining != 0 {
		t.Fatalf("correction did not confirm the hold: %+v", tok)
	}
	if len(f.gate.released) != 1 {
		t.Fatalf("correction did not release the gate")
	}

	// repeating the same correction is a no-op
	if err := f.machine.ApplyCorrection(schema.Correction{
		OrderID: 1, To: schema.OrderStateFilled, FilledQty: 5,
	}); err != nil {
		t.Fatalf("idempotent correction: %v", err)
	}
}

func TestCorrectionToCanceledReleases(t *testing.T) {
	f := newFixture(t, Config{})
	o := f.registerBuy(t, 1, 10, 5)
	f.apply(t, 1, schema.ExecAck, 0, 5)

	err := f.machine.ApplyCorrection(schema.Correction{
		OrderID:  1,
		To:       schema.OrderStateCanceled,
		Evidence: schema.ExecCancel,
	})
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	tok, _ := f.funds.TokenByID(o.TokenID)
	if tok.State != reserve.TokenReleased {
		t.Fatalf("correction did not release the hold: %+v", tok)
	}
	if f.funds.Available(quote) != 1_000_000 {
		t.Fatalf("available after corrected cancel: %d", f.funds.Available(quote))
	}
}

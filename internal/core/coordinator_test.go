package core

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/osm"
	"main/internal/reserve"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
)

type fixture struct {
	coordinator *Coordinator
	registry    *schema.Registry
	gate        *risk.Gate
	funds       *reserve.Ledger
	machine     *osm.Machine
	journal     *ledger.Ledger
	base        schema.AssetID
	quote       schema.AssetID
	symbol      schema.SymbolID
}

func newFixture(t *testing.T, quoteBalance schema.Amount) *fixture {
	t.Helper()
	f := &fixture{}
	f.registry = schema.NewRegistry()
	venue, err := f.registry.AddVenue("SIM")
	if err != nil {
		t.Fatalf("venue: %v", err)
	}
	if f.base, err = f.registry.AddAsset("COIN", 0); err != nil {
		t.Fatalf("base: %v", err)
	}
	if f.quote, err = f.registry.AddAsset("USD", 0); err != nil {
		t.Fatalf("quote: %v", err)
	}
	f.symbol, err = f.registry.AddSymbol("COIN-USD", venue, f.base, f.quote, schema.ScaleSpec{}, 100)
	if err != nil {
		t.Fatalf("symbol: %v", err)
	}

	f.journal = ledger.New(nil)
	f.funds = reserve.NewLedger(reserve.Config{}, nil)
	f.funds.SetFreeBalance(f.base, 1000)
	f.funds.SetFreeBalance(f.quote, quoteBalance)
	f.gate = risk.NewGate(risk.Config{}, nil)
	f.machine = osm.NewMachine(osm.Config{}, f.journal, f.funds, f.gate, nil)
	f.coordinator = NewCoordinator(f.registry, f.gate, f.funds, f.machine, f.journal, obs.NewMetrics(), nil, nil)
	return f
}

func (f *fixture) order(id uint64, clientID string, side schema.OrderSide, price schema.Price, qty schema.Quantity) schema.OrderNew {
	return schema.OrderNew{
		OrderID:       id,
		AccountID:     1,
		StrategyID:    1,
		SymbolID:      f.symbol,
		VenueID:       1,
		Side:          side,
		Type:          schema.OrderTypeLimit,
		Price:         price,
		Qty:           qty,
		ClientOrderID: schema.NewStr32(clientID),
	}
}

func TestSubmitReservesAndRegisters(t *testing.T) {
	f := newFixture(t, 1000)

	v, err := f.coordinator.Submit(f.order(1, "a-1", schema.OrderSideBuy, 10, 20))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !v.Approved || v.Notional != 200 {
		t.Fatalf("verdict: %+v", v)
	}
	if f.coordinator.OrderState(1) != schema.OrderStateNew {
		t.Fatalf("order not registered")
	}
	// buy holds the quote notional
	if f.coordinator.Available(f.quote) != 800 {
		t.Fatalf("quote not reserved: %d", f.coordinator.Available(f.quote))
	}
	tok, ok := f.funds.LiveTokenOf(1)
	if !ok || tok.Amount != 200 || tok.Asset != f.quote {
		t.Fatalf("reservation token: %+v ok=%v", tok, ok)
	}
	o, _ := f.machine.Order(1)
	if o.TokenID != tok.ID {
		t.Fatalf("order not bound to its token")
	}
}

func TestSubmitSellReservesBase(t *testing.T) {
	f := newFixture(t, 1000)

	v, err := f.coordinator.Submit(f.order(1, "s-1", schema.OrderSideSell, 10, 30))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !v.Approved {
		t.Fatalf("verdict: %+v", v)
	}
	if f.coordinator.Available(f.base) != 970 {
		t.Fatalf("base not reserved: %d", f.coordinator.Available(f.base))
	}
	if f.coordinator.Available(f.quote) != 1000 {
		t.Fatalf("quote touched on a sell: %d", f.coordinator.Available(f.quote))
	}
}

func TestSubmitInsufficientFundsDenies(t *testing.T) {
	f := newFixture(t, 100)

	v, err := f.coordinator.Submit(f.order(1, "a-1", schema.OrderSideBuy, 10, 20))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.Approved || v.Reason != schema.RiskReasonInsufficientFunds {
		t.Fatalf("verdict: %+v", v)
	}

	// the denial must leave nothing behind
	if f.machine.Len() != 0 {
		t.Fatalf("denied order registered")
	}
	if f.funds.LiveTokenCount() != 0 {
		t.Fatalf("denied order holds a reservation")
	}
	for _, u := range f.coordinator.LimitUsage() {
		if u.Used != 0 {
			t.Fatalf("gate exposure not unwound: %+v", u)
		}
	}
}

func TestSubmitDuplicateClientOrderID(t *testing.T) {
	f := newFixture(t, 1000)

	if _, err := f.coordinator.Submit(f.order(1, "dup", schema.OrderSideBuy, 10, 5)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err := f.coordinator.Submit(f.order(2, "dup", schema.OrderSideBuy, 10, 5))
	if err != osm.ErrDuplicateClientOrderID {
		t.Fatalf("expected duplicate client order id, got %v", err)
	}
	// the duplicate never reached the reservation step
	if f.funds.LiveTokenCount() != 1 {
		t.Fatalf("duplicate submit reserved funds")
	}
}

func TestSubmitUnwindsWhenJournalFails(t *testing.T) {
	f := newFixture(t, 1000)

	// a closed segment writer fails every ledger append, so the submit
	// dies after the reservation was taken and must unwind it
	writer, err := ledger.NewWriter(ledger.DefaultWriterConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("writer init: %v", err)
	}
	if err := writer.Start(context.Background()); err != nil {
		t.Fatalf("writer start: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("writer close: %v", err)
	}
	f.journal.WithWriter(writer)

	if _, err := f.coordinator.Submit(f.order(1, "a-1", schema.OrderSideBuy, 10, 20)); err == nil {
		t.Fatalf("submit succeeded with a dead journal")
	}

	if f.funds.LiveTokenCount() != 0 {
		t.Fatalf("failed submit left a reservation: %d", f.funds.LiveTokenCount())
	}
	if f.coordinator.Available(f.quote) != 1000 {
		t.Fatalf("reservation not unwound: %d", f.coordinator.Available(f.quote))
	}
	for _, u := range f.coordinator.LimitUsage() {
		if u.Used != 0 {
			t.Fatalf("gate exposure not unwound: %+v", u)
		}
	}
	if f.machine.Len() != 0 {
		t.Fatalf("failed submit registered an order")
	}
}

func TestRegisterFailureUnwindIsJournaled(t *testing.T) {
	f := newFixture(t, 1000)

	// seed the journal so a replay starts from the same balances
	seed := codec.EncodeBalanceSync(nil, schema.BalanceSync{AssetID: f.quote, Free: 1000})
	if _, err := f.journal.Append(schema.EventBalanceSync, schema.SourceLocal, seed, 0); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	if _, err := f.coordinator.Submit(f.order(1, "a-1", schema.OrderSideBuy, 10, 20)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	for _, rep := range []schema.ExecReport{
		{ExecID: [16]byte(uuid.New()), OrderID: 1, Kind: schema.ExecAck, LeavesQty: 20},
		{ExecID: [16]byte(uuid.New()), OrderID: 1, Kind: schema.ExecFill, Qty: 20, LeavesQty: 0},
	} {
		if err := f.machine.Apply(schema.SourcePrimary, rep); err != nil {
			t.Fatalf("apply %d: %v", rep.Kind, err)
		}
	}

	// the order id gets reused after its first life ended; the duplicate
	// dies at registration, after its reserve event hit the journal
	if _, err := f.coordinator.Submit(f.order(1, "a-2", schema.OrderSideBuy, 10, 30)); err != osm.ErrDuplicateOrder {
		t.Fatalf("expected duplicate order, got %v", err)
	}
	if f.funds.LiveTokenCount() != 0 {
		t.Fatalf("failed submit left a reservation")
	}

	rebuilt, err := state.Rebuild(f.journal, state.RebuildConfig{})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got, want := rebuilt.Funds.Available(f.quote), f.funds.Available(f.quote); got != want {
		t.Fatalf("replay diverged: available=%d live=%d", got, want)
	}
	if rebuilt.Funds.LiveTokenCount() != 0 {
		t.Fatalf("replay kept the unwound reservation")
	}
}

func TestSubmitDeniedByGate(t *testing.T) {
	f := newFixture(t, 1000)
	f.gate.Reconfigure(risk.Config{
		Limits: []risk.LimitConfig{{Dimension: schema.DimensionSymbol, Key: uint64(f.symbol), Max: 50}},
	})

	v, err := f.coordinator.Submit(f.order(1, "a-1", schema.OrderSideBuy, 10, 20))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if v.Approved || v.Reason != schema.RiskReasonLimitExceeded {
		t.Fatalf("verdict: %+v", v)
	}
	if f.funds.LiveTokenCount() != 0 {
		t.Fatalf("denied order reached the reservation step")
	}

	// the denial is journaled as a verdict event
	found := false
	it := f.journal.ReadFrom(1)
	for {
		e, ok := it.Next()
		if !ok {
			break
		}
		if e.Header.Type == schema.EventRiskVerdict {
			found = true
		}
	}
	if !found {
		t.Fatalf("denied verdict not journaled")
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, 1000)

	if _, err := f.coordinator.Submit(f.order(0, "x", schema.OrderSideBuy, 10, 5)); err != ErrInvalidOrder {
		t.Fatalf("zero order id: %v", err)
	}
	if _, err := f.coordinator.Submit(f.order(1, "x", schema.OrderSideBuy, 0, 5)); err != ErrInvalidOrder {
		t.Fatalf("zero price: %v", err)
	}
	bad := f.order(1, "x", schema.OrderSideBuy, 10, 5)
	bad.SymbolID = 99
	if _, err := f.coordinator.Submit(bad); err != ErrUnknownSymbol {
		t.Fatalf("unknown symbol: %v", err)
	}
}

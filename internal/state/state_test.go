package state

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"main/internal/codec"
	"main/internal/core"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/osm"
	"main/internal/recon"
	"main/internal/reserve"
	"main/internal/risk"
	"main/internal/schema"
)

const (
	baseAsset  = schema.AssetID(1)
	quoteAsset = schema.AssetID(2)
)

type flow struct {
	journal *ledger.Ledger
	funds   *reserve.Ledger
	machine *osm.Machine
	recon   *recon.Reconciler
}

// runFlow drives a representative session through the journaled path:
// balance seeds, three orders, fills, a cancel, and a drop-copy correction.
func runFlow(t *testing.T) *flow {
	t.Helper()

	registry := schema.NewRegistry()
	venue, err := registry.AddVenue("SIM")
	require.NoError(t, err)
	base, err := registry.AddAsset("COIN", 0)
	require.NoError(t, err)
	quote, err := registry.AddAsset("USD", 0)
	require.NoError(t, err)
	_, err = registry.AddAccount("acct")
	require.NoError(t, err)
	_, err = registry.AddStrategy("strat")
	require.NoError(t, err)
	symbol, err := registry.AddSymbol("COIN-USD", venue, base, quote, schema.ScaleSpec{}, 100)
	require.NoError(t, err)

	f := &flow{journal: ledger.New(nil)}
	f.funds = reserve.NewLedger(reserve.Config{}, nil)
	gate := risk.NewGate(risk.Config{}, nil)
	f.machine = osm.NewMachine(osm.Config{}, f.journal, f.funds, gate, nil)
	var clock int64 = 1
	f.recon = recon.NewReconciler(recon.Config{TransientLag: 1}, f.machine, f.journal, nil).
		WithClock(func() int64 { clock += 2; return clock })
	coordinator := core.NewCoordinator(registry, gate, f.funds, f.machine, f.journal, obs.NewMetrics(), nil, nil)

	seed := func(asset schema.AssetID, free schema.Amount) {
		payload := codec.EncodeBalanceSync(nil, schema.BalanceSync{AssetID: asset, Free: free})
		_, err := f.journal.Append(schema.EventBalanceSync, schema.SourceLocal, payload, uint64(asset))
		require.NoError(t, err)
		f.funds.SetFreeBalance(asset, free)
	}
	seed(base, 10_000)
	seed(quote, 100_000)

	submit := func(id uint64, client string, side schema.OrderSide, price schema.Price, qty schema.Quantity) {
		v, err := coordinator.Submit(schema.OrderNew{
			OrderID:       id,
			AccountID:     1,
			StrategyID:    1,
			SymbolID:      symbol,
			VenueID:       1,
			Side:          side,
			Type:          schema.OrderTypeLimit,
			Price:         price,
			Qty:           qty,
			ClientOrderID: schema.NewStr32(client),
		})
		require.NoError(t, err)
		require.True(t, v.Approved)
	}
	apply := func(id uint64, kind schema.ExecKind, qty, leaves schema.Quantity) {
		require.NoError(t, f.machine.Apply(schema.SourcePrimary, schema.ExecReport{
			ExecID:    [16]byte(uuid.New()),
			OrderID:   id,
			SymbolID:  symbol,
			Kind:      kind,
			Qty:       qty,
			LeavesQty: leaves,
		}))
	}

	// order 1 fills completely in two executions
	submit(1, "c-1", schema.OrderSideBuy, 10, 6)
	apply(1, schema.ExecAck, 0, 6)
	apply(1, schema.ExecFill, 4, 2)
	apply(1, schema.ExecFill, 2, 0)

	// order 2 is canceled half way
	submit(2, "c-2", schema.OrderSideSell, 12, 10)
	apply(2, schema.ExecAck, 0, 10)
	apply(2, schema.ExecFill, 3, 7)
	apply(2, schema.ExecCancel, 0, 0)

	// order 3 stays open but diverges; the drop-copy channel proves it filled
	submit(3, "c-3", schema.OrderSideBuy, 20, 5)
	apply(3, schema.ExecAck, 0, 5)
	f.recon.Observe(schema.ExecReport{OrderID: 3, Kind: schema.ExecFill, Qty: 5, LeavesQty: 0})
	require.Equal(t, 1, f.recon.Sweep())
	require.Equal(t, schema.OrderStateFilled, f.machine.StateOf(3))

	return f
}

func TestReplayReproducesState(t *testing.T) {
	f := runFlow(t)

	live := Build(f.funds, f.machine, nil, f.journal.LastSeq(), 0)

	result, err := Rebuild(f.journal, RebuildConfig{})
	require.NoError(t, err)
	require.Equal(t, f.journal.LastSeq(), result.LastSeq)

	replayed := Build(result.Funds, result.Machine, nil, result.LastSeq, result.LastEventTs)
	require.NoError(t, CompareSnapshots(live, replayed))

	// reservation identity is reproduced, not just balances
	require.Equal(t, f.funds.LiveTokenCount(), result.Funds.LiveTokenCount())
	liveOrder, ok := f.machine.Order(1)
	require.True(t, ok)
	replayOrder, ok := result.Machine.Order(1)
	require.True(t, ok)
	require.Equal(t, liveOrder.TokenID, replayOrder.TokenID)
	require.Equal(t, liveOrder.State, replayOrder.State)
	require.Equal(t, liveOrder.FilledQty, replayOrder.FilledQty)
}

func TestReplayIsRepeatable(t *testing.T) {
	f := runFlow(t)

	first, err := Rebuild(f.journal, RebuildConfig{})
	require.NoError(t, err)
	second, err := Rebuild(f.journal, RebuildConfig{})
	require.NoError(t, err)

	a := Build(first.Funds, first.Machine, nil, first.LastSeq, first.LastEventTs)
	b := Build(second.Funds, second.Machine, nil, second.LastSeq, second.LastEventTs)
	require.NoError(t, CompareSnapshots(a, b))
	require.Equal(t, first.Applied, second.Applied)
}

func TestSnapshotRoundTrip(t *testing.T) {
	f := runFlow(t)

	path := filepath.Join(t.TempDir(), "state.json")
	snap := Build(f.funds, f.machine, nil, f.journal.LastSeq(), 0)
	require.NoError(t, WriteSnapshot(path, snap))

	loaded, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.NoError(t, CompareSnapshots(snap, loaded))
	require.Equal(t, snap.LastSeq, loaded.LastSeq)
}

func TestCompareSnapshotsDetectsDrift(t *testing.T) {
	f := runFlow(t)
	snap := Build(f.funds, f.machine, nil, f.journal.LastSeq(), 0)

	drifted := Build(f.funds, f.machine, nil, f.journal.LastSeq(), 0)
	require.NotEmpty(t, drifted.Balances)
	drifted.Balances[0].Available++
	require.Error(t, CompareSnapshots(snap, drifted))
}

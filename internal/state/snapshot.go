package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/osm"
	"main/internal/reserve"
	"main/internal/schema"
)

// Snapshot captures balances and order states at a point in time. Scaled
// integers stay authoritative; the human fields are rendered for operators
// and never read back.
type Snapshot struct {
	Timestamp   int64          `json:"timestamp"`
	LastSeq     uint64         `json:"lastSeq"`
	LastEventTs int64          `json:"lastEventTs"`
	Balances    []BalanceEntry `json:"balances"`
	Orders      []OrderEntry   `json:"orders"`
	LiveTokens  int            `json:"liveTokens"`
}

// BalanceEntry is one asset's counters.
type BalanceEntry struct {
	AssetID        schema.AssetID `json:"assetId"`
	Asset          string         `json:"asset,omitempty"`
	Available      schema.Amount  `json:"available"`
	Reserved       schema.Amount  `json:"reserved"`
	Confirmed      schema.Amount  `json:"confirmed"`
	LastFree       schema.Amount  `json:"lastFree"`
	AvailableHuman string         `json:"availableHuman,omitempty"`
}

// OrderEntry is one order's state.
type OrderEntry struct {
	OrderID   uint64            `json:"orderId"`
	State     schema.OrderState `json:"state"`
	FilledQty schema.Quantity   `json:"filledQty"`
	LeavesQty schema.Quantity   `json:"leavesQty"`
	TokenID   string            `json:"tokenId,omitempty"`
}

// Build assembles a snapshot from the live components. The registry is
// optional and only feeds the human-readable fields.
func Build(funds *reserve.Ledger, machine *osm.Machine, registry *schema.Registry, lastSeq uint64, lastEventTs int64) Snapshot {
	assets := funds.Assets()
	sort.Slice(assets, func(i, j int) bool { return assets[i] < assets[j] })

	balances := make([]BalanceEntry, 0, len(assets))
	for _, id := range assets {
		bal, ok := funds.BalanceOf(id)
		if !ok {
			continue
		}
		entry := BalanceEntry{
			AssetID:   id,
			Available: bal.Available,
			Reserved:  bal.Reserved,
			Confirmed: bal.Confirmed,
			LastFree:  bal.LastFree,
		}
		if registry != nil {
			if asset, ok := registry.Asset(id); ok {
				entry.Asset = asset.Name
				entry.AvailableHuman = decimal.New(int64(bal.Available), -int32(asset.Scale)).String()
			}
		}
		balances = append(balances, entry)
	}

	open := machine.OpenOrders()
	sort.Slice(open, func(i, j int) bool { return open[i].ID < open[j].ID })
	orders := make([]OrderEntry, 0, len(open))
	for _, o := range open {
		orders = append(orders, OrderEntry{
			OrderID:   o.ID,
			State:     o.State,
			FilledQty: o.FilledQty,
			LeavesQty: o.LeavesQty,
			TokenID:   o.TokenID.String(),
		})
	}

	return Snapshot{
		Timestamp:   time.Now().UTC().UnixNano(),
		LastSeq:     lastSeq,
		LastEventTs: lastEventTs,
		Balances:    balances,
		Orders:      orders,
		LiveTokens:  funds.LiveTokenCount(),
	}
}

// WriteSnapshot writes a snapshot to disk as JSON.
func WriteSnapshot(path string, snapshot Snapshot) error {
	data, err := sonic.ConfigStd.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadSnapshot loads a snapshot from disk.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, err
	}
	var snap Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// CompareSnapshots checks that two snapshots describe the same state,
// ignoring timestamps and human rendering.
func CompareSnapshots(expected, actual Snapshot) error {
	if len(expected.Balances) != len(actual.Balances) {
		return fmt.Errorf("snapshot balance count mismatch: expected=%d actual=%d", len(expected.Balances), len(actual.Balances))
	}
	want := make(map[schema.AssetID]BalanceEntry, len(expected.Balances))
	for _, b := range expected.Balances {
		want[b.AssetID] = b
	}
	for _, b := range actual.Balances {
		w, ok := want[b.AssetID]
		if !ok {
			return fmt.Errorf("snapshot missing asset: %d", b.AssetID)
		}
		if w.Available != b.Available || w.Reserved != b.Reserved || w.Confirmed != b.Confirmed {
			return fmt.Errorf("snapshot balance mismatch: asset=%d expected=%+v actual=%+v", b.AssetID, w, b)
		}
	}

	if len(expected.Orders) != len(actual.Orders) {
		return fmt.Errorf("snapshot order count mismatch: expected=%d actual=%d", len(expected.Orders), len(actual.Orders))
	}
	wantOrders := make(map[uint64]OrderEntry, len(expected.Orders))
	for _, o := range expected.Orders {
		wantOrders[o.OrderID] = o
	}
	for _, o := range actual.Orders {
		w, ok := wantOrders[o.OrderID]
		if !ok {
			return fmt.Errorf("snapshot missing order: %d", o.OrderID)
		}
		if w.State != o.State || w.FilledQty != o.FilledQty || w.LeavesQty != o.LeavesQty {
			return fmt.Errorf("snapshot order mismatch: order=%d expected=%+v actual=%+v", o.OrderID, w, o)
		}
	}
	return nil
}

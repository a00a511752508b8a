package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"main/internal/risk"
	"main/internal/schema"
)

const sampleConfig = `{
  "registry": {
    "venues": [{"name": "SIM"}],
    "assets": [
      {"name": "COIN", "scale": 4},
      {"name": "USD", "scale": 2}
    ],
    "accounts": [{"name": "acct-main"}],
    "strategies": [{"name": "mm-1"}],
    "symbols": [{
      "name": "COIN-USD",
      "venue": "SIM",
      "base": "COIN",
      "quote": "USD",
      "scale": {"priceScale": 2, "quantityScale": 4, "notionalScale": 2, "feeScale": 2},
      "typicalQty": 1000000
    }]
  },
  "risk": {
    "killSwitch": false,
    "limits": [
      {"dimension": "symbol", "key": "COIN-USD", "max": 500000},
      {"dimension": "account", "key": "acct-main", "max": 900000}
    ],
    "rate": {"capacity": 20, "refillPerSec": 10},
    "stp": {"windowMs": 1500, "toleranceBps": 25, "policy": "cancel-oldest"},
    "band": {"maxDeviationBps": 300, "fatFingerMultiple": 10}
  },
  "reserve": {"ttlMs": 30000, "safetyMarginBps": 100},
  "machine": {"ackTimeoutMs": 2000, "maxCancelRetries": 3},
  "recon": {"sweepIntervalMs": 500, "transientLagMs": 1000, "minConsistencyChecks": 2},
  "ledger": {"dir": "/tmp/ledger", "filePrefix": "core"},
  "balances": [
    {"asset": "COIN", "free": "12.5"},
    {"asset": "USD", "free": "1000"}
  ],
  "archive": {"dsn": ""},
  "obs": {"metricsAddr": ":9101"},
  "demo": {"symbol": "COIN-USD", "side": 2, "price": 1050, "qty": 20000}
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadResolvesEverySection(t *testing.T) {
	loaded, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	symbolID, ok := loaded.Registry.SymbolIDByName("COIN-USD")
	if !ok {
		t.Fatalf("symbol not registered")
	}
	sym, _ := loaded.Registry.Symbol(symbolID)
	if sym.TypicalQty != 1_000_000 {
		t.Fatalf("typical qty: %d", sym.TypicalQty)
	}

	if len(loaded.Risk.Limits) != 2 {
		t.Fatalf("limits: %+v", loaded.Risk.Limits)
	}
	if loaded.Risk.Limits[0].Dimension != schema.DimensionSymbol || loaded.Risk.Limits[0].Key != uint64(symbolID) {
		t.Fatalf("symbol limit not resolved: %+v", loaded.Risk.Limits[0])
	}
	if loaded.Risk.STP.Policy != risk.STPCancelOldest || loaded.Risk.STP.Window != 1500*time.Millisecond {
		t.Fatalf("stp: %+v", loaded.Risk.STP)
	}

	if loaded.Reserve.TTL != 30*time.Second || loaded.Reserve.SafetyMarginBps != 100 {
		t.Fatalf("reserve: %+v", loaded.Reserve)
	}
	if loaded.Machine.AckTimeout != 2*time.Second || loaded.Machine.MaxCancelRetries != 3 {
		t.Fatalf("machine: %+v", loaded.Machine)
	}
	if loaded.Recon.TransientLag != time.Second || loaded.Recon.MinConsistencyChecks != 2 {
		t.Fatalf("recon: %+v", loaded.Recon)
	}
	if loaded.Ledger.Dir != "/tmp/ledger" || loaded.Ledger.FilePrefix != "core" {
		t.Fatalf("ledger: %+v", loaded.Ledger)
	}
	if loaded.MetricsAddr != ":9101" {
		t.Fatalf("metrics addr: %s", loaded.MetricsAddr)
	}

	if loaded.Demo.SymbolID != symbolID || loaded.Demo.Side != schema.OrderSideSell {
		t.Fatalf("demo: %+v", loaded.Demo)
	}
}

func TestLoadScalesBalances(t *testing.T) {
	loaded, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Balances) != 2 {
		t.Fatalf("balances: %+v", loaded.Balances)
	}
	// 12.5 COIN at scale 4 and 1000 USD at scale 2
	if loaded.Balances[0].Free != 125_000 {
		t.Fatalf("base balance: %d", loaded.Balances[0].Free)
	}
	if loaded.Balances[1].Free != 100_000 {
		t.Fatalf("quote balance: %d", loaded.Balances[1].Free)
	}
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"symbol with unknown venue", `{
			"registry": {
				"assets": [{"name": "A", "scale": 0}, {"name": "B", "scale": 0}],
				"symbols": [{"name": "A-B", "venue": "NOPE", "base": "A", "quote": "B"}]
			}
		}`},
		{"limit key not registered", `{
			"registry": {"venues": [{"name": "SIM"}]},
			"risk": {"limits": [{"dimension": "symbol", "key": "MISSING", "max": 1}]}
		}`},
		{"unknown limit dimension", `{
			"registry": {"venues": [{"name": "SIM"}]},
			"risk": {"limits": [{"dimension": "desk", "key": "SIM", "max": 1}]}
		}`},
		{"non positive limit", `{
			"registry": {"venues": [{"name": "SIM"}]},
			"risk": {"limits": [{"dimension": "venue", "key": "SIM", "max": 0}]}
		}`},
		{"unknown stp policy", `{
			"risk": {"stp": {"policy": "shrug"}}
		}`},
		{"balance beyond asset scale", `{
			"registry": {"assets": [{"name": "USD", "scale": 2}]},
			"balances": [{"asset": "USD", "free": "0.001"}]
		}`},
		{"balance for unknown asset", `{
			"balances": [{"asset": "GHOST", "free": "1"}]
		}`},
		{"demo symbol not registered", `{
			"demo": {"symbol": "GHOST", "price": 1, "qty": 1}
		}`},
		{"negative asset scale", `{
			"registry": {"assets": [{"name": "USD", "scale": -1}]}
		}`},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: accepted", tc.name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatalf("missing file accepted")
	}
}

package ops

import (
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/ledger"
	"main/internal/osm"
	"main/internal/recon"
	"main/internal/reserve"
	"main/internal/risk"
	"main/internal/schema"
)

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Registry RegistryConfig  `json:"registry"`
	Risk     RiskConfig      `json:"risk"`
	Reserve  ReserveConfig   `json:"reserve"`
	Machine  MachineConfig   `json:"machine"`
	Recon    ReconConfig     `json:"recon"`
	Ledger   LedgerConfig    `json:"ledger"`
	Balances []BalanceConfig `json:"balances"`
	Archive  ArchiveConfig   `json:"archive"`
	Obs      ObsConfig       `json:"obs"`
	Demo     DemoConfig      `json:"demo"`
}

// DemoConfig describes the synthetic order the demo flow submits.
type DemoConfig struct {
	Symbol string          `json:"symbol"`
	Side   schema.OrderSide `json:"side"`
	Price  schema.Price    `json:"price"`
	Qty    schema.Quantity `json:"qty"`
}

// RegistryConfig defines venue, asset, account, strategy and symbol mappings.
type RegistryConfig struct {
	Venues     []VenueConfig    `json:"venues"`
	Assets     []AssetConfig    `json:"assets"`
	Accounts   []NamedConfig    `json:"accounts"`
	Strategies []NamedConfig    `json:"strategies"`
	Symbols    []SymbolConfig   `json:"symbols"`
}

// VenueConfig describes a venue entry.
type VenueConfig struct {
	Name string `json:"name"`
}

// AssetConfig describes an asset and its integer scale.
type AssetConfig struct {
	Name  string       `json:"name"`
	Scale schema.Scale `json:"scale"`
}

// NamedConfig is a bare named entry.
type NamedConfig struct {
	Name string `json:"name"`
}

// SymbolConfig describes a symbol entry.
type SymbolConfig struct {
	Name       string           `json:"name"`
	Venue      string           `json:"venue"`
	Base       string           `json:"base"`
	Quote      string           `json:"quote"`
	Scale      schema.ScaleSpec `json:"scale"`
	TypicalQty schema.Quantity  `json:"typicalQty"`
}

// RiskConfig mirrors the gate config with names instead of ids.
type RiskConfig struct {
	KillSwitch bool               `json:"killSwitch"`
	Limits     []LimitEntry       `json:"limits"`
	Rate       risk.BucketConfig  `json:"rate"`
	STP        STPEntry           `json:"stp"`
	Band       risk.BandConfig    `json:"band"`
}

// LimitEntry caps one (dimension, key) pair. Max is in scaled notional units.
type LimitEntry struct {
	Dimension string          `json:"dimension"`
	Key       string          `json:"key"`
	Max       schema.Notional `json:"max"`
}

// STPEntry is the file form of the self-trade config.
type STPEntry struct {
	WindowMs     int64  `json:"windowMs"`
	ToleranceBps int64  `json:"toleranceBps"`
	Policy       string `json:"policy"`
}

// ReserveConfig controls the reservation ledger.
type ReserveConfig struct {
	TTLMs           int64 `json:"ttlMs"`
	SafetyMarginBps int64 `json:"safetyMarginBps"`
}

// MachineConfig controls the state machine.
type MachineConfig struct {
	AckTimeoutMs     int64 `json:"ackTimeoutMs"`
	MaxCancelRetries int   `json:"maxCancelRetries"`
}

// ReconConfig controls the reconciler.
type ReconConfig struct {
	SweepIntervalMs      int64 `json:"sweepIntervalMs"`
	TransientLagMs       int64 `json:"transientLagMs"`
	MinConsistencyChecks int   `json:"minConsistencyChecks"`
}

// LedgerConfig controls segment durability.
type LedgerConfig struct {
	Dir        string `json:"dir"`
	FilePrefix string `json:"filePrefix"`
}

// BalanceConfig seeds one asset's free balance. Free is a human decimal
// string scaled by the asset's configured scale.
type BalanceConfig struct {
	Asset string `json:"asset"`
	Free  string `json:"free"`
}

// ArchiveConfig enables the postgres audit archive when a DSN is set.
type ArchiveConfig struct {
	DSN string `json:"dsn"`
}

// ObsConfig controls metrics and profiling endpoints.
type ObsConfig struct {
	MetricsAddr string `json:"metricsAddr"`
	Pyroscope   struct {
		Enable        bool   `json:"enable"`
		ServerAddress string `json:"serverAddress"`
		AppName       string `json:"appName"`
	} `json:"pyroscope"`
}

// StartingBalance is a resolved seed balance.
type StartingBalance struct {
	AssetID schema.AssetID
	Free    schema.Amount
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Registry    *schema.Registry
	Risk        risk.Config
	Reserve     reserve.Config
	Machine     osm.Config
	Recon       recon.Config
	Ledger      ledger.WriterConfig
	Balances    []StartingBalance
	ArchiveDSN  string
	MetricsAddr string
	Pyroscope   PyroscopeSpec
	Demo        DemoSpec
}

// DemoSpec is the resolved demo order definition.
type DemoSpec struct {
	SymbolID schema.SymbolID
	Side     schema.OrderSide
	Price    schema.Price
	Qty      schema.Quantity
}

// PyroscopeSpec is the resolved profiling config.
type PyroscopeSpec struct {
	Enable        bool
	ServerAddress string
	AppName       string
}

// Load reads a JSON config file and resolves every section.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, err
	}
	var cfg FileConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, err
	}

	registry, err := buildRegistry(cfg.Registry)
	if err != nil {
		return Loaded{}, err
	}
	riskCfg, err := resolveRisk(cfg.Risk, registry)
	if err != nil {
		return Loaded{}, err
	}
	balances, err := resolveBalances(cfg.Balances, registry)
	if err != nil {
		return Loaded{}, err
	}
	demo, err := resolveDemo(cfg.Demo, registry)
	if err != nil {
		return Loaded{}, err
	}

	return Loaded{
		Registry: registry,
		Risk:     riskCfg,
		Reserve: reserve.Config{
			TTL:             time.Duration(cfg.Reserve.TTLMs) * time.Millisecond,
			SafetyMarginBps: cfg.Reserve.SafetyMarginBps,
		},
		Machine: osm.Config{
			AckTimeout:       time.Duration(cfg.Machine.AckTimeoutMs) * time.Millisecond,
			MaxCancelRetries: cfg.Machine.MaxCancelRetries,
		},
		Recon: recon.Config{
			SweepInterval:        time.Duration(cfg.Recon.SweepIntervalMs) * time.Millisecond,
			TransientLag:         time.Duration(cfg.Recon.TransientLagMs) * time.Millisecond,
			MinConsistencyChecks: cfg.Recon.MinConsistencyChecks,
		},
		Ledger: ledger.WriterConfig{
			Dir:        cfg.Ledger.Dir,
			FilePrefix: cfg.Ledger.FilePrefix,
		},
		Balances:    balances,
		ArchiveDSN:  cfg.Archive.DSN,
		MetricsAddr: cfg.Obs.MetricsAddr,
		Pyroscope: PyroscopeSpec{
			Enable:        cfg.Obs.Pyroscope.Enable,
			ServerAddress: cfg.Obs.Pyroscope.ServerAddress,
			AppName:       cfg.Obs.Pyroscope.AppName,
		},
		Demo: demo,
	}, nil
}

func resolveDemo(cfg DemoConfig, reg *schema.Registry) (DemoSpec, error) {
	if cfg.Symbol == "" {
		return DemoSpec{}, nil
	}
	symbolID, ok := reg.SymbolIDByName(cfg.Symbol)
	if !ok {
		return DemoSpec{}, fmt.Errorf("demo symbol not found: %s", cfg.Symbol)
	}
	if cfg.Price <= 0 || cfg.Qty <= 0 {
		return DemoSpec{}, fmt.Errorf("demo price and qty must be > 0")
	}
	side := cfg.Side
	if side == schema.OrderSideUnknown {
		side = schema.OrderSideBuy
	}
	return DemoSpec{SymbolID: symbolID, Side: side, Price: cfg.Price, Qty: cfg.Qty}, nil
}

func buildRegistry(cfg RegistryConfig) (*schema.Registry, error) {
	reg := schema.NewRegistry()
	for _, venue := range cfg.Venues {
		if _, err := reg.AddVenue(venue.Name); err != nil {
			return nil, err
		}
	}
	for _, asset := range cfg.Assets {
		if asset.Scale < 0 {
			return nil, fmt.Errorf("invalid scale for asset %s", asset.Name)
		}
		if _, err := reg.AddAsset(asset.Name, asset.Scale); err != nil {
			return nil, err
		}
	}
	for _, acct := range cfg.Accounts {
		if _, err := reg.AddAccount(acct.Name); err != nil {
			return nil, err
		}
	}
	for _, strat := range cfg.Strategies {
		if _, err := reg.AddStrategy(strat.Name); err != nil {
			return nil, err
		}
	}
	for _, sym := range cfg.Symbols {
		venueID, ok := reg.VenueIDByName(sym.Venue)
		if !ok {
			return nil, fmt.Errorf("venue not found: %s", sym.Venue)
		}
		base, ok := reg.AssetIDByName(sym.Base)
		if !ok {
			return nil, fmt.Errorf("base asset not found: %s", sym.Base)
		}
		quote, ok := reg.AssetIDByName(sym.Quote)
		if !ok {
			return nil, fmt.Errorf("quote asset not found: %s", sym.Quote)
		}
		if err := validateScale(sym.Scale); err != nil {
			return nil, fmt.Errorf("invalid scale for %s: %w", sym.Name, err)
		}
		if _, err := reg.AddSymbol(sym.Name, venueID, base, quote, sym.Scale, sym.TypicalQty); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func validateScale(scale schema.ScaleSpec) error {
	if scale.PriceScale < 0 || scale.QuantityScale < 0 || scale.NotionalScale < 0 || scale.FeeScale < 0 {
		return fmt.Errorf("scale must be >= 0")
	}
	return nil
}

func resolveRisk(cfg RiskConfig, reg *schema.Registry) (risk.Config, error) {
	policy, err := risk.ParseSTPPolicy(cfg.STP.Policy)
	if err != nil {
		return risk.Config{}, err
	}

	limits := make([]risk.LimitConfig, 0, len(cfg.Limits))
	for _, lim := range cfg.Limits {
		dim, key, err := resolveLimitKey(lim, reg)
		if err != nil {
			return risk.Config{}, err
		}
		if lim.Max <= 0 {
			return risk.Config{}, fmt.Errorf("limit max must be > 0: %s/%s", lim.Dimension, lim.Key)
		}
		limits = append(limits, risk.LimitConfig{Dimension: dim, Key: key, Max: lim.Max})
	}

	return risk.Config{
		KillSwitch: cfg.KillSwitch,
		Limits:     limits,
		Rate:       cfg.Rate,
		STP: risk.STPConfig{
			Window:       time.Duration(cfg.STP.WindowMs) * time.Millisecond,
			ToleranceBps: cfg.STP.ToleranceBps,
			Policy:       policy,
		},
		Band: cfg.Band,
	}, nil
}

func resolveLimitKey(lim LimitEntry, reg *schema.Registry) (schema.LimitDimension, uint64, error) {
	switch lim.Dimension {
	case "account":
		id, ok := reg.AccountIDByName(lim.Key)
		if !ok {
			return 0, 0, fmt.Errorf("account not found: %s", lim.Key)
		}
		return schema.DimensionAccount, uint64(id), nil
	case "symbol":
		id, ok := reg.SymbolIDByName(lim.Key)
		if !ok {
			return 0, 0, fmt.Errorf("symbol not found: %s", lim.Key)
		}
		return schema.DimensionSymbol, uint64(id), nil
	case "venue":
		id, ok := reg.VenueIDByName(lim.Key)
		if !ok {
			return 0, 0, fmt.Errorf("venue not found: %s", lim.Key)
		}
		return schema.DimensionVenue, uint64(id), nil
	case "strategy":
		id, ok := reg.StrategyIDByName(lim.Key)
		if !ok {
			return 0, 0, fmt.Errorf("strategy not found: %s", lim.Key)
		}
		return schema.DimensionStrategy, uint64(id), nil
	default:
		return 0, 0, fmt.Errorf("unknown limit dimension: %s", lim.Dimension)
	}
}

// resolveBalances parses human decimal amounts into scaled integers using
// each asset's configured scale.
func resolveBalances(cfg []BalanceConfig, reg *schema.Registry) ([]StartingBalance, error) {
	out := make([]StartingBalance, 0, len(cfg))
	for _, b := range cfg {
		id, ok := reg.AssetIDByName(b.Asset)
		if !ok {
			return nil, fmt.Errorf("balance asset not found: %s", b.Asset)
		}
		asset, _ := reg.Asset(id)
		d, err := decimal.NewFromString(b.Free)
		if err != nil {
			return nil, fmt.Errorf("invalid balance for %s: %w", b.Asset, err)
		}
		scaled := d.Shift(int32(asset.Scale))
		if !scaled.IsInteger() {
			return nil, fmt.Errorf("balance for %s exceeds asset scale %d", b.Asset, asset.Scale)
		}
		out = append(out, StartingBalance{AssetID: id, Free: schema.Amount(scaled.IntPart())})
	}
	return out, nil
}

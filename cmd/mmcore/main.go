package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"main/internal/bus"
	"main/internal/codec"
	"main/internal/core"
	"main/internal/feed"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/osm"
	"main/internal/recon"
	"main/internal/reserve"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/state"
	"main/pkg/conn"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

func main() {
	ledgerDir := flag.String("ledger-dir", "testdata/ledger", "Ledger segment directory")
	configPath := flag.String("config", "", "Path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "Config reload interval (0=disable)")
	orderCount := flag.Int("order-count", 1, "Number of demo orders to submit")
	orderInterval := flag.Duration("order-interval", 0, "Delay between demo orders")
	snapshotPath := flag.String("snapshot-path", "", "State snapshot output (default: <ledger-dir>/state.json)")
	recoverEnabled := flag.Bool("recover", false, "Rebuild state from ledger segments and exit")
	recoverSnapshot := flag.String("recover-snapshot", "", "Snapshot path for recovery verification (default: <ledger-dir>/state.json)")
	recoverPrefix := flag.String("recover-prefix", "", "Ledger file prefix for recovery (default: ledger)")
	recoverNoChecksum := flag.Bool("recover-no-checksum", false, "Disable checksum validation for recovery")
	recoverMaxPayload := flag.Int("recover-max-payload", 0, "Max payload size in bytes for recovery (0=unlimited)")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	if *recoverEnabled {
		recoverPath := resolveSnapshotPath(*ledgerDir, *recoverSnapshot)
		result, err := state.RecoverFromDisk(ctx, state.RecoverConfig{
			Dir:             *ledgerDir,
			FilePrefix:      *recoverPrefix,
			DisableChecksum: *recoverNoChecksum,
			MaxPayloadSize:  *recoverMaxPayload,
			SnapshotPath:    recoverPath,
			Reserve:         loaded.Reserve,
			Machine:         loaded.Machine,
			Log:             log,
		})
		if err != nil {
			log.Fatal("recovery failed", zap.Error(err))
		}
		log.Info("recovery verified",
			zap.Uint64("lastSeq", result.LastSeq),
			zap.Int("applied", result.Applied),
			zap.Int("orders", result.Machine.Len()),
			zap.Int("liveTokens", result.Funds.LiveTokenCount()))
		return
	}

	if loaded.Pyroscope.Enable {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: loaded.Pyroscope.AppName,
			ServerAddress:   loaded.Pyroscope.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatal("pyroscope start failed", zap.Error(err))
		}
		defer func() { _ = profiler.Stop() }()
	}

	if err := run(ctx, log, loaded, *configPath, *configReload, *ledgerDir, *orderCount, *orderInterval, resolveSnapshotPath(*ledgerDir, *snapshotPath)); err != nil {
		log.Fatal("run failed", zap.Error(err))
	}
}

func run(ctx context.Context, log *zap.Logger, loaded ops.Loaded, configPath string, configReload time.Duration, ledgerDir string, orderCount int, orderInterval time.Duration, snapshotPath string) error {
	if orderCount <= 0 {
		return fmt.Errorf("order-count must be > 0")
	}

	writerCfg := loaded.Ledger
	if writerCfg.Dir == "" {
		writerCfg.Dir = ledgerDir
	}
	writer, err := ledger.NewWriter(writerCfg)
	if err != nil {
		return err
	}
	if err := writer.Start(ctx); err != nil {
		return err
	}

	journal := ledger.New(log).WithWriter(writer)

	var pg *conn.Client
	var archive *ledger.Archive
	if loaded.ArchiveDSN != "" {
		pg, err = conn.Open(loaded.ArchiveDSN)
		if err != nil {
			return err
		}
		archive = ledger.NewArchive(pg.DB(), log)
		if err := archive.Migrate(); err != nil {
			return err
		}
		archive.Start(ctx)
		journal.WithArchive(archive)
	}

	metrics := obs.NewMetrics()
	if loaded.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		registry.MustRegister(obs.NewPromCollector(metrics))
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(loaded.MetricsAddr, mux); err != nil {
				log.Warn("metrics server stopped", zap.Error(err))
			}
		}()
	}

	funds := reserve.NewLedger(loaded.Reserve, log)
	gate := risk.NewGate(loaded.Risk, log)
	machine := osm.NewMachine(loaded.Machine, journal, funds, gate, log)
	reconciler := recon.NewReconciler(loaded.Recon, machine, journal, log)
	dispatcher := feed.NewDispatcher(machine, reconciler, funds, journal, metrics, log)

	runtime := newRuntimeConfig(loaded)
	if configPath != "" && configReload > 0 {
		go watchConfig(ctx, log, configPath, configReload, func(next ops.Loaded) {
			runtime.Update(next)
			gate.Reconfigure(next.Risk)
		})
	}

	if err := seedBalances(journal, funds, loaded.Balances); err != nil {
		return err
	}

	queue := bus.NewQueue(1024)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Run(ctx, queue)
	}()

	refdata := core.RefFunc(func(sym schema.SymbolID) risk.RefData {
		var ref risk.RefData
		if s, ok := loaded.Registry.Symbol(sym); ok {
			ref.TypicalQty = s.TypicalQty
		}
		return ref
	})
	coordinator := core.NewCoordinator(loaded.Registry, gate, funds, machine, journal, metrics, refdata, log)

	orderIDs := obs.NewIDSequence(1000)
	for i := 0; i < orderCount; i++ {
		spec := runtime.Load().Demo
		if spec.SymbolID == 0 {
			log.Warn("no demo order configured, nothing to submit")
			break
		}
		orderID := orderIDs.Next()
		if err := submitDemoOrder(queue, coordinator, metrics, spec, orderID, log); err != nil {
			return err
		}
		if orderInterval > 0 && i < orderCount-1 {
			time.Sleep(orderInterval)
		}
	}

	machine.SweepTimeouts()
	reconciler.Sweep()
	machine.ArchiveTerminal()

	queue.Close()
	wg.Wait()

	if err := writer.Close(); err != nil {
		return err
	}
	if archive != nil {
		archive.Close()
	}
	if pg != nil {
		_ = pg.Close()
	}

	snapshot := state.Build(funds, machine, loaded.Registry, journal.LastSeq(), 0)
	if snapshotPath != "" {
		if err := state.WriteSnapshot(snapshotPath, snapshot); err != nil {
			return err
		}
	}

	// replay the journal and confirm the rebuilt state matches the live one
	rebuilt, err := state.Rebuild(journal, state.RebuildConfig{
		Reserve: loaded.Reserve,
		Machine: loaded.Machine,
		Log:     log,
	})
	if err != nil {
		return err
	}
	replayed := state.Build(rebuilt.Funds, rebuilt.Machine, loaded.Registry, rebuilt.LastSeq, rebuilt.LastEventTs)
	if err := state.CompareSnapshots(snapshot, replayed); err != nil {
		return fmt.Errorf("replay diverged from live state: %w", err)
	}

	stats := reconciler.StatsView()
	mSnap := metrics.Snapshot()
	log.Info("run completed",
		zap.Uint64("lastSeq", journal.LastSeq()),
		zap.Int("orders", machine.Len()),
		zap.Int("liveTokens", funds.LiveTokenCount()),
		zap.Uint64("sweeps", stats.Sweeps),
		zap.Uint64("corrected", stats.Corrected),
		zap.Uint64("queueDrops", mSnap.QueueDrops),
		zap.Any("events", mSnap.EventCounts))
	return nil
}

// submitDemoOrder runs one order through the full path: submit, then a
// simulated exchange ack and two fills mirrored on both channels.
func submitDemoOrder(queue *bus.Queue, coordinator *core.Coordinator, metrics *obs.Metrics, spec ops.DemoSpec, orderID uint64, log *zap.Logger) error {
	order := schema.OrderNew{
		OrderID:       orderID,
		AccountID:     1,
		StrategyID:    1,
		SymbolID:      spec.SymbolID,
		VenueID:       1,
		Side:          spec.Side,
		Type:          schema.OrderTypeLimit,
		TimeInForce:   schema.TimeInForceGTC,
		Price:         spec.Price,
		Qty:           spec.Qty,
		ClientOrderID: schema.NewStr32(fmt.Sprintf("demo-%d", orderID)),
	}

	verdict, err := coordinator.Submit(order)
	if err != nil {
		return err
	}
	if !verdict.Approved {
		log.Info("demo order denied",
			zap.Uint64("orderId", orderID),
			zap.String("reason", verdict.Reason.String()))
		return nil
	}

	half := spec.Qty / 2
	reports := []schema.ExecReport{
		{ExecID: [16]byte(uuid.New()), OrderID: orderID, SymbolID: spec.SymbolID, Kind: schema.ExecAck, LeavesQty: spec.Qty},
		{ExecID: [16]byte(uuid.New()), OrderID: orderID, SymbolID: spec.SymbolID, Kind: schema.ExecFill, Price: spec.Price, Qty: half, LeavesQty: spec.Qty - half},
		{ExecID: [16]byte(uuid.New()), OrderID: orderID, SymbolID: spec.SymbolID, Kind: schema.ExecFill, Price: spec.Price, Qty: spec.Qty - half, LeavesQty: 0},
	}
	for _, rep := range reports {
		if err := publishExec(queue, schema.SourcePrimary, rep, metrics); err != nil {
			return err
		}
		if err := publishExec(queue, schema.SourceDropCopy, rep, metrics); err != nil {
			return err
		}
	}
	return nil
}

func publishExec(queue *bus.Queue, source uint16, rep schema.ExecReport, metrics *obs.Metrics) error {
	eventType := schema.EventOrderAck
	switch rep.Kind {
	case schema.ExecFill:
		eventType = schema.EventFill
	case schema.ExecCancel, schema.ExecCancelReject:
		eventType = schema.EventOrderCancel
	case schema.ExecReject:
		eventType = schema.EventOrderReject
	case schema.ExecExpire:
		eventType = schema.EventOrderExpired
	}
	ts := time.Now().UTC().UnixNano()
	rep.TsExchange = ts
	header := schema.NewHeader(eventType, source, 0, ts, ts)
	payload := codec.EncodeExecReport(make([]byte, 0, codec.ExecReportPayloadSize), rep)
	if err := queue.TryPublish(bus.Event{Header: header, Payload: payload}); err != nil {
		if err == bus.ErrQueueFull {
			metrics.IncQueueDrop()
		} else {
			metrics.IncQueueClosed()
		}
		return err
	}
	return nil
}

func seedBalances(journal *ledger.Ledger, funds *reserve.Ledger, balances []ops.StartingBalance) error {
	for _, b := range balances {
		payload := codec.EncodeBalanceSync(make([]byte, 0, codec.BalanceSyncPayloadSize), schema.BalanceSync{
			AssetID: b.AssetID,
			Free:    b.Free,
		})
		if _, err := journal.Append(schema.EventBalanceSync, schema.SourceLocal, payload, uint64(b.AssetID)); err != nil {
			return err
		}
		funds.SetFreeBalance(b.AssetID, b.Free)
	}
	return nil
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return defaultLoaded()
	}
	return ops.Load(path)
}

// defaultLoaded builds a self-contained simulation config so the binary
// works without a config file.
func defaultLoaded() (ops.Loaded, error) {
	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("SIM")
	if err != nil {
		return ops.Loaded{}, err
	}
	base, err := reg.AddAsset("TEST", 4)
	if err != nil {
		return ops.Loaded{}, err
	}
	quote, err := reg.AddAsset("USD", 4)
	if err != nil {
		return ops.Loaded{}, err
	}
	if _, err := reg.AddAccount("sim"); err != nil {
		return ops.Loaded{}, err
	}
	if _, err := reg.AddStrategy("demo"); err != nil {
		return ops.Loaded{}, err
	}
	scale := schema.ScaleSpec{PriceScale: 4, QuantityScale: 4, NotionalScale: 4, FeeScale: 4}
	symbolID, err := reg.AddSymbol("TEST-USD", venueID, base, quote, scale, schema.Quantity(100_0000))
	if err != nil {
		return ops.Loaded{}, err
	}

	return ops.Loaded{
		Registry: reg,
		Risk: risk.Config{
			Limits: []risk.LimitConfig{
				{Dimension: schema.DimensionSymbol, Key: uint64(symbolID), Max: schema.Notional(100_000_000_0000)},
			},
		},
		Reserve: reserve.Config{TTL: 30 * time.Second},
		Machine: osm.Config{AckTimeout: 30 * time.Second},
		Recon:   recon.Config{SweepInterval: 30 * time.Second},
		Balances: []ops.StartingBalance{
			{AssetID: base, Free: schema.Amount(1_000_0000)},
			{AssetID: quote, Free: schema.Amount(1_000_000_0000)},
		},
		Demo: ops.DemoSpec{
			SymbolID: symbolID,
			Side:     schema.OrderSideBuy,
			Price:    schema.Price(100_0000),
			Qty:      schema.Quantity(10_0000),
		},
	}, nil
}

func resolveSnapshotPath(dir string, path string) string {
	if path != "" {
		return path
	}
	return filepath.Join(dir, "state.json")
}

func watchConfig(ctx context.Context, log *zap.Logger, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Warn("config stat failed", zap.Error(err))
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				log.Warn("config reload failed", zap.Error(err))
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			log.Info("config reloaded", zap.String("path", path))
		}
	}
}

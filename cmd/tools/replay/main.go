// Prints a recorded ledger session record by record, optionally pacing
// to the original event gaps and decoding known payload types. With
// -verify-snapshot it also rebuilds state from the segments and checks
// the result against a snapshot file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"sort"

	"github.com/google/uuid"

	"main/internal/codec"
	"main/internal/ledger"
	"main/internal/ops"
	"main/internal/schema"
	"main/internal/state"
)

func main() {
	var (
		cfg            ledger.PlaybackConfig
		decode         bool
		verifySnapshot string
		configPath     string
	)
	flag.StringVar(&cfg.Dir, "dir", "testdata/ledger", "Ledger segment directory")
	flag.StringVar(&cfg.FilePrefix, "prefix", "", "Ledger file prefix (default: ledger)")
	flag.Float64Var(&cfg.Speed, "speed", 0, "Playback speed (1=real-time, 0=no pacing)")
	flag.BoolVar(&cfg.UseRecvTime, "use-recv-time", false, "Use receive timestamp for pacing")
	flag.BoolVar(&cfg.DisableChecksum, "no-checksum", false, "Disable checksum validation")
	flag.IntVar(&cfg.MaxPayloadSize, "max-payload", 0, "Max payload size in bytes (0=unlimited)")
	flag.BoolVar(&decode, "decode", false, "Decode known payload types")
	flag.StringVar(&verifySnapshot, "verify-snapshot", "", "Rebuild state and compare against this snapshot file")
	flag.StringVar(&configPath, "config", "", "Config file supplying reserve/machine policies for verification")
	flag.Parse()

	pb, err := ledger.NewPlayback(cfg)
	if err != nil {
		log.Fatalf("playback init failed: %v", err)
	}

	ctx := context.Background()
	counts := make(map[schema.EventType]int)
	var index int
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		index++
		counts[header.Type]++
		fmt.Printf("%06d seq=%d type=%s source=%d ts_event=%d ts_recv=%d len=%d\n",
			index, header.Seq, header.Type.String(), header.Source, header.TsEvent, header.TsRecv, len(payload))
		if decode {
			if line, ok := describe(header.Type, payload); ok {
				fmt.Println("  " + line)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("playback run failed: %v", err)
	}
	printCounts(counts, index)

	if verifySnapshot != "" {
		if err := verify(ctx, cfg, verifySnapshot, configPath); err != nil {
			log.Fatalf("verify failed: %v", err)
		}
		fmt.Println("snapshot verified")
	}
}

func printCounts(counts map[schema.EventType]int, total int) {
	types := make([]schema.EventType, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	fmt.Printf("total=%d\n", total)
	for _, t := range types {
		fmt.Printf("  %s=%d\n", t.String(), counts[t])
	}
}

// verify replays the segments through a fresh rebuild and compares the
// result against the snapshot. Reserve and machine policies come from the
// config file when given; replay itself never sweeps timeouts, so zero
// policies are safe for sessions recorded with defaults.
func verify(ctx context.Context, cfg ledger.PlaybackConfig, snapshotPath, configPath string) error {
	rec := state.RecoverConfig{
		Dir:             cfg.Dir,
		FilePrefix:      cfg.FilePrefix,
		DisableChecksum: cfg.DisableChecksum,
		MaxPayloadSize:  cfg.MaxPayloadSize,
		SnapshotPath:    snapshotPath,
	}
	if configPath != "" {
		loaded, err := ops.Load(configPath)
		if err != nil {
			return err
		}
		rec.Reserve = loaded.Reserve
		rec.Machine = loaded.Machine
	}
	result, err := state.RecoverFromDisk(ctx, rec)
	if err != nil {
		return err
	}
	fmt.Printf("rebuilt applied=%d last_seq=%d\n", result.Applied, result.LastSeq)
	return nil
}

// describe renders the payload detail line for decodable event types. The
// second return is false for types the tool does not decode.
func describe(t schema.EventType, payload []byte) (string, bool) {
	switch t {
	case schema.EventOrderNew:
		o, ok := codec.DecodeOrderNew(payload)
		if !ok {
			return "decode OrderNew failed", true
		}
		return fmt.Sprintf("order id=%d client=%s symbol=%d side=%d type=%d tif=%d price=%d qty=%d",
			o.OrderID, o.ClientOrderID.String(), o.SymbolID, o.Side, o.Type, o.TimeInForce, o.Price, o.Qty), true
	case schema.EventOrderAck, schema.EventFill, schema.EventOrderCancel,
		schema.EventOrderReject, schema.EventOrderExpired:
		rep, ok := codec.DecodeExecReport(payload)
		if !ok {
			return "decode ExecReport failed", true
		}
		return fmt.Sprintf("exec id=%s order=%d symbol=%d kind=%d price=%d qty=%d leaves=%d",
			uuid.UUID(rep.ExecID).String(), rep.OrderID, rep.SymbolID, rep.Kind, rep.Price, rep.Qty, rep.LeavesQty), true
	case schema.EventReserve, schema.EventReserveConfirm, schema.EventReserveRelease, schema.EventReserveSettle:
		res, ok := codec.DecodeReservation(payload)
		if !ok {
			return "decode Reservation failed", true
		}
		return fmt.Sprintf("reserve token=%s order=%d asset=%d flags=%d amount=%d",
			uuid.UUID(res.TokenID).String(), res.OrderID, res.AssetID, res.Flags, res.Amount), true
	case schema.EventBalanceSync:
		sync, ok := codec.DecodeBalanceSync(payload)
		if !ok {
			return "decode BalanceSync failed", true
		}
		return fmt.Sprintf("balance asset=%d free=%d", sync.AssetID, sync.Free), true
	case schema.EventRiskVerdict:
		v, ok := codec.DecodeRiskVerdict(payload)
		if !ok {
			return "decode RiskVerdict failed", true
		}
		return fmt.Sprintf("verdict order=%d action=%d reason=%s dimension=%d notional=%d",
			v.OrderID, v.Action, v.Reason.String(), v.Dimension, v.Notional), true
	case schema.EventCorrection:
		c, ok := codec.DecodeCorrection(payload)
		if !ok {
			return "decode Correction failed", true
		}
		return fmt.Sprintf("correction id=%s order=%d from=%d to=%d evidence=%d filled=%d",
			uuid.UUID(c.DiscrepancyID).String(), c.OrderID, c.From, c.To, c.Evidence, c.FilledQty), true
	case schema.EventDiscrepancy:
		d, ok := codec.DecodeDiscrepancy(payload)
		if !ok {
			return "decode Discrepancy failed", true
		}
		return fmt.Sprintf("discrepancy id=%s order=%d local=%d authority=%d resolution=%d detected=%d",
			uuid.UUID(d.DiscrepancyID).String(), d.OrderID, d.LocalState, d.Authority, d.Resolution, d.DetectedAt), true
	default:
		return "", false
	}
}

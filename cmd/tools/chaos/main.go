// Rewrites a recorded ledger session with injected channel faults. The
// output is a valid ledger directory, so the replay tool and the state
// rebuilder accept it directly.
package main

import (
	"context"
	"flag"
	"log"

	"main/internal/bus"
	"main/internal/chaos"
	"main/internal/ledger"
	"main/internal/schema"
)

type options struct {
	inputDir     string
	inputPrefix  string
	outputDir    string
	outputPrefix string
	noChecksum   bool
	maxPayload   int
	faults       chaos.Config
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.inputDir, "input-dir", "testdata/ledger", "Input ledger directory")
	flag.StringVar(&opts.inputPrefix, "input-prefix", "", "Input ledger file prefix (default: ledger)")
	flag.StringVar(&opts.outputDir, "output-dir", "testdata/ledger_chaos", "Output ledger directory")
	flag.StringVar(&opts.outputPrefix, "output-prefix", "chaos", "Output ledger file prefix")
	flag.Int64Var(&opts.faults.Seed, "seed", 0, "RNG seed (0=now)")
	flag.Float64Var(&opts.faults.DropRate, "drop-rate", 0, "Drop probability [0-1]")
	flag.Float64Var(&opts.faults.DuplicateRate, "dup-rate", 0, "Duplicate probability [0-1]")
	flag.IntVar(&opts.faults.ReorderWindow, "reorder-window", 1, "Reorder window (>=1)")
	flag.DurationVar(&opts.faults.MaxDelay, "max-delay", 0, "Max receive delay")
	flag.BoolVar(&opts.noChecksum, "no-checksum", false, "Disable checksum validation")
	flag.IntVar(&opts.maxPayload, "max-payload", 0, "Max payload size in bytes (0=unlimited)")
	flag.Parse()
	return opts
}

func main() {
	if err := run(context.Background(), parseFlags()); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, opts options) error {
	pb, err := ledger.NewPlayback(ledger.PlaybackConfig{
		Dir:             opts.inputDir,
		FilePrefix:      opts.inputPrefix,
		DisableChecksum: opts.noChecksum,
		MaxPayloadSize:  opts.maxPayload,
	})
	if err != nil {
		return err
	}
	engine, err := chaos.NewEngine(opts.faults)
	if err != nil {
		return err
	}

	outCfg := ledger.DefaultWriterConfig(opts.outputDir)
	outCfg.FilePrefix = opts.outputPrefix
	outCfg.CopyPayload = true
	writer, err := ledger.NewWriter(outCfg)
	if err != nil {
		return err
	}
	if err := writer.Start(ctx); err != nil {
		return err
	}

	sink := &resequencer{writer: writer}
	err = pb.Run(ctx, func(header schema.EventHeader, payload []byte) error {
		ev := bus.Event{Header: header, Payload: append([]byte(nil), payload...)}
		return sink.writeAll(engine.Process(ev))
	})
	if err == nil {
		err = sink.writeAll(engine.Flush())
	}
	if err != nil {
		writer.Close()
		return err
	}
	return writer.Close()
}

// resequencer renumbers events on the way out. Faults reorder and drop
// records, so the input sequence numbers no longer form a valid ledger.
type resequencer struct {
	writer *ledger.Writer
	seq    uint64
}

func (r *resequencer) writeAll(events []bus.Event) error {
	for _, ev := range events {
		r.seq++
		ev.Header.Seq = r.seq
		if ev.Header.Version == 0 {
			ev.Header.Version = schema.SchemaVersion
		}
		if err := r.writer.TryAppend(ev.Header, ev.Payload); err != nil {
			return err
		}
	}
	return nil
}

package chaos

import (
	"testing"
	"time"

	"main/internal/bus"
	"main/internal/schema"
)

func event(seq uint64) bus.Event {
	return bus.Event{
		Header:  schema.NewHeader(schema.EventFill, schema.SourcePrimary, seq, int64(seq)*1000, int64(seq)*1000+5),
		Payload: []byte{byte(seq)},
	}
}

func TestNoFaultsPassThrough(t *testing.T) {
	e, err := NewEngine(Config{Seed: 1})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	for i := uint64(1); i <= 5; i++ {
		out := e.Process(event(i))
		if len(out) != 1 || out[0].Header.Seq != i {
			t.Fatalf("event %d altered: %+v", i, out)
		}
	}
	if extra := e.Flush(); len(extra) != 0 {
		t.Fatalf("flush produced events without a reorder window: %d", len(extra))
	}
}

func TestSeededRunsAreIdentical(t *testing.T) {
	cfg := Config{
		Seed:          42,
		DropRate:      0.3,
		DuplicateRate: 0.3,
		ReorderWindow: 4,
		MaxDelay:      50 * time.Millisecond,
	}
	run := func() []uint64 {
		e, err := NewEngine(cfg)
		if err != nil {
			t.Fatalf("engine: %v", err)
		}
		var seqs []uint64
		for i := uint64(1); i <= 200; i++ {
			for _, out := range e.Process(event(i)) {
				seqs = append(seqs, out.Header.Seq)
			}
		}
		for _, out := range e.Flush() {
			seqs = append(seqs, out.Header.Seq)
		}
		return seqs
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("run lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("runs diverge at %d: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestDropRateOneDropsEverything(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7, DropRate: 1})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	for i := uint64(1); i <= 10; i++ {
		if out := e.Process(event(i)); len(out) != 0 {
			t.Fatalf("event %d survived a full drop rate", i)
		}
	}
}

func TestDuplicateRateOneDoublesEverything(t *testing.T) {
	e, err := NewEngine(Config{Seed: 7, DuplicateRate: 1})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	out := e.Process(event(3))
	if len(out) != 2 {
		t.Fatalf("expected a duplicate, got %d events", len(out))
	}
	if out[0].Header.Seq != 3 || out[1].Header.Seq != 3 {
		t.Fatalf("duplicate carries a different event: %+v", out)
	}
}

func TestReorderWindowLosesNothing(t *testing.T) {
	e, err := NewEngine(Config{Seed: 11, ReorderWindow: 4})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	seen := make(map[uint64]int)
	for i := uint64(1); i <= 20; i++ {
		for _, out := range e.Process(event(i)) {
			seen[out.Header.Seq]++
		}
	}
	for _, out := range e.Flush() {
		seen[out.Header.Seq]++
	}
	for i := uint64(1); i <= 20; i++ {
		if seen[i] != 1 {
			t.Fatalf("event %d emitted %d times", i, seen[i])
		}
	}
}

func TestDelayOnlyMovesRecvTime(t *testing.T) {
	e, err := NewEngine(Config{Seed: 5, MaxDelay: time.Second})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	in := event(1)
	out := e.Process(in)
	if len(out) != 1 {
		t.Fatalf("expected a single event, got %d", len(out))
	}
	if out[0].Header.TsRecv < in.Header.TsRecv {
		t.Fatalf("recv time moved backwards: %d -> %d", in.Header.TsRecv, out[0].Header.TsRecv)
	}
	if out[0].Header.TsEvent != in.Header.TsEvent {
		t.Fatalf("event time altered: %d -> %d", in.Header.TsEvent, out[0].Header.TsEvent)
	}
}

func TestConfigValidation(t *testing.T) {
	cases := []Config{
		{DropRate: 1.5, ReorderWindow: 1},
		{DropRate: -0.1, ReorderWindow: 1},
		{DuplicateRate: 2, ReorderWindow: 1},
		{ReorderWindow: 0},
		{MaxDelay: -time.Second, ReorderWindow: 1},
	}
	for i, cfg := range cases {
		if err := cfg.Validate(); err == nil {
			t.Fatalf("case %d accepted: %+v", i, cfg)
		}
	}
	if _, err := NewEngine(Config{DropRate: 2}); err == nil {
		t.Fatalf("engine accepted an invalid drop rate")
	}
}

// Package chaos injects execution-channel faults (drops, duplicates,
// delays, reordering) between a channel adapter and the feed dispatcher,
// for exercising the dedupe and reconciliation paths.
package chaos

import (
	"fmt"
	"math/rand"
	"time"

	"main/internal/bus"
)

// Config controls fault injection behavior. Rates are probabilities in
// [0, 1]; a ReorderWindow of 1 disables reordering.
type Config struct {
	Seed          int64
	DropRate      float64
	DuplicateRate float64
	ReorderWindow int
	MaxDelay      time.Duration
}

// Validate ensures the config is within supported ranges.
func (c Config) Validate() error {
	switch {
	case c.DropRate < 0 || c.DropRate > 1:
		return fmt.Errorf("dropRate must be between 0 and 1")
	case c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return fmt.Errorf("duplicateRate must be between 0 and 1")
	case c.ReorderWindow <= 0:
		return fmt.Errorf("reorderWindow must be >= 1")
	case c.MaxDelay < 0:
		return fmt.Errorf("maxDelay must be >= 0")
	}
	return nil
}

// Engine applies seeded, reproducible faults to an event stream.
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	window []bus.Event
}

// NewEngine validates the config and seeds the fault source. A zero seed
// picks one from the clock.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.ReorderWindow <= 0 {
		cfg.ReorderWindow = 1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UTC().UnixNano()
	}
	return &Engine{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}, nil
}

// Process runs one event through the fault pipeline. It returns zero
// events for a drop or while the reorder window is filling, and two for a
// duplicated event.
func (e *Engine) Process(ev bus.Event) []bus.Event {
	if e == nil {
		return []bus.Event{ev}
	}
	if e.cfg.DropRate > 0 && e.rng.Float64() < e.cfg.DropRate {
		return nil
	}
	ev = e.delay(ev)

	if e.cfg.ReorderWindow <= 1 {
		return e.emit(ev)
	}
	e.window = append(e.window, ev)
	if len(e.window) < e.cfg.ReorderWindow {
		return nil
	}
	return e.emit(e.takeRandom())
}

// Flush empties the reorder window in random order.
func (e *Engine) Flush() []bus.Event {
	if e == nil || len(e.window) == 0 {
		return nil
	}
	out := make([]bus.Event, 0, len(e.window))
	for len(e.window) > 0 {
		out = append(out, e.emit(e.takeRandom())...)
	}
	return out
}

func (e *Engine) takeRandom() bus.Event {
	idx := e.rng.Intn(len(e.window))
	ev := e.window[idx]
	e.window = append(e.window[:idx], e.window[idx+1:]...)
	return ev
}

// emit applies duplication on the way out.
func (e *Engine) emit(ev bus.Event) []bus.Event {
	if e.cfg.DuplicateRate > 0 && e.rng.Float64() < e.cfg.DuplicateRate {
		return []bus.Event{ev, ev}
	}
	return []bus.Event{ev}
}

// delay pushes the receive timestamp forward by a random amount, modelling
// a late channel. Event time is never touched.
func (e *Engine) delay(ev bus.Event) bus.Event {
	if e.cfg.MaxDelay <= 0 {
		return ev
	}
	d := e.rng.Int63n(e.cfg.MaxDelay.Nanoseconds() + 1)
	if d == 0 {
		return ev
	}
	if ev.Header.TsRecv > 0 {
		ev.Header.TsRecv += d
	} else if ev.Header.TsEvent > 0 {
		ev.Header.TsRecv = ev.Header.TsEvent + d
	}
	return ev
}

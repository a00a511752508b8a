package ledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"main/internal/errors"
	"main/internal/schema"
)

// PlaybackConfig controls segment playback behavior.
type PlaybackConfig struct {
	Dir             string
	FilePrefix      string
	Speed           float64
	UseRecvTime     bool
	DisableChecksum bool
	MaxPayloadSize  int
}

// Clock is the sleep source used for pacing. Tests substitute one that
// advances instantly.
type Clock interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type wallClock struct{}

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Playback replays ledger segments in file order.
type Playback struct {
	cfg   PlaybackConfig
	clock Clock
}

// NewPlayback builds a playback engine over a segment directory.
func NewPlayback(cfg PlaybackConfig) (*Playback, error) {
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = defaultFilePrefix
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Playback{cfg: cfg, clock: wallClock{}}, nil
}

// WithClock replaces the pacing clock.
func (p *Playback) WithClock(clock Clock) *Playback {
	if clock != nil {
		p.clock = clock
	}
	return p
}

// Validate checks if the config is usable.
func (c PlaybackConfig) Validate() error {
	var reason string
	switch {
	case c.Dir == "":
		reason = "Dir is empty"
	case c.Speed < 0:
		reason = "Speed must be >= 0"
	case c.MaxPayloadSize < 0:
		reason = "MaxPayloadSize must be >= 0"
	default:
		return nil
	}
	return fmt.Errorf("invalid playback config: %s", reason)
}

// Run replays every segment record through the handler, pacing by event
// timestamps when a speed is configured.
func (p *Playback) Run(ctx context.Context, handler func(schema.EventHeader, []byte) error) error {
	if handler == nil {
		return errors.New("playback handler is nil")
	}

	pattern := filepath.Join(p.cfg.Dir, p.cfg.FilePrefix+"-*.ldg")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(files)

	pace := &pacer{
		speed:   p.cfg.Speed,
		useRecv: p.cfg.UseRecvTime,
		clock:   p.clock,
	}
	for _, path := range files {
		if err := p.replayFile(ctx, path, handler, pace); err != nil {
			return err
		}
	}
	return nil
}

func (p *Playback) replayFile(ctx context.Context, path string, handler func(schema.EventHeader, []byte) error, pace *pacer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := NewReader(file, ReaderOptions{
		DisableChecksum: p.cfg.DisableChecksum,
		MaxPayloadSize:  p.cfg.MaxPayloadSize,
	})
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, payload, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "read %s", path)
		}
		if err := pace.wait(ctx, header); err != nil {
			return err
		}
		if err := handler(header, payload); err != nil {
			return err
		}
	}
}

// pacer stretches replay to the original inter-event gaps divided by the
// configured speed. Speed 0 replays as fast as the handler allows.
type pacer struct {
	speed   float64
	useRecv bool
	clock   Clock
	prev    int64
}

func (p *pacer) wait(ctx context.Context, header schema.EventHeader) error {
	if p.speed <= 0 {
		return nil
	}
	ts := header.TsEvent
	if p.useRecv {
		ts = header.TsRecv
	}
	if ts <= 0 {
		return nil
	}
	if p.prev > 0 && ts > p.prev {
		gap := time.Duration(float64(ts-p.prev) / p.speed)
		if err := p.clock.Sleep(ctx, gap); err != nil {
			return err
		}
	}
	p.prev = ts
	return nil
}

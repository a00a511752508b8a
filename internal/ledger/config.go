package ledger

import (
	"fmt"
	"time"
)

const (
	defaultSegmentMaxBytes    int64 = 1 << 30
	defaultSegmentMaxDuration       = 5 * time.Minute
	defaultQueueSize                = 4096
	defaultBufferSize               = 256 * 1024
	defaultFilePrefix               = "ledger"
)

// WriterConfig controls segment writer behavior. Zero values for sizes
// and the prefix fall back to defaults; intervals of zero disable the
// periodic flush or sync.
type WriterConfig struct {
	Dir                string
	SegmentMaxBytes    int64
	SegmentMaxDuration time.Duration
	QueueSize          int
	BufferSize         int
	FilePrefix         string
	FlushInterval      time.Duration
	SyncInterval       time.Duration
	CopyPayload        bool
}

// DefaultWriterConfig returns a baseline configuration for the segment writer.
func DefaultWriterConfig(dir string) WriterConfig {
	cfg := WriterConfig{Dir: dir, SegmentMaxDuration: defaultSegmentMaxDuration}
	return cfg.withDefaults()
}

// withDefaults fills size and prefix fields only. SegmentMaxDuration stays
// as given so a zero value keeps duration rotation off.
func (c WriterConfig) withDefaults() WriterConfig {
	if c.SegmentMaxBytes == 0 {
		c.SegmentMaxBytes = defaultSegmentMaxBytes
	}
	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.FilePrefix == "" {
		c.FilePrefix = defaultFilePrefix
	}
	return c
}

// Validate checks if the configuration is usable.
func (c WriterConfig) Validate() error {
	var reason string
	switch {
	case c.Dir == "":
		reason = "Dir is empty"
	case c.SegmentMaxBytes <= 0:
		reason = "SegmentMaxBytes must be > 0"
	case c.QueueSize <= 0:
		reason = "QueueSize must be > 0"
	case c.BufferSize <= 0:
		reason = "BufferSize must be > 0"
	case c.FilePrefix == "":
		reason = "FilePrefix is empty"
	case c.FlushInterval < 0:
		reason = "FlushInterval must be >= 0"
	case c.SyncInterval < 0:
		reason = "SyncInterval must be >= 0"
	default:
		return nil
	}
	return fmt.Errorf("invalid ledger writer config: %s", reason)
}

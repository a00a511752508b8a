package risk

import (
	"fmt"
	"strings"
	"time"

	"main/internal/schema"
)

// STPPolicy selects what happens when a candidate order would cross the
// caller's own resting order.
type STPPolicy uint8

const (
	STPReject STPPolicy = iota + 1
	STPCancelOldest
	STPCancelSmallest
	STPWarnOnly
)

// ParseSTPPolicy maps a config string to a policy.
func ParseSTPPolicy(s string) (STPPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return STPReject, nil
	case "cancel-oldest":
		return STPCancelOldest, nil
	case "cancel-smallest":
		return STPCancelSmallest, nil
	case "warn-only":
		return STPWarnOnly, nil
	default:
		return 0, fmt.Errorf("unknown stp policy: %q", s)
	}
}

func (p STPPolicy) String() string {
	switch p {
	case STPReject:
		return "reject"
	case STPCancelOldest:
		return "cancel-oldest"
	case STPCancelSmallest:
		return "cancel-smallest"
	case STPWarnOnly:
		return "warn-only"
	default:
		return "unknown"
	}
}

// LimitConfig caps projected notional exposure for one (dimension, key) pair.
type LimitConfig struct {
	Dimension schema.LimitDimension `json:"dimension"`
	Key       uint64                `json:"key"`
	Max       schema.Notional       `json:"max"`
}

// BucketConfig sizes the per-key admission token buckets.
type BucketConfig struct {
	Capacity     int64   `json:"capacity"`
	RefillPerSec float64 `json:"refillPerSec"`
}

// STPConfig controls self-trade prevention.
type STPConfig struct {
	Window       time.Duration `json:"window"`
	ToleranceBps int64         `json:"toleranceBps"`
	Policy       STPPolicy     `json:"policy"`
}

// BandConfig controls price and size sanity checks.
type BandConfig struct {
	MaxDeviationBps   int64 `json:"maxDeviationBps"`
	FatFingerMultiple int64 `json:"fatFingerMultiple"`
}

// Config defines the gate's static limits.
type Config struct {
	Version    uint16        `json:"version"`
	KillSwitch bool          `json:"killSwitch"`
	Limits     []LimitConfig `json:"limits"`
	Rate       BucketConfig  `json:"rate"`
	STP        STPConfig     `json:"stp"`
	Band       BandConfig    `json:"band"`
}

const (
	defaultSTPWindow       = 2 * time.Second
	defaultBucketCapacity  = 100
	defaultBucketRefillSec = 50.0
)

func (c Config) withDefaults() Config {
	if c.STP.Window <= 0 {
		c.STP.Window = defaultSTPWindow
	}
	if c.STP.Policy == 0 {
		c.STP.Policy = STPReject
	}
	if c.Rate.Capacity <= 0 {
		c.Rate.Capacity = defaultBucketCapacity
	}
	if c.Rate.RefillPerSec <= 0 {
		c.Rate.RefillPerSec = defaultBucketRefillSec
	}
	return c
}

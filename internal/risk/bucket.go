package risk

// bucket is a token bucket refilled lazily on access. All mutation happens
// under the gate lock, so no internal synchronization is needed.
type bucket struct {
	tokens   float64
	capacity float64
	perSec   float64
	lastFill int64
}

func newBucket(cfg BucketConfig, now int64) *bucket {
	return &bucket{
		tokens:   float64(cfg.Capacity),
		capacity: float64(cfg.Capacity),
		perSec:   cfg.RefillPerSec,
		lastFill: now,
	}
}

func (b *bucket) refill(now int64) {
	if now <= b.lastFill {
		return
	}
	elapsed := float64(now-b.lastFill) / 1e9
	b.tokens += elapsed * b.perSec
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastFill = now
}

func (b *bucket) ready() bool {
	return b.tokens >= 1
}

func (b *bucket) take() {
	b.tokens -= 1
}

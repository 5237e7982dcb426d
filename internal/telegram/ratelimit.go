package telegram

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// callClass groups RPCs that share a pace and a flood deadline. The
// server rate-limits message sends and invitations separately from, and
// far more strictly than, reads.
type callClass int

const (
	classRead callClass = iota
	classWrite
)

// maxWriteRPS caps sends regardless of the configured read pace.
const maxWriteRPS = 1.0

var writeOps = map[string]bool{
	"send_text":  true,
	"send_media": true,
	"invite":     true,
}

func classOf(op string) callClass {
	if writeOps[op] {
		return classWrite
	}
	return classRead
}

// RateLimiter paces RPC calls shared by every worker of a process.
type RateLimiter struct {
	limiters [2]*rate.Limiter

	mu sync.Mutex
	// calls of a class made while its FLOOD_WAIT is pending block until
	// this instant
	floodUntil [2]time.Time
}

// NewRateLimiter paces reads at rps with the given burst. Writes run at
// the lower of rps and one per second, without burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		rps = 2.0
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: [2]*rate.Limiter{
			classRead:  rate.NewLimiter(rate.Limit(rps), burst),
			classWrite: rate.NewLimiter(rate.Limit(min(rps, maxWriteRPS)), 1),
		},
	}
}

// DefaultRateLimiter returns a limiter with conservative settings.
func DefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(2.0, 1)
}

// Wait blocks until op may run.
func (r *RateLimiter) Wait(ctx context.Context, op string) error {
	class := classOf(op)

	r.mu.Lock()
	until := r.floodUntil[class]
	r.mu.Unlock()

	if d := time.Until(until); d > 0 {
		if err := SleepContext(ctx, d); err != nil {
			return err
		}
	}
	return r.limiters[class].Wait(ctx)
}

// SetFloodWait holds back every call of op's class for wait. A shorter
// wait never shortens one already in place.
func (r *RateLimiter) SetFloodWait(op string, wait time.Duration) {
	class := classOf(op)

	r.mu.Lock()
	defer r.mu.Unlock()
	if until := time.Now().Add(wait); until.After(r.floodUntil[class]) {
		r.floodUntil[class] = until
	}
}

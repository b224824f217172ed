// Package ratelimit meters MCP tool calls with cost-weighted token buckets.
package ratelimit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket that charges each call a cost in tokens.
// It is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	bucket *rate.Limiter
	burst  int
	now    func() time.Time
}

// NewLimiter returns a bucket refilling at perSecond tokens per second and
// holding at most burst tokens. It starts full.
func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(perSecond), burst),
		burst:  burst,
		now:    time.Now,
	}
}

// Take spends cost tokens if they are available. Otherwise it spends
// nothing and returns how long until cost tokens would be available, or a
// negative duration if cost exceeds the burst or the bucket never refills.
func (l *Limiter) Take(cost int) (bool, time.Duration) {
	if cost < 1 {
		cost = 1
	}
	if cost > l.burst {
		return false, -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if l.bucket.AllowN(now, cost) {
		return true, 0
	}
	if l.bucket.Limit() <= 0 {
		return false, -1
	}
	missing := float64(cost) - l.bucket.TokensAt(now)
	wait := time.Duration(math.Ceil(missing / float64(l.bucket.Limit()) * float64(time.Second)))
	return false, wait
}

// Burst returns the bucket's capacity.
func (l *Limiter) Burst() int { return l.burst }

// ToolLimiters maps tool names to their limiters.
type ToolLimiters map[string]*Limiter

// NewToolLimiters returns the default per-tool budgets. Simulations are
// CPU-bound and are charged per block of replicates, so they get the
// tightest budget.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"resistsim_simulate": NewLimiter(10.0/60.0, 8), // ~10 blocks/minute
		"resistsim_lattice":  NewLimiter(1.0, 10),
		"resistsim_runs":     NewLimiter(1.0, 10),
	}
}

// ReplicateBlock is how many replicates one simulate token pays for.
const ReplicateBlock = 8

// SimulateCost is the token cost of a simulate call with n replicates.
func SimulateCost(n int) int {
	if n < 1 {
		return 1
	}
	return (n + ReplicateBlock - 1) / ReplicateBlock
}

// CheckLimit charges cost tokens to toolName's limiter. Tools without a
// limiter are never limited.
func CheckLimit(limiters ToolLimiters, toolName string, cost int) error {
	l, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if cost > l.Burst() {
		return fmt.Errorf("rate limit exceeded for %s: a cost of %d exceeds the budget of %d", toolName, cost, l.Burst())
	}
	allowed, wait := l.Take(cost)
	switch {
	case allowed:
		return nil
	case wait < 0:
		return fmt.Errorf("rate limit exceeded for %s", toolName)
	default:
		return fmt.Errorf("rate limit exceeded for %s, retry in %s", toolName, wait.Round(time.Millisecond))
	}
}

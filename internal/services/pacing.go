package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// destPacer holds a rate limiter and last-seen time per destination.
type destPacer struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// SendPacer enforces the global and per-destination minimum delays between
// sends. Constructed once at process start and passed to the dispatch
// worker; the clock is injectable so eviction is deterministic in tests.
type SendPacer struct {
	mu     sync.Mutex
	perDst map[uint]*destPacer
	global *rate.Limiter
	now    func() time.Time

	maxIdle time.Duration
}

// NewSendPacer creates a pacer allowing globalRPS sends per second overall.
// Per-destination limits are registered on first use from the
// destination's configured interval.
func NewSendPacer(globalRPS float64) *SendPacer {
	return &SendPacer{
		perDst:  make(map[uint]*destPacer),
		global:  rate.NewLimiter(rate.Limit(globalRPS), 1),
		now:     time.Now,
		maxIdle: 30 * time.Minute,
	}
}

func (p *SendPacer) limiterFor(destID uint, minInterval time.Duration) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.perDst[destID]
	if !ok {
		limit := rate.Inf
		if minInterval > 0 {
			limit = rate.Every(minInterval)
		}
		v = &destPacer{limiter: rate.NewLimiter(limit, 1)}
		p.perDst[destID] = v
	}
	v.lastSeen = p.now()
	return v.limiter
}

// Wait blocks until both the global and the destination's limiter permit
// the next send, or the context is cancelled.
func (p *SendPacer) Wait(ctx context.Context, destID uint, minInterval time.Duration) error {
	if err := p.global.Wait(ctx); err != nil {
		return err
	}
	return p.limiterFor(destID, minInterval).Wait(ctx)
}

// Evict drops limiters for destinations idle longer than the eviction
// window and returns how many were removed.
func (p *SendPacer) Evict() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := p.now().Add(-p.maxIdle)
	removed := 0
	for id, v := range p.perDst {
		if v.lastSeen.Before(cutoff) {
			delete(p.perDst, id)
			removed++
		}
	}
	return removed
}

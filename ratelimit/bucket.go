package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AdmissionGate is the shared per-executor token bucket. Calls block
// in Admit until the bucket grants a slot at the configured
// requests-per-minute rate.
type AdmissionGate struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	rpm     int
}

// NewAdmissionGate builds an unconfigured gate; it admits everything
// until Configure sets a rate.
func NewAdmissionGate() *AdmissionGate {
	return &AdmissionGate{}
}

// Configure sets (or updates) the requests-per-minute rate. A
// non-positive rpm disables pacing. Reconfiguring with the same rpm is
// a no-op so repeated batches share one bucket's state.
func (g *AdmissionGate) Configure(rpm int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if rpm <= 0 {
		g.limiter = nil
		g.rpm = 0
		return
	}
	if g.limiter != nil && g.rpm == rpm {
		return
	}
	g.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), 1)
	g.rpm = rpm
}

// Admit blocks until a request slot is available or ctx is cancelled.
func (g *AdmissionGate) Admit(ctx context.Context) error {
	g.mu.Lock()
	limiter := g.limiter
	g.mu.Unlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

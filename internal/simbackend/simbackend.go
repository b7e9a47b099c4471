// Package simbackend provides a reference adaptlb.BackendHandle
// implementation driven entirely by fault injection (kill, revive, degrade)
// rather than real network calls. It is used by the balancer's scenario
// tests and by the cmd/adaptlbd demo harness, and mirrors the fault model of
// this project's benchmark suite.
package simbackend

import (
	"math/rand"
	"sync"
	"sync/atomic"
)

// Backend is a fault-injectable, concurrency-safe simulated backend.
type Backend struct {
	name            string
	baseLatencyMS   float64
	rngMu           sync.Mutex
	rng             *rand.Rand
	alive           atomic.Bool
	latencyMultiple atomic.Value // float64
	errorRate       atomic.Value // float64
}

// New creates a healthy Backend named name with the given base latency,
// using its own seeded jitter source so fault-injection timing never leaks
// into (or is perturbed by) the balancer's own randomness.
func New(name string, baseLatencyMS float64, seed int64) *Backend {
	b := &Backend{
		name:          name,
		baseLatencyMS: baseLatencyMS,
		rng:           rand.New(rand.NewSource(seed)),
	}
	b.alive.Store(true)
	b.latencyMultiple.Store(1.0)
	b.errorRate.Store(0.0)
	return b
}

// Name implements adaptlb.BackendHandle.
func (b *Backend) Name() string { return b.name }

// SendRequest implements adaptlb.BackendHandle, applying the currently
// configured latency multiplier and error rate with ±10% jitter.
func (b *Backend) SendRequest() (ok bool, latencyMs float64) {
	if !b.alive.Load() {
		return false, 0
	}
	latency := b.jittered(b.baseLatencyMS * b.latencyMultiple.Load().(float64))
	if b.draw() < b.errorRate.Load().(float64) {
		return false, latency
	}
	return true, latency
}

// HealthProbe implements adaptlb.BackendHandle. Probes are an order of
// magnitude cheaper than requests and never fail on error rate — only on the
// backend being dead — matching the "cheaper than send_request" contract.
func (b *Backend) HealthProbe() (reachable bool, latencyMs float64) {
	if !b.alive.Load() {
		return false, 0
	}
	latency := b.jittered(b.baseLatencyMS * b.latencyMultiple.Load().(float64) * 0.1)
	return true, latency
}

func (b *Backend) jittered(base float64) float64 {
	jitter := 1.0 + (b.draw()*2-1)*0.1
	return base * jitter
}

func (b *Backend) draw() float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64()
}

// Kill marks the backend unreachable: every request and probe fails.
func (b *Backend) Kill() { b.alive.Store(false) }

// Revive restores the backend to fully healthy (alive, no degradation).
func (b *Backend) Revive() {
	b.alive.Store(true)
	b.latencyMultiple.Store(1.0)
	b.errorRate.Store(0.0)
}

// Degrade sets the backend's latency multiplier and error rate without
// affecting its alive flag.
func (b *Backend) Degrade(latencyMultiplier, errorRate float64) {
	b.latencyMultiple.Store(latencyMultiplier)
	b.errorRate.Store(errorRate)
}

// Alive reports whether the backend currently responds at all.
func (b *Backend) Alive() bool { return b.alive.Load() }

// Package admin provides the management and metrics HTTP surface for the
// adaptive load balancer demo harness.
package admin

import (
	"fmt"
	"sync"

	"adaptlb"
	"adaptlb/internal/simbackend"
)

// BackendState is the JSON representation of a single backend's current
// health-tracker state, as seen from outside the balancer.
type BackendState struct {
	Name                string  `json:"name"`
	Alive               bool    `json:"alive"`
	Quarantined         bool    `json:"quarantined"`
	InProbation         bool    `json:"in_probation"`
	Weight              float64 `json:"weight"`
	ErrorRate           float64 `json:"error_rate"`
	LatencyMS           float64 `json:"latency_ms"`
	QuarantineUntilTick int64   `json:"quarantine_until_tick,omitempty"`
}

// Stats summarizes the whole pool's health at a point in time.
type Stats struct {
	CurrentTick         int64   `json:"current_tick"`
	BackendsTotal       int     `json:"backends_total"`
	BackendsLive        int     `json:"backends_live"`
	BackendsQuarantined int     `json:"backends_quarantined"`
	BackendsProbation   int     `json:"backends_probation"`
	TotalWeight         float64 `json:"total_weight"`
	BaselineWeight      float64 `json:"baseline_weight"`
}

// Registry is a thread-safe read/write surface over the running Balancer and
// its simulated backend pool. It is the single source of truth the admin API
// reads state from and writes fault-injection commands through.
type Registry struct {
	mu       sync.RWMutex
	bal      *adaptlb.Balancer
	backends []*simbackend.Backend
	byName   map[string]*simbackend.Backend
}

// NewRegistry creates a Registry wrapping the given balancer and its
// simulated backend pool. Both must share the same index ordering.
func NewRegistry(bal *adaptlb.Balancer, backends []*simbackend.Backend) *Registry {
	byName := make(map[string]*simbackend.Backend, len(backends))
	for _, b := range backends {
		byName[b.Name()] = b
	}
	return &Registry{bal: bal, backends: backends, byName: byName}
}

// State returns a snapshot of every backend's current tracked health.
func (r *Registry) State() []BackendState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]BackendState, len(r.backends))
	for i, b := range r.backends {
		out[i] = BackendState{
			Name:        b.Name(),
			Alive:       b.Alive(),
			Quarantined: r.bal.IsQuarantined(i),
			InProbation: r.bal.InProbation(i),
			Weight:      r.bal.Weight(i),
		}
	}
	return out
}

// Stats summarizes the pool.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live, quarantined, probation := 0, 0, 0
	var total float64
	for i := range r.backends {
		w := r.bal.Weight(i)
		total += w
		switch {
		case r.bal.IsQuarantined(i):
			quarantined++
		case r.bal.InProbation(i):
			probation++
		default:
			live++
		}
	}

	return Stats{
		CurrentTick:         r.bal.CurrentTick(),
		BackendsTotal:       len(r.backends),
		BackendsLive:        live,
		BackendsQuarantined: quarantined,
		BackendsProbation:   probation,
		TotalWeight:         total,
	}
}

// ApplyFault runs a fault-injection command (kill, revive, or degrade)
// against the named backend. Returns an error if the backend or action is
// unrecognized.
func (r *Registry) ApplyFault(name, action string, latencyMultiplier, errorRate float64) error {
	r.mu.RLock()
	b, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("backend %q not found", name)
	}

	switch action {
	case "kill":
		b.Kill()
	case "revive":
		b.Revive()
	case "degrade":
		b.Degrade(latencyMultiplier, errorRate)
	default:
		return fmt.Errorf("unknown fault action %q", action)
	}
	return nil
}

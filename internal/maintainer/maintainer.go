// Package maintainer implements the per-tick maintenance loop: it advances
// the tick counter, schedules health probes for quarantined, idle, and
// on-probation backends, feeds the results back into the health tracker, and
// refreshes every backend's cached weight. It is the only producer of
// probe-derived samples.
package maintainer

import "sync"

// Backend is the minimal capability the Maintainer needs from a backend
// handle. Any adaptlb.BackendHandle satisfies it structurally.
type Backend interface {
	Name() string
	HealthProbe() (reachable bool, latencyMs float64)
}

// Tracker is the subset of health.Tracker the Maintainer depends on.
type Tracker interface {
	NeedsQuarantineProbe(idx int, currentTick int64) bool
	NeedsIdleProbe(idx int, currentTick int64) bool
	NeedsProbationProbe(idx int, currentTick int64) bool
	ObserveProbe(idx int, reachable bool, latencyMs float64, currentTick int64)
	RefreshWeight(idx int, currentTick int64)
	N() int
}

// Maintainer runs the periodic probe-and-refresh cycle described above. It
// holds no lock of its own: concurrency safety comes from the Tracker's
// per-record locking, and any parallelism the Maintainer introduces across
// backends is fully joined before Tick returns.
type Maintainer struct {
	backends    []Backend
	tracker     Tracker
	currentTick int64
}

// New creates a Maintainer for the given backends, starting at tick 0 (the
// safe default for calls to HandleRequest before the first Tick).
func New(backends []Backend, tracker Tracker) *Maintainer {
	return &Maintainer{backends: backends, tracker: tracker}
}

// CurrentTick returns the tick most recently started by Tick.
func (m *Maintainer) CurrentTick() int64 { return m.currentTick }

// Tick runs one maintenance cycle. It blocks until every scheduled probe for
// this tick has completed and every backend's weight has been refreshed.
func (m *Maintainer) Tick() {
	m.currentTick++
	tick := m.currentTick

	var wg sync.WaitGroup
	for idx, b := range m.backends {
		needsProbe := m.tracker.NeedsQuarantineProbe(idx, tick) ||
			m.tracker.NeedsIdleProbe(idx, tick) ||
			m.tracker.NeedsProbationProbe(idx, tick)
		if !needsProbe {
			continue
		}

		wg.Add(1)
		go func(idx int, b Backend) {
			defer wg.Done()
			reachable, latency := b.HealthProbe()
			m.tracker.ObserveProbe(idx, reachable, latency, tick)
		}(idx, b)
	}
	wg.Wait()

	for idx := range m.backends {
		m.tracker.RefreshWeight(idx, tick)
	}
}

package adaptlb

import (
	"adaptlb/internal/health"
	"adaptlb/internal/maintainer"
	"adaptlb/internal/rng"
	"adaptlb/internal/selector"
)

// defaultSeed is used when the caller does not supply one via NewSeeded. It
// matches the seed used throughout the spec's end-to-end scenarios.
const defaultSeed = 42

// Balancer is the top-level facade the harness drives: construct it once
// with the fixed set of backends, then call Tick once per simulation tick
// followed by HandleRequest for each request of that tick.
//
// Balancer performs no I/O of its own and owns no goroutines that outlive a
// call to Tick or HandleRequest — see the concurrency notes on Tick.
type Balancer struct {
	handles []BackendHandle
	tracker *health.Tracker
	sel     *selector.Selector
	maint   *maintainer.Maintainer
}

// New constructs a Balancer over backends, in O(N) with no I/O, using the
// default seed for its internal randomness source.
func New(backends []BackendHandle) *Balancer {
	return NewSeeded(backends, defaultSeed)
}

// NewSeeded is New with an explicit seed for the balancer-owned
// pseudorandom source, so runs are reproducible given a seed.
func NewSeeded(backends []BackendHandle, seed int64) *Balancer {
	handles := append([]BackendHandle(nil), backends...)

	tracker := health.New(len(handles))

	selBackends := make([]selector.Backend, len(handles))
	maintBackends := make([]maintainer.Backend, len(handles))
	for i, h := range handles {
		selBackends[i] = h
		maintBackends[i] = h
	}

	return &Balancer{
		handles: handles,
		tracker: tracker,
		sel:     selector.New(selBackends, tracker, rng.New(seed)),
		maint:   maintainer.New(maintBackends, tracker),
	}
}

// Tick runs one maintenance cycle: probing suspect or idle backends, aging
// quarantines and probation, and refreshing cached weights. It must be
// called once before the requests of each simulation tick are handled; it
// blocks only on the health_probe calls it issues and performs no
// background work after returning.
func (b *Balancer) Tick() {
	b.maint.Tick()
}

// HandleRequest routes or sheds a single request, blocking only on the
// synchronous send_request call to the chosen backend (if any). Invalid
// priorities are treated as NORMAL and negative ticks as zero; HandleRequest
// never aborts.
func (b *Balancer) HandleRequest(req Request) Response {
	priority := selector.Priority(req.Priority.normalize())
	tick := req.Tick
	if tick < 0 {
		tick = 0
	}

	out := b.sel.Handle(priority, tick)
	if out.Shed {
		return shedResponse(req.ID)
	}
	return admittedResponse(req.ID, out.BackendName, out.Success, out.LatencyMS)
}

// CurrentTick reports the tick most recently started by Tick (0 before the
// first call, per the safe default for requests issued before tick 0).
func (b *Balancer) CurrentTick() int64 {
	return b.maint.CurrentTick()
}

// Backends returns the fixed, ordered sequence of backend handles the
// Balancer was constructed with.
func (b *Balancer) Backends() []BackendHandle {
	return append([]BackendHandle(nil), b.handles...)
}

// Weight exposes the Health Tracker's cached weight for the backend at
// position idx, for harnesses (e.g. the admin/metrics surface) that want to
// observe routing state without participating in request handling.
func (b *Balancer) Weight(idx int) float64 { return b.tracker.Weight(idx) }

// IsQuarantined exposes the Health Tracker's quarantine flag for the backend
// at position idx.
func (b *Balancer) IsQuarantined(idx int) bool { return b.tracker.IsQuarantined(idx) }

// InProbation exposes the Health Tracker's probation flag for the backend at
// position idx.
func (b *Balancer) InProbation(idx int) bool { return b.tracker.InProbation(idx) }

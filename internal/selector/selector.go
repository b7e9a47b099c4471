// Package selector implements the request-time admission and routing
// policy: priority-gated load shedding under pressure, weighted random
// backend selection, a cascade guard against subtly-failing backends, and a
// best-effort fallback for CRITICAL traffic when every backend is
// quarantined.
package selector

const (
	thresholdBackground = 0.20
	thresholdNormal     = 0.50
	thresholdCritical   = 0.85

	cascadeCandidateErrorRate = 0.2
	cascadeHealthyErrorRate   = 0.05
)

// Backend is the minimal capability the Selector needs from a backend
// handle. Any adaptlb.BackendHandle satisfies it structurally.
type Backend interface {
	Name() string
	SendRequest() (ok bool, latencyMs float64)
}

// Tracker is the subset of health.Tracker the Selector depends on.
type Tracker interface {
	Weight(idx int) float64
	IsQuarantined(idx int) bool
	ErrorRate(idx int) float64
	LatencyMS(idx int) float64
	BaselineTotalWeight() float64
	N() int
	ObserveRequest(idx int, ok bool, latencyMs float64, currentTick int64)
}

// RNG is the balancer-owned seeded randomness source.
type RNG interface {
	Float64() float64
}

// Priority-ordered request classes and response shapes live in the module
// root; the Selector stays ignorant of the adaptlb package entirely and
// operates purely on integer priority levels threaded in by the caller.
type Priority int

const (
	Background Priority = iota + 1
	Normal
	Critical
)

// Outcome is the result of admitting (or shedding) one request.
type Outcome struct {
	Admitted    bool
	Success     bool
	BackendName string
	LatencyMS   float64
	Shed        bool
}

// Selector picks a backend for each request or decides to shed it.
type Selector struct {
	backends []Backend
	tracker  Tracker
	rng      RNG
}

// New builds a Selector over backends, reading weights from tracker and
// drawing randomness from rng.
func New(backends []Backend, tracker Tracker, rng RNG) *Selector {
	return &Selector{backends: backends, tracker: tracker, rng: rng}
}

// Handle routes or sheds one request at the given priority and tick,
// invoking SendRequest on the chosen backend (if any) and folding the result
// back into the Tracker before returning.
func (s *Selector) Handle(priority Priority, currentTick int64) Outcome {
	priority = normalizePriority(priority)

	pool, weights, total := s.eligiblePool()

	if len(pool) == 0 {
		if priority == Critical {
			if idx, ok := s.leastBadQuarantined(); ok {
				return s.dispatch(idx, currentTick)
			}
		}
		return Outcome{Shed: true}
	}

	pressure := s.pressure(total)
	if pressure > thresholdFor(priority) {
		return Outcome{Shed: true}
	}

	var idx int
	if pressure > thresholdNormal {
		idx = pool[argmax(weights)]
	} else {
		idx = pool[weightedPick(weights, s.rng.Float64())]
	}

	idx = s.applyCascadeGuard(idx, pool)

	return s.dispatch(idx, currentTick)
}

func (s *Selector) dispatch(idx int, currentTick int64) Outcome {
	b := s.backends[idx]
	ok, latency := b.SendRequest()
	s.tracker.ObserveRequest(idx, ok, latency, currentTick)
	return Outcome{
		Admitted:    true,
		Success:     ok,
		BackendName: b.Name(),
		LatencyMS:   latency,
	}
}

// eligiblePool returns the indices, weights, and weight sum of every
// non-quarantined backend with a positive cached weight.
func (s *Selector) eligiblePool() (pool []int, weights []float64, total float64) {
	n := s.tracker.N()
	for i := 0; i < n; i++ {
		if s.tracker.IsQuarantined(i) {
			continue
		}
		w := s.tracker.Weight(i)
		if w <= 0 {
			continue
		}
		pool = append(pool, i)
		weights = append(weights, w)
		total += w
	}
	return pool, weights, total
}

// pressure computes shedding pressure P = 1 - (sum weights)/baseline,
// clamped to [0, 1].
func (s *Selector) pressure(total float64) float64 {
	baseline := s.tracker.BaselineTotalWeight()
	if baseline <= 0 {
		return 0
	}
	p := 1 - total/baseline
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// applyCascadeGuard re-samples from a clearly-healthy subset of pool if the
// candidate is subtly failing and a clearly-healthy alternative exists.
func (s *Selector) applyCascadeGuard(candidate int, pool []int) int {
	if s.tracker.ErrorRate(candidate) <= cascadeCandidateErrorRate {
		return candidate
	}

	var healthy []int
	var weights []float64
	var total float64
	for _, idx := range pool {
		if s.tracker.ErrorRate(idx) < cascadeHealthyErrorRate {
			healthy = append(healthy, idx)
			w := s.tracker.Weight(idx)
			weights = append(weights, w)
			total += w
		}
	}
	if len(healthy) == 0 {
		return candidate
	}
	return healthy[weightedPick(weights, s.rng.Float64())]
}

// leastBadQuarantined picks the quarantined backend with the lowest error
// rate, breaking ties by lowest latency and then by backend position.
func (s *Selector) leastBadQuarantined() (int, bool) {
	best := -1
	for i := 0; i < s.tracker.N(); i++ {
		if !s.tracker.IsQuarantined(i) {
			continue
		}
		if best == -1 || isBetterFallback(s.tracker, i, best) {
			best = i
		}
	}
	return best, best != -1
}

func isBetterFallback(t Tracker, candidate, current int) bool {
	ce, be := t.ErrorRate(candidate), t.ErrorRate(current)
	if ce != be {
		return ce < be
	}
	return t.LatencyMS(candidate) < t.LatencyMS(current)
}

func thresholdFor(p Priority) float64 {
	switch p {
	case Background:
		return thresholdBackground
	case Critical:
		return thresholdCritical
	default:
		return thresholdNormal
	}
}

func normalizePriority(p Priority) Priority {
	if p < Background || p > Critical {
		return Normal
	}
	return p
}

// weightedPick draws an index into weights proportional to each entry's
// share of the total, using draw (expected to be in [0,1)) as the sample.
func weightedPick(weights []float64, draw float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	target := draw * total
	cumulative := 0.0
	for i, w := range weights {
		cumulative += w
		if target < cumulative {
			return i
		}
	}
	return len(weights) - 1
}

// argmax returns the index of the largest weight, breaking ties by the
// lowest position (stable, deterministic best-effort routing).
func argmax(weights []float64) int {
	best := 0
	for i := 1; i < len(weights); i++ {
		if weights[i] > weights[best] {
			best = i
		}
	}
	return best
}

package health_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adaptlb/internal/health"
)

func TestNew_OptimisticDefaults(t *testing.T) {
	tr := health.New(3)

	for i := 0; i < 3; i++ {
		assert.False(t, tr.IsQuarantined(i))
		assert.False(t, tr.InProbation(i))
		assert.Greater(t, tr.Weight(i), 0.0)
	}
	assert.Greater(t, tr.BaselineTotalWeight(), 0.0)
}

func TestObserveRequest_LatencyOnlyUpdatesOnSuccess(t *testing.T) {
	tr := health.New(1)

	before := tr.LatencyMS(0)
	tr.ObserveRequest(0, false, 5000, 1) // a huge failing latency must not move the EWMA
	assert.Equal(t, before, tr.LatencyMS(0))

	tr.ObserveRequest(0, true, 10, 2)
	assert.Less(t, tr.LatencyMS(0), before)
}

func TestQuarantine_TriggersOnConsecutiveFailures(t *testing.T) {
	tr := health.New(1)

	for tick := int64(1); tick <= 2; tick++ {
		tr.ObserveRequest(0, false, 50, tick)
		assert.False(t, tr.IsQuarantined(0), "should not quarantine before the 3rd consecutive failure")
	}
	tr.ObserveRequest(0, false, 50, 3)
	assert.True(t, tr.IsQuarantined(0))
	assert.Equal(t, 0.0, tr.Weight(0), "a quarantined backend must have weight 0")
}

func TestQuarantine_TriggersOnWindowRatio(t *testing.T) {
	tr := health.New(1)

	// 4 failed requests and 2 successful probes, never 3 failures in a row.
	// Probes smooth with the faster alpha, which keeps the EWMA error rate at
	// about 0.38 (not above 0.4), so only the window ratio (4/6 > 0.5 with
	// >=6 samples) can fire.
	tr.ObserveRequest(0, false, 50, 1)
	tr.ObserveRequest(0, false, 50, 2)
	tr.ObserveProbe(0, true, 5, 3)
	tr.ObserveRequest(0, false, 50, 4)
	tr.ObserveProbe(0, true, 5, 5)
	tr.ObserveRequest(0, false, 50, 6)
	assert.True(t, tr.IsQuarantined(0))
}

func TestQuarantine_TriggersOnEWMAErrorRate(t *testing.T) {
	tr := health.New(1)

	// Drive the EWMA error rate above 0.4 without 3 consecutive failures or
	// a >0.5 window ratio: alternate fail/success with enough volume.
	tick := int64(1)
	for i := 0; i < 10; i++ {
		tr.ObserveRequest(0, i%2 != 0, 50, tick)
		tick++
	}
	assert.True(t, tr.IsQuarantined(0))
}

func TestRecovery_RequiresSuccessfulProbeAfterDeadline(t *testing.T) {
	tr := health.New(1)
	for tick := int64(1); tick <= 3; tick++ {
		tr.ObserveRequest(0, false, 50, tick)
	}
	require.True(t, tr.IsQuarantined(0))
	deadline := tr.QuarantineUntilTick(0)
	require.Greater(t, deadline, int64(0))

	// A failed probe before the deadline changes nothing.
	tr.ObserveProbe(0, false, 5, deadline-1)
	assert.True(t, tr.IsQuarantined(0))

	// A successful probe before the deadline does not yet end quarantine.
	tr.ObserveProbe(0, true, 5, deadline-1)
	assert.True(t, tr.IsQuarantined(0))

	// A successful probe at/after the deadline ends quarantine into probation.
	tr.ObserveProbe(0, true, 5, deadline)
	assert.False(t, tr.IsQuarantined(0))
	assert.True(t, tr.InProbation(0))
	assert.Equal(t, 5, tr.ProbationRemaining(0))
}

func TestProbation_FailureReinstatesQuarantine(t *testing.T) {
	tr := health.New(1)
	for tick := int64(1); tick <= 3; tick++ {
		tr.ObserveRequest(0, false, 50, tick)
	}
	deadline := tr.QuarantineUntilTick(0)
	tr.ObserveProbe(0, true, 5, deadline)
	require.True(t, tr.InProbation(0))

	tr.ObserveRequest(0, false, 50, deadline+1)
	assert.True(t, tr.IsQuarantined(0))
	assert.False(t, tr.InProbation(0))
}

func TestProbation_SuccessesGraduateToLive(t *testing.T) {
	tr := health.New(1)
	for tick := int64(1); tick <= 3; tick++ {
		tr.ObserveRequest(0, false, 50, tick)
	}
	deadline := tr.QuarantineUntilTick(0)
	tr.ObserveProbe(0, true, 5, deadline)
	require.True(t, tr.InProbation(0))

	tick := deadline
	for i := 0; i < 5; i++ {
		tick++
		tr.ObserveRequest(0, true, 10, tick)
	}
	assert.False(t, tr.InProbation(0))
	assert.False(t, tr.IsQuarantined(0))
}

func TestProbation_WeightIsCapped(t *testing.T) {
	tr := health.New(2)
	for tick := int64(1); tick <= 3; tick++ {
		tr.ObserveRequest(0, false, 50, tick)
	}
	deadline := tr.QuarantineUntilTick(0)
	tr.ObserveProbe(0, true, 1, deadline) // very low latency -> high raw weight

	cap := tr.BaselineTotalWeight() / float64(2*tr.N())
	assert.LessOrEqual(t, tr.Weight(0), cap+1e-9)
}

func TestNeedsIdleProbe(t *testing.T) {
	tr := health.New(1)
	assert.False(t, tr.NeedsIdleProbe(0, 4))
	assert.True(t, tr.NeedsIdleProbe(0, 6))

	tr.ObserveRequest(0, true, 10, 6)
	assert.False(t, tr.NeedsIdleProbe(0, 7))
	assert.True(t, tr.NeedsIdleProbe(0, 12))
}

func TestEnterQuarantine_BackoffDoublesOnReEntry(t *testing.T) {
	tr := health.New(1)

	// First quarantine: requeueCount starts at 0, so duration == 5.
	tr.ObserveRequest(0, false, 50, 1)
	tr.ObserveRequest(0, false, 50, 2)
	tr.ObserveRequest(0, false, 50, 3)
	require.True(t, tr.IsQuarantined(0))
	firstDeadline := tr.QuarantineUntilTick(0)
	assert.Equal(t, int64(8), firstDeadline) // 3 + 5

	// Recover: successful probe at the deadline, then 5 successful requests.
	tr.ObserveProbe(0, true, 5, firstDeadline)
	require.True(t, tr.InProbation(0))
	tr.ObserveRequest(0, true, 10, 9)
	tr.ObserveRequest(0, true, 10, 10)
	tr.ObserveRequest(0, true, 10, 11)
	tr.ObserveRequest(0, true, 10, 12)
	tr.ObserveRequest(0, true, 10, 13)
	require.False(t, tr.IsQuarantined(0))
	require.False(t, tr.InProbation(0))

	// Second quarantine: requeueCount is now 1, so duration == 10. The EWMA
	// error rate (about 0.10 after the successes) passes 0.4 on the second
	// failure, so quarantine starts at tick 15.
	tr.ObserveRequest(0, false, 50, 14)
	tr.ObserveRequest(0, false, 50, 15)
	tr.ObserveRequest(0, false, 50, 16)
	require.True(t, tr.IsQuarantined(0))
	secondDeadline := tr.QuarantineUntilTick(0)
	assert.Equal(t, int64(25), secondDeadline) // 15 + 10
}

package monitor_test

import (
	"context"
	"testing"

	"codeberg.org/mutker/shuttled/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverloadTripsExactlyAtProbation(t *testing.T) {
	m := monitor.New("cpu", 50, 1, 4, nil)

	readings := []float64{60, 60, 60, 55}
	for i, r := range readings[:3] {
		m.Observe(r)
		assert.False(t, m.Overloaded(), "not yet overloaded after breach %d", i+1)
	}

	m.Observe(readings[3])
	assert.True(t, m.Overloaded(), "overloaded at the 4th consecutive breach")
}

func TestOverloadClearsOnFirstInBoundsReading(t *testing.T) {
	m := monitor.New("cpu", 50, 1, 4, nil)

	for _, r := range []float64{60, 60, 60, 55} {
		m.Observe(r)
	}
	require.True(t, m.Overloaded())

	m.Observe(45)
	assert.False(t, m.Overloaded(), "a single in-bounds reading clears immediately")

	// Counter reset too: three more breaches must not re-trip.
	for i, r := range []float64{70, 70, 70} {
		m.Observe(r)
		assert.False(t, m.Overloaded(), "breach counter restarted, tick %d", i+1)
	}
	m.Observe(70)
	assert.True(t, m.Overloaded())
}

func TestReadingAtLimitIsNotABreach(t *testing.T) {
	m := monitor.New("disk_queue", 5, 1, 2, nil)

	m.Observe(5)
	m.Observe(5)
	assert.False(t, m.Overloaded(), "average equal to limit is within bounds")
}

func TestRefreshFailureLeavesStateUntouched(t *testing.T) {
	calls := 0
	failing := func(context.Context) (float64, error) {
		calls++
		return 0, assert.AnError
	}

	m := monitor.New("cpu", 50, 1, 2, failing)
	m.Observe(60)
	m.Observe(60)
	require.True(t, m.Overloaded())
	before := m.Average()

	m.Refresh(context.Background())

	assert.Equal(t, 1, calls)
	assert.True(t, m.Overloaded(), "failed sample is not relief")
	assert.InDelta(t, before, m.Average(), 0.001, "window unchanged on sample failure")
}

func TestRefreshObservesSourceReading(t *testing.T) {
	m := monitor.New("cpu", 50, 1, 1, func(context.Context) (float64, error) {
		return 75, nil
	})

	m.Refresh(context.Background())

	assert.True(t, m.Overloaded())
	assert.InDelta(t, 75.0, m.Average(), 0.001)
}

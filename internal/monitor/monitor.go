package monitor

import (
	"context"

	"codeberg.org/mutker/shuttled/internal/logger"
)

// Source obtains one fresh reading for a metric. It must return an error
// rather than a fabricated value when the reading is unavailable.
type Source func(ctx context.Context) (float64, error)

// Monitor tracks one metric through a sample window and decides whether
// the metric is over its limit. The decision is asymmetric: the overload
// flag trips only after `probation` consecutive over-limit averages, and
// clears on the first in-bounds average.
type Monitor struct {
	name      string
	source    Source
	window    *Window
	limit     float64
	probation int

	breaches   int
	overloaded bool
	average    float64
}

func New(name string, limit float64, windowSize, probation int, source Source) *Monitor {
	if probation < 1 {
		probation = 1
	}

	return &Monitor{
		name:      name,
		source:    source,
		window:    NewWindow(windowSize),
		limit:     limit,
		probation: probation,
	}
}

// Refresh pulls a reading from the source and re-evaluates the overload
// state. A failed reading is no new information: the window, counter and
// flag are left untouched.
func (m *Monitor) Refresh(ctx context.Context) {
	if m.source == nil {
		return
	}

	reading, err := m.source(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("metric", m.name).Msg("failed to sample metric, keeping previous state")
		return
	}

	m.Observe(reading)
}

// Observe pushes a reading directly. Split out from Refresh so the
// hysteresis rule is testable without a live source.
func (m *Monitor) Observe(reading float64) float64 {
	m.average = m.window.Push(reading)

	if m.average > m.limit {
		m.breaches++
		if m.breaches >= m.probation {
			m.overloaded = true
		}
	} else {
		m.breaches = 0
		m.overloaded = false
	}

	return m.average
}

// Overloaded reports whether the metric has sustained pressure past the
// probation length.
func (m *Monitor) Overloaded() bool {
	return m.overloaded
}

// Average returns the current window average.
func (m *Monitor) Average() float64 {
	return m.average
}

// Name returns the metric name used in gate reasons and logs.
func (m *Monitor) Name() string {
	return m.name
}

// Limit returns the configured threshold.
func (m *Monitor) Limit() float64 {
	return m.limit
}

package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreDriftMonitorMeanDelta(t *testing.T) {
	t.Parallel()

	m := NewScoreDriftMonitor("test-model", 4, 0.15)
	m.Record(0.8, 0.7)
	m.Record(0.5, 0.7)
	assert.InDelta(t, 0.15, m.Drift(), 1e-9)
}

func TestScoreDriftMonitorWindowSlides(t *testing.T) {
	t.Parallel()

	m := NewScoreDriftMonitor("test-model", 2, 0.5)
	m.Record(1.0, 0.0) // delta 1.0, evicted below
	m.Record(0.5, 0.5) // delta 0
	m.Record(0.6, 0.6) // delta 0
	assert.Zero(t, m.Drift())
}

func TestScoreDriftMonitorReset(t *testing.T) {
	t.Parallel()

	m := NewScoreDriftMonitor("test-model", 4, 0.15)
	m.Record(1.0, 0.0)
	assert.NotZero(t, m.Drift())
	m.Reset()
	assert.Zero(t, m.Drift())
}

func TestScoreDriftMonitorNilSafe(t *testing.T) {
	t.Parallel()

	var m *ScoreDriftMonitor
	m.Record(1, 0)
	assert.Zero(t, m.Drift())
	m.Reset()
}

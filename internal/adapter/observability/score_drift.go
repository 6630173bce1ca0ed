package observability

import (
	"log/slog"
	"sync"
)

// ScoreDriftMonitor watches how far model-produced ranking scores wander
// from the deterministic keyword baseline computed for the same pair. A
// sustained gap usually means the model or its prompt changed behaviour, not
// the candidates, and is worth an alert before anyone trusts the ordering.
type ScoreDriftMonitor struct {
	mu         sync.Mutex
	model      string
	windowSize int
	threshold  float64
	deltas     []float64
}

// NewScoreDriftMonitor creates a monitor with the given rolling window and
// mean-absolute-delta alert threshold.
func NewScoreDriftMonitor(model string, windowSize int, threshold float64) *ScoreDriftMonitor {
	if windowSize < 1 {
		windowSize = 20
	}
	return &ScoreDriftMonitor{model: model, windowSize: windowSize, threshold: threshold}
}

// Record stores one (model score, keyword baseline) observation and logs a
// warning once the rolling window is full and the mean delta crosses the
// threshold.
func (m *ScoreDriftMonitor) Record(modelScore, baselineScore float64) {
	if m == nil {
		return
	}
	delta := modelScore - baselineScore
	if delta < 0 {
		delta = -delta
	}

	m.mu.Lock()
	m.deltas = append(m.deltas, delta)
	if len(m.deltas) > m.windowSize {
		m.deltas = m.deltas[1:]
	}
	full := len(m.deltas) >= m.windowSize
	drift := m.meanLocked()
	m.mu.Unlock()

	ScoreDriftGauge.WithLabelValues(m.model).Set(drift)
	if full && drift > m.threshold {
		slog.Warn("ranking score drift above threshold",
			slog.String("model", m.model),
			slog.Float64("drift", drift),
			slog.Float64("threshold", m.threshold),
			slog.Int("window", m.windowSize))
	}
}

// Drift returns the current mean absolute delta over the window.
func (m *ScoreDriftMonitor) Drift() float64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meanLocked()
}

// Reset clears the window, e.g. after a deliberate model change.
func (m *ScoreDriftMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.deltas = nil
	m.mu.Unlock()
}

func (m *ScoreDriftMonitor) meanLocked() float64 {
	if len(m.deltas) == 0 {
		return 0
	}
	sum := 0.0
	for _, d := range m.deltas {
		sum += d
	}
	return sum / float64(len(m.deltas))
}

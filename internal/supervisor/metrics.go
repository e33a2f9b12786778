package supervisor

import (
	"sync"
	"time"
)

// StageMetrics is a snapshot of one pipeline stage's counters.
type StageMetrics struct {
	Count        int64         `json:"count"`
	Errors       int64         `json:"errors"`
	TotalLatency time.Duration `json:"totalLatencyNs"`
}

// AverageLatency is TotalLatency spread over Count.
func (m StageMetrics) AverageLatency() time.Duration {
	if m.Count == 0 {
		return 0
	}
	return m.TotalLatency / time.Duration(m.Count)
}

type Metrics struct {
	mu     sync.Mutex
	stages map[string]*StageMetrics
}

func newMetrics() *Metrics {
	return &Metrics{stages: make(map[string]*StageMetrics)}
}

func (m *Metrics) observe(stage string, latency time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stages[stage]
	if !ok {
		s = &StageMetrics{}
		m.stages[stage] = s
	}
	s.Count++
	s.TotalLatency += latency
	if err != nil {
		s.Errors++
	}
}

func (m *Metrics) snapshot() map[string]StageMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]StageMetrics, len(m.stages))
	for name, s := range m.stages {
		out[name] = *s
	}
	return out
}

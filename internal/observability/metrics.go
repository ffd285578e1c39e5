package observability

import (
	"sort"
	"sync"
	"time"
)

// Metrics is a small in-process registry for operational counters and
// latency histograms. The handlers expose a JSON snapshot of it; the
// durable analytics live in the metrics tables, not here.
type Metrics struct {
	mu         sync.RWMutex
	counters   map[string]int64
	histograms map[string]*histogram
}

type histogram struct {
	count   int64
	sum     time.Duration
	max     time.Duration
	buckets [len(latencyBounds) + 1]int64
}

var latencyBounds = [...]time.Duration{
	50 * time.Millisecond,
	200 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	3 * time.Second,
	10 * time.Second,
}

func New() *Metrics {
	return &Metrics{
		counters:   map[string]int64{},
		histograms: map[string]*histogram{},
	}
}

var (
	currentMu sync.RWMutex
	current   *Metrics
)

// Set installs the process-wide registry. Tests install their own and
// restore nil on cleanup.
func Set(m *Metrics) {
	currentMu.Lock()
	current = m
	currentMu.Unlock()
}

func Current() *Metrics {
	currentMu.RLock()
	defer currentMu.RUnlock()
	return current
}

func (m *Metrics) Inc(name string) { m.Add(name, 1) }

func (m *Metrics) Add(name string, delta int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.counters[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Observe(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	h := m.histograms[name]
	if h == nil {
		h = &histogram{}
		m.histograms[name] = h
	}
	h.count++
	h.sum += d
	if d > h.max {
		h.max = d
	}
	idx := len(latencyBounds)
	for i, b := range latencyBounds {
		if d <= b {
			idx = i
			break
		}
	}
	h.buckets[idx]++
	m.mu.Unlock()
}

// ObserveLLMRequest records one upstream model call. Only shape-level
// data is kept; prompts never reach the registry.
func (m *Metrics) ObserveLLMRequest(tier, path, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Inc("llm.requests." + tier + "." + status)
	m.Observe("llm.latency."+path, d)
}

func (m *Metrics) ObserveTurn(decision string, d time.Duration) {
	if m == nil {
		return
	}
	m.Inc("turn.decisions." + decision)
	m.Observe("turn.latency", d)
}

func (m *Metrics) ObserveRetrieval(d time.Duration, results int) {
	if m == nil {
		return
	}
	m.Observe("retrieval.latency", d)
	m.Add("retrieval.results", int64(results))
}

// HistogramSnapshot is the exported view of one histogram.
type HistogramSnapshot struct {
	Count   int64   `json:"count"`
	AvgMs   float64 `json:"avg_ms"`
	MaxMs   float64 `json:"max_ms"`
	Buckets []int64 `json:"buckets"`
}

// Snapshot returns a stable, sorted copy for the /metrics endpoint.
type Snapshot struct {
	Counters   map[string]int64             `json:"counters"`
	Histograms map[string]HistogramSnapshot `json:"histograms"`
	TakenAt    time.Time                    `json:"taken_at"`
}

func (m *Metrics) Snapshot() Snapshot {
	snap := Snapshot{
		Counters:   map[string]int64{},
		Histograms: map[string]HistogramSnapshot{},
		TakenAt:    time.Now().UTC(),
	}
	if m == nil {
		return snap
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, h := range m.histograms {
		hs := HistogramSnapshot{
			Count:   h.count,
			MaxMs:   float64(h.max) / float64(time.Millisecond),
			Buckets: append([]int64(nil), h.buckets[:]...),
		}
		if h.count > 0 {
			hs.AvgMs = float64(h.sum) / float64(h.count) / float64(time.Millisecond)
		}
		snap.Histograms[k] = hs
	}
	return snap
}

// CounterNames exists for deterministic test assertions.
func (m *Metrics) CounterNames() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	names := make([]string, 0, len(m.counters))
	for k := range m.counters {
		names = append(names, k)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	m := New()
	m.Inc("chat.turns_dropped")
	m.Inc("chat.turns_dropped")
	m.Add("retrieval.results", 5)

	snap := m.Snapshot()
	assert.Equal(t, int64(2), snap.Counters["chat.turns_dropped"])
	assert.Equal(t, int64(5), snap.Counters["retrieval.results"])
	assert.Equal(t, []string{"chat.turns_dropped", "retrieval.results"}, m.CounterNames())
}

func TestHistogramSnapshot(t *testing.T) {
	m := New()
	m.Observe("turn.latency", 40*time.Millisecond)
	m.Observe("turn.latency", 300*time.Millisecond)
	m.Observe("turn.latency", 2*time.Second)

	snap := m.Snapshot()
	h, ok := snap.Histograms["turn.latency"]
	require.True(t, ok)

	assert.Equal(t, int64(3), h.Count)
	assert.InDelta(t, 2000.0, h.MaxMs, 0.001)
	assert.InDelta(t, (40.0+300.0+2000.0)/3.0, h.AvgMs, 0.001)

	// Bounds: 50ms, 200ms, 500ms, 1s, 3s, 10s, +inf.
	require.Len(t, h.Buckets, 7)
	assert.Equal(t, int64(1), h.Buckets[0], "40ms lands in the 50ms bucket")
	assert.Equal(t, int64(1), h.Buckets[2], "300ms lands in the 500ms bucket")
	assert.Equal(t, int64(1), h.Buckets[4], "2s lands in the 3s bucket")
}

func TestObserveTurnAndLLMHelpers(t *testing.T) {
	m := New()
	m.ObserveTurn("answer", 120*time.Millisecond)
	m.ObserveTurn("escalate", 80*time.Millisecond)
	m.ObserveLLMRequest("cheap", "/v1/chat/completions", "ok", 90*time.Millisecond)

	snap := m.Snapshot()
	assert.Equal(t, int64(1), snap.Counters["turn.decisions.answer"])
	assert.Equal(t, int64(1), snap.Counters["turn.decisions.escalate"])
	assert.Equal(t, int64(1), snap.Counters["llm.requests.cheap.ok"])
	assert.Equal(t, int64(2), snap.Histograms["turn.latency"].Count)
	assert.Equal(t, int64(1), snap.Histograms["llm.latency./v1/chat/completions"].Count)
}

func TestNilRegistryIsSafe(t *testing.T) {
	var m *Metrics
	m.Inc("x")
	m.Observe("y", time.Second)
	m.ObserveTurn("answer", time.Second)

	snap := m.Snapshot()
	assert.Empty(t, snap.Counters)
	assert.Nil(t, m.CounterNames())
}

func TestCurrentRegistryInstall(t *testing.T) {
	t.Cleanup(func() { Set(nil) })

	m := New()
	Set(m)
	assert.Same(t, m, Current())

	Set(nil)
	assert.Nil(t, Current())
}

func TestSnapshotIsACopy(t *testing.T) {
	m := New()
	m.Inc("a")
	snap := m.Snapshot()
	snap.Counters["a"] = 99

	assert.Equal(t, int64(1), m.Snapshot().Counters["a"])
}

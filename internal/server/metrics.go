package server

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"callsense/internal/processing"
)

type metrics struct {
	requests  atomic.Int64
	completed atomic.Int64

	mu     sync.Mutex
	byKind map[processing.Kind]int64
	bySrc  map[string]int64
}

func newMetrics() *metrics {
	return &metrics{byKind: map[processing.Kind]int64{}, bySrc: map[string]int64{}}
}

func (m *metrics) observe(out processing.Outcome, err error) {
	m.requests.Add(1)
	if err == nil {
		m.completed.Add(1)
		m.mu.Lock()
		m.bySrc[out.Source]++
		m.mu.Unlock()
		return
	}
	kind := processing.KindOf(err)
	if kind == "" {
		kind = "Unknown"
	}
	m.mu.Lock()
	m.byKind[kind]++
	m.mu.Unlock()
}

// snapshot flattens the counters for the control socket.
func (m *metrics) snapshot() map[string]int64 {
	out := map[string]int64{
		"requests":  m.requests.Load(),
		"completed": m.completed.Load(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.byKind {
		out["failed_"+string(k)] = v
	}
	for k, v := range m.bySrc {
		out["source_"+k] = v
	}
	return out
}

func (m *metrics) write(w io.Writer) {
	fmt.Fprintf(w, "callsense_process_requests_total %d\n", m.requests.Load())
	fmt.Fprintf(w, "callsense_jobs_completed_total %d\n", m.completed.Load())
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range allKinds {
		fmt.Fprintf(w, "callsense_process_errors_total{kind=%q} %d\n", string(k), m.byKind[k])
	}
	for src, v := range m.bySrc {
		fmt.Fprintf(w, "callsense_analyses_total{source=%q} %d\n", src, v)
	}
}

var allKinds = []processing.Kind{
	processing.KindBusy,
	processing.KindResourceExhausted,
	processing.KindNotFound,
	processing.KindAlreadyExists,
	processing.KindTranscriptionFailure,
	processing.KindAnalysisFailure,
	processing.KindPersistenceFailure,
}

package trace

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"cohortweaver/internal/core"
	"cohortweaver/internal/dag"
)

// Sink is the minimal interface the runner's observer depends on.
//
// Record must be inert: it must not panic and cannot return errors. Callers
// must assume Record may be a no-op.
type Sink interface {
	Record(event TraceEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Record(TraceEvent) {}

// SafeRecord records an event and stays inert even if the sink is buggy.
func SafeRecord(s Sink, event TraceEvent) {
	if s == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	s.Record(event)
}

// Recorder is a concurrency-safe in-memory collector.
//
// Ordering is computed after collection, so recording order does not affect
// the canonical trace.
type Recorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Record(event TraceEvent) {
	if r == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

// Snapshot returns a point-in-time copy of all recorded events.
func (r *Recorder) Snapshot() []TraceEvent {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Trace builds a canonical ExecutionTrace from the recorded events.
func (r *Recorder) Trace(graphHash string) ExecutionTrace {
	tr := ExecutionTrace{GraphHash: graphHash}
	tr.Events = r.Snapshot()
	tr.Canonicalize()
	return tr
}

// Observer adapts a Sink to dag.Observer.
type Observer struct {
	Sink Sink
}

// NewObserver returns an observer recording into s.
func NewObserver(s Sink) *Observer { return &Observer{Sink: s} }

// PhaseChanged records the end of a run. Intermediate phases depend on
// timing and are left out of the trace.
func (o *Observer) PhaseChanged(_ string, _, to dag.Phase) {
	switch to {
	case dag.PhaseFinished:
		SafeRecord(o.Sink, TraceEvent{Kind: EventRunFinished})
	case dag.PhaseAborted:
		SafeRecord(o.Sink, TraceEvent{Kind: EventRunAborted})
	}
}

// TaskSettled records the logical outcome of one task.
func (o *Observer) TaskSettled(ev dag.TaskEvent) {
	e := TraceEvent{TaskID: ev.NodeID, Fingerprint: string(ev.Fingerprint)}
	switch ev.State {
	case dag.TaskFinished:
		e.Kind = EventTaskExecuted
		if ev.FromCache {
			e.Kind = EventTaskCached
		}
		e.Identifiers = ev.Identifiers
	case dag.TaskCrashed:
		e.Kind = EventTaskCrashed
		e.Reason = crashReason(ev.Cause)
	case dag.TaskCancelled:
		e.Kind = EventTaskCancelled
	default:
		return
	}
	SafeRecord(o.Sink, e)
}

func crashReason(cause error) string {
	switch {
	case errors.Is(cause, core.ErrTimeout):
		return ReasonTimeout
	case errors.Is(cause, core.ErrConfiguration):
		return ReasonConfiguration
	case errors.Is(cause, core.ErrExecution):
		return ReasonExecution
	default:
		return ReasonUnknown
	}
}

// WriteFile writes the canonical JSON of tr to path, creating parent
// directories as needed.
func WriteFile(path string, tr ExecutionTrace) error {
	b, err := tr.CanonicalJSON()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o644)
}

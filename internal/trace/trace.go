package trace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ExecutionTrace is the canonical record of what one cohort run decided.
//
// Invariants:
//   - Captures the GraphHash and the logical outcome of every settled task.
//   - Contains no timestamps, durations, run ids or error strings.
//   - Event order is computed by Canonicalize, never by arrival order.
//
// GraphHash is a string to keep this package independent of the graph
// implementation.
type ExecutionTrace struct {
	GraphHash string
	Events    []TraceEvent
}

// TraceEventKind discriminates TraceEvent. The string values are part of the
// canonical bytes; do not rename.
type TraceEventKind string

const (
	EventTaskExecuted  TraceEventKind = "TaskExecuted"
	EventTaskCached    TraceEventKind = "TaskCached"
	EventTaskCrashed   TraceEventKind = "TaskCrashed"
	EventTaskCancelled TraceEventKind = "TaskCancelled"
	EventRunFinished   TraceEventKind = "RunFinished"
	EventRunAborted    TraceEventKind = "RunAborted"
)

// Reason codes for EventTaskCrashed.
const (
	ReasonTimeout       = "Timeout"
	ReasonExecution     = "ExecutionError"
	ReasonConfiguration = "ConfigurationError"
	ReasonUnknown       = "Crashed"
)

// TraceEvent is a single logical decision.
type TraceEvent struct {
	Kind TraceEventKind

	// TaskID is the node id. Required for task events, empty for run events.
	TaskID string

	// Reason is a stable reason code for crashes.
	Reason string

	// Fingerprint is the cache identity of the task's query.
	Fingerprint string

	// Identifiers is the result size of a finished task.
	Identifiers int
}

// Validate checks basic invariants and returns a descriptive error.
func (t *ExecutionTrace) Validate() error {
	if t == nil {
		return errors.New("trace is nil")
	}
	if t.GraphHash == "" {
		return errors.New("graphHash is required")
	}
	for i := range t.Events {
		e := t.Events[i]
		if e.Kind == "" {
			return fmt.Errorf("events[%d].kind is required", i)
		}
		if isTaskEvent(e.Kind) && e.TaskID == "" {
			return fmt.Errorf("events[%d].taskId is required for kind %q", i, e.Kind)
		}
		if e.Identifiers < 0 {
			return fmt.Errorf("events[%d].identifiers is negative", i)
		}
	}
	return nil
}

func isTaskEvent(kind TraceEventKind) bool {
	switch kind {
	case EventTaskExecuted, EventTaskCached, EventTaskCrashed, EventTaskCancelled:
		return true
	default:
		return false
	}
}

var kindOrder = map[TraceEventKind]int{
	EventTaskCached:    0,
	EventTaskExecuted:  1,
	EventTaskCrashed:   2,
	EventTaskCancelled: 3,
	EventRunFinished:   4,
	EventRunAborted:    5,
}

// Canonicalize sorts the events into their canonical order.
//
// Run events sort after all task events; task events are ordered by
// (taskId, kind, reason, fingerprint, identifiers).
func (t *ExecutionTrace) Canonicalize() {
	if t == nil {
		return
	}
	sort.SliceStable(t.Events, func(i, j int) bool {
		a, b := t.Events[i], t.Events[j]
		at, bt := isTaskEvent(a.Kind), isTaskEvent(b.Kind)
		if at != bt {
			return at
		}
		if a.TaskID != b.TaskID {
			return a.TaskID < b.TaskID
		}
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if a.Reason != b.Reason {
			return a.Reason < b.Reason
		}
		if a.Fingerprint != b.Fingerprint {
			return a.Fingerprint < b.Fingerprint
		}
		return a.Identifiers < b.Identifiers
	})
}

// CanonicalJSON returns the canonical JSON encoding of the trace.
// It canonicalizes a copy of the trace to avoid mutating the caller's slice.
func (t ExecutionTrace) CanonicalJSON() ([]byte, error) {
	copyTrace := ExecutionTrace{GraphHash: t.GraphHash}
	copyTrace.Events = make([]TraceEvent, len(t.Events))
	copy(copyTrace.Events, t.Events)
	copyTrace.Canonicalize()
	if err := copyTrace.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(&copyTrace)
}

// Hash returns the trace hash of the canonical JSON bytes.
func (t ExecutionTrace) Hash() (string, error) {
	b, err := t.CanonicalJSON()
	if err != nil {
		return "", err
	}
	return ComputeTraceHash(b), nil
}

// MarshalJSON fixes field order. It does not sort; use CanonicalJSON.
func (t ExecutionTrace) MarshalJSON() ([]byte, error) {
	if t.GraphHash == "" {
		return nil, errors.New("graphHash is required")
	}
	var buf bytes.Buffer
	buf.WriteString(`{"graphHash":`)
	gh, _ := json.Marshal(t.GraphHash)
	buf.Write(gh)

	buf.WriteString(`,"events":[`)
	for i := range t.Events {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := json.Marshal(t.Events[i])
		if err != nil {
			return nil, err
		}
		buf.Write(eb)
	}
	buf.WriteString("]}")
	return buf.Bytes(), nil
}

// MarshalJSON fixes field order and omits empty optional fields.
func (e TraceEvent) MarshalJSON() ([]byte, error) {
	if e.Kind == "" {
		return nil, errors.New("kind is required")
	}
	var buf bytes.Buffer
	writeString := func(name, v string) {
		if v == "" {
			return
		}
		buf.WriteString(`,"` + name + `":`)
		b, _ := json.Marshal(v)
		buf.Write(b)
	}

	buf.WriteString(`{"kind":`)
	kb, _ := json.Marshal(string(e.Kind))
	buf.Write(kb)
	writeString("taskId", e.TaskID)
	writeString("reason", e.Reason)
	writeString("fingerprint", e.Fingerprint)
	if e.Kind == EventTaskExecuted || e.Kind == EventTaskCached {
		buf.WriteString(`,"identifiers":`)
		buf.WriteString(strconv.Itoa(e.Identifiers))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads the encoding produced by MarshalJSON.
func (e *TraceEvent) UnmarshalJSON(data []byte) error {
	var raw struct {
		Kind        string `json:"kind"`
		TaskID      string `json:"taskId"`
		Reason      string `json:"reason"`
		Fingerprint string `json:"fingerprint"`
		Identifiers int    `json:"identifiers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = TraceEvent{
		Kind:        TraceEventKind(raw.Kind),
		TaskID:      raw.TaskID,
		Reason:      raw.Reason,
		Fingerprint: raw.Fingerprint,
		Identifiers: raw.Identifiers,
	}
	return nil
}

// UnmarshalJSON reads the encoding produced by MarshalJSON.
func (t *ExecutionTrace) UnmarshalJSON(data []byte) error {
	var raw struct {
		GraphHash string       `json:"graphHash"`
		Events    []TraceEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	t.GraphHash = raw.GraphHash
	t.Events = raw.Events
	return nil
}

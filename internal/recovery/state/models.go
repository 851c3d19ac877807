package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ExecutionMode records how the graph was compiled for a run.
type ExecutionMode string

const (
	// ExecutionModeGraph runs one task per enabled node with caching.
	ExecutionModeGraph ExecutionMode = "graph"
	// ExecutionModeDirect runs the root's combined query as a single task.
	ExecutionModeDirect ExecutionMode = "direct"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailure   RunStatus = "failure"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is the persistent metadata of one cohort run.
//
// previous_run_id links to the most recent earlier run of the same graph and
// is always present in the JSON form (null when there is none).
type Run struct {
	RunID         string        `json:"run_id"`
	GraphHash     string        `json:"graph_hash"`
	RootID        string        `json:"root_id"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       *time.Time    `json:"end_time,omitempty"`
	Mode          ExecutionMode `json:"mode"`
	Status        RunStatus     `json:"status"`
	Identifiers   int           `json:"identifiers"`
	Empty         bool          `json:"empty"`
	PreviousRunID *string       `json:"previous_run_id"`
}

func (r Run) Validate() error {
	var errs []error
	if strings.TrimSpace(r.RunID) == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if strings.ContainsAny(r.RunID, `/\`) || r.RunID == "." || r.RunID == ".." {
		errs = append(errs, fmt.Errorf("run_id %q is not a valid directory name", r.RunID))
	}
	if strings.TrimSpace(r.GraphHash) == "" {
		errs = append(errs, errors.New("graph_hash is required"))
	}
	if strings.TrimSpace(r.RootID) == "" {
		errs = append(errs, errors.New("root_id is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if r.EndTime != nil && r.EndTime.Before(r.StartTime) {
		errs = append(errs, errors.New("end_time must not precede start_time"))
	}
	switch r.Mode {
	case ExecutionModeGraph, ExecutionModeDirect:
	default:
		errs = append(errs, fmt.Errorf("invalid mode %q", r.Mode))
	}
	switch r.Status {
	case RunStatusRunning, RunStatusSuccess, RunStatusFailure, RunStatusCancelled:
	default:
		errs = append(errs, fmt.Errorf("invalid status %q", r.Status))
	}
	if r.Identifiers < 0 {
		errs = append(errs, errors.New("identifiers must be >= 0"))
	}
	if r.PreviousRunID != nil && strings.TrimSpace(*r.PreviousRunID) == "" {
		errs = append(errs, errors.New("previous_run_id must not be empty when provided"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

type FailureClass string

const (
	FailureClassConfiguration FailureClass = "configuration"
	FailureClassExecution     FailureClass = "execution"
	FailureClassTimeout       FailureClass = "timeout"
	FailureClassCancelled     FailureClass = "cancelled"
	FailureClassSystem        FailureClass = "system"
)

// Failure is the recorded reason a run did not succeed.
//
// Retryable is true when re-running the same tree unchanged could succeed.
type Failure struct {
	FailureClass FailureClass `json:"failure_class"`
	NodeID       *string      `json:"node_id,omitempty"`
	ErrorCode    string       `json:"error_code"`
	ErrorMessage string       `json:"error_message"`
	Retryable    bool         `json:"retryable"`
}

func (f Failure) Validate() error {
	var errs []error
	switch f.FailureClass {
	case FailureClassConfiguration, FailureClassExecution, FailureClassTimeout, FailureClassCancelled, FailureClassSystem:
	default:
		errs = append(errs, fmt.Errorf("invalid failure_class %q", f.FailureClass))
	}
	if f.NodeID != nil && strings.TrimSpace(*f.NodeID) == "" {
		errs = append(errs, errors.New("node_id must not be empty when provided"))
	}
	if strings.TrimSpace(f.ErrorCode) == "" {
		errs = append(errs, errors.New("error_code is required"))
	}
	if strings.TrimSpace(f.ErrorMessage) == "" {
		errs = append(errs, errors.New("error_message is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

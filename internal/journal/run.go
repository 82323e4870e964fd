// Package journal keeps a durable record of workflow runs and publishes
// every step as an event for other systems to follow.
package journal

import (
	xerrors "tokenflow/internal/errors"
)

// Status is the lifecycle status of a recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Step is one state transition of a run.
type Step struct {
	From          string            `json:"from"`
	To            string            `json:"to"`
	ElapsedMillis int64             `json:"elapsed_ms"`
	Attributes    map[string]string `json:"attributes,omitempty"`
	At            int64             `json:"at"`
}

// Run is the stored record of a workflow run. Attributes accumulate the
// attributes of every step, later values winning.
type Run struct {
	ID         string            `json:"id"`
	Network    string            `json:"network"`
	State      string            `json:"state"`
	Status     Status            `json:"status"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Steps      []Step            `json:"steps,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	LastError  string            `json:"last_error,omitempty"`
	CreatedAt  int64             `json:"created_at"`
	UpdatedAt  int64             `json:"updated_at"`
}

// Completion is how a run ended.
type Completion struct {
	Status     Status
	State      string
	ErrorCode  xerrors.Code
	LastError  string
	Attributes map[string]string
}

const (
	CodeRunNotFound xerrors.Code = "RUN_NOT_FOUND"
	CodeRunConflict xerrors.Code = "RUN_CONFLICT"
)

var (
	// ErrRunNotFound reports an unknown run ID.
	ErrRunNotFound = xerrors.New(CodeRunNotFound, "run not found")
	// ErrRunConflict reports a second Create with the same ID.
	ErrRunConflict = xerrors.New(CodeRunConflict, "run already exists")
)

func init() {
	xerrors.Register(CodeRunNotFound, xerrors.Attributes{
		Message:  "run not found",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunConflict, xerrors.Attributes{
		Message:  "run already exists",
		Severity: xerrors.SeverityWarning,
	})
}

// IsValidStatus reports whether status is one of the known values.
func IsValidStatus(status Status) bool {
	switch status {
	case StatusRunning, StatusSucceeded, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

func cloneAttributes(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	cloned := make(map[string]string, len(attrs))
	for key, value := range attrs {
		cloned[key] = value
	}
	return cloned
}

func mergeAttributes(dst, src map[string]string) map[string]string {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]string, len(src))
	}
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func cloneRun(run *Run) *Run {
	clone := *run
	clone.Attributes = cloneAttributes(run.Attributes)
	if run.Steps != nil {
		clone.Steps = make([]Step, len(run.Steps))
		for i, step := range run.Steps {
			step.Attributes = cloneAttributes(step.Attributes)
			clone.Steps[i] = step
		}
	}
	return &clone
}

package models

import "time"

type ExecutionStatus string

const (
	PendingExecutionStatus   ExecutionStatus = "pending"
	RunningExecutionStatus   ExecutionStatus = "running"
	CompletedExecutionStatus ExecutionStatus = "completed"
	FailedExecutionStatus    ExecutionStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s ExecutionStatus) IsTerminal() bool {
	return s == CompletedExecutionStatus || s == FailedExecutionStatus
}

type StepStatus string

const (
	RunningStepStatus   StepStatus = "running"
	CompletedStepStatus StepStatus = "completed"
	FailedStepStatus    StepStatus = "failed"
)

// StepResult records the outcome of one executed step.
type StepResult struct {
	StepID      string     `json:"step_id" db:"step_id"`
	StepKind    StepKind   `json:"step_kind" db:"step_kind"`
	Status      StepStatus `json:"status" db:"status"`
	Result      string     `json:"result,omitempty" db:"result"` // Dispatcher output
	Error       string     `json:"error,omitempty" db:"error"`   // Set only on failure
	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt time.Time  `json:"completed_at" db:"completed_at"`
	DurationMs  int64      `json:"duration_ms" db:"duration_ms"`
}

// Execution is one run of a sequence.
type Execution struct {
	ID           string          `json:"id" db:"id"`
	SequenceID   string          `json:"sequence_id" db:"sequence_id"`
	Status       ExecutionStatus `json:"status" db:"status"`
	StepResults  []StepResult    `json:"step_results" db:"-"`
	InputData    map[string]any  `json:"input_data,omitempty" db:"-"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	DurationMs   int64           `json:"duration_ms" db:"duration_ms"`
	ErrorMessage string          `json:"error_message,omitempty" db:"error_message"`
}

// InputString returns InputData[key] when it is a non-empty string.
func (e Execution) InputString(key string) string {
	if e.InputData == nil {
		return ""
	}
	if v, ok := e.InputData[key].(string); ok {
		return v
	}
	return ""
}

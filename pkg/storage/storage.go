package storage

import (
	"context"
	"time"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/pkg/errors"
)

// ErrNotFound is returned when a sequence or execution does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the storage operations for seqflow.
// Step results are append-only; an execution is written by a single runner.
type Store interface {
	// Sequence operations
	SaveSequence(ctx context.Context, seq models.Sequence) (string, error)
	GetSequence(ctx context.Context, id string) (models.Sequence, error)
	ListSequences(ctx context.Context) ([]models.Sequence, error)
	UpdateSequence(ctx context.Context, seq models.Sequence) error
	SetSequenceActive(ctx context.Context, id string, active bool) error
	MarkSequenceRun(ctx context.Context, id string, at time.Time) error

	// Execution operations
	CreateExecution(ctx context.Context, exec models.Execution) (string, error)
	AppendStepResult(ctx context.Context, executionID string, result models.StepResult) error
	FinalizeExecution(ctx context.Context, executionID string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) error
	GetExecution(ctx context.Context, id string) (models.Execution, error)
	ListExecutions(ctx context.Context, sequenceID string) ([]models.Execution, error)

	Close() error
}

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/pkg/errors"
)

// memoryStore implements Store in process memory. Returned values are copies,
// so callers never share slices with the store.
type memoryStore struct {
	mu         sync.RWMutex
	sequences  map[string]models.Sequence
	executions map[string]models.Execution
	order      []string // execution ids in creation order
	now        func() time.Time
}

func NewMemoryStore() Store {
	return &memoryStore{
		sequences:  make(map[string]models.Sequence),
		executions: make(map[string]models.Execution),
		now:        time.Now,
	}
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) SaveSequence(_ context.Context, seq models.Sequence) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if seq.ID == "" {
		seq.ID = uuid.NewString()
	}
	if _, exists := m.sequences[seq.ID]; exists {
		return "", errors.Errorf("sequence %s already exists", seq.ID)
	}
	now := m.now()
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = now
	}
	seq.UpdatedAt = now
	m.sequences[seq.ID] = copySequence(seq)
	return seq.ID, nil
}

func (m *memoryStore) GetSequence(_ context.Context, id string) (models.Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seq, ok := m.sequences[id]
	if !ok {
		return models.Sequence{}, ErrNotFound
	}
	return copySequence(seq), nil
}

func (m *memoryStore) ListSequences(_ context.Context) ([]models.Sequence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sequences := make([]models.Sequence, 0, len(m.sequences))
	for _, seq := range m.sequences {
		seq.StepCount = len(seq.Steps)
		seq.Steps = nil
		sequences = append(sequences, seq)
	}
	sort.Slice(sequences, func(i, j int) bool {
		return sequences[i].CreatedAt.After(sequences[j].CreatedAt)
	})
	return sequences, nil
}

func (m *memoryStore) UpdateSequence(_ context.Context, seq models.Sequence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.sequences[seq.ID]
	if !ok {
		return ErrNotFound
	}
	seq.CreatedAt = existing.CreatedAt
	seq.LastRunAt = existing.LastRunAt
	seq.UpdatedAt = m.now()
	m.sequences[seq.ID] = copySequence(seq)
	return nil
}

func (m *memoryStore) SetSequenceActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[id]
	if !ok {
		return ErrNotFound
	}
	seq.Active = active
	seq.UpdatedAt = m.now()
	m.sequences[id] = seq
	return nil
}

func (m *memoryStore) MarkSequenceRun(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	seq, ok := m.sequences[id]
	if !ok {
		return ErrNotFound
	}
	seq.LastRunAt = &at
	m.sequences[id] = seq
	return nil
}

func (m *memoryStore) CreateExecution(_ context.Context, exec models.Execution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sequences[exec.SequenceID]; !ok {
		return "", ErrNotFound
	}
	exec.ID = uuid.NewString()
	exec.StepResults = nil
	exec.InputData = copyInput(exec.InputData)
	m.executions[exec.ID] = exec
	m.order = append(m.order, exec.ID)
	return exec.ID, nil
}

func (m *memoryStore) AppendStepResult(_ context.Context, executionID string, result models.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	if exec.Status.IsTerminal() {
		return errors.Errorf("execution %s is already %s", executionID, exec.Status)
	}
	exec.StepResults = append(exec.StepResults, result)
	m.executions[executionID] = exec
	return nil
}

func (m *memoryStore) FinalizeExecution(_ context.Context, executionID string, status models.ExecutionStatus, errorMessage string, completedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	exec, ok := m.executions[executionID]
	if !ok {
		return ErrNotFound
	}
	if exec.Status.IsTerminal() {
		return errors.Errorf("execution %s is already %s", executionID, exec.Status)
	}
	if !status.IsTerminal() {
		return errors.Errorf("cannot finalize execution with status %s", status)
	}
	exec.Status = status
	exec.ErrorMessage = errorMessage
	exec.CompletedAt = &completedAt
	exec.DurationMs = completedAt.Sub(exec.StartedAt).Milliseconds()
	m.executions[executionID] = exec
	return nil
}

func (m *memoryStore) GetExecution(_ context.Context, id string) (models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return models.Execution{}, ErrNotFound
	}
	return copyExecution(exec), nil
}

// ListExecutions returns the sequence's executions, newest first.
func (m *memoryStore) ListExecutions(_ context.Context, sequenceID string) ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	executions := []models.Execution{}
	for i := len(m.order) - 1; i >= 0; i-- {
		exec := m.executions[m.order[i]]
		if exec.SequenceID == sequenceID {
			executions = append(executions, copyExecution(exec))
		}
	}
	return executions, nil
}

func copySequence(seq models.Sequence) models.Sequence {
	if seq.Steps != nil {
		seq.Steps = append([]models.Step(nil), seq.Steps...)
	}
	if seq.LastRunAt != nil {
		t := *seq.LastRunAt
		seq.LastRunAt = &t
	}
	return seq
}

func copyExecution(exec models.Execution) models.Execution {
	if exec.StepResults != nil {
		exec.StepResults = append([]models.StepResult(nil), exec.StepResults...)
	}
	exec.InputData = copyInput(exec.InputData)
	if exec.CompletedAt != nil {
		t := *exec.CompletedAt
		exec.CompletedAt = &t
	}
	return exec
}

func copyInput(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

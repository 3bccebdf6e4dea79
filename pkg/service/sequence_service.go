package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/pkg/errors"
)

const maxSequenceNameLength = 100

// ValidationError reports a sequence definition that cannot be stored.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// SequenceService manages sequence definitions and exposes their execution history.
type SequenceService struct {
	store  storage.Store
	logger Logger
}

func NewSequenceService(store storage.Store, logger Logger) *SequenceService {
	if logger == nil {
		logger = nopLogger{}
	}
	return &SequenceService{store: store, logger: logger}
}

// ValidateSequence checks a definition before it is stored. Unknown step kinds
// are accepted; they are skipped at run time.
func ValidateSequence(seq models.Sequence) error {
	name := strings.TrimSpace(seq.Name)
	if name == "" {
		return invalid("sequence name cannot be empty")
	}
	if len(name) > maxSequenceNameLength {
		return invalid("sequence name too long (max %d characters)", maxSequenceNameLength)
	}
	seen := make(map[string]struct{}, len(seq.Steps))
	for i, step := range seq.Steps {
		if step.ID == "" {
			return invalid("step %d has no id", i)
		}
		if _, dup := seen[step.ID]; dup {
			return invalid("duplicate step id '%s'", step.ID)
		}
		seen[step.ID] = struct{}{}
		if step.Kind == "" {
			return invalid("step '%s' has no kind", step.ID)
		}
		if step.Config != nil && step.Config.StepKind() != step.Kind {
			return invalid("step '%s' of kind %s has %s config", step.ID, step.Kind, step.Config.StepKind())
		}
	}
	return nil
}

// CreateSequence stores a new sequence and returns its id.
func (s *SequenceService) CreateSequence(ctx context.Context, seq models.Sequence) (string, error) {
	seq.Name = strings.TrimSpace(seq.Name)
	if err := ValidateSequence(seq); err != nil {
		return "", err
	}
	s.warnUnknownKinds(seq)

	id, err := s.store.SaveSequence(ctx, seq)
	if err != nil {
		return "", errors.Wrapf(err, "save sequence '%s'", seq.Name)
	}
	s.logger.Infof("Created sequence '%s' with ID %s (%d steps)", seq.Name, id, len(seq.Steps))
	return id, nil
}

// UpdateSequence replaces the metadata and steps of an existing sequence.
// Runs already in flight keep the steps they were started with.
func (s *SequenceService) UpdateSequence(ctx context.Context, seq models.Sequence) error {
	if seq.ID == "" {
		return invalid("sequence id cannot be empty")
	}
	seq.Name = strings.TrimSpace(seq.Name)
	if err := ValidateSequence(seq); err != nil {
		return err
	}
	s.warnUnknownKinds(seq)

	if err := s.store.UpdateSequence(ctx, seq); err != nil {
		return errors.Wrapf(err, "update sequence %s", seq.ID)
	}
	s.logger.Infof("Updated sequence %s", seq.ID)
	return nil
}

// SetActive toggles the sequence's active flag.
func (s *SequenceService) SetActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetSequenceActive(ctx, id, active); err != nil {
		return errors.Wrapf(err, "set sequence %s active=%t", id, active)
	}
	s.logger.Infof("Sequence %s active=%t", id, active)
	return nil
}

func (s *SequenceService) GetSequence(ctx context.Context, id string) (models.Sequence, error) {
	seq, err := s.store.GetSequence(ctx, id)
	if err != nil {
		return models.Sequence{}, errors.Wrapf(err, "get sequence %s", id)
	}
	return seq, nil
}

// ListSequences returns all sequences without their steps, newest first.
func (s *SequenceService) ListSequences(ctx context.Context) ([]models.Sequence, error) {
	sequences, err := s.store.ListSequences(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list sequences")
	}
	return sequences, nil
}

func (s *SequenceService) GetExecution(ctx context.Context, id string) (models.Execution, error) {
	exec, err := s.store.GetExecution(ctx, id)
	if err != nil {
		return models.Execution{}, errors.Wrapf(err, "get execution %s", id)
	}
	return exec, nil
}

// ListExecutions returns the execution history of a sequence, newest first.
func (s *SequenceService) ListExecutions(ctx context.Context, sequenceID string) ([]models.Execution, error) {
	if _, err := s.store.GetSequence(ctx, sequenceID); err != nil {
		return nil, errors.Wrapf(err, "get sequence %s", sequenceID)
	}
	executions, err := s.store.ListExecutions(ctx, sequenceID)
	if err != nil {
		return nil, errors.Wrapf(err, "list executions of sequence %s", sequenceID)
	}
	return executions, nil
}

func (s *SequenceService) warnUnknownKinds(seq models.Sequence) {
	for _, step := range seq.Steps {
		if !step.Kind.IsKnown() {
			s.logger.Warnf("Sequence '%s' step '%s' has unknown kind '%s'; it will be skipped at run time", seq.Name, step.ID, step.Kind)
		}
	}
}

package service_test

import (
	"context"
	"strings"
	"testing"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/service"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceService(t *testing.T) {
	ctx := context.Background()
	newSequenceService := func() (*service.SequenceService, storage.Store) {
		store := storage.NewMemoryStore()
		return service.NewSequenceService(store, logger{}), store
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		svc, _ := newSequenceService()
		id, err := svc.CreateSequence(ctx, models.Sequence{
			Name:   "  Weekly digest ",
			Active: true,
			Steps: []models.Step{
				step("start", models.TriggerStepKind, 0, nil),
				step("research", models.ResearchStepKind, 1, models.ResearchConfig{Query: "AI"}),
			},
		})
		require.NoError(t, err)

		seq, err := svc.GetSequence(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Weekly digest", seq.Name)
		assert.True(t, seq.Active)
		assert.Len(t, seq.Steps, 2)
		assert.Nil(t, seq.LastRunAt)
	})

	t.Run("EmptyName", func(t *testing.T) {
		svc, _ := newSequenceService()
		_, err := svc.CreateSequence(ctx, models.Sequence{Name: " "})
		var verr *service.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "sequence name cannot be empty", verr.Message)
	})

	t.Run("NameTooLong", func(t *testing.T) {
		svc, _ := newSequenceService()
		_, err := svc.CreateSequence(ctx, models.Sequence{Name: strings.Repeat("a", 101)})
		assert.EqualError(t, err, "sequence name too long (max 100 characters)")
	})

	t.Run("DuplicateStepID", func(t *testing.T) {
		svc, _ := newSequenceService()
		_, err := svc.CreateSequence(ctx, models.Sequence{Name: "dup", Steps: []models.Step{
			step("a", models.SlackStepKind, 0, nil),
			step("a", models.EmailStepKind, 1, nil),
		}})
		assert.EqualError(t, err, "duplicate step id 'a'")
	})

	t.Run("MismatchedConfig", func(t *testing.T) {
		svc, _ := newSequenceService()
		_, err := svc.CreateSequence(ctx, models.Sequence{Name: "bad", Steps: []models.Step{
			step("a", models.SlackStepKind, 0, models.EmailConfig{}),
		}})
		assert.Error(t, err)
	})

	t.Run("UnknownKindAccepted", func(t *testing.T) {
		svc, _ := newSequenceService()
		_, err := svc.CreateSequence(ctx, models.Sequence{Name: "fax", Steps: []models.Step{
			step("a", "send_fax", 0, models.RawConfig{Kind: "send_fax"}),
		}})
		assert.NoError(t, err)
	})

	t.Run("UpdateReplacesSteps", func(t *testing.T) {
		svc, _ := newSequenceService()
		id, err := svc.CreateSequence(ctx, models.Sequence{Name: "v1", Steps: []models.Step{step("a", models.SlackStepKind, 0, nil)}})
		require.NoError(t, err)

		err = svc.UpdateSequence(ctx, models.Sequence{ID: id, Name: "v2", Steps: []models.Step{
			step("b", models.EmailStepKind, 0, nil),
			step("c", models.DelayStepKind, 1, nil),
		}})
		require.NoError(t, err)

		seq, err := svc.GetSequence(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "v2", seq.Name)
		require.Len(t, seq.Steps, 2)
		assert.Equal(t, "b", seq.Steps[0].ID)
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		svc, _ := newSequenceService()
		err := svc.UpdateSequence(ctx, models.Sequence{ID: "missing", Name: "x"})
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("SetActive", func(t *testing.T) {
		svc, _ := newSequenceService()
		id, err := svc.CreateSequence(ctx, models.Sequence{Name: "toggle", Active: true})
		require.NoError(t, err)

		require.NoError(t, svc.SetActive(ctx, id, false))
		seq, err := svc.GetSequence(ctx, id)
		require.NoError(t, err)
		assert.False(t, seq.Active)

		assert.True(t, errors.Is(svc.SetActive(ctx, "missing", true), storage.ErrNotFound))
	})

	t.Run("ListSequences", func(t *testing.T) {
		svc, _ := newSequenceService()
		for _, name := range []string{"one", "two"} {
			_, err := svc.CreateSequence(ctx, models.Sequence{Name: name})
			require.NoError(t, err)
		}
		sequences, err := svc.ListSequences(ctx)
		require.NoError(t, err)
		assert.Len(t, sequences, 2)
	})

	t.Run("ExecutionHistory", func(t *testing.T) {
		svc, store := newSequenceService()
		id, err := svc.CreateSequence(ctx, models.Sequence{Name: "history"})
		require.NoError(t, err)
		execID, err := store.CreateExecution(ctx, models.Execution{SequenceID: id, Status: models.RunningExecutionStatus})
		require.NoError(t, err)

		executions, err := svc.ListExecutions(ctx, id)
		require.NoError(t, err)
		require.Len(t, executions, 1)
		assert.Equal(t, execID, executions[0].ID)

		exec, err := svc.GetExecution(ctx, execID)
		require.NoError(t, err)
		assert.Equal(t, models.RunningExecutionStatus, exec.Status)

		_, err = svc.ListExecutions(ctx, "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}

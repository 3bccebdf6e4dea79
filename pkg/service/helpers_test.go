package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/ignatij/seqflow/pkg/dispatch"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Warnf(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

// spy records every dispatch it receives and answers with respond.
type spy struct {
	mu      sync.Mutex
	reqs    []dispatch.Request
	respond func(req dispatch.Request) (string, error)
}

func newSpy(respond func(req dispatch.Request) (string, error)) *spy {
	return &spy{respond: respond}
}

func returning(out string) *spy {
	return newSpy(func(dispatch.Request) (string, error) { return out, nil })
}

func (s *spy) Dispatch(ctx context.Context, req dispatch.Request) (string, error) {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	if s.respond == nil {
		return "", nil
	}
	return s.respond(req)
}

func (s *spy) calls() []dispatch.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dispatch.Request(nil), s.reqs...)
}

func saveSequence(t *testing.T, store storage.Store, steps ...models.Step) string {
	t.Helper()
	id, err := store.SaveSequence(context.Background(), models.Sequence{Name: "test sequence", Active: true, Steps: steps})
	require.NoError(t, err)
	return id
}

func step(id string, kind models.StepKind, order int, cfg models.StepConfig) models.Step {
	return models.Step{ID: id, Kind: kind, Label: id, Order: order, Config: cfg}
}

package service_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignatij/seqflow/pkg/dispatch"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/service"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner(t *testing.T) {
	ctx := context.Background()

	t.Run("ResearchResultFlowsIntoSlackMessage", func(t *testing.T) {
		store := storage.NewMemoryStore()
		research := returning("R1")
		var slackBody string
		slackRelay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			data, _ := io.ReadAll(r.Body)
			slackBody = string(data)
			w.WriteHeader(http.StatusOK)
		}))
		defer slackRelay.Close()

		registry := dispatch.NewDefaultRegistry(dispatch.Options{
			Endpoints:  dispatch.Endpoints{Slack: slackRelay.URL},
			HTTPClient: slackRelay.Client(),
			Researcher: research,
		})
		seqID := saveSequence(t, store,
			step("research", models.ResearchStepKind, 0, models.ResearchConfig{Query: "X"}),
			step("notify", models.SlackStepKind, 1, models.SlackConfig{Message: "{{result}}"}),
		)

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Empty(t, exec.ErrorMessage)
		assert.Len(t, exec.StepResults, 2)
		require.Len(t, research.calls(), 1)
		assert.Equal(t, "X", research.calls()[0].Step.Config.(models.ResearchConfig).Query)
		assert.JSONEq(t, `{"action_type":"slack_message","channel":"#general","message":"R1"}`, slackBody)
		assert.Equal(t, "R1", exec.StepResults[0].Result)
		assert.Equal(t, "Slack message sent to #general", exec.StepResults[1].Result)
	})

	t.Run("MissingPhoneFailsWithoutOutboundCall", func(t *testing.T) {
		store := storage.NewMemoryStore()
		var hits int32
		relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&hits, 1)
		}))
		defer relay.Close()

		registry := dispatch.NewDefaultRegistry(dispatch.Options{
			Endpoints:  dispatch.Endpoints{Text: relay.URL},
			HTTPClient: relay.Client(),
		})
		seqID := saveSequence(t, store, step("sms", models.TextStepKind, 0, models.TextConfig{Message: "hi"}))

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		require.Len(t, exec.StepResults, 1)
		assert.Equal(t, models.FailedStepStatus, exec.StepResults[0].Status)
		assert.Equal(t, "Phone number is required", exec.StepResults[0].Error)
		assert.Contains(t, exec.ErrorMessage, "sms")
		assert.Contains(t, exec.ErrorMessage, "Phone number is required")
		assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
	})

	t.Run("TriggerIsRecordedNotDispatched", func(t *testing.T) {
		store := storage.NewMemoryStore()
		trigger := returning("should not run")
		research := returning("Y findings")
		email := returning("Email sent to a@b.com")
		registry := dispatch.NewRegistry()
		registry.Register(models.TriggerStepKind, trigger)
		registry.Register(models.ResearchStepKind, research)
		registry.Register(models.EmailStepKind, email)

		seqID := saveSequence(t, store,
			step("start", models.TriggerStepKind, 0, models.RawConfig{Kind: models.TriggerStepKind}),
			step("research", models.ResearchStepKind, 1, models.ResearchConfig{Query: "Y"}),
			step("mail", models.EmailStepKind, 2, models.EmailConfig{To: "a@b.com", Subject: "S", Message: "{{result}}"}),
		)

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		require.Len(t, exec.StepResults, 3)
		assert.Equal(t, "start", exec.StepResults[0].StepID)
		assert.Equal(t, models.CompletedStepStatus, exec.StepResults[0].Status)
		assert.Empty(t, trigger.calls())
		require.Len(t, email.calls(), 1)
		assert.Equal(t, "Y findings", email.calls()[0].Step.Config.(models.EmailConfig).Message)
		assert.Equal(t, "S", email.calls()[0].Step.Config.(models.EmailConfig).Subject)
	})

	t.Run("ConcurrentRunsAreIndependent", func(t *testing.T) {
		store := storage.NewMemoryStore()
		research := newSpy(func(req dispatch.Request) (string, error) {
			time.Sleep(10 * time.Millisecond)
			return "result for " + req.InputString("who"), nil
		})
		slack := returning("ok")
		registry := dispatch.NewRegistry()
		registry.Register(models.ResearchStepKind, research)
		registry.Register(models.SlackStepKind, slack)
		seqID := saveSequence(t, store,
			step("research", models.ResearchStepKind, 0, models.ResearchConfig{}),
			step("notify", models.SlackStepKind, 1, models.SlackConfig{Message: "{{result}}"}),
		)
		runner := service.NewRunner(store, registry, logger{})

		var wg sync.WaitGroup
		execs := make([]*models.Execution, 2)
		for i, who := range []string{"a", "b"} {
			wg.Add(1)
			go func(i int, who string) {
				defer wg.Done()
				exec, err := runner.Run(ctx, seqID, map[string]any{"who": who}, service.ModeInteractive)
				assert.NoError(t, err)
				execs[i] = exec
			}(i, who)
		}
		wg.Wait()

		require.NotNil(t, execs[0])
		require.NotNil(t, execs[1])
		assert.NotEqual(t, execs[0].ID, execs[1].ID)
		for i, who := range []string{"a", "b"} {
			assert.Equal(t, models.CompletedExecutionStatus, execs[i].Status)
			require.Len(t, execs[i].StepResults, 2)
			assert.Equal(t, "research", execs[i].StepResults[0].StepID)
			assert.Equal(t, "notify", execs[i].StepResults[1].StepID)
			assert.Equal(t, "result for "+who, execs[i].StepResults[0].Result)
		}

		messages := []string{}
		for _, req := range slack.calls() {
			messages = append(messages, req.Step.Config.(models.SlackConfig).Message)
		}
		assert.ElementsMatch(t, []string{"result for a", "result for b"}, messages)
	})

	t.Run("FailureAtStepKStopsTheRun", func(t *testing.T) {
		for k := 1; k <= 3; k++ {
			t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
				store := storage.NewMemoryStore()
				spies := make([]*spy, 3)
				registry := dispatch.NewRegistry()
				steps := make([]models.Step, 3)
				for i := range spies {
					fail := i+1 == k
					spies[i] = newSpy(func(dispatch.Request) (string, error) {
						if fail {
							return "", errors.New("relay unavailable")
						}
						return "ok", nil
					})
					kind := models.StepKind(fmt.Sprintf("custom_%d", i))
					registry.Register(kind, spies[i])
					steps[i] = step(fmt.Sprintf("step-%d", i+1), kind, i, models.RawConfig{Kind: kind})
				}
				seqID := saveSequence(t, store, steps...)

				exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
				require.NoError(t, err)

				assert.Equal(t, models.FailedExecutionStatus, exec.Status)
				assert.Len(t, exec.StepResults, k)
				assert.Equal(t, models.FailedStepStatus, exec.StepResults[k-1].Status)
				assert.Contains(t, exec.ErrorMessage, fmt.Sprintf("step-%d", k))
				for i, s := range spies {
					if i < k {
						assert.Len(t, s.calls(), 1)
					} else {
						assert.Empty(t, s.calls())
					}
				}

				stored, err := store.GetExecution(ctx, exec.ID)
				require.NoError(t, err)
				assert.Equal(t, models.FailedExecutionStatus, stored.Status)
				assert.Len(t, stored.StepResults, k)

				seq, err := store.GetSequence(ctx, seqID)
				require.NoError(t, err)
				assert.Nil(t, seq.LastRunAt)
			})
		}
	})

	t.Run("ZeroStepsFails", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seqID := saveSequence(t, store)

		exec, err := service.NewRunner(store, dispatch.NewRegistry(), logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Equal(t, service.ErrNoSteps, exec.ErrorMessage)
		assert.Empty(t, exec.StepResults)
		assert.NotNil(t, exec.CompletedAt)
	})

	t.Run("UnknownKindIsSkipped", func(t *testing.T) {
		store := storage.NewMemoryStore()
		after := returning("done")
		registry := dispatch.NewRegistry()
		registry.Register(models.SlackStepKind, after)
		seqID := saveSequence(t, store,
			step("mystery", models.StepKind("send_fax"), 0, models.RawConfig{Kind: "send_fax"}),
			step("notify", models.SlackStepKind, 1, models.SlackConfig{Message: "{{result}}"}),
		)

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		require.Len(t, exec.StepResults, 2)
		assert.Equal(t, models.CompletedStepStatus, exec.StepResults[0].Status)
		assert.Equal(t, "Unknown step kind: send_fax", exec.StepResults[0].Result)
		// the placeholder is not a research result
		assert.Equal(t, "{{result}}", after.calls()[0].Step.Config.(models.SlackConfig).Message)
	})

	t.Run("MarksLastRunOnSuccess", func(t *testing.T) {
		store := storage.NewMemoryStore()
		registry := dispatch.NewRegistry()
		registry.Register(models.SlackStepKind, returning("ok"))
		seqID := saveSequence(t, store, step("notify", models.SlackStepKind, 0, models.SlackConfig{}))
		at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

		_, err := service.NewRunner(store, registry, logger{}, service.WithClock(func() time.Time { return at })).
			Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		seq, err := store.GetSequence(ctx, seqID)
		require.NoError(t, err)
		require.NotNil(t, seq.LastRunAt)
		assert.True(t, at.Equal(*seq.LastRunAt))
	})

	t.Run("DispatchTimeout", func(t *testing.T) {
		store := storage.NewMemoryStore()
		registry := dispatch.NewRegistry()
		registry.Register(models.SlackStepKind, dispatch.Func(func(ctx context.Context, _ dispatch.Request) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		}))
		seqID := saveSequence(t, store, step("notify", models.SlackStepKind, 0, models.SlackConfig{}))

		exec, err := service.NewRunner(store, registry, logger{}, service.WithDispatchTimeout(20*time.Millisecond)).
			Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		require.Len(t, exec.StepResults, 1)
		assert.Contains(t, exec.StepResults[0].Error, "timed out")
	})

	t.Run("DelayIsExemptFromTimeout", func(t *testing.T) {
		store := storage.NewMemoryStore()
		var slept time.Duration
		registry := dispatch.NewRegistry()
		registry.Register(models.DelayStepKind, &dispatch.DelayDispatcher{Sleep: func(ctx context.Context, d time.Duration) error {
			slept = d
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(30 * time.Millisecond):
				return nil
			}
		}})
		seqID := saveSequence(t, store, step("wait", models.DelayStepKind, 0, models.DelayConfig{Minutes: 2}))

		exec, err := service.NewRunner(store, registry, logger{}, service.WithDispatchTimeout(5*time.Millisecond)).
			Run(ctx, seqID, nil, service.ModeBackground)
		require.NoError(t, err)

		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
		assert.Equal(t, 2*time.Minute, slept)
		assert.Equal(t, "Waited 2 minutes", exec.StepResults[0].Result)
	})

	t.Run("InteractiveDelayDoesNotWait", func(t *testing.T) {
		store := storage.NewMemoryStore()
		registry := dispatch.NewRegistry()
		registry.Register(models.DelayStepKind, &dispatch.DelayDispatcher{Sleep: func(context.Context, time.Duration) error {
			t.Fatal("interactive run must not sleep")
			return nil
		}})
		seqID := saveSequence(t, store, step("wait", models.DelayStepKind, 0, models.DelayConfig{Minutes: 60}))

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)
	})

	t.Run("CancelledBeforeNextStep", func(t *testing.T) {
		store := storage.NewMemoryStore()
		runCtx, cancel := context.WithCancel(ctx)
		second := returning("never")
		registry := dispatch.NewRegistry()
		registry.Register(models.ResearchStepKind, dispatch.Func(func(context.Context, dispatch.Request) (string, error) {
			cancel()
			return "first", nil
		}))
		registry.Register(models.SlackStepKind, second)
		seqID := saveSequence(t, store,
			step("research", models.ResearchStepKind, 0, models.ResearchConfig{}),
			step("notify", models.SlackStepKind, 1, models.SlackConfig{}),
		)

		exec, err := service.NewRunner(store, registry, logger{}).Run(runCtx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)

		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Len(t, exec.StepResults, 1)
		assert.Contains(t, exec.ErrorMessage, "cancelled")
		assert.Empty(t, second.calls())

		stored, err := store.GetExecution(ctx, exec.ID)
		require.NoError(t, err)
		assert.Equal(t, models.FailedExecutionStatus, stored.Status)
	})

	t.Run("PositionOrdering", func(t *testing.T) {
		store := storage.NewMemoryStore()
		order := []string{}
		record := dispatch.Func(func(_ context.Context, req dispatch.Request) (string, error) {
			order = append(order, req.Step.ID)
			return "", nil
		})
		registry := dispatch.NewRegistry()
		registry.Register(models.SlackStepKind, record)
		low := step("low", models.SlackStepKind, 0, models.SlackConfig{})
		low.Position = &models.Position{X: 0, Y: 200}
		high := step("high", models.SlackStepKind, 1, models.SlackConfig{})
		high.Position = &models.Position{X: 0, Y: 10}
		seqID := saveSequence(t, store, low, high)

		_, err := service.NewRunner(store, registry, logger{}, service.WithOrdering(service.OrderByPosition)).
			Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)
		assert.Equal(t, []string{"high", "low"}, order)
	})

	t.Run("UnknownSequence", func(t *testing.T) {
		_, err := service.NewRunner(storage.NewMemoryStore(), dispatch.NewRegistry(), logger{}).
			Run(ctx, "missing", nil, service.ModeInteractive)
		assert.Error(t, err)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("ObserversSeeEveryStep", func(t *testing.T) {
		store := storage.NewMemoryStore()
		registry := dispatch.NewRegistry()
		registry.Register(models.SlackStepKind, returning("ok"))
		seqID := saveSequence(t, store,
			step("a", models.SlackStepKind, 0, models.SlackConfig{}),
			step("b", models.SlackStepKind, 1, models.SlackConfig{}),
		)
		obs := &recordingObserver{}

		_, err := service.NewRunner(store, registry, logger{}, service.WithObservers(obs)).
			Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)
		assert.Equal(t, []string{"started", "step:a", "step:b", "finished:completed"}, obs.events)
	})

	t.Run("LastResearchResultWins", func(t *testing.T) {
		store := storage.NewMemoryStore()
		registry := dispatch.NewRegistry()
		registry.Register(models.ResearchStepKind, dispatch.Func(func(_ context.Context, req dispatch.Request) (string, error) {
			return "result of " + req.Step.ID, nil
		}))
		slack := returning("sent")
		registry.Register(models.SlackStepKind, slack)
		seqID := saveSequence(t, store,
			step("first", models.ResearchStepKind, 0, models.ResearchConfig{Query: "one"}),
			step("m1", models.SlackStepKind, 1, models.SlackConfig{Message: "a: {{result}}"}),
			step("m2", models.SlackStepKind, 2, models.SlackConfig{Message: "b: {{result}}"}),
			step("second", models.ResearchStepKind, 3, models.ResearchConfig{Query: "two"}),
			step("m3", models.SlackStepKind, 4, models.SlackConfig{Message: "c: {{RESULT}}"}),
		)

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedExecutionStatus, exec.Status)

		messages := []string{}
		for _, req := range slack.calls() {
			messages = append(messages, req.Step.Config.(models.SlackConfig).Message)
		}
		assert.Equal(t, []string{"a: result of first", "b: result of first", "c: result of second"}, messages)
	})

	t.Run("IndexOrderingKeepsInsertionOrderForTies", func(t *testing.T) {
		store := storage.NewMemoryStore()
		order := []string{}
		messages := []string{}
		registry := dispatch.NewRegistry()
		research := 0
		registry.Register(models.ResearchStepKind, dispatch.Func(func(_ context.Context, req dispatch.Request) (string, error) {
			order = append(order, req.Step.ID)
			research++
			return fmt.Sprintf("R%d", research), nil
		}))
		registry.Register(models.SlackStepKind, dispatch.Func(func(_ context.Context, req dispatch.Request) (string, error) {
			order = append(order, req.Step.ID)
			messages = append(messages, req.Step.Config.(models.SlackConfig).Message)
			return "sent", nil
		}))
		seqID := saveSequence(t, store,
			step("c", models.SlackStepKind, 5, models.SlackConfig{Message: "{{result}}"}),
			step("a", models.ResearchStepKind, 1, models.ResearchConfig{Query: "q"}),
			step("m", models.SlackStepKind, 2, models.SlackConfig{Message: "{{result}}"}),
			step("b", models.ResearchStepKind, 3, models.ResearchConfig{Query: "q"}),
			step("tie", models.SlackStepKind, 5, models.SlackConfig{Message: "x"}),
		)

		exec, err := service.NewRunner(store, registry, logger{}).Run(ctx, seqID, nil, service.ModeInteractive)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "m", "b", "c", "tie"}, order)
		assert.Equal(t, []string{"R1", "R2", "x"}, messages)

		recorded := []string{}
		for _, r := range exec.StepResults {
			recorded = append(recorded, r.StepID)
		}
		assert.Equal(t, order, recorded)
	})

	t.Run("AbortNotifiesStartedAndFinished", func(t *testing.T) {
		store := storage.NewMemoryStore()
		seqID := saveSequence(t, store, step("a", models.SlackStepKind, 0, models.SlackConfig{}))
		obs := &recordingObserver{}
		runner := service.NewRunner(store, dispatch.NewRegistry(), logger{}, service.WithObservers(obs))

		run, err := runner.Prepare(ctx, seqID, nil)
		require.NoError(t, err)
		exec, err := runner.Abort(ctx, run, "not queued")
		require.NoError(t, err)
		assert.Equal(t, models.FailedExecutionStatus, exec.Status)
		assert.Equal(t, "not queued", exec.ErrorMessage)
		assert.Equal(t, []string{"started", "finished:failed"}, obs.events)
	})
}

type recordingObserver struct {
	events []string
}

func (o *recordingObserver) ExecutionStarted(models.Execution) {
	o.events = append(o.events, "started")
}

func (o *recordingObserver) StepFinished(_ models.Execution, step models.Step, _ models.StepResult) {
	o.events = append(o.events, "step:"+step.ID)
}

func (o *recordingObserver) ExecutionFinished(exec models.Execution) {
	o.events = append(o.events, "finished:"+string(exec.Status))
}

package models_test

import (
	"encoding/json"
	"testing"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepJSON(t *testing.T) {
	t.Run("DecodesTypedConfigByKind", func(t *testing.T) {
		raw := `[
			{"id":"t","kind":"trigger_manual","label":"Start","config":{"source":"ui"}},
			{"id":"r","kind":"research","order":1,"config":{"query":"X","output_format":"bullets","output_length":"short"}},
			{"id":"s","kind":"send_slack","order":2,"config":{"message":"{{result}}"}},
			{"id":"d","kind":"delay","order":3,"config":{"minutes":5}},
			{"id":"e","kind":"send_email","order":4,"config":{"to":"a@b.com","subject":"S","message":"m"}},
			{"id":"p","kind":"send_text","order":5,"position":{"x":1,"y":2},"config":{"phone":"555","message":"hi"}}
		]`
		var steps []models.Step
		require.NoError(t, json.Unmarshal([]byte(raw), &steps))
		require.Len(t, steps, 6)

		assert.True(t, steps[0].Kind.IsTrigger())
		assert.Equal(t, models.RawConfig{Kind: "trigger_manual", Raw: json.RawMessage(`{"source":"ui"}`)}, steps[0].Config)
		assert.Equal(t, models.ResearchConfig{Query: "X", OutputFormat: "bullets", OutputLength: "short"}, steps[1].Config)
		assert.Equal(t, models.SlackConfig{Message: "{{result}}"}, steps[2].Config)
		assert.Equal(t, models.DelayConfig{Minutes: 5}, steps[3].Config)
		assert.Equal(t, models.EmailConfig{To: "a@b.com", Subject: "S", Message: "m"}, steps[4].Config)
		assert.Equal(t, models.TextConfig{Phone: "555", Message: "hi"}, steps[5].Config)
		assert.Equal(t, &models.Position{X: 1, Y: 2}, steps[5].Position)
	})

	t.Run("MissingConfigYieldsZeroValue", func(t *testing.T) {
		var step models.Step
		require.NoError(t, json.Unmarshal([]byte(`{"id":"a","kind":"send_slack"}`), &step))
		assert.Equal(t, models.SlackConfig{}, step.Config)
	})

	t.Run("WrongFieldTypeIsRejected", func(t *testing.T) {
		var step models.Step
		err := json.Unmarshal([]byte(`{"id":"a","kind":"delay","config":{"minutes":"soon"}}`), &step)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), `step "a"`)
	})

	t.Run("UnknownKindKeepsRawConfig", func(t *testing.T) {
		var step models.Step
		require.NoError(t, json.Unmarshal([]byte(`{"id":"a","kind":"send_fax","config":{"to":"1"}}`), &step))
		assert.False(t, step.Kind.IsKnown())
		assert.Equal(t, models.StepKind("send_fax"), step.Config.StepKind())
	})

	t.Run("EncodeKeepsShape", func(t *testing.T) {
		step := models.Step{ID: "r", Kind: models.ResearchStepKind, Order: 1, Config: models.ResearchConfig{Query: "X"}}
		data, err := json.Marshal(step)
		require.NoError(t, err)
		assert.JSONEq(t, `{"id":"r","kind":"research","order":1,"config":{"query":"X"}}`, string(data))

		var back models.Step
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, step, back)
	})
}

func TestInterpolate(t *testing.T) {
	prior := "R1"
	cfg := models.EmailConfig{To: "a@b.com", Subject: "{{result}}", Message: "Body: {{result}}"}
	out := cfg.Interpolate(&prior).(models.EmailConfig)
	assert.Equal(t, "Body: R1", out.Message)
	assert.Equal(t, "{{result}}", out.Subject, "only the message is a template")
	assert.Equal(t, "Body: {{result}}", cfg.Message, "original config is not mutated")
}

func TestStepKind(t *testing.T) {
	assert.True(t, models.StepKind("trigger").IsTrigger())
	assert.True(t, models.StepKind("trigger_webhook").IsTrigger())
	assert.False(t, models.ResearchStepKind.IsTrigger())
	assert.True(t, models.DelayStepKind.IsKnown())
	assert.False(t, models.StepKind("").IsKnown())
}

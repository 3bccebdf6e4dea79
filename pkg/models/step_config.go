package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ignatij/seqflow/pkg/templating"
)

// StepConfig is the kind-specific parameter set of a step. Each step kind
// has exactly one concrete config type.
type StepConfig interface {
	StepKind() StepKind
}

// Interpolator is implemented by configs carrying a message template.
type Interpolator interface {
	Interpolate(prior *string) StepConfig
}

type ResearchConfig struct {
	Query        string `json:"query,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	OutputLength string `json:"output_length,omitempty"`
}

func (ResearchConfig) StepKind() StepKind { return ResearchStepKind }

type TextConfig struct {
	Phone   string `json:"phone,omitempty"`
	Message string `json:"message,omitempty"`
}

func (TextConfig) StepKind() StepKind { return TextStepKind }

func (c TextConfig) Interpolate(prior *string) StepConfig {
	c.Message = templating.Expand(c.Message, prior)
	return c
}

type EmailConfig struct {
	To      string `json:"to,omitempty"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message,omitempty"`
}

func (EmailConfig) StepKind() StepKind { return EmailStepKind }

func (c EmailConfig) Interpolate(prior *string) StepConfig {
	c.Message = templating.Expand(c.Message, prior)
	return c
}

type SlackConfig struct {
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

func (SlackConfig) StepKind() StepKind { return SlackStepKind }

func (c SlackConfig) Interpolate(prior *string) StepConfig {
	c.Message = templating.Expand(c.Message, prior)
	return c
}

type DiscordConfig struct {
	Channel string `json:"channel,omitempty"`
	Message string `json:"message,omitempty"`
}

func (DiscordConfig) StepKind() StepKind { return DiscordStepKind }

func (c DiscordConfig) Interpolate(prior *string) StepConfig {
	c.Message = templating.Expand(c.Message, prior)
	return c
}

type DelayConfig struct {
	Minutes float64 `json:"minutes"`
}

func (DelayConfig) StepKind() StepKind { return DelayStepKind }

// RawConfig holds the untouched parameters of trigger steps and of kinds the
// engine does not know about.
type RawConfig struct {
	Kind StepKind
	Raw  json.RawMessage
}

func (c RawConfig) StepKind() StepKind { return c.Kind }

// DecodeStepConfig builds the typed config for kind from its JSON form.
// Empty input yields the zero config of the kind.
func DecodeStepConfig(kind StepKind, raw json.RawMessage) (StepConfig, error) {
	empty := len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
	decode := func(dst any) error {
		if empty {
			return nil
		}
		return json.Unmarshal(raw, dst)
	}

	switch kind {
	case ResearchStepKind:
		var c ResearchConfig
		err := decode(&c)
		return c, err
	case TextStepKind:
		var c TextConfig
		err := decode(&c)
		return c, err
	case EmailStepKind:
		var c EmailConfig
		err := decode(&c)
		return c, err
	case SlackStepKind:
		var c SlackConfig
		err := decode(&c)
		return c, err
	case DiscordStepKind:
		var c DiscordConfig
		err := decode(&c)
		return c, err
	case DelayStepKind:
		var c DelayConfig
		err := decode(&c)
		return c, err
	}
	if empty {
		return RawConfig{Kind: kind}, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid %s config: malformed JSON", kind)
	}
	return RawConfig{Kind: kind, Raw: append(json.RawMessage(nil), raw...)}, nil
}

// EncodeStepConfig returns the JSON form of cfg. A nil config encodes as {}.
func EncodeStepConfig(cfg StepConfig) (json.RawMessage, error) {
	switch c := cfg.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case RawConfig:
		if len(c.Raw) == 0 {
			return json.RawMessage("{}"), nil
		}
		return c.Raw, nil
	default:
		return json.Marshal(c)
	}
}

package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type StepKind string

const (
	ResearchStepKind StepKind = "research"
	TextStepKind     StepKind = "send_text"
	EmailStepKind    StepKind = "send_email"
	SlackStepKind    StepKind = "send_slack"
	DiscordStepKind  StepKind = "send_discord"
	DelayStepKind    StepKind = "delay"
	TriggerStepKind  StepKind = "trigger"
)

// IsTrigger reports whether the kind is an entry marker (trigger, trigger_schedule, ...).
func (k StepKind) IsTrigger() bool {
	return strings.HasPrefix(string(k), string(TriggerStepKind))
}

// IsKnown reports whether the engine has a built-in action for the kind.
func (k StepKind) IsKnown() bool {
	switch k {
	case ResearchStepKind, TextStepKind, EmailStepKind, SlackStepKind, DiscordStepKind, DelayStepKind:
		return true
	}
	return k.IsTrigger()
}

// Position is the canvas location of a step in the visual workflow editor.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Step is one unit of work within a sequence.
type Step struct {
	ID       string     `json:"id"`                 // Unique within the sequence
	Kind     StepKind   `json:"kind"`               // Selects the dispatcher
	Label    string     `json:"label,omitempty"`    // Display only
	Order    int        `json:"order"`              // Explicit execution index
	Position *Position  `json:"position,omitempty"` // Editor position, used by position ordering
	Config   StepConfig `json:"config"`             // Kind-specific parameters
}

// DisplayName returns the label, falling back to the id.
func (s Step) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ID
}

type stepJSON struct {
	ID       string          `json:"id"`
	Kind     StepKind        `json:"kind"`
	Label    string          `json:"label,omitempty"`
	Order    int             `json:"order"`
	Position *Position       `json:"position,omitempty"`
	Config   json.RawMessage `json:"config,omitempty"`
}

func (s Step) MarshalJSON() ([]byte, error) {
	raw, err := EncodeStepConfig(s.Config)
	if err != nil {
		return nil, fmt.Errorf("encode config of step %q: %w", s.ID, err)
	}
	return json.Marshal(stepJSON{
		ID:       s.ID,
		Kind:     s.Kind,
		Label:    s.Label,
		Order:    s.Order,
		Position: s.Position,
		Config:   raw,
	})
}

func (s *Step) UnmarshalJSON(data []byte) error {
	var aux stepJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	cfg, err := DecodeStepConfig(aux.Kind, aux.Config)
	if err != nil {
		return fmt.Errorf("decode config of step %q: %w", aux.ID, err)
	}
	*s = Step{
		ID:       aux.ID,
		Kind:     aux.Kind,
		Label:    aux.Label,
		Order:    aux.Order,
		Position: aux.Position,
		Config:   cfg,
	}
	return nil
}

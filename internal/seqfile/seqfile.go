// Package seqfile loads sequence definitions from YAML files. The YAML shape
// mirrors the JSON API:
//
//	name: Weekly digest
//	active: true
//	steps:
//	  - id: research
//	    kind: research
//	    config:
//	      query: AI news
//	  - id: notify
//	    kind: send_slack
//	    config:
//	      message: "{{result}}"
package seqfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ignatij/seqflow/pkg/models"
	"gopkg.in/yaml.v3"
)

type fileSequence struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Active      *bool      `yaml:"active"`
	Steps       []fileStep `yaml:"steps"`
}

type fileStep struct {
	ID       string           `yaml:"id"`
	Kind     string           `yaml:"kind"`
	Label    string           `yaml:"label"`
	Order    *int             `yaml:"order"`
	Position *models.Position `yaml:"position"`
	Config   map[string]any   `yaml:"config"`
}

// Load reads a single sequence from disk.
func Load(path string) (models.Sequence, error) {
	if strings.TrimSpace(path) == "" {
		return models.Sequence{}, fmt.Errorf("sequence path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Sequence{}, fmt.Errorf("read sequence %s: %w", path, err)
	}
	seq, err := Parse(data)
	if err != nil {
		return models.Sequence{}, fmt.Errorf("parse sequence %s: %w", path, err)
	}
	return seq, nil
}

// LoadDir loads every .yaml/.yml file of dir, sorted by sequence name.
// A missing directory yields no sequences.
func LoadDir(dir string) ([]models.Sequence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.Sequence{}, nil
		}
		return nil, fmt.Errorf("read sequences dir %s: %w", dir, err)
	}

	sequences := make([]models.Sequence, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		seq, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		sequences = append(sequences, seq)
	}

	sort.SliceStable(sequences, func(i, j int) bool {
		return sequences[i].Name < sequences[j].Name
	})
	return sequences, nil
}

// Parse decodes one YAML document into a sequence.
func Parse(data []byte) (models.Sequence, error) {
	var file fileSequence
	if err := yaml.Unmarshal(data, &file); err != nil {
		return models.Sequence{}, err
	}

	seq := models.Sequence{
		ID:          strings.TrimSpace(file.ID),
		Name:        strings.TrimSpace(file.Name),
		Description: strings.TrimSpace(file.Description),
		Active:      file.Active == nil || *file.Active,
	}
	if seq.Name == "" {
		return models.Sequence{}, fmt.Errorf("sequence name is required")
	}

	seq.Steps = make([]models.Step, 0, len(file.Steps))
	for i, fs := range file.Steps {
		step, err := fs.toStep(i)
		if err != nil {
			return models.Sequence{}, fmt.Errorf("sequence step %d: %w", i+1, err)
		}
		seq.Steps = append(seq.Steps, step)
	}
	return seq, nil
}

func (fs fileStep) toStep(index int) (models.Step, error) {
	kind := models.StepKind(strings.ToLower(strings.TrimSpace(fs.Kind)))
	if kind == "" {
		return models.Step{}, fmt.Errorf("step kind is required")
	}
	step := models.Step{
		ID:       strings.TrimSpace(fs.ID),
		Kind:     kind,
		Label:    strings.TrimSpace(fs.Label),
		Order:    index,
		Position: fs.Position,
	}
	if step.ID == "" {
		step.ID = fmt.Sprintf("step-%d", index+1)
	}
	if fs.Order != nil {
		step.Order = *fs.Order
	}

	var raw json.RawMessage
	if fs.Config != nil {
		data, err := json.Marshal(fs.Config)
		if err != nil {
			return models.Step{}, fmt.Errorf("step %s config: %w", step.ID, err)
		}
		raw = data
	}
	cfg, err := models.DecodeStepConfig(kind, raw)
	if err != nil {
		return models.Step{}, fmt.Errorf("step %s config: %w", step.ID, err)
	}
	step.Config = cfg
	return step, nil
}

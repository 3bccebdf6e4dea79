package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ignatij/seqflow/pkg/models"
	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const researchAction = "research"

// ResearchDefaults fill in research parameters a step leaves empty.
type ResearchDefaults struct {
	Query        string
	OutputFormat string
	OutputLength string
}

type researchParams struct {
	Query        string `json:"query"`
	OutputFormat string `json:"output_format"`
	OutputLength string `json:"output_length"`
}

// resolve picks the query from the step, then the run input, then the fallback.
func (d ResearchDefaults) resolve(cfg models.ResearchConfig, req Request) researchParams {
	p := researchParams{
		Query:        strings.TrimSpace(cfg.Query),
		OutputFormat: cfg.OutputFormat,
		OutputLength: cfg.OutputLength,
	}
	if p.Query == "" {
		p.Query = strings.TrimSpace(req.InputString("query"))
	}
	if p.Query == "" {
		p.Query = d.Query
	}
	if p.OutputFormat == "" {
		p.OutputFormat = d.OutputFormat
	}
	if p.OutputLength == "" {
		p.OutputLength = d.OutputLength
	}
	return p
}

// HTTPResearcher calls a research service over HTTP.
type HTTPResearcher struct {
	Endpoint string
	Relay    *Relay
	Defaults ResearchDefaults
}

type researchResponse struct {
	Result  *string `json:"result"`
	Content *string `json:"content"`
}

func (r *HTTPResearcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.ResearchConfig](req)
	if err != nil {
		return "", err
	}
	if r.Endpoint == "" {
		return "", configError("endpoint", "No research endpoint configured")
	}
	params := r.Defaults.resolve(cfg, req)

	body, err := r.Relay.Post(ctx, researchAction, r.Endpoint, params)
	if err != nil {
		return "", err
	}
	var resp researchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &DispatchError{Action: researchAction, Err: errors.Wrap(err, "decode research response")}
	}
	switch {
	case resp.Result != nil:
		return *resp.Result, nil
	case resp.Content != nil:
		return *resp.Content, nil
	}
	return "", &DispatchError{Action: researchAction, Err: errors.New("research response has neither result nor content")}
}

// LLMResearcher answers research steps with a language model.
type LLMResearcher struct {
	Model    llms.Model
	Defaults ResearchDefaults
}

// NewOpenAIResearcher builds an LLMResearcher on an OpenAI-compatible API.
func NewOpenAIResearcher(apiKey, model, baseURL string, defaults ResearchDefaults) (*LLMResearcher, error) {
	opts := []openai.Option{openai.WithToken(apiKey)}
	if model != "" {
		opts = append(opts, openai.WithModel(model))
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create openai client")
	}
	return &LLMResearcher{Model: llm, Defaults: defaults}, nil
}

func (r *LLMResearcher) Dispatch(ctx context.Context, req Request) (string, error) {
	cfg, err := configOf[models.ResearchConfig](req)
	if err != nil {
		return "", err
	}
	if r.Model == nil {
		return "", configError("model", "No research model configured")
	}
	params := r.Defaults.resolve(cfg, req)

	out, err := llms.GenerateFromSinglePrompt(ctx, r.Model, researchPrompt(params))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return "", &DispatchError{Action: researchAction, Err: err}
	}
	return out, nil
}

func researchPrompt(p researchParams) string {
	return fmt.Sprintf(
		"Research the following topic and answer as %s, keeping the answer %s.\n\nTopic: %s",
		p.OutputFormat, p.OutputLength, p.Query,
	)
}

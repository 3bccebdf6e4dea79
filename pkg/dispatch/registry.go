package dispatch

import (
	"context"
	"net/http"
	"time"

	"github.com/ignatij/seqflow/pkg/models"
)

// Endpoints are the relay URLs of each outbound action.
type Endpoints struct {
	Research string
	Text     string
	Email    string
	Slack    string
	Discord  string
}

// Defaults are the fallbacks used when a step omits a parameter.
type Defaults struct {
	SlackChannel   string
	DiscordChannel string
	ResearchQuery  string
	OutputFormat   string
	OutputLength   string
}

// DefaultDefaults returns the fallbacks shipped with seqflow.
func DefaultDefaults() Defaults {
	return Defaults{
		SlackChannel:   "#general",
		DiscordChannel: "general",
		ResearchQuery:  "Latest industry news and trends",
		OutputFormat:   "summary",
		OutputLength:   "medium",
	}
}

func (d Defaults) withFallbacks() Defaults {
	def := DefaultDefaults()
	d.SlackChannel = firstNonEmpty(d.SlackChannel, def.SlackChannel)
	d.DiscordChannel = firstNonEmpty(d.DiscordChannel, def.DiscordChannel)
	d.ResearchQuery = firstNonEmpty(d.ResearchQuery, def.ResearchQuery)
	d.OutputFormat = firstNonEmpty(d.OutputFormat, def.OutputFormat)
	d.OutputLength = firstNonEmpty(d.OutputLength, def.OutputLength)
	return d
}

// Options configure the built-in dispatchers.
type Options struct {
	Endpoints  Endpoints
	Defaults   Defaults
	HTTPClient *http.Client

	// Per-relay rate limit; zero disables limiting.
	RatePerSecond float64
	Burst         int

	// Researcher replaces the HTTP research dispatcher (e.g. an LLMResearcher).
	Researcher Dispatcher
	// DiscordSender switches Discord delivery from the relay to a bot session.
	DiscordSender DiscordSender
	Sleep         func(ctx context.Context, d time.Duration) error
}

// NewDefaultRegistry registers a dispatcher for every built-in step kind.
func NewDefaultRegistry(opts Options) *Registry {
	defaults := opts.Defaults.withFallbacks()
	newRelay := func() *Relay {
		return NewRelay(opts.HTTPClient, NewLimiter(opts.RatePerSecond, opts.Burst))
	}
	research := ResearchDefaults{
		Query:        defaults.ResearchQuery,
		OutputFormat: defaults.OutputFormat,
		OutputLength: defaults.OutputLength,
	}

	r := NewRegistry()
	if opts.Researcher != nil {
		r.Register(models.ResearchStepKind, opts.Researcher)
	} else {
		r.Register(models.ResearchStepKind, &HTTPResearcher{Endpoint: opts.Endpoints.Research, Relay: newRelay(), Defaults: research})
	}
	r.Register(models.TextStepKind, &TextDispatcher{Endpoint: opts.Endpoints.Text, Relay: newRelay()})
	r.Register(models.EmailStepKind, &EmailDispatcher{Endpoint: opts.Endpoints.Email, Relay: newRelay()})
	r.Register(models.SlackStepKind, &SlackDispatcher{Endpoint: opts.Endpoints.Slack, Relay: newRelay(), DefaultChannel: defaults.SlackChannel})
	if opts.DiscordSender != nil {
		r.Register(models.DiscordStepKind, &DiscordBotDispatcher{Sender: opts.DiscordSender, DefaultChannel: defaults.DiscordChannel})
	} else {
		r.Register(models.DiscordStepKind, &DiscordDispatcher{Endpoint: opts.Endpoints.Discord, Relay: newRelay(), DefaultChannel: defaults.DiscordChannel})
	}
	r.Register(models.DelayStepKind, &DelayDispatcher{Sleep: opts.Sleep})
	return r
}

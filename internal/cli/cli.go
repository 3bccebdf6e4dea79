package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ignatij/seqflow/internal/config"
	"github.com/ignatij/seqflow/internal/events"
	internal_http "github.com/ignatij/seqflow/internal/http"
	"github.com/ignatij/seqflow/internal/log"
	"github.com/ignatij/seqflow/internal/metrics"
	"github.com/ignatij/seqflow/internal/seqfile"
	internal_storage "github.com/ignatij/seqflow/internal/storage"
	"github.com/ignatij/seqflow/pkg/dispatch"
	"github.com/ignatij/seqflow/pkg/models"
	"github.com/ignatij/seqflow/pkg/service"
	"github.com/ignatij/seqflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the seqflow command tree.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "seqflow",
		Short:         "Run automation sequences",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML config file")
	SetupCLI(rootCmd)
	return rootCmd
}

func SetupCLI(rootCmd *cobra.Command) {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.serve(ctx)
		},
	}

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create sequences from YAML files",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, _ := cmd.Flags().GetStringArray("file")
			dir, _ := cmd.Flags().GetString("dir")
			if len(files) == 0 && dir == "" {
				return errors.New("either --file or --dir is required")
			}
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.apply(cmd.Context(), cmd.OutOrStdout(), files, dir)
		},
	}
	applyCmd.Flags().StringArrayP("file", "f", nil, "Sequence YAML file (repeatable)")
	applyCmd.Flags().String("dir", "", "Directory of sequence YAML files")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all sequences",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.list(cmd.Context(), cmd.OutOrStdout())
		},
	}

	runCmd := &cobra.Command{
		Use:   "run [sequence-id]",
		Short: "Run a sequence and print its execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pairs, _ := cmd.Flags().GetStringArray("input")
			input, err := parseInput(pairs)
			if err != nil {
				return err
			}
			background, _ := cmd.Flags().GetBool("background")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := setup(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx, cmd.OutOrStdout(), args[0], input, background)
		},
	}
	runCmd.Flags().StringArray("input", nil, "Input value as key=value (repeatable)")
	runCmd.Flags().Bool("background", false, "Run on a background worker; delay steps really wait")

	executionsCmd := &cobra.Command{
		Use:   "executions [sequence-id]",
		Short: "List the executions of a sequence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.close()
			return a.executions(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := MigrateDatabase(cfg.Database.Driver, cfg.Database.URL); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, applyCmd, listCmd, runCmd, executionsCmd, migrateCmd)
}

// MigrateDatabase brings the schema of a postgres or sqlite database up to date.
func MigrateDatabase(driver, dsn string) error {
	if driver == "" || driver == "memory" {
		return errors.New("the memory store has no schema to migrate")
	}
	store, err := internal_storage.OpenSQL(driver, dsn)
	if err != nil {
		return err
	}
	defer store.Close()
	return internal_storage.Migrate(store)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Configure(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// app is the wired service graph shared by the commands.
type app struct {
	cfg       *config.Config
	store     storage.Store
	sequences *service.SequenceService
	runner    *service.Runner
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	closers   []func() error
}

func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	logger := log.GetLogger()
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	store, err := internal_storage.InitStore(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return nil, errors.Wrap(err, "initialize store")
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	opts := dispatch.Options{
		Endpoints: dispatch.Endpoints{
			Research: cfg.Relays.Research,
			Text:     cfg.Relays.Text,
			Email:    cfg.Relays.Email,
			Slack:    cfg.Relays.Slack,
			Discord:  cfg.Relays.Discord,
		},
		Defaults: dispatch.Defaults{
			SlackChannel:   cfg.Defaults.SlackChannel,
			DiscordChannel: cfg.Defaults.DiscordChannel,
			ResearchQuery:  cfg.Defaults.ResearchQuery,
			OutputFormat:   cfg.Defaults.OutputFormat,
			OutputLength:   cfg.Defaults.OutputLength,
		},
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
	}
	if cfg.LLM.Provider == "openai" {
		researcher, err := dispatch.NewOpenAIResearcher(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL, dispatch.ResearchDefaults{
			Query:        cfg.Defaults.ResearchQuery,
			OutputFormat: cfg.Defaults.OutputFormat,
			OutputLength: cfg.Defaults.OutputLength,
		})
		if err != nil {
			return nil, err
		}
		opts.Researcher = researcher
		logger.Infof("Research steps answered by %s model %q", cfg.LLM.Provider, cfg.LLM.Model)
	}
	if cfg.Discord.BotToken != "" {
		session, err := dispatch.NewDiscordSession(cfg.Discord.BotToken)
		if err != nil {
			return nil, err
		}
		opts.DiscordSender = session
		a.closers = append(a.closers, session.Close)
	}

	ordering, ok := service.OrderingByName(cfg.Runner.Ordering)
	if !ok {
		return nil, errors.Errorf("unsupported runner ordering %q", cfg.Runner.Ordering)
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.registry)
	observers := []service.Observer{a.metrics}

	if cfg.Redis.URL != "" {
		client, err := events.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			return nil, errors.Wrap(err, "connect redis")
		}
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warnf("Redis at %s is not reachable yet: %v", cfg.Redis.URL, err)
		}
		observers = append(observers, events.NewRedisPublisher(client, cfg.Redis.Channel, logger))
	}

	a.runner = service.NewRunner(store, dispatch.NewDefaultRegistry(opts), logger,
		service.WithOrdering(ordering),
		service.WithDispatchTimeout(cfg.Dispatch.Timeout),
		service.WithObservers(observers...),
	)
	a.sequences = service.NewSequenceService(store, logger)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.GetLogger().Warnf("Close failed: %v", err)
		}
	}
	a.closers = nil
}

func (a *app) newPool(ctx context.Context) *service.WorkerPool {
	pool := service.NewWorkerPool(ctx, a.runner, log.GetLogger())
	pool.Start(a.cfg.Workers.Count, a.cfg.Workers.QueueSize)
	return pool
}

func (a *app) serve(ctx context.Context) error {
	pool := a.newPool(ctx)
	defer pool.Stop()

	server := internal_http.NewServer(internal_http.Deps{
		Sequences: a.sequences,
		Runner:    a.runner,
		Pool:      pool,
		Metrics:   a.metrics,
		Gatherer:  a.registry,
		Logger:    log.GetLogger(),
	})
	return internal_http.StartServer(ctx, a.cfg.Server.Port, server.Router(), a.cfg.Server.ShutdownGrace, log.GetLogger())
}

func (a *app) apply(ctx context.Context, out io.Writer, files []string, dir string) error {
	var sequences []models.Sequence
	for _, path := range files {
		seq, err := seqfile.Load(path)
		if err != nil {
			return err
		}
		sequences = append(sequences, seq)
	}
	if dir != "" {
		loaded, err := seqfile.LoadDir(dir)
		if err != nil {
			return err
		}
		sequences = append(sequences, loaded...)
	}
	for _, seq := range sequences {
		id, err := a.sequences.CreateSequence(ctx, seq)
		if err != nil {
			return errors.Wrapf(err, "create sequence %q", seq.Name)
		}
		fmt.Fprintf(out, "Created sequence '%s' with ID %s\n", seq.Name, id)
	}
	return nil
}

func (a *app) list(ctx context.Context, out io.Writer) error {
	sequences, err := a.sequences.ListSequences(ctx)
	if err != nil {
		return errors.Wrap(err, "list sequences")
	}
	if len(sequences) == 0 {
		fmt.Fprintf(out, "No sequences found.\n")
		return nil
	}
	fmt.Fprintf(out, "Sequences:\n")
	for _, seq := range sequences {
		lastRun := "never"
		if seq.LastRunAt != nil {
			lastRun = seq.LastRunAt.Format(time.RFC3339)
		}
		fmt.Fprintf(out, "- ID: %s, Name: %s, Active: %t, Steps: %d, Last run: %s\n",
			seq.ID, seq.Name, seq.Active, seq.StepCount, lastRun)
	}
	return nil
}

func (a *app) run(ctx context.Context, out io.Writer, sequenceID string, input map[string]any, background bool) error {
	if !background {
		exec, err := a.runner.Run(ctx, sequenceID, input, service.ModeInteractive)
		if err != nil {
			return err
		}
		printExecution(out, *exec)
		return nil
	}

	pool := a.newPool(ctx)
	id, err := pool.Submit(ctx, sequenceID, input)
	if err != nil {
		pool.Stop()
		return err
	}
	fmt.Fprintf(out, "Queued execution %s\n", id)
	// Stop drains the queue, so the run has finished when it returns.
	pool.Stop()
	exec, err := a.store.GetExecution(context.WithoutCancel(ctx), id)
	if err != nil {
		return err
	}
	printExecution(out, exec)
	return nil
}

func (a *app) executions(ctx context.Context, out io.Writer, sequenceID string) error {
	executions, err := a.sequences.ListExecutions(ctx, sequenceID)
	if err != nil {
		return err
	}
	if len(executions) == 0 {
		fmt.Fprintf(out, "No executions found.\n")
		return nil
	}
	for _, exec := range executions {
		fmt.Fprintf(out, "- ID: %s, Status: %s, Started: %s, Steps: %d, Duration: %dms\n",
			exec.ID, exec.Status, exec.StartedAt.Format(time.RFC3339), len(exec.StepResults), exec.DurationMs)
	}
	return nil
}

func printExecution(out io.Writer, exec models.Execution) {
	fmt.Fprintf(out, "Execution %s: %s\n", exec.ID, exec.Status)
	for _, r := range exec.StepResults {
		line := r.Result
		if r.Status == models.FailedStepStatus {
			line = r.Error
		}
		fmt.Fprintf(out, "  [%s] %s (%s): %s\n", r.Status, r.StepID, r.StepKind, line)
	}
	if exec.ErrorMessage != "" {
		fmt.Fprintf(out, "Error: %s\n", exec.ErrorMessage)
	}
}

// parseInput turns repeated key=value flags into an input map.
func parseInput(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	input := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.Errorf("invalid input %q, expected key=value", pair)
		}
		input[key] = value
	}
	return input, nil
}

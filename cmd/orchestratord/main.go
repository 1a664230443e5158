// Command orchestratord is the orchestration core's composition root: it
// loads configuration, wires every component package into a running
// system, and serves the Run Control API over HTTP until an OS signal asks
// it to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/worldforge/orchestrator/internal/advisor"
	"github.com/worldforge/orchestrator/internal/aggregator"
	"github.com/worldforge/orchestrator/internal/api"
	"github.com/worldforge/orchestrator/internal/checkpoint"
	"github.com/worldforge/orchestrator/internal/config"
	"github.com/worldforge/orchestrator/internal/domain"
	"github.com/worldforge/orchestrator/internal/eventbus"
	"github.com/worldforge/orchestrator/internal/fleet"
	"github.com/worldforge/orchestrator/internal/notify"
	"github.com/worldforge/orchestrator/internal/orchestrator"
	"github.com/worldforge/orchestrator/internal/queue"
	"github.com/worldforge/orchestrator/internal/runstate"
	"github.com/worldforge/orchestrator/internal/store"
	"github.com/worldforge/orchestrator/internal/telemetry"
	"github.com/worldforge/orchestrator/internal/worktree"
)

func main() {
	configPath := flag.String("config", "orchestrator.yaml", "path to the orchestrator's YAML config")
	repoDir := flag.String("repo", ".", "path to the git repository worlds check out worktrees from")
	flag.Parse()

	logger := telemetry.New(os.Stderr, "orchestratord")

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		logger.Fatal("load config", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		logger.Fatal("open store", err)
	}
	defer st.Close()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)

	busOpts := []eventbus.Option{eventbus.WithSink(logSink{logger: logger})}
	if cfg.NotifyURL != "" {
		busOpts = append(busOpts, eventbus.WithSink(notify.NewHTTPNotifier(cfg.NotifyURL)))
	}
	bus := eventbus.New(busOpts...)

	q := queue.New(
		queue.WithMaxQueueSize(cfg.MaxQueueSize),
		queue.WithMaxConcurrent(cfg.MaxConcurrentTasks),
		queue.WithPersister(st),
	)
	if err := restoreQueue(context.Background(), q, st); err != nil {
		logger.Error("restore queue from store", err, nil)
	}

	fl := fleet.New(cfg.Machines(), nil, fleet.WithPersister(st))

	wt := worktree.NewGitService(*repoDir, cfg.WorktreeBasePath)

	ckpt := checkpoint.New(st, logger.AsCheckpointLogger())

	var notifier *notify.HTTPNotifier
	if cfg.NotifyURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifyURL)
	}
	publisher := &aggregator.Publisher{Notify: notifier}

	runner := orchestrator.SupervisorRunner{
		Command: cfg.AgentCommandFor,
		LogDir:  cfg.LogDir,
		Timeout: cfg.WorldTimeout(),
	}

	var advisorOpt runstate.Option
	if panel := buildAdvisorPanel(cfg); panel != nil {
		advisorOpt = runstate.WithAdvisor(panel)
	}

	opts := []runstate.Option{runstate.WithAutoFixer(runner)}
	if advisorOpt != nil {
		opts = append(opts, advisorOpt)
	}

	machine := runstate.New(cfg, q, fl, wt, runner, ckpt, publisher, bus, st, logger, opts...)

	orc := orchestrator.New(cfg, q, fl, machine, st, ckpt, bus, logger, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := orc.Start(ctx); err != nil {
		logger.Fatal("start orchestrator", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(orc))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              cfg.APIAddress,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", map[string]any{"address": cfg.APIAddress})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("serve", err, nil)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", err, nil)
	}
	if err := orc.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown", err, nil)
	}
}

// openStore constructs the persistence backend named by cfg.StoreDriver.
func openStore(cfg config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case "", "memory":
		return store.NewMemStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.StoreDSN)
	case "mysql":
		return store.NewMySQLStore(cfg.StoreDSN)
	default:
		return nil, fmt.Errorf("unknown store_driver %q", cfg.StoreDriver)
	}
}

// restoreQueue reloads every persisted task into q, the crash-resume
// contract for the task queue half of the orchestration core (the run
// state machine's own resume path is internal/runstate.Machine.Resume).
func restoreQueue(ctx context.Context, q *queue.Queue, st store.Store) error {
	tasks, err := st.LoadTasks(ctx)
	if err != nil {
		return err
	}
	q.Restore(tasks)
	return nil
}

// buildAdvisorPanel constructs the quality advisor panel from whichever
// provider keys are configured. A deployment with none set runs with no
// panel, leaving self-reported metrics ungraded — a valid, if less
// precise, configuration.
func buildAdvisorPanel(cfg config.Config) *advisor.Panel {
	var models []advisor.ChatModel
	if cfg.AdvisorAnthropicKey != "" {
		models = append(models, advisor.NewAnthropicModel(cfg.AdvisorAnthropicKey, "claude-3-5-sonnet-20241022"))
	}
	if cfg.AdvisorOpenAIKey != "" {
		models = append(models, advisor.NewOpenAIModel(cfg.AdvisorOpenAIKey, "gpt-4o"))
	}
	if cfg.AdvisorGoogleKey != "" {
		models = append(models, advisor.NewGoogleModel(cfg.AdvisorGoogleKey, "gemini-1.5-pro"))
	}
	if len(models) == 0 {
		return nil
	}
	return advisor.New(models...)
}

// logSink forwards every bus event to the process logger, giving an
// operator a running transcript of orchestration progress independent of
// whichever HTTP clients are currently subscribed to the bus.
type logSink struct {
	logger telemetry.Logger
}

func (s logSink) Publish(event domain.Event) {
	fields := map[string]any{"run_id": event.RunID, "kind": string(event.Kind)}
	if event.WorldID != nil {
		fields["world_id"] = int(*event.WorldID)
	}
	s.logger.Info(event.Message, fields)
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anthropics/midstream/internal/dispatch"
	"github.com/anthropics/midstream/internal/domain"
	"github.com/anthropics/midstream/internal/fsops"
	"github.com/anthropics/midstream/internal/gen"
	"github.com/anthropics/midstream/internal/ipc"
	"github.com/anthropics/midstream/internal/orchestrator"
	"github.com/anthropics/midstream/internal/session"
	"github.com/anthropics/midstream/internal/store"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine HTTP server",
	Long: `Starts the HTTP server exposing the sandboxed filesystem API, the
background task pool, stored session history, and the audit event
stream. Prompts submitted as tasks run as continuation sessions on
the pool's workers.

Example:
  midstream serve
  midstream serve --addr :9900`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	sessionRepo := &store.SessionRepo{}
	eventRepo := &store.EventRepo{}
	auditRepo := &store.AuditRepo{}

	backend, err := fsops.NewLocal(cfg.AllowedRoots)
	if err != nil {
		return err
	}

	// Model roles resolve through the registry so the pool and the
	// compactor never read endpoint config directly.
	registry := gen.NewRegistry()
	specs := []domain.ModelSpec{
		{Role: domain.RolePrimary, Model: cfg.Generation.Model, BaseURL: cfg.Generation.BaseURL},
		{Role: domain.RoleSummarizer, Model: cfg.Generation.SummaryModel, BaseURL: cfg.Generation.BaseURL},
	}
	for _, spec := range specs {
		if err := registry.Register(spec); err != nil {
			return err
		}
	}
	primary, err := registry.Lookup(domain.RolePrimary)
	if err != nil {
		return err
	}
	summarizer, err := registry.Lookup(domain.RoleSummarizer)
	if err != nil {
		return err
	}

	client := gen.NewClient(
		gen.WithBaseURL(primary.BaseURL),
		gen.WithHTTPClient(&http.Client{Timeout: cfg.GenerationTimeout()}),
		gen.WithLogger(logger),
	)

	sink := &store.AuditSink{DB: db, Repo: auditRepo}
	runner := session.NewRunner(db, client, dispatch.NewRecorder(backend, sink, logger), logger)
	runner.MaxContinuations = cfg.Session.MaxContinuations
	runner.Compactor = newCompactor(client, summarizer.Model)

	pool := orchestrator.NewPool(runner, logger)
	pool.Model = primary.Model
	pool.MaxWorkers = cfg.Orchestrator.MaxWorkers
	pool.Start()
	defer pool.Close()

	supervisor := orchestrator.NewSupervisor(pool, orchestrator.SupervisorConfig{
		TaskTimeout: cfg.TaskTimeout(),
	}, logger)
	supervisor.Start(context.Background())
	defer supervisor.Stop()

	handler := &ipc.Handler{
		Pool:        pool,
		FS:          backend,
		DB:          db,
		SessionRepo: sessionRepo,
		EventRepo:   eventRepo,
		AuditRepo:   auditRepo,
	}

	rate := ipc.DefaultRateLimitConfig()
	if cfg.Orchestrator.RateLimitPerMinute > 0 {
		rate.MaxPerWindow = cfg.Orchestrator.RateLimitPerMinute
		rate.Window = time.Minute
	}
	srv := ipc.NewServer(handler, cfg.ListenAddr, rate)

	// Graceful shutdown on interrupt.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down")

		supervisor.Stop()
		pool.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("server shutdown", zap.Error(err))
		}
	}()

	logger.Info("engine listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("model", primary.Model),
		zap.Strings("roots", backend.AllowedRoots()))

	if err := srv.Start(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/anthropics/midstream/internal/dispatch"
	"github.com/anthropics/midstream/internal/fsops"
	"github.com/anthropics/midstream/internal/gen"
	"github.com/anthropics/midstream/internal/ipc"
	"github.com/anthropics/midstream/internal/session"
	"github.com/anthropics/midstream/internal/store"
)

var (
	runModel   string
	runSystem  string
	runMaxCont int
	runServer  string
)

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run one continuation session to completion",
	Long: `Streams a completion for the prompt, intercepts instruction blocks
mid-stream, executes them against the filesystem backend, and resumes
generation with the rendered results until the model finishes.

The final transcript is printed to stdout. With --server the
operations are executed by a running engine server instead of the
local backend.

Example:
  midstream run "Read go.mod and name the module"
  midstream run --server http://localhost:9800 "List the source files"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSession,
}

func init() {
	runCmd.Flags().StringVarP(&runModel, "model", "m", "", "Generation model (overrides config)")
	runCmd.Flags().StringVarP(&runSystem, "system", "s", "", "System prompt")
	runCmd.Flags().IntVar(&runMaxCont, "max-continuations", 0, "Continuation budget (0 uses config, negative disables)")
	runCmd.Flags().StringVar(&runServer, "server", "", "Engine server URL for remote operation execution")
	rootCmd.AddCommand(runCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	var backend dispatch.Backend
	if runServer != "" {
		backend = ipc.NewClient(runServer)
	} else {
		local, err := fsops.NewLocal(cfg.AllowedRoots)
		if err != nil {
			return err
		}
		backend = local
	}

	client := gen.NewClient(
		gen.WithBaseURL(cfg.Generation.BaseURL),
		gen.WithHTTPClient(&http.Client{Timeout: cfg.GenerationTimeout()}),
		gen.WithLogger(logger),
	)

	sink := &store.AuditSink{DB: db, Repo: &store.AuditRepo{}}
	runner := session.NewRunner(db, client, dispatch.NewRecorder(backend, sink, logger), logger)
	runner.MaxContinuations = cfg.Session.MaxContinuations
	runner.Compactor = newCompactor(client, cfg.Generation.SummaryModel)

	model := runModel
	if model == "" {
		model = cfg.Generation.Model
	}

	res, err := runner.Run(ctx, session.Request{
		Prompt:           strings.Join(args, " "),
		System:           runSystem,
		Model:            model,
		MaxContinuations: runMaxCont,
	})
	if res != nil && res.Transcript != "" {
		fmt.Println(res.Transcript)
	}
	if err != nil {
		return err
	}

	logger.Info("session finished",
		zap.String("session", res.SessionID),
		zap.String("state", string(res.State)),
		zap.Int("continuations", res.Continuations))
	return nil
}

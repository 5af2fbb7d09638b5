package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lucasnoah/refinery/internal/api"
	"github.com/lucasnoah/refinery/internal/config"
	"github.com/lucasnoah/refinery/internal/db"
	"github.com/lucasnoah/refinery/internal/orchestrator"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over HTTP",
	Long: `Start an HTTP API that runs the configured pipeline once per request.

  POST /v1/runs      body {"context": {...}}; returns the run report and artifact
  GET  /v1/pipeline  stages, inputs and output layout
  GET  /healthz

With --watch, edits to the config file are picked up without a restart. A reload
that fails validation is logged and the previous pipeline keeps serving.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		watch, _ := cmd.Flags().GetBool("watch")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		plan, err := loadPlan(cmd)
		if err != nil {
			return err
		}
		rec, closeRec, err := openRecorder(ctx)
		if err != nil {
			return err
		}
		defer closeRec()
		orch, err := newOrchestrator(ctx, plan, rec)
		if err != nil {
			return err
		}

		srv := api.NewServer(orch, appLog, version)
		if watch {
			path, err := configPath()
			if err != nil {
				return err
			}
			go func() {
				err := config.Watch(ctx, path, appLog, func(cfg *config.PipelineConfig) {
					reloaded, err := reloadOrchestrator(ctx, cfg, rec)
					if err != nil {
						appLog.Warn("pipeline reload rejected", zap.Error(err))
						return
					}
					srv.Swap(reloaded)
				})
				if err != nil {
					appLog.Error("config watch stopped", zap.Error(err))
				}
			}()
		}

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			errCh <- httpSrv.ListenAndServe()
		}()
		fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s\n", plan.Name(), addr)

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	},
}

// reloadOrchestrator compiles a reloaded config into a fresh orchestrator
// sharing the running recorder.
func reloadOrchestrator(ctx context.Context, cfg *config.PipelineConfig, rec db.Recorder) (*orchestrator.Orchestrator, error) {
	plan, err := orchestrator.Load(cfg)
	if err != nil {
		return nil, err
	}
	return newOrchestrator(ctx, plan, rec)
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "address to listen on")
	serveCmd.Flags().Bool("watch", false, "reload the pipeline when the config file changes")
	serveCmd.Flags().StringVar(&databaseURL, "database-url", "", "Postgres URL for run events (default $"+databaseURLEnv+")")
}

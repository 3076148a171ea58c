package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/soldercli/solder/internal/config"
	"github.com/soldercli/solder/internal/engine"
	"github.com/soldercli/solder/internal/logging"
	"github.com/soldercli/solder/internal/server"
	"github.com/soldercli/solder/internal/store"
	"github.com/soldercli/solder/internal/telemetry"
	"github.com/soldercli/solder/internal/worker"
)

// serveCmd runs the daemon: HTTP intake, worker pool and reclaimer under one
// supervisor, shut down together on SIGINT/SIGTERM.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the intake server and the sync workers",
	Long: `Run the solder daemon.

The daemon listens for save-event deliveries from the host tracker, decides
per event whether a Jira issue must be created, and processes the resulting
jobs with a pool of background workers. Jobs survive restarts; workers retry
transient failures with capped exponential backoff and reclaim work from
crashed peers.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		if cfg.IsProduction() {
			gin.SetMode(gin.ReleaseMode)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := telemetry.Init(ctx, "solder", version); err != nil {
			logging.Warn("telemetry initialization failed, continuing without it", "error", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			telemetry.Shutdown(flushCtx)
		}()

		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open job store: %v", err)
		}
		defer st.Close()

		if !cfg.SyncReady() {
			logging.Warn("sync is not fully configured, save events will stay inert",
				"missing", cfg.MissingForSync())
		}

		provider := config.EnvProvider{}
		eng := engine.New(provider, st)
		pool := worker.NewPool(provider, st)
		srv := server.New(eng, st, cfg.Server)

		logging.Info("starting solder",
			"version", version,
			"env", cfg.Env,
			"listen_addr", cfg.Server.ListenAddr,
			"db_path", cfg.Store.Path,
			"workers", cfg.Worker.Count)

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return srv.ListenAndServe(ctx) })
		g.Go(func() error { return pool.Run(ctx) })

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logging.Info("solder stopped")
		return nil
	},
}

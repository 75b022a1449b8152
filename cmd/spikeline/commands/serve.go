package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/neuracq/spikeline/internal/artifact"
	"github.com/neuracq/spikeline/internal/config"
	"github.com/neuracq/spikeline/internal/observability"
	"github.com/neuracq/spikeline/internal/queryapi"
)

// shutdownTimeout bounds the graceful drain on exit.
const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the query API command.
func NewServeCommand() *cobra.Command {
	var (
		dir  string
		addr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the artifact query API over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(dir)
			if err != nil {
				return err
			}

			tree := artifact.NewTree(dir)
			logger := observability.BuildLogger(cfg.LogLevel, cfg.LogJSON)
			metrics := observability.NewMetrics()
			api := queryapi.NewServer(cfg, tree, logger, metrics)

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)

			go func() {
				logger.Info("query api listening", "addr", addr)

				serveErr := srv.ListenAndServe()
				if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
					errCh <- serveErr
				}

				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "experiment directory")
	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "listen address")

	return cmd
}

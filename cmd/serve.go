package cmd

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

	"github.com/veilleur-project/veilleur/internal/api"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the status/metrics HTTP server with a periodic evaluation tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			application, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			server := &http.Server{
				Addr:              fmt.Sprintf(":%d", application.cfg.Server.Port),
				Handler:           api.NewServer(application.scheduler, application.controller, application.logger).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			tick := time.Duration(application.cfg.Scheduler.TickSeconds) * time.Second
			go func() {
				ticker := time.NewTicker(tick)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if _, err := application.scheduler.Evaluate(); err != nil {
							application.logger.Warn("scheduled evaluation failed", zap.Error(err))
						}
					}
				}
			}()

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.ListenAndServe()
			}()
			application.logger.Info("http server listening",
				zap.Int("port", application.cfg.Server.Port),
				zap.Duration("tick", tick))

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("shutdown http server: %w", err)
				}
				return nil
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			}
		},
	}
}

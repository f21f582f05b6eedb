package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/houzhh15/livescribe/cmd/livescribe/internal/api"
	"github.com/houzhh15/livescribe/cmd/livescribe/internal/capture"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP session control API over the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			if v, _ := cmd.Flags().GetString("addr"); v != "" {
				a.cfg.Server.Addr = v
			}
			if a.cfg.Log.Environment == "prod" {
				gin.SetMode(gin.ReleaseMode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
			defer stop()
			a.startHealth(ctx)

			p, err := a.newPipeline(capture.NewFFmpegSource(a.cfg.FFmpegConfig(), a.logger))
			if err != nil {
				return err
			}
			opts := api.Options{
				StopTimeout: a.cfg.Recognition.Timeout + 10*time.Second,
				Logger:      a.logger,
			}
			if a.health != nil {
				opts.Health = a.health
			}

			srv := &http.Server{
				Addr:              a.cfg.Server.Addr,
				Handler:           api.NewRouter(p, opts),
				ReadHeaderTimeout: 5 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				a.logger.Info("server starting", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				a.logger.Info("shutdown signal received, shutting down server...")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Recognition.Timeout+30*time.Second)
			defer cancel()
			if p.State().Active() {
				if err := p.Stop(shutdownCtx); err != nil {
					a.logger.Warn("session did not stop cleanly", "error", err)
				}
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return err
			}
			a.logger.Info("server shutdown complete")
			return nil
		},
	}
	c.Flags().String("addr", "", "listen address (default from config, :8090)")
	return c
}

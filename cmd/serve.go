package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/whatsin-app/whatsin/internal/discovery"
	"github.com/whatsin-app/whatsin/internal/imagestore"
	"github.com/whatsin-app/whatsin/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sighting HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := newStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}

		images, err := imagestore.New(cfg.Uploads.Dir)
		if err != nil {
			return err
		}

		svc := discovery.NewService(st, images, cfg.Nearby.RadiusKM)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: server.New(svc, images, cfg.Uploads).Router(),
		}

		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		// Periodically remove uploads that never got attached to a post.
		g.Go(func() error {
			ticker := time.NewTicker(time.Duration(cfg.Uploads.ReapIntervalMins) * time.Minute)
			defer ticker.Stop()

			ttl := time.Duration(cfg.Uploads.OrphanTTLHours) * time.Hour
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					n, err := svc.ReapOrphans(gctx, ttl)
					if err != nil {
						zap.L().Warn("orphan sweep failed", zap.Error(err))
						continue
					}
					if n > 0 {
						zap.L().Info("orphan sweep removed files", zap.Int("count", n))
					}
				}
			}
		})

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

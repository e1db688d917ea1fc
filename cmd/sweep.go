package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/whatsin-app/whatsin/internal/discovery"
	"github.com/whatsin-app/whatsin/internal/imagestore"
)

var sweepOlderThanHours int

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove uploaded images not referenced by any post",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		images, err := imagestore.New(cfg.Uploads.Dir)
		if err != nil {
			return err
		}

		ttl := time.Duration(sweepOlderThanHours) * time.Hour
		if sweepOlderThanHours == 0 {
			ttl = time.Duration(cfg.Uploads.OrphanTTLHours) * time.Hour
		}

		svc := discovery.NewService(st, images, cfg.Nearby.RadiusKM)
		n, err := svc.ReapOrphans(cmd.Context(), ttl)
		if err != nil {
			return err
		}

		zap.L().Info("sweep complete", zap.Int("removed", n))
		return nil
	},
}

func init() {
	sweepCmd.Flags().IntVar(&sweepOlderThanHours, "older-than-hours", 0, "minimum orphan age (default from config)")
	rootCmd.AddCommand(sweepCmd)
}

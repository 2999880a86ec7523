package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/flowhawk/flowhawk/internal/cache"
	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
)

func graphCmd() *cobra.Command {
	var (
		chainName   string
		token       string
		windowLabel string
		calibrated  bool
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Read the latest snapshot for a stream through the cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			window, err := domain.ParseWindow(windowLabel)
			if err != nil {
				return err
			}

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, flagDev)
			if err != nil {
				return err
			}
			defer a.Close()

			mode := cache.ModeRaw
			if calibrated {
				mode = cache.ModeCalibrated
			}
			snap, err := a.snapshots.Latest(ctx, chainName, token, window, mode)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}

	cmd.Flags().StringVar(&chainName, "chain", "eth", "Chain name")
	cmd.Flags().StringVar(&token, "token", "", "Token address")
	cmd.Flags().StringVar(&windowLabel, "window", "24h", "Aggregation window (1h|6h|24h)")
	cmd.Flags().BoolVar(&calibrated, "calibrated", false, "Serve the calibrated view")
	cmd.MarkFlagRequired("token")
	return cmd
}

package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/flowhawk/flowhawk/internal/config"
)

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Serve only the monitor surface",
		Long:  "Serves /health, /metrics, /api/ops and /ws/events without running the pipeline scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, flagDev)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Int("port", cfg.Monitor.Port).Msg("monitor-only mode")
			return a.monitor.Start(ctx)
		},
	}
}

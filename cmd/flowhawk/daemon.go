package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/flowhawk/flowhawk/internal/config"
)

func daemonCmd() *cobra.Command {
	var skipBootstrap bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the full pipeline",
		Long:  "Runs ingestion, aggregation, approval, snapshots, detection, ranking, decisions and the monitor surface under one scheduler.",
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

			if err := a.orchestrator.Startup(ctx); err != nil {
				return err
			}
			if !skipBootstrap {
				if err := a.bootstrapIfNeeded(ctx); err != nil {
					return err
				}
			}

			log.Info().
				Int("chains", len(a.ingestors)).
				Int("streams", len(a.streams)).
				Str("version", version).
				Msg("flowhawk daemon starting")

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return a.monitor.Start(gctx) })
			g.Go(func() error { return a.orchestrator.Run(gctx) })

			err = g.Wait()
			if errors.Is(err, context.Canceled) {
				err = nil
			}
			log.Info().Msg("flowhawk daemon stopped")
			return err
		},
	}

	cmd.Flags().BoolVar(&skipBootstrap, "skip-bootstrap", false, "Skip historical backfill for new streams")
	return cmd
}

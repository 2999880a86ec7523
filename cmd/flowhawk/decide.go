package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowhawk/flowhawk/internal/config"
	"github.com/flowhawk/flowhawk/internal/domain"
	"github.com/flowhawk/flowhawk/internal/persistence"
)

func decideCmd() *cobra.Command {
	var (
		windowLabel string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Rank subjects and run the decision policy once",
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

			if _, errs := a.ranker.RankSubjects(ctx, a.repo, window); len(errs) > 0 {
				return fmt.Errorf("ranking: %v", errs[0])
			}
			decided, errs := a.decisions.DecideTop(ctx, window, limit)
			if len(errs) > 0 {
				return fmt.Errorf("decide: %v", errs[0])
			}

			recent, err := a.repo.Decisions.ListRecent(ctx, persistence.TimeRange{
				From: time.Now().Add(-time.Minute),
				To:   time.Now().Add(time.Minute),
			}, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SUBJECT\tACTION\tBAND\tEVIDENCE\tDIRECTION\tRISK\tBLOCKED BY")
			for _, d := range recent {
				blockedBy := "-"
				if d.Gating.Blocked {
					blockedBy = strings.Join(d.Gating.Reasons, ",")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.0f\t%+.0f\t%.0f\t%s\n",
					d.SubjectID, d.Action, d.Band, d.Evidence, d.Direction, d.Risk, blockedBy)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Printf("\n%d decision(s) for window %s\n", decided, window)
			return nil
		},
	}

	cmd.Flags().StringVar(&windowLabel, "window", "24h", "Aggregation window (1h|6h|24h)")
	cmd.Flags().IntVar(&limit, "limit", 20, "How many top subjects to decide")
	return cmd
}

package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/flowhawk/flowhawk/internal/config"
)

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger pipeline jobs",
	}

	runCmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Dispatch one job by name, honoring its singleton lease",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, flagDev)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orchestrator.Dispatch(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("job %s dispatched\n", args[0])
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs and their intervals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}

			names := make([]string, 0, len(cfg.Jobs.IntervalsSec))
			for name := range cfg.Jobs.IntervalsSec {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-12s every %s\n", name, cfg.Jobs.Interval(name))
			}
			return nil
		},
	}

	cmd.AddCommand(runCmd, listCmd)
	return cmd
}

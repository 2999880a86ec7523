package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

const version = "v0.4.0"

var (
	flagConfig string
	flagDev    bool
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	root := &cobra.Command{
		Use:     "flowhawk",
		Short:   "Cross-chain on-chain flow intelligence",
		Version: version,
		Long: `flowhawk watches ERC-20 transfer streams across chains, folds them into
deterministic window aggregates, and turns approved windows into snapshots,
signals, rankings and gated decisions.

Run 'flowhawk daemon' for the full pipeline, or use the one-shot
subcommands for automation and debugging.`,
		SilenceUsage: true,
	}
	root.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "config/flowhawk.yaml", "Config file path")
	root.PersistentFlags().BoolVar(&flagDev, "dev", false, "Run with in-memory persistence")

	root.AddCommand(daemonCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(decideCmd())
	root.AddCommand(jobsCmd())
	root.AddCommand(monitorCmd())
	root.AddCommand(graphCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"posledger/backend/internal/config"
	"posledger/backend/internal/logger"
)

var version = "dev"

// app carries what every subcommand needs once the root command has loaded
// the environment.
type app struct {
	envFiles []string
	cfg      config.Config
	log      *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "server",
		Short: "POS invoice settlement and ledger backend",
		Long: `server runs the point-of-sale settlement API. It prices carts,
commits sale and purchase invoices, and keeps customer and supplier
ledgers balanced against every committed invoice.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv(a.envFiles...)
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.log = log
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
	root.PersistentFlags().StringSliceVar(&a.envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")

	root.AddCommand(newServeCmd(a), newMigrateCmd(a), newQuoteCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

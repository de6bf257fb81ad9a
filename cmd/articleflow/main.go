package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/articleflow/config"
	"github.com/mohammad-safakhou/articleflow/internal/logging"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "articleflow",
		Short:         "Research, draft and review articles with a bounded revise loop",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env is optional; real environment variables win
			_ = godotenv.Load()
			loaded, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			cfg = loaded
			logging.Configure(cfg.General.LogLevel, cfg.General.LogFormat)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default ./config/config.yaml)")

	getCfg := func() *config.Config { return cfg }
	root.AddCommand(
		serveCmd(getCfg),
		runCmd(getCfg),
		themesCmd(getCfg),
		migrateCmd(getCfg),
		knowledgeCmd(getCfg),
		tokenCmd(getCfg),
	)
	return root
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"teamledger.io/internal/config"
	"teamledger.io/internal/obs"
	"teamledger.io/internal/store/pg"
)

var version = "0.1.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:           "teamledgerctl",
	Short:         "teamledger operator tool",
	Long:          "teamledgerctl applies schema migrations, seeds the permission catalog and issues service tokens.",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("TEAMLEDGER_CONFIG"), "path to a yaml/toml config file")
	rootCmd.AddCommand(versionCmd, migrateCmd(), seedCmd(), tokenCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads settings and installs the configured logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, err
	}
	logger, err := obs.NewLogger(cfg.LogSettings())
	if err != nil {
		return config.Config{}, err
	}
	obs.SetLogger(logger)
	return cfg, nil
}

func openStore(cfg config.Config) (*pg.Store, error) {
	if err := cfg.ValidateDatabase(); err != nil {
		return nil, err
	}
	return pg.Open(cfg.Database.DSN, pg.PoolOptions{MaxOpenConns: 2})
}

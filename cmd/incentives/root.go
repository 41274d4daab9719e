package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liamcoop/incentives/internal/config"
	"github.com/liamcoop/incentives/internal/logger"
)

var cfg *config.Configuration

var rootCmd = &cobra.Command{
	Use:   "incentives",
	Short: "Evaluate seller incentive rules offline",
	Long: `Evaluate seller bonus rule sets against a metrics file without a server.

Rule files hold a list of rule sets; metrics files hold either aggregated
metrics, raw sessions, or both (explicit metrics override aggregated ones).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		c := config.Default()
		if path != "" {
			loaded, err := config.NewConfig(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			c = loaded
		}
		cfg = c

		level, _ := cmd.Flags().GetString("log-level")
		if err := logger.Init(logger.Config{
			Level:           level,
			ErrorSampleRate: cfg.Logging.ErrorSampleRate,
			Output:          cmd.ErrOrStderr(),
		}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file; only payout defaults are used")
	rootCmd.PersistentFlags().String("log-level", "warn", "log level written to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

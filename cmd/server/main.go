// ClawPay control plane: discovers agents doing useful work, scores them and
// settles micro-rewards they can claim against a delegated allowance.
//
// Commands:
//   - serve: HTTP API plus the discovery scheduler and retention janitor
//   - cycle: run one discovery cycle and print the rewards
//   - reputation rebuild: recompute reputation from settled rewards
//   - keys hash: print the stored hash of an API key
package main

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "clawpay",
	Short:         "ClawPay agent reward control plane",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file (default $CLAWPAY_CONFIG)")
	rootCmd.AddCommand(serveCmd, cycleCmd, reputationCmd, keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// setupLogging configures zerolog from CLAWPAY_LOG_LEVEL and
// CLAWPAY_LOG_JSON.
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("CLAWPAY_LOG_JSON") != "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("CLAWPAY_LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

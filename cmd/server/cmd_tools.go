package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/kasperwtrcolor/clawpay/internal/auth"
	"github.com/kasperwtrcolor/clawpay/internal/config"
	"github.com/kasperwtrcolor/clawpay/pkg/server"
	"github.com/spf13/cobra"
)

// =============================================================================
// ONE-SHOT COMMANDS
// =============================================================================

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one discovery cycle and print the rewards as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(func(ctx context.Context, srv *server.Server) error {
			if srv.Scheduler == nil {
				return fmt.Errorf("discovery is disabled or has no configured source")
			}
			report, err := srv.Scheduler.RunOnce(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		})
	},
}

var reputationCmd = &cobra.Command{
	Use:   "reputation",
	Short: "Reputation maintenance",
}

var reputationRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Recompute every reputation record from settled rewards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServer(func(ctx context.Context, srv *server.Server) error {
			n, err := srv.Reputation.Rebuild(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rebuilt %d reputation records\n", n)
			return nil
		})
	},
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "API key utilities",
}

var keysHashCmd = &cobra.Command{
	Use:   "hash <key>",
	Short: "Print the SHA-256 hash stored for an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), auth.HashKey(args[0]))
		return nil
	},
}

func init() {
	reputationCmd.AddCommand(reputationRebuildCmd)
	keysCmd.AddCommand(keysHashCmd)
}

// withServer builds the control plane without serving HTTP, runs fn and
// closes everything.
func withServer(fn func(ctx context.Context, srv *server.Server) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	srv, err := server.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer srv.Close(context.Background())
	return fn(ctx, srv)
}

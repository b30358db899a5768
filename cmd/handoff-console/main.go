// ABOUTME: Entry point for handoff-console, the operator console for AI to human hand-off
// ABOUTME: Builds the cobra command tree and runs it under a signal-aware context

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/2389/handoff-console/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "handoff-console",
		Short: "Operator console for AI to human conversation hand-off",
		Long: `handoff-console keeps a live view of every customer conversation and
which stage it is in: handled by the AI assistant, waiting for a human, or
owned by an agent. It follows the backend's push feeds, repairs missed
events after reconnecting, and lets an operator transfer or end
conversations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.DefaultPath(),
		"config file (.yaml or .toml); HANDOFF_CONFIG overrides the default")

	cmd.AddCommand(
		newWatchCmd(opts),
		newListCmd(opts),
		newAgentsCmd(opts),
		newTransferCmd(opts),
		newEndCmd(opts),
		newInitCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "handoff-console %s\n", version)
		},
	}
}

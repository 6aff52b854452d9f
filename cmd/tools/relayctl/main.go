package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "relayctl",
		Short:         "Operator tools for the LLM relay backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")

	rootCmd.AddCommand(
		NewModelsCmd(),
		NewRouteCmd(),
		NewPingCmd(),
		NewChatCmd(),
		NewAgentCmd(),
		NewChainageCmd(),
	)
	return rootCmd
}

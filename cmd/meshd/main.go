package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0"

var (
	configPath string
	devMode    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "meshd",
		Short: "Agent Mesh - multi-tenant tool-call gateway",
		Long: "meshd admits tool calls from AI agents into shared AWS backends, " +
			"enforcing per-tenant permissions and rate limits and auditing every call.",
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to JSON config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "Dev mode: in-memory stores, auto-registered tenants")

	rootCmd.AddCommand(
		serveCmd(),
		tenantCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the meshd version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("meshd %s\n", version)
		},
	}
}

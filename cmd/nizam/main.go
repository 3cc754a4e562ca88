package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nizam",
		Short: "NIZAM telephony control plane",
		Long:  "Multi-tenant PBX/contact-center control plane for a FreeSWITCH-style softswitch",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		createListenCommand(),
		createServeCommand(),
		createInitDBCommand(),
		createTenantCommands(),
		createQueueCommands(),
		createAgentCommands(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

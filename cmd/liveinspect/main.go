package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/LiveInspect/runtime/logger"
)

var rootCmd = &cobra.Command{
	Use:           "liveinspect",
	Short:         "LiveInspect - live vehicle inspection relay and client",
	Version:       GetVersion(),
	SilenceUsage:  true,  // Don't print usage on error
	SilenceErrors: false, // Do print errors
	Long: `LiveInspect relays live camera and microphone sessions from inspection
clients to the Gemini Live API and streams the inspector's answers back.

Run "liveinspect serve" for the relay and "liveinspect probe" to drive a
synthetic client session against a running relay.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error getting verbose flag: %v\n", err)
				return
			}
			logger.SetVerbose(verbose)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
}

// setupVersion configures the version display
func setupVersion() {
	rootCmd.SetVersionTemplate(GetVersionInfo() + "\n")
}

func Execute() {
	setupVersion()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

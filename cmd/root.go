package cmd

import (
	"fmt"
	"os"

	"github.com/optiease/edgechat/internal"
	"github.com/spf13/cobra"
)

var (
	verbose        bool
	configFile     string
	storageBackend string
	version        string = "dev"
	commit         string = "unknown"
	date           string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "edgechat",
	Short: "Chat with an on-device AI model from the terminal",
	Long: `A CLI chat client for on-device AI models with crash-aware session
management.

The client guards the model session against the provider's unstable
lifecycle: sessions are created exactly once per attempt, prompt budgets
are enforced before every call, and recoverable failures get a single
transparent retry. Conversations persist locally in SQLite or through a
remote session storage service.

Features:
  • Streaming and blocking chat with mid-stream cancellation
  • Image and document attachments (audio excluded by the model)
  • Proactive context reset and prompt truncation under token pressure
  • Regenerate and edit earlier turns
  • Export conversations as JSONL, Markdown, YAML, or JSON
  • Built-in document conversion and session storage server

Quick Start:
  edgechat send "hello"                  # Start a conversation
  edgechat list                          # List saved chats
  edgechat export <chat-id> --format md  # Export as Markdown`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file location (default: platform config dir)")
	rootCmd.PersistentFlags().StringVar(&storageBackend, "storage", "", "Storage backend override (local or remote)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

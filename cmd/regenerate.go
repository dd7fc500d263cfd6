package cmd

import (
	"fmt"

	"github.com/optiease/edgechat/internal"
	"github.com/spf13/cobra"
)

var regenerateStream bool

// regenerateCmd represents the regenerate command
var regenerateCmd = &cobra.Command{
	Use:   "regenerate <chat-id>",
	Short: "Regenerate the latest assistant response",
	Long: `Discard the latest assistant response of a chat and generate a new one
for the same user message. Only the most recent exchange can be
regenerated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		orch, store, err := buildOrchestrator(ctx, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		if err := internal.ShowProgress(ctx, "Initializing model...", func() error {
			return orch.Initialize(ctx)
		}); err != nil {
			return err
		}

		chat, err := findChat(ctx, store, args[0])
		if err != nil {
			return err
		}

		opts := internal.SendOptions{Stream: regenerateStream}
		if regenerateStream {
			opts.OnChunk = func(chunk string) { fmt.Print(chunk) }
		}

		result, err := orch.Regenerate(ctx, chat, opts)
		if err != nil {
			return err
		}

		printResult(chat, result, regenerateStream)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(regenerateCmd)
	regenerateCmd.Flags().BoolVar(&regenerateStream, "stream", true, "Stream the response as it is generated")
}

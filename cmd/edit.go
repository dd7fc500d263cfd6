package cmd

import (
	"fmt"

	"github.com/optiease/edgechat/internal"
	"github.com/spf13/cobra"
)

var (
	editMessageID string
	editStream    bool
)

// editCmd represents the edit command
var editCmd = &cobra.Command{
	Use:   "edit <chat-id> <new-text>",
	Short: "Edit an earlier user message and regenerate from it",
	Long: `Rewrite a user message in place and regenerate the conversation from
that point. Everything after the edited message is discarded first, so
the edited exchange becomes the chat's tail.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if editMessageID == "" {
			return fmt.Errorf("--message is required")
		}

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

		opts := internal.SendOptions{Stream: editStream}
		if editStream {
			opts.OnChunk = func(chunk string) { fmt.Print(chunk) }
		}

		result, err := orch.Edit(ctx, chat, editMessageID, args[1], opts)
		if err != nil {
			return err
		}

		printResult(chat, result, editStream)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(editCmd)
	editCmd.Flags().StringVarP(&editMessageID, "message", "m", "", "Id of the user message to edit (required)")
	editCmd.Flags().BoolVar(&editStream, "stream", true, "Stream the response as it is generated")
}

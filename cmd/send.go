package cmd

import (
	"fmt"

	"github.com/optiease/edgechat/internal"
	"github.com/spf13/cobra"
)

var (
	sendChatID string
	sendAttach []string
	sendURLs   []string
	sendStream bool
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Send a message to the model",
	Long: `Send a message, optionally with attachments, and print the model's
response. Without --chat a new conversation is started; its id is printed
so follow-up messages can continue it.

Image attachments are passed to the model directly. Documents are
converted to text through the conversion service and inlined as context.
Audio files are stored with the message but never sent to the model.`,
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

		var chat *internal.Chat
		if sendChatID != "" {
			chat, err = findChat(ctx, store, sendChatID)
			if err != nil {
				return err
			}
		} else {
			chat = internal.NewChat("")
		}

		converter := internal.NewConverterClient(cfg.ConverterURL)
		var uploads []*internal.UploadStaging
		for _, path := range sendAttach {
			uploads = append(uploads, internal.StageFile(ctx, path, converter))
		}
		for _, url := range sendURLs {
			uploads = append(uploads, internal.StageURL(url))
		}

		opts := internal.SendOptions{Stream: sendStream}
		if sendStream {
			opts.OnChunk = func(chunk string) { fmt.Print(chunk) }
		}

		result, err := orch.Send(ctx, chat, args[0], uploads, opts)
		if err != nil {
			return err
		}

		printResult(chat, result, sendStream)
		return nil
	},
}

func printResult(chat *internal.Chat, result *internal.SendResult, streamed bool) {
	for _, w := range result.Warnings {
		internal.PrintWarning(w)
	}
	for _, note := range result.SystemNotes {
		fmt.Printf("[%s]\n", note)
	}

	if result.AssistantMessage != nil {
		if streamed {
			// Chunks already went to stdout; just terminate the line.
			fmt.Println()
		} else {
			fmt.Println(result.AssistantMessage.Content)
		}
	}
	if result.Cancelled {
		fmt.Println("[response interrupted]")
	}

	fmt.Printf("\nchat: %s\n", chat.ID)
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendChatID, "chat", "c", "", "Continue an existing chat by id")
	sendCmd.Flags().StringArrayVarP(&sendAttach, "attach", "a", nil, "Attach a file (repeatable)")
	sendCmd.Flags().StringArrayVarP(&sendURLs, "url", "u", nil, "Attach a URL whose transcript is inlined (repeatable)")
	sendCmd.Flags().BoolVar(&sendStream, "stream", true, "Stream the response as it is generated")
}

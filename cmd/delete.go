package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var deleteForce bool

// deleteCmd represents the delete command
var deleteCmd = &cobra.Command{
	Use:   "delete <chat-id>",
	Short: "Delete a chat and its messages",
	Long: `Delete a conversation permanently. The chat's messages are removed in
the same transaction. Remote-backed chats cannot be deleted; the session
storage service keeps no delete operation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := openStore(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		defer func() { _ = store.Close() }()

		chat, err := findChat(ctx, store, args[0])
		if err != nil {
			return err
		}

		if !deleteForce {
			fmt.Printf("Delete chat %q (%s)? [y/N] ", chat.Title, chat.ID)
			reader := bufio.NewReader(os.Stdin)
			answer, _ := reader.ReadString('\n')
			if strings.ToLower(strings.TrimSpace(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		if err := store.DeleteChat(ctx, chat.ID); err != nil {
			return fmt.Errorf("failed to delete chat: %w", err)
		}

		fmt.Printf("Deleted chat %s\n", chat.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Skip the confirmation prompt")
}

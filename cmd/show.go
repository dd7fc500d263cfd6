package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/optiease/edgechat/internal"
	"github.com/spf13/cobra"
)

var (
	roleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243")).
			Italic(true)

	attachmentStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Italic(true)
)

var showCmd = &cobra.Command{
	Use:   "show <chat-id>",
	Short: "Show a chat's full history",
	Long:  `Print every message of a conversation in order, including attachments.`,
	Args:  cobra.ExactArgs(1),
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

		messages, err := store.LoadChatHistory(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load chat history: %w", err)
		}
		if len(messages) == 0 {
			return fmt.Errorf("chat %s has no messages", args[0])
		}

		for i, msg := range messages {
			if msg.Role == internal.RoleSystem {
				fmt.Println(systemStyle.Render("[" + msg.Content + "]"))
				fmt.Println()
				continue
			}

			fmt.Printf("%s %s\n", roleStyle.Render(string(msg.Role)+":"),
				msg.Timestamp.Local().Format("2006-01-02 15:04:05"))
			fmt.Println(msg.Content)
			for _, f := range msg.Files {
				fmt.Println(attachmentStyle.Render(fmt.Sprintf("  [attachment: %s (%s)]", f.Name, f.MimeType)))
			}
			if i < len(messages)-1 {
				fmt.Println()
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}

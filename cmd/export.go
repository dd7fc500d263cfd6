package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/optiease/edgechat/internal/export"
	"github.com/spf13/cobra"
)

var (
	format    string
	outputDir string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export <chat-id>",
	Short: "Export a chat to file",
	Long: `Export a conversation to various formats (jsonl, md, yaml, json).

Use 'edgechat list' to see available chat ids. The output file is named
after the chat id with the format's extension.`,
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

		exporter, err := export.NewExporter(format)
		if err != nil {
			return err
		}

		chat, err := findChat(ctx, store, args[0])
		if err != nil {
			return err
		}
		messages, err := store.LoadChatHistory(ctx, chat.ID)
		if err != nil {
			return fmt.Errorf("failed to load chat history: %w", err)
		}

		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		outPath := filepath.Join(outputDir, fmt.Sprintf("%s.%s", chat.ID, exporter.Extension()))
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = f.Close() }()

		transcript := &export.Transcript{Chat: chat, Messages: messages}
		if err := exporter.Export(transcript, f); err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Exported chat %s to %s\n", chat.ID, outPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "json", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "output", "o", ".", "Output directory")
}

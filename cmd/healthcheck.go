package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/optiease/edgechat/internal"
	"github.com/spf13/cobra"
)

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// healthcheckCmd represents the healthcheck command
var healthcheckCmd = &cobra.Command{
	Use:   "healthcheck",
	Short: "Check model, storage and converter availability",
	Long: `Check the health of edgechat by verifying:
  • Model provider availability
  • Session creation
  • Storage backend access
  • Conversion service reachability

This command is useful for debugging configuration issues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fmt.Println(sectionStyle.Render("Edgechat Health Check"))
		fmt.Println()

		cfg, err := loadConfig()
		if err != nil {
			fmt.Println(errorStyle.Render("✗ Failed to load configuration:"), err)
			return err
		}

		// Step 1: Model availability and a throwaway session
		fmt.Println(infoStyle.Render("Step 1: Checking model provider..."))
		orch, store, err := buildOrchestrator(ctx, cfg)
		if err != nil {
			fmt.Println(errorStyle.Render("✗ Failed to build pipeline:"), err)
			return err
		}
		defer func() { _ = store.Close() }()

		if err := orch.Initialize(ctx); err != nil {
			fmt.Println(errorStyle.Render("✗ Model session creation failed:"), err)
			if reason := orch.Guard().DisabledReason(); reason != "" {
				fmt.Printf("   Reason: %s\n", reason)
			}
		} else if err := orch.Guard().Probe(ctx); err != nil {
			fmt.Println(warningStyle.Render("⚠ Model session created but probe failed:"), err)
		} else {
			fmt.Println(successStyle.Render("✓ Model ready"), fmt.Sprintf("(%s)", cfg.Provider.Model))
		}
		orch.Guard().Destroy()
		fmt.Println()

		// Step 2: Storage backend
		fmt.Println(infoStyle.Render("Step 2: Checking storage backend..."))
		chats, err := store.LoadAllChats(ctx)
		if err != nil {
			fmt.Println(errorStyle.Render("✗ Storage access failed:"), err)
		} else {
			backend := cfg.Storage.Backend
			if backend == "" {
				backend = "local"
			}
			fmt.Println(successStyle.Render("✓ Storage accessible"),
				fmt.Sprintf("(%s, %d chats)", backend, len(chats)))
		}
		fmt.Println()

		// Step 3: Conversion service
		fmt.Println(infoStyle.Render("Step 3: Checking conversion service..."))
		converter := internal.NewConverterClient(cfg.ConverterURL)
		health, err := converter.Health(ctx)
		if err != nil {
			fmt.Println(warningStyle.Render("⚠ Conversion service unreachable:"), err)
			fmt.Println("   Document and URL attachments will fall back to placeholders.")
		} else {
			fmt.Println(successStyle.Render("✓ Conversion service healthy"),
				fmt.Sprintf("(%d formats: %s...)", len(health.SupportedFormats),
					strings.Join(firstN(health.SupportedFormats, 5), ", ")))
		}

		return nil
	},
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func init() {
	rootCmd.AddCommand(healthcheckCmd)
}

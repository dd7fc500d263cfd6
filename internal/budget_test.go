package internal_test

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/optiease/edgechat/internal"
	"github.com/optiease/edgechat/testutil"
)

func budgetConfig() internal.BudgetConfig {
	return internal.DefaultConfig().Budget
}

// quarterTokens charges one token per four characters, making costs easy to
// pick in tests.
func quarterTokens(text string) int {
	return len(text) / 4
}

func TestBudgetAssessProactiveReset(t *testing.T) {
	tests := []struct {
		name       string
		usage      int
		promptLen  int
		wantReset  bool
	}{
		{
			name:      "usage plus cost crosses the reset threshold",
			usage:     800,
			promptLen: 600, // 150 tokens; 800+150 > 750
			wantReset: true,
		},
		{
			name:      "usage plus cost stays under the threshold",
			usage:     600,
			promptLen: 400, // 100 tokens; 600+100 <= 750
			wantReset: false,
		},
		{
			name:      "landing exactly on the threshold does not reset",
			usage:     650,
			promptLen: 400, // 100 tokens; 650+100 == 750
			wantReset: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handle := &testutil.FakeHandle{Quota: 1000, Usage: tt.usage, MeasureFn: quarterTokens}
			controller := internal.NewBudgetController(budgetConfig())

			cand := &internal.PromptCandidate{Prompt: strings.Repeat("a", tt.promptLen)}
			got := controller.Assess(context.Background(), handle, cand)
			if got.NeedsReset != tt.wantReset {
				t.Errorf("Assess().NeedsReset = %v, want %v", got.NeedsReset, tt.wantReset)
			}
			if got.Truncated {
				t.Error("Assess().Truncated = true for a small prompt")
			}
		})
	}
}

func TestBudgetAssessTruncatesOversizedPrompt(t *testing.T) {
	handle := &testutil.FakeHandle{Quota: 1000, MeasureFn: quarterTokens}
	controller := internal.NewBudgetController(budgetConfig())

	// 2800 chars of file text puts the rendered prompt well past the
	// 500-token truncation threshold.
	cand := &internal.PromptCandidate{
		Prompt: "summarize this",
		Files:  []internal.FileSection{{Name: "doc.txt", Text: strings.Repeat("x", 2800)}},
	}

	got := controller.Assess(context.Background(), handle, cand)
	if !got.Truncated {
		t.Fatal("Assess().Truncated = false, want true")
	}
	// After truncation the prompt fits the 40% ceiling.
	if got.Cost > 400 {
		t.Errorf("Assess().Cost = %d, want <= 400", got.Cost)
	}
	if !strings.Contains(got.Rendered, "summarize this") {
		t.Error("truncation dropped the user's free text")
	}
	if !strings.Contains(got.Rendered, "truncated to fit the context window") {
		t.Error("truncated prompt carries no truncation notice")
	}
}

func TestBudgetAssessUnboundedQuota(t *testing.T) {
	handle := &testutil.FakeHandle{Quota: 0, Usage: 999999, MeasureFn: quarterTokens}
	controller := internal.NewBudgetController(budgetConfig())

	cand := &internal.PromptCandidate{Prompt: strings.Repeat("a", 100000)}
	got := controller.Assess(context.Background(), handle, cand)
	if got.NeedsReset || got.Truncated {
		t.Errorf("Assess() enforced limits on unbounded quota: reset=%v truncated=%v",
			got.NeedsReset, got.Truncated)
	}
}

func TestBudgetMeasureCostFallsBackToEstimate(t *testing.T) {
	handle := &testutil.FakeHandle{MeasureErr: context.DeadlineExceeded}
	controller := internal.NewBudgetController(budgetConfig())

	got := controller.MeasureCost(context.Background(), handle, strings.Repeat("a", 41))
	if want := 11; got != want { // ceil(41/4)
		t.Errorf("MeasureCost() fallback = %d, want %d", got, want)
	}
}

func TestBudgetTruncateToFraction(t *testing.T) {
	handle := &testutil.FakeHandle{Quota: 1000, MeasureFn: quarterTokens}
	controller := internal.NewBudgetController(budgetConfig())

	cand := &internal.PromptCandidate{
		Prompt: "question",
		Files:  []internal.FileSection{{Name: "big.txt", Text: strings.Repeat("y", 8000)}},
	}

	rendered := controller.TruncateToFraction(context.Background(), handle, cand, 0.50)
	if cost := quarterTokens(rendered); cost > 500 {
		t.Errorf("TruncateToFraction(0.50) cost = %d, want <= 500", cost)
	}
	if !strings.Contains(rendered, "question") {
		t.Error("truncation dropped the user's free text")
	}
}

func TestBuildContextWindow(t *testing.T) {
	controller := internal.NewBudgetController(budgetConfig())

	var messages []*internal.Message
	for i := 0; i < 12; i++ {
		role := internal.RoleUser
		if i%2 == 1 {
			role = internal.RoleAssistant
		}
		messages = append(messages, &internal.Message{Role: role, Content: strings.Repeat("m", 100)})
	}

	window := controller.BuildContextWindow(messages, 100000)
	if got := len(window.Turns); got != 9 {
		t.Errorf("BuildContextWindow() turns = %d, want 9", got)
	}
}

func TestBuildContextWindowCapsTurnLength(t *testing.T) {
	controller := internal.NewBudgetController(budgetConfig())

	messages := []*internal.Message{
		{Role: internal.RoleUser, Content: strings.Repeat("z", 900)},
	}
	window := controller.BuildContextWindow(messages, 100000)
	if got := len(window.Turns[0].Content); got != 503 { // 500 chars + "..."
		t.Errorf("turn content length = %d, want 503", got)
	}
	if !strings.HasSuffix(window.Turns[0].Content, "...") {
		t.Error("capped turn does not end with ellipsis")
	}
}

func TestBuildContextWindowKeepsRunesWhole(t *testing.T) {
	controller := internal.NewBudgetController(budgetConfig())

	// A leading ASCII byte shifts the three-byte runes off the 500-byte cap
	// so a naive byte slice would split one.
	messages := []*internal.Message{
		{Role: internal.RoleUser, Content: "a" + strings.Repeat("日", 200)},
	}
	window := controller.BuildContextWindow(messages, 100000)
	content := window.Turns[0].Content
	if !utf8.ValidString(content) {
		t.Fatalf("capped turn is not valid UTF-8: %q", content[:20])
	}
	if !strings.HasSuffix(content, "...") {
		t.Error("capped turn does not end with ellipsis")
	}
	if len(content) > 503 {
		t.Errorf("turn content length = %d bytes, want at most 503", len(content))
	}
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	handle := &testutil.FakeHandle{Quota: 1000, MeasureFn: quarterTokens}
	controller := internal.NewBudgetController(budgetConfig())

	cand := &internal.PromptCandidate{
		Prompt: "question",
		Files:  []internal.FileSection{{Name: "big.txt", Text: strings.Repeat("日", 4000)}},
	}

	rendered := controller.TruncateToFraction(context.Background(), handle, cand, 0.50)
	if !utf8.ValidString(rendered) {
		t.Error("truncated prompt is not valid UTF-8")
	}
	if cost := quarterTokens(rendered); cost > 500 {
		t.Errorf("TruncateToFraction(0.50) cost = %d, want <= 500", cost)
	}
}

func TestBuildContextWindowDropsOldestUnderQuota(t *testing.T) {
	controller := internal.NewBudgetController(budgetConfig())

	messages := []*internal.Message{
		{Role: internal.RoleUser, Content: "oldest " + strings.Repeat("a", 90)},
		{Role: internal.RoleAssistant, Content: strings.Repeat("b", 100)},
		{Role: internal.RoleUser, Content: strings.Repeat("c", 100)},
	}

	// 30% of 100 tokens at 4 chars/token is a 120-char window; only the
	// most recent turn fits.
	window := controller.BuildContextWindow(messages, 100)
	if got := len(window.Turns); got != 1 {
		t.Fatalf("BuildContextWindow() turns = %d, want 1", got)
	}
	if window.Turns[0].Role != internal.RoleUser || !strings.HasPrefix(window.Turns[0].Content, "c") {
		t.Errorf("kept turn = %+v, want the most recent one", window.Turns[0])
	}
}

func TestRenderContextWindow(t *testing.T) {
	if got := internal.RenderContextWindow(internal.ConversationContext{}); got != "" {
		t.Errorf("RenderContextWindow(empty) = %q, want empty", got)
	}

	cc := internal.ConversationContext{Turns: []internal.Turn{
		{Role: internal.RoleUser, Content: "hi"},
		{Role: internal.RoleAssistant, Content: "hello"},
	}}
	got := internal.RenderContextWindow(cc)
	want := "Previous conversation:\n[user] hi\n[assistant] hello\n"
	if got != want {
		t.Errorf("RenderContextWindow() = %q, want %q", got, want)
	}
}

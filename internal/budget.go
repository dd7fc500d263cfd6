package internal

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"
)

// fileDelimiter labels the attached-file section of an assembled prompt.
const fileDelimiter = "--- Attached files ---"

// truncationNotice is appended to a candidate whose file section was cut.
const truncationNotice = "[Attached file content truncated to fit the context window]"

// ContextClearedNote is the user-visible system note recorded when the
// budget controller discards provider-side history.
const ContextClearedNote = "Context was cleared to stay within the model's context window. Earlier turns are no longer visible to the model."

// FileSection is one attachment's extracted text within a candidate prompt.
type FileSection struct {
	Name string
	Text string
}

// PromptCandidate is the full prompt considered by the budget controller:
// the user's free text plus any inlined file text. The free text is always
// preserved in full; only file sections are ever truncated.
type PromptCandidate struct {
	Prompt string
	Files  []FileSection
}

// Render flattens the candidate into the text actually sent.
func (c *PromptCandidate) Render() string {
	if len(c.Files) == 0 {
		return c.Prompt
	}

	var sb strings.Builder
	sb.WriteString(c.Prompt)
	sb.WriteString("\n\n")
	sb.WriteString(fileDelimiter)
	for _, f := range c.Files {
		sb.WriteString(fmt.Sprintf("\n\n[%s]\n%s", f.Name, f.Text))
	}
	return sb.String()
}

// BudgetAssessment is the controller's verdict on one candidate.
type BudgetAssessment struct {
	// Cost is the measured (or estimated) token cost of the rendered
	// candidate after any truncation.
	Cost int
	// NeedsReset is set when sending on the current handle would push
	// usage past the reset threshold. The caller resets the handle and
	// clears its tracked context window before sending.
	NeedsReset bool
	// Truncated is set when file sections were cut to fit.
	Truncated bool
	// Rendered is the final prompt text to send.
	Rendered string
}

// BudgetController decides whether a candidate prompt fits the handle's
// context window, and truncates it when it does not. Thresholds are policy
// constants from configuration, not measured limits.
type BudgetController struct {
	cfg BudgetConfig
}

// NewBudgetController builds a controller with the given policy.
func NewBudgetController(cfg BudgetConfig) *BudgetController {
	return &BudgetController{cfg: cfg}
}

// MeasureCost asks the handle for the token cost of text, falling back to a
// chars-per-token estimate when measurement itself fails.
func (b *BudgetController) MeasureCost(ctx context.Context, h Handle, text string) int {
	cost, err := h.MeasureInputUsage(ctx, text)
	if err != nil {
		LogDebug("token measurement failed, falling back to estimate: %v", err)
		return b.EstimateCost(text)
	}
	return cost
}

// EstimateCost is the fixed chars-per-token fallback estimate.
func (b *BudgetController) EstimateCost(text string) int {
	per := b.cfg.CharsPerToken
	if per <= 0 {
		per = 4
	}
	return (len(text) + per - 1) / per
}

// Assess applies the budget policy in order: measure, decide on a proactive
// reset, then truncate the candidate if its own cost is too large. The
// provider's own overflow recovery silently drops unspecified old turns,
// which is unacceptable for a persisted history, so the reset happens here
// before overflow can occur.
func (b *BudgetController) Assess(ctx context.Context, h Handle, cand *PromptCandidate) *BudgetAssessment {
	rendered := cand.Render()
	cost := b.MeasureCost(ctx, h, rendered)

	quota := h.InputQuota()
	if quota <= 0 {
		// Unbounded quota: nothing to enforce.
		return &BudgetAssessment{Cost: cost, Rendered: rendered}
	}

	out := &BudgetAssessment{Cost: cost, Rendered: rendered}

	resetAt := int(float64(quota) * b.cfg.ResetFraction)
	if h.InputUsage()+cost > resetAt {
		out.NeedsReset = true
	}

	truncateAt := int(float64(quota) * b.cfg.TruncateFraction)
	if cost > truncateAt {
		ceiling := int(float64(quota) * b.cfg.CeilingFraction)
		out.Rendered, out.Cost = b.truncate(ctx, h, cand, ceiling)
		out.Truncated = true
	}

	return out
}

// TruncateToFraction cuts the candidate's file sections so the rendered
// prompt fits within the given fraction of quota. Used for the one
// quota-failure retry at the orchestration layer.
func (b *BudgetController) TruncateToFraction(ctx context.Context, h Handle, cand *PromptCandidate, fraction float64) string {
	quota := h.InputQuota()
	if quota <= 0 {
		return cand.Render()
	}
	rendered, _ := b.truncate(ctx, h, cand, int(float64(quota)*fraction))
	return rendered
}

// truncate cuts file sections deterministically: the free-text prompt is
// preserved in full, then each file in order gets as much of its text as
// still fits before the next file is considered. A notice is appended so
// the model knows content was dropped.
func (b *BudgetController) truncate(ctx context.Context, h Handle, cand *PromptCandidate, ceilingTokens int) (string, int) {
	per := b.cfg.CharsPerToken
	if per <= 0 {
		per = 4
	}

	overheadText := cand.Prompt + "\n\n" + fileDelimiter + "\n\n" + truncationNotice
	promptCost := b.MeasureCost(ctx, h, overheadText)
	fileBudgetChars := (ceilingTokens - promptCost) * per
	if fileBudgetChars < 0 {
		fileBudgetChars = 0
	}

	build := func(budgetChars int) *PromptCandidate {
		remaining := budgetChars
		files := make([]FileSection, 0, len(cand.Files))
		for _, f := range cand.Files {
			if remaining <= 0 {
				break
			}
			text := f.Text
			if len(text) > remaining {
				text = cutAtRune(text, remaining)
			}
			remaining -= len(text)
			files = append(files, FileSection{Name: f.Name, Text: text})
		}
		files = append(files, FileSection{Name: "notice", Text: truncationNotice})
		return &PromptCandidate{Prompt: cand.Prompt, Files: files}
	}

	// The char math usually lands under the ceiling in one pass; measured
	// tokenization can disagree, so shrink a bounded number of times.
	truncated := build(fileBudgetChars)
	rendered := truncated.Render()
	cost := b.MeasureCost(ctx, h, rendered)
	for i := 0; i < 3 && cost > ceilingTokens && fileBudgetChars > 0; i++ {
		fileBudgetChars = fileBudgetChars * ceilingTokens / (cost + 1)
		truncated = build(fileBudgetChars)
		rendered = truncated.Render()
		cost = b.MeasureCost(ctx, h, rendered)
	}

	return rendered, cost
}

// BuildContextWindow selects the prior turns quoted into a fresh handle to
// restore continuity: at most MaxContextTurns most recent turns, each capped
// at TurnCharLimit characters, the whole window never above ContextFraction
// of quota.
func (b *BudgetController) BuildContextWindow(messages []*Message, quota int) ConversationContext {
	maxTurns := b.cfg.MaxContextTurns
	if len(messages) > maxTurns {
		messages = messages[len(messages)-maxTurns:]
	}

	turns := make([]Turn, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if len(content) > b.cfg.TurnCharLimit {
			content = cutAtRune(content, b.cfg.TurnCharLimit) + "..."
		}
		turns = append(turns, Turn{Role: m.Role, Content: content})
	}

	if quota > 0 {
		per := b.cfg.CharsPerToken
		if per <= 0 {
			per = 4
		}
		budgetChars := int(float64(quota)*b.cfg.ContextFraction) * per
		for len(turns) > 0 && contextChars(turns) > budgetChars {
			turns = turns[1:]
		}
	}

	return ConversationContext{Turns: turns}
}

// RenderContextWindow formats the window as a labeled transcript prefix.
func RenderContextWindow(cc ConversationContext) string {
	if len(cc.Turns) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Previous conversation:\n")
	for _, t := range cc.Turns {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", t.Role, t.Content))
	}
	return sb.String()
}

// cutAtRune truncates s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func contextChars(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += len(t.Content)
	}
	return total
}

package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// maxInitAttempts bounds guard re-instantiation at initialization time.
// This is the only place with any creation retry; send-time failures get at
// most one fresh guard per user action.
const maxInitAttempts = 2

// titleMaxLen caps the auto-generated chat title.
const titleMaxLen = 48

// quotaRetryFraction is the truncation target for the single retry after a
// quota failure.
const quotaRetryFraction = 0.50

// SendOptions controls one send cycle.
type SendOptions struct {
	// Stream selects the streaming call path. Chunks are delivered to
	// OnChunk as they arrive.
	Stream  bool
	OnChunk func(chunk string)
}

// SendResult reports the outcome of one send/regenerate cycle.
type SendResult struct {
	UserMessage      *Message
	AssistantMessage *Message
	Warnings         []string
	SystemNotes      []string
	// Cancelled is set when the user aborted mid-stream. The partial
	// assistant text up to that point is preserved and persisted.
	Cancelled bool
}

// Orchestrator drives a send cycle end to end: health check, budget check,
// assembly, model call, persistence. It owns recovery policy: the guard
// itself never retries, the orchestrator gets one recovery attempt per
// user-initiated action.
type Orchestrator struct {
	newGuard  func() *SessionGuard
	guard     *SessionGuard
	budget    *BudgetController
	assembler *Assembler
	store     Store

	// needsContext is set after the provider-side history was lost to a
	// reinitialization, so the next call quotes recent turns back in.
	needsContext bool
	// recovered marks that this action already consumed its one fresh
	// guard; a second failure surfaces to the user.
	recovered bool
}

// NewOrchestrator wires the send pipeline. newGuard builds a fresh session
// guard; it is called once up front and again at most once per user action
// when recovery demands a full handle reinitialization.
func NewOrchestrator(newGuard func() *SessionGuard, budget *BudgetController, assembler *Assembler, store Store) *Orchestrator {
	return &Orchestrator{
		newGuard:  newGuard,
		guard:     newGuard(),
		budget:    budget,
		assembler: assembler,
		store:     store,
	}
}

// Guard exposes the active session guard for health reporting.
func (o *Orchestrator) Guard() *SessionGuard {
	return o.guard
}

// Initialize warms the model handle up front. Creation failures disable a
// guard permanently, so a bounded number of fresh guards are tried here;
// this bounded loop exists only at initialization, never at send time.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	var err error
	for attempt := 0; attempt < maxInitAttempts; attempt++ {
		if attempt > 0 {
			LogWarn("model initialization attempt %d failed, trying a fresh session: %v", attempt, err)
			o.guard = o.newGuard()
		}
		if _, err = o.guard.Ensure(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("model initialization failed: %w", err)
}

// Send runs one full cycle for the user's text and staged uploads.
func (o *Orchestrator) Send(ctx context.Context, chat *Chat, text string, uploads []*UploadStaging, opts SendOptions) (*SendResult, error) {
	o.recovered = false

	if err := o.healthCheck(ctx); err != nil {
		return nil, err
	}

	assembled, err := o.assembler.Assemble(ctx, text, uploads)
	if err != nil {
		return nil, err
	}

	result := &SendResult{Warnings: assembled.Warnings}

	userMsg := NewMessage(chat.ID, RoleUser, text, assembled.Attachments)
	if err := o.persistTurn(ctx, chat, userMsg); err != nil {
		return nil, err
	}
	result.UserMessage = userMsg

	if err := o.invokeAndPersist(ctx, chat, &assembled.Candidate, assembled, opts, result); err != nil {
		return result, err
	}
	return result, nil
}

// Regenerate replays the last user prompt, text only, never re-including
// prior file content. The previous assistant message is discarded first.
func (o *Orchestrator) Regenerate(ctx context.Context, chat *Chat, opts SendOptions) (*SendResult, error) {
	history, err := o.store.LoadChatHistory(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	lastUser := lastMessageByRole(history, RoleUser)
	if lastUser == nil {
		return nil, errors.New("nothing to regenerate: no user message in chat")
	}

	if last := lastMessageByRole(history, RoleAssistant); last != nil && isAfter(last, lastUser) {
		if err := o.deleteFrom(ctx, chat, history, last); err != nil {
			return nil, err
		}
	}

	if err := o.healthCheck(ctx); err != nil {
		return nil, err
	}

	o.recovered = false
	result := &SendResult{UserMessage: lastUser}
	cand := &PromptCandidate{Prompt: lastUser.Content}
	assembled := &AssembledPrompt{Candidate: *cand}
	if err := o.invokeAndPersist(ctx, chat, cand, assembled, opts, result); err != nil {
		return result, err
	}
	return result, nil
}

// Edit truncates history after the edited user message, rewrites its
// content, and then behaves exactly like a regeneration with the new text.
func (o *Orchestrator) Edit(ctx context.Context, chat *Chat, messageID, newText string, opts SendOptions) (*SendResult, error) {
	history, err := o.store.LoadChatHistory(ctx, chat.ID)
	if err != nil {
		return nil, err
	}

	var edited *Message
	for _, m := range history {
		if m.ID == messageID {
			edited = m
			break
		}
	}
	if edited == nil {
		return nil, fmt.Errorf("message %s not found in chat %s", messageID, chat.ID)
	}
	if edited.Role != RoleUser {
		return nil, fmt.Errorf("only user messages can be edited")
	}

	if editor, ok := o.store.(MessageEditor); ok {
		if err := editor.DeleteMessagesAfter(ctx, chat.ID, messageID); err != nil {
			return nil, err
		}
		if err := editor.UpdateMessageContent(ctx, messageID, newText); err != nil {
			return nil, err
		}
	} else if err := o.rewriteHistoryThrough(ctx, chat, history, edited, newText); err != nil {
		return nil, err
	}

	// The stored copy keeps its id and position; only the content moves.
	edited.Content = newText
	edited.Files = nil

	if err := o.healthCheck(ctx); err != nil {
		return nil, err
	}

	o.recovered = false
	result := &SendResult{UserMessage: edited}
	cand := &PromptCandidate{Prompt: newText}
	assembled := &AssembledPrompt{Candidate: *cand}
	if err := o.invokeAndPersist(ctx, chat, cand, assembled, opts, result); err != nil {
		return result, err
	}
	return result, nil
}

// healthCheck is the cheap structural probe; the expensive measurement
// probe only runs when the structural answer is inconclusive.
func (o *Orchestrator) healthCheck(ctx context.Context) error {
	if o.guard.State() == StateDisabled {
		return fmt.Errorf("the model is unavailable: %s. Restart the host application to recover", o.guard.DisabledReason())
	}
	if o.guard.Healthy() {
		return nil
	}
	// Uninitialized is fine: Ensure will create the handle during invoke.
	// A guard stuck mid-creation is the inconclusive case worth probing.
	if o.guard.State() == StateCreating {
		if err := o.guard.Probe(ctx); err != nil && !errors.Is(err, ErrNoHandle) {
			return fmt.Errorf("model session is not responding: %v", err)
		}
	}
	return nil
}

// invokeAndPersist applies the budget, issues the model call with the
// orchestration-layer recovery policy, and persists the assistant turn.
func (o *Orchestrator) invokeAndPersist(ctx context.Context, chat *Chat, cand *PromptCandidate, assembled *AssembledPrompt, opts SendOptions, result *SendResult) error {
	handle, err := o.guard.Ensure(ctx)
	if err != nil {
		return o.describeFailure(err)
	}

	assessment := o.budget.Assess(ctx, handle, cand)
	if assessment.Truncated {
		result.Warnings = append(result.Warnings, "attached file content was truncated to fit the context window")
	}

	if assessment.NeedsReset {
		if err := o.resetForBudget(ctx, chat, result); err != nil {
			return err
		}
		if handle, err = o.guard.Ensure(ctx); err != nil {
			return o.describeFailure(err)
		}
	}

	rendered := assessment.Rendered
	if o.needsContext {
		rendered = o.withContext(ctx, chat, handle, rendered)
		o.needsContext = false
	}

	text, cancelled, err := o.invoke(ctx, rendered, assembled, opts)
	if err != nil {
		text, cancelled, err = o.recoverInvoke(ctx, chat, cand, assembled, opts, rendered, err)
		if err != nil {
			return err
		}
	}

	if cancelled {
		result.Cancelled = true
	}
	if text == "" && cancelled {
		// Nothing arrived before the abort; there is no turn to keep.
		return nil
	}

	assistant := NewMessage(chat.ID, RoleAssistant, text, nil)
	if err := o.persistTurn(ctx, chat, assistant); err != nil {
		return err
	}
	result.AssistantMessage = assistant
	return nil
}

// invoke issues exactly one model call, streaming or blocking.
func (o *Orchestrator) invoke(ctx context.Context, rendered string, assembled *AssembledPrompt, opts SendOptions) (string, bool, error) {
	input, err := assembled.Input(rendered)
	if err != nil {
		return "", false, err
	}

	if !opts.Stream {
		text, err := o.guard.Prompt(ctx, input)
		if err != nil {
			if ClassifyError(err) == KindCancelled {
				return "", true, nil
			}
			return "", false, err
		}
		return text, false, nil
	}

	chunks, done := o.guard.PromptStreaming(ctx, input)
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
		if opts.OnChunk != nil {
			opts.OnChunk(chunk)
		}
	}
	if err := <-done; err != nil {
		if ClassifyError(err) == KindCancelled {
			// Cancellation preserves whatever arrived before the abort.
			return sb.String(), true, nil
		}
		return sb.String(), false, err
	}
	return sb.String(), false, nil
}

// recoverInvoke applies the per-class recovery policy: invalidated asks the
// user to resend on a fresh handle, crash-like gets one transparent retry
// on a fresh handle, quota gets one retry at half the window, everything
// else surfaces as-is.
func (o *Orchestrator) recoverInvoke(ctx context.Context, chat *Chat, cand *PromptCandidate, assembled *AssembledPrompt, opts SendOptions, rendered string, invokeErr error) (string, bool, error) {
	switch ClassifyError(invokeErr) {
	case KindInvalidated:
		if err := o.reinitGuard(ctx); err != nil {
			return "", false, o.describeFailure(invokeErr)
		}
		return "", false, fmt.Errorf("the model session was reset; please resend your message")

	case KindCrash:
		if o.recovered {
			return "", false, o.describeFailure(invokeErr)
		}
		o.recovered = true
		LogWarn("crash-like model failure, retrying once on a fresh session: %v", invokeErr)
		if err := o.reinitGuard(ctx); err != nil {
			return "", false, o.describeFailure(invokeErr)
		}
		handle, err := o.guard.Ensure(ctx)
		if err != nil {
			return "", false, o.describeFailure(err)
		}
		retry := o.withContext(ctx, chat, handle, rendered)
		o.needsContext = false
		return o.invoke(ctx, retry, assembled, opts)

	case KindQuotaExceeded:
		if o.recovered {
			return "", false, o.describeFailure(invokeErr)
		}
		o.recovered = true
		handle, err := o.guard.Ensure(ctx)
		if err != nil {
			return "", false, o.describeFailure(err)
		}
		LogWarn("prompt exceeded the context quota, retrying once truncated: %v", invokeErr)
		truncated := o.budget.TruncateToFraction(ctx, handle, cand, quotaRetryFraction)
		return o.invoke(ctx, truncated, assembled, opts)

	default:
		return "", false, o.describeFailure(invokeErr)
	}
}

// resetForBudget performs the proactive reset: provider-side history is
// discarded before the provider can silently evict turns on its own, and a
// visible system note records that context was cleared.
func (o *Orchestrator) resetForBudget(ctx context.Context, chat *Chat, result *SendResult) error {
	if err := o.guard.Reset(ctx); err != nil {
		return o.describeFailure(err)
	}
	o.needsContext = false

	note := NewMessage(chat.ID, RoleSystem, ContextClearedNote, nil)
	if err := o.persistTurn(ctx, chat, note); err != nil {
		return err
	}
	result.SystemNotes = append(result.SystemNotes, ContextClearedNote)
	return nil
}

// reinitGuard swaps in a fresh guard after the old one disabled itself.
// Disable is terminal per guard instance; this swap is the single recovery
// the orchestration layer is allowed per user action.
func (o *Orchestrator) reinitGuard(ctx context.Context) error {
	o.guard.Destroy()
	o.guard = o.newGuard()
	o.needsContext = true
	if _, err := o.guard.Ensure(ctx); err != nil {
		return err
	}
	return nil
}

// withContext prepends the bounded cross-session context window so a fresh
// handle sees recent history. The provider has no durable memory of its own
// beyond the current handle's lifetime.
func (o *Orchestrator) withContext(ctx context.Context, chat *Chat, handle Handle, rendered string) string {
	history, err := o.store.LoadChatHistory(ctx, chat.ID)
	if err != nil {
		LogWarn("could not load history for context window: %v", err)
		return rendered
	}

	window := o.budget.BuildContextWindow(history, handle.InputQuota())
	prefix := RenderContextWindow(window)
	if prefix == "" {
		return rendered
	}
	return prefix + "\n" + rendered
}

// persistTurn writes the message and refreshes the chat's title and
// updated_at.
func (o *Orchestrator) persistTurn(ctx context.Context, chat *Chat, msg *Message) error {
	if err := o.store.SaveMessage(ctx, msg); err != nil {
		return err
	}

	if chat.Title == "" && msg.Role == RoleUser {
		chat.Title = deriveTitle(msg.Content)
	}
	chat.UpdatedAt = time.Now().UTC()
	return o.store.SaveChat(ctx, chat)
}

// rewriteHistoryThrough reimplements the edit truncation for backends
// without native truncation: the chat is deleted and rebuilt up to and
// including the edited message.
func (o *Orchestrator) rewriteHistoryThrough(ctx context.Context, chat *Chat, history []*Message, edited *Message, newText string) error {
	if err := o.store.DeleteChat(ctx, chat.ID); err != nil {
		return err
	}
	if err := o.store.SaveChat(ctx, chat); err != nil {
		return err
	}
	for _, m := range history {
		if isAfter(m, edited) {
			break
		}
		if m.ID == edited.ID {
			m.Content = newText
			m.Files = nil
		}
		if err := o.store.SaveMessage(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// deleteFrom removes msg and everything after it.
func (o *Orchestrator) deleteFrom(ctx context.Context, chat *Chat, history []*Message, msg *Message) error {
	var prev *Message
	for _, m := range history {
		if m.ID == msg.ID {
			break
		}
		prev = m
	}
	if prev == nil {
		return fmt.Errorf("cannot delete the first message of a chat")
	}
	if trunc, ok := o.store.(HistoryTruncator); ok {
		return trunc.DeleteMessagesAfter(ctx, chat.ID, prev.ID)
	}
	return o.rewriteHistoryThrough(ctx, chat, history, prev, prev.Content)
}

// describeFailure turns a classified failure into the user-visible message.
func (o *Orchestrator) describeFailure(err error) error {
	switch ClassifyError(err) {
	case KindDisabled:
		return fmt.Errorf("the model is unavailable for this session: %v. Restart the host application to recover", err)
	case KindQuotaExceeded:
		return fmt.Errorf("the message does not fit the model's context window: %v", err)
	default:
		return fmt.Errorf("the model call failed: %v", err)
	}
}

func lastMessageByRole(history []*Message, role Role) *Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == role {
			return history[i]
		}
	}
	return nil
}

func isAfter(a, b *Message) bool {
	if a.Timestamp.Equal(b.Timestamp) {
		return a.ID > b.ID
	}
	return a.Timestamp.After(b.Timestamp)
}

func deriveTitle(text string) string {
	title := strings.TrimSpace(text)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	if len(title) > titleMaxLen {
		title = cutAtRune(title, titleMaxLen) + "..."
	}
	if title == "" {
		title = "Untitled Chat"
	}
	return title
}

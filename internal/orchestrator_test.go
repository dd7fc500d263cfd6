package internal_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/optiease/edgechat/internal"
	"github.com/optiease/edgechat/testutil"
)

func newTestStore(t *testing.T) *internal.SQLiteStore {
	t.Helper()
	store, err := internal.OpenSQLiteStore(filepath.Join(testutil.CreateTempDir(t), "edgechat.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestOrchestrator(t *testing.T, provider *testutil.FakeProvider) (*internal.Orchestrator, *internal.SQLiteStore) {
	t.Helper()
	store := newTestStore(t)
	budget := internal.NewBudgetController(internal.DefaultConfig().Budget)
	assembler := internal.NewAssembler(nil)
	newGuard := func() *internal.SessionGuard {
		return internal.NewSessionGuard(provider, internal.CreateOptions{Model: "test-model"})
	}
	return internal.NewOrchestrator(newGuard, budget, assembler, store), store
}

func TestOrchestratorSendPersistsExchange(t *testing.T) {
	ctx := context.Background()
	handle := &testutil.FakeHandle{
		Quota:   10000,
		Results: []testutil.PromptResult{{Text: "hello to you"}},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, store := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "hi there", nil, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.UserMessage == nil || result.AssistantMessage == nil {
		t.Fatal("Send() result is missing messages")
	}
	if result.AssistantMessage.Content != "hello to you" {
		t.Errorf("assistant content = %q, want %q", result.AssistantMessage.Content, "hello to you")
	}

	history, err := store.LoadChatHistory(ctx, chat.ID)
	if err != nil {
		t.Fatalf("LoadChatHistory() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != internal.RoleUser || history[1].Role != internal.RoleAssistant {
		t.Errorf("history roles = %v, %v; want user, assistant", history[0].Role, history[1].Role)
	}
	if chat.Title != "hi there" {
		t.Errorf("chat title = %q, want derived from first message", chat.Title)
	}
}

func TestOrchestratorStreamingDeliversChunks(t *testing.T) {
	ctx := context.Background()
	handle := &testutil.FakeHandle{
		Quota:   10000,
		Results: []testutil.PromptResult{{Chunks: []string{"one ", "two ", "three"}}},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, _ := newTestOrchestrator(t, provider)

	var received []string
	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "count", nil, internal.SendOptions{
		Stream:  true,
		OnChunk: func(chunk string) { received = append(received, chunk) },
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(received) != 3 {
		t.Errorf("received %d chunks, want 3", len(received))
	}
	if result.AssistantMessage.Content != "one two three" {
		t.Errorf("assistant content = %q, want the concatenated chunks", result.AssistantMessage.Content)
	}
}

func TestOrchestratorCancellationPreservesPartial(t *testing.T) {
	ctx := context.Background()
	chunks := []string{"c1 ", "c2 ", "c3 ", "c4 ", "c5 ", "c6 ", "c7 ", "c8 ", "c9 ", "c10"}
	handle := &testutil.FakeHandle{
		Quota: 10000,
		Results: []testutil.PromptResult{{
			Chunks:   chunks,
			Err:      &internal.ProviderError{Kind: internal.KindCancelled, Op: "prompt", Err: context.Canceled},
			ErrAfter: 3,
		}},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, store := newTestOrchestrator(t, provider)

	var received int
	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "go", nil, internal.SendOptions{
		Stream:  true,
		OnChunk: func(string) { received++ },
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !result.Cancelled {
		t.Error("result.Cancelled = false, want true")
	}
	if received != 3 {
		t.Errorf("received %d chunks before the abort, want 3", received)
	}
	if got := result.AssistantMessage.Content; got != "c1 c2 c3 " {
		t.Errorf("partial content = %q, want %q", got, "c1 c2 c3 ")
	}

	history, _ := store.LoadChatHistory(ctx, chat.ID)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want user + partial assistant", len(history))
	}
	if history[1].Content != "c1 c2 c3 " {
		t.Errorf("persisted partial = %q, want %q", history[1].Content, "c1 c2 c3 ")
	}
}

func TestOrchestratorCancellationBeforeFirstChunk(t *testing.T) {
	ctx := context.Background()
	handle := &testutil.FakeHandle{
		Quota: 10000,
		Results: []testutil.PromptResult{{
			Chunks:   []string{"never"},
			Err:      &internal.ProviderError{Kind: internal.KindCancelled, Op: "prompt", Err: context.Canceled},
			ErrAfter: 0,
		}},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, store := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "go", nil, internal.SendOptions{Stream: true})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !result.Cancelled {
		t.Error("result.Cancelled = false, want true")
	}
	if result.AssistantMessage != nil {
		t.Error("empty cancellation still produced an assistant message")
	}

	history, _ := store.LoadChatHistory(ctx, chat.ID)
	if len(history) != 1 {
		t.Errorf("history length = %d, want only the user message", len(history))
	}
}

func TestOrchestratorCrashRecoveryRetriesOnce(t *testing.T) {
	ctx := context.Background()
	crash := &internal.ProviderError{Kind: internal.KindCrash, Op: "prompt", Err: errors.New("model process died")}

	var handles []*testutil.FakeHandle
	provider := &testutil.FakeProvider{}
	provider.NewHandle = func() *testutil.FakeHandle {
		var h *testutil.FakeHandle
		if len(handles) == 0 {
			h = &testutil.FakeHandle{Quota: 10000, Results: []testutil.PromptResult{{Err: crash}}}
		} else {
			h = &testutil.FakeHandle{Quota: 10000, Results: []testutil.PromptResult{{Text: "recovered"}}}
		}
		handles = append(handles, h)
		return h
	}

	orch, store := newTestOrchestrator(t, provider)
	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "hello", nil, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v, want transparent recovery", err)
	}
	if result.AssistantMessage.Content != "recovered" {
		t.Errorf("assistant content = %q, want %q", result.AssistantMessage.Content, "recovered")
	}
	if got := provider.CreateCalls(); got != 2 {
		t.Errorf("CreateCalls() = %d, want 2 (original + one recovery)", got)
	}

	// The retry went out with the quoted context window prefix.
	retryInputs := handles[1].Inputs()
	if len(retryInputs) != 1 {
		t.Fatalf("retry handle saw %d prompts, want 1", len(retryInputs))
	}
	if !strings.Contains(retryInputs[0].Text, "Previous conversation:") {
		t.Errorf("retry prompt = %q, missing context window prefix", retryInputs[0].Text)
	}

	history, _ := store.LoadChatHistory(ctx, chat.ID)
	if len(history) != 2 {
		t.Errorf("history length = %d, want 2", len(history))
	}
}

func TestOrchestratorCrashTwiceSurfaces(t *testing.T) {
	ctx := context.Background()
	crash := &internal.ProviderError{Kind: internal.KindCrash, Op: "prompt", Err: errors.New("model process died")}

	provider := &testutil.FakeProvider{}
	provider.NewHandle = func() *testutil.FakeHandle {
		return &testutil.FakeHandle{Quota: 10000, Results: []testutil.PromptResult{{Err: crash}}}
	}

	orch, _ := newTestOrchestrator(t, provider)
	chat := internal.NewChat("")
	_, err := orch.Send(ctx, chat, "hello", nil, internal.SendOptions{})
	if err == nil {
		t.Fatal("Send() expected error after second crash, got nil")
	}
	// Exactly one recovery: the original guard plus one replacement.
	if got := provider.CreateCalls(); got != 2 {
		t.Errorf("CreateCalls() = %d, want 2", got)
	}
}

func TestOrchestratorQuotaFailureRetriesTruncated(t *testing.T) {
	ctx := context.Background()
	quotaErr := &internal.ProviderError{Kind: internal.KindQuotaExceeded, Op: "prompt", Err: errors.New("input too large")}
	handle := &testutil.FakeHandle{
		Quota: 10000,
		Results: []testutil.PromptResult{
			{Err: quotaErr},
			{Text: "fits now"},
		},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, _ := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "big question", nil, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v, want truncated retry to succeed", err)
	}
	if result.AssistantMessage.Content != "fits now" {
		t.Errorf("assistant content = %q, want %q", result.AssistantMessage.Content, "fits now")
	}
	if got := handle.Calls(); got != 2 {
		t.Errorf("prompt calls = %d, want 2", got)
	}
	// The guard survives a quota failure; no second session was created.
	if got := provider.CreateCalls(); got != 1 {
		t.Errorf("CreateCalls() = %d, want 1", got)
	}
}

func TestOrchestratorProactiveReset(t *testing.T) {
	ctx := context.Background()

	var created int
	provider := &testutil.FakeProvider{}
	provider.NewHandle = func() *testutil.FakeHandle {
		created++
		if created == 1 {
			// First handle is near its budget; sending would cross the
			// 75% threshold.
			return &testutil.FakeHandle{
				Quota: 1000, Usage: 800,
				MeasureFn: func(text string) int { return 150 },
				Results:   []testutil.PromptResult{{Text: "unused"}},
			}
		}
		return &testutil.FakeHandle{
			Quota:   1000,
			Results: []testutil.PromptResult{{Text: "fresh answer"}},
		}
	}

	orch, store := newTestOrchestrator(t, provider)
	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "next question", nil, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if len(result.SystemNotes) != 1 || result.SystemNotes[0] != internal.ContextClearedNote {
		t.Errorf("SystemNotes = %v, want the context-cleared note", result.SystemNotes)
	}
	if result.AssistantMessage.Content != "fresh answer" {
		t.Errorf("assistant content = %q, want it from the fresh session", result.AssistantMessage.Content)
	}
	if got := provider.CreateCalls(); got != 2 {
		t.Errorf("CreateCalls() = %d, want 2 (reset rebuilt the session)", got)
	}

	// The note is part of the durable history.
	history, _ := store.LoadChatHistory(ctx, chat.ID)
	var systemCount int
	for _, m := range history {
		if m.Role == internal.RoleSystem {
			systemCount++
		}
	}
	if systemCount != 1 {
		t.Errorf("persisted system notes = %d, want 1", systemCount)
	}
}

func TestOrchestratorDisabledRefusesSend(t *testing.T) {
	ctx := context.Background()
	provider := &testutil.FakeProvider{CreateErr: errors.New("creation always fails")}
	orch, _ := newTestOrchestrator(t, provider)

	if err := orch.Initialize(ctx); err == nil {
		t.Fatal("Initialize() expected error, got nil")
	}
	createsAfterInit := provider.CreateCalls()

	chat := internal.NewChat("")
	_, err := orch.Send(ctx, chat, "hello", nil, internal.SendOptions{})
	if err == nil {
		t.Fatal("Send() expected error on disabled session, got nil")
	}
	if !strings.Contains(err.Error(), "unavailable") {
		t.Errorf("Send() error = %v, want an unavailability message", err)
	}
	if got := provider.CreateCalls(); got != createsAfterInit {
		t.Errorf("Send() on disabled guard triggered %d extra create calls", got-createsAfterInit)
	}
}

func TestOrchestratorRegenerate(t *testing.T) {
	ctx := context.Background()
	handle := &testutil.FakeHandle{
		Quota: 10000,
		Results: []testutil.PromptResult{
			{Text: "first answer"},
			{Text: "second answer"},
		},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, store := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	if _, err := orch.Send(ctx, chat, "question", nil, internal.SendOptions{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	result, err := orch.Regenerate(ctx, chat, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Regenerate() error = %v", err)
	}
	if result.AssistantMessage.Content != "second answer" {
		t.Errorf("regenerated content = %q, want %q", result.AssistantMessage.Content, "second answer")
	}

	history, _ := store.LoadChatHistory(ctx, chat.ID)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want the old answer replaced", len(history))
	}
	if history[1].Content != "second answer" {
		t.Errorf("final assistant message = %q, want %q", history[1].Content, "second answer")
	}
}

func TestOrchestratorRegenerateEmptyChat(t *testing.T) {
	provider := &testutil.FakeProvider{Handle: &testutil.FakeHandle{Quota: 10000}}
	orch, _ := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	if _, err := orch.Regenerate(context.Background(), chat, internal.SendOptions{}); err == nil {
		t.Fatal("Regenerate() on empty chat expected error, got nil")
	}
}

func TestOrchestratorEdit(t *testing.T) {
	ctx := context.Background()
	handle := &testutil.FakeHandle{
		Quota: 10000,
		Results: []testutil.PromptResult{
			{Text: "answer one"},
			{Text: "answer two"},
			{Text: "revised answer"},
		},
	}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, store := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	if _, err := orch.Send(ctx, chat, "first question", nil, internal.SendOptions{}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	second, err := orch.Send(ctx, chat, "second question", nil, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	result, err := orch.Edit(ctx, chat, second.UserMessage.ID, "revised question", internal.SendOptions{})
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	if result.AssistantMessage.Content != "revised answer" {
		t.Errorf("edited answer = %q, want %q", result.AssistantMessage.Content, "revised answer")
	}

	history, _ := store.LoadChatHistory(ctx, chat.ID)
	if len(history) != 4 {
		t.Fatalf("history length = %d, want 4 (first exchange + edited exchange)", len(history))
	}
	if history[2].ID != second.UserMessage.ID {
		t.Error("edited message lost its identity")
	}
	if history[2].Content != "revised question" {
		t.Errorf("edited content = %q, want %q", history[2].Content, "revised question")
	}
	if history[3].Content != "revised answer" {
		t.Errorf("tail assistant = %q, want %q", history[3].Content, "revised answer")
	}
}

func TestOrchestratorEditRejectsAssistantMessage(t *testing.T) {
	ctx := context.Background()
	handle := &testutil.FakeHandle{Quota: 10000, Results: []testutil.PromptResult{{Text: "answer"}}}
	provider := &testutil.FakeProvider{Handle: handle}
	orch, _ := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	result, err := orch.Send(ctx, chat, "question", nil, internal.SendOptions{})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if _, err := orch.Edit(ctx, chat, result.AssistantMessage.ID, "nope", internal.SendOptions{}); err == nil {
		t.Fatal("Edit() on assistant message expected error, got nil")
	}
}

func TestOrchestratorSendRefusesLoadingUpload(t *testing.T) {
	provider := &testutil.FakeProvider{Handle: &testutil.FakeHandle{Quota: 10000}}
	orch, _ := newTestOrchestrator(t, provider)

	chat := internal.NewChat("")
	uploads := []*internal.UploadStaging{{Name: "slow.pdf", Status: internal.UploadLoading}}
	_, err := orch.Send(context.Background(), chat, "hi", uploads, internal.SendOptions{})
	var nre *internal.NotReadyError
	if !errors.As(err, &nre) {
		t.Fatalf("Send() error = %v, want NotReadyError", err)
	}
}

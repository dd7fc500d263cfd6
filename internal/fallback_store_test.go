package internal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

// flakyStore fails every write and records what was attempted.
type flakyStore struct {
	saveChatCalls    int
	saveMessageCalls int
	loadCalls        int
	history          []*Message
}

func (s *flakyStore) SaveChat(ctx context.Context, chat *Chat) error {
	s.saveChatCalls++
	return &StorageError{Backend: "remote", Op: "save_chat", Err: errors.New("connection refused")}
}

func (s *flakyStore) SaveMessage(ctx context.Context, msg *Message) error {
	s.saveMessageCalls++
	return &StorageError{Backend: "remote", Op: "save_message", Err: errors.New("connection refused")}
}

func (s *flakyStore) LoadChatHistory(ctx context.Context, chatID string) ([]*Message, error) {
	s.loadCalls++
	return s.history, nil
}

func (s *flakyStore) LoadAllChats(ctx context.Context) ([]*Chat, error) {
	s.loadCalls++
	return nil, nil
}

func (s *flakyStore) DeleteChat(ctx context.Context, chatID string) error { return nil }
func (s *flakyStore) Close() error                                        { return nil }

func newFallbackFixture(t *testing.T) (*FallbackStore, *flakyStore, *SQLiteStore) {
	t.Helper()
	remote := &flakyStore{}
	local, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "fallback.db"))
	if err != nil {
		t.Fatalf("OpenSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { local.Close() })
	return NewFallbackStore(remote, local), remote, local
}

func TestFallbackStoreWritesLandLocally(t *testing.T) {
	ctx := context.Background()
	store, remote, local := newFallbackFixture(t)

	chat := NewChat("offline chat")
	if err := store.SaveChat(ctx, chat); err != nil {
		t.Fatalf("SaveChat() error = %v", err)
	}
	msg := NewMessage(chat.ID, RoleUser, "hello", nil)
	if err := store.SaveMessage(ctx, msg); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	if remote.saveChatCalls != 1 || remote.saveMessageCalls != 1 {
		t.Errorf("remote calls = (%d, %d), want the remote tried first",
			remote.saveChatCalls, remote.saveMessageCalls)
	}
	history, err := local.LoadChatHistory(ctx, chat.ID)
	if err != nil {
		t.Fatalf("local LoadChatHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "hello" {
		t.Errorf("local history = %+v, want the fallen-back message", history)
	}
}

func TestFallbackStoreReadsStayRemote(t *testing.T) {
	ctx := context.Background()
	store, remote, local := newFallbackFixture(t)

	// Seed the local store directly; reads must not see it.
	chat := NewChat("local only")
	if err := local.SaveChat(ctx, chat); err != nil {
		t.Fatalf("local SaveChat() error = %v", err)
	}
	if err := local.SaveMessage(ctx, NewMessage(chat.ID, RoleUser, "hidden", nil)); err != nil {
		t.Fatalf("local SaveMessage() error = %v", err)
	}

	remote.history = []*Message{NewMessage(chat.ID, RoleUser, "remote truth", nil)}
	history, err := store.LoadChatHistory(ctx, chat.ID)
	if err != nil {
		t.Fatalf("LoadChatHistory() error = %v", err)
	}
	if len(history) != 1 || history[0].Content != "remote truth" {
		t.Errorf("history = %+v, want the remote copy only", history)
	}
}

func TestFallbackStoreTruncationRequiresEditor(t *testing.T) {
	store, _, _ := newFallbackFixture(t)

	err := store.DeleteMessagesAfter(context.Background(), "chat", "msg")
	if !errors.Is(err, errUnsupportedTruncation) {
		t.Errorf("DeleteMessagesAfter() error = %v, want unsupported truncation", err)
	}
	err = store.UpdateMessageContent(context.Background(), "msg", "new")
	if !errors.Is(err, errUnsupportedTruncation) {
		t.Errorf("UpdateMessageContent() error = %v, want unsupported truncation", err)
	}
}

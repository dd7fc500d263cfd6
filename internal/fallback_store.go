package internal

import (
	"context"
	"errors"
)

var errUnsupportedTruncation = errors.New("backend does not support history truncation")

// FallbackStore wraps the remote backend so that a failed write lands in
// the local store instead of being lost. The fallback covers that single
// write only; there is no reconciliation between the two stores, and the
// discrepancy is logged so it can be repaired by hand.
type FallbackStore struct {
	remote Store
	local  Store
}

// NewFallbackStore decorates remote with local-write fallback.
func NewFallbackStore(remote, local Store) *FallbackStore {
	return &FallbackStore{remote: remote, local: local}
}

// SaveChat writes to the remote store, falling back to local on failure.
func (f *FallbackStore) SaveChat(ctx context.Context, chat *Chat) error {
	err := f.remote.SaveChat(ctx, chat)
	if err == nil {
		return nil
	}

	LogWarn("remote save_chat failed, falling back to local store for chat %s: %v", chat.ID, err)
	if localErr := f.local.SaveChat(ctx, chat); localErr != nil {
		return localErr
	}
	return nil
}

// SaveMessage writes to the remote store, falling back to local on failure.
func (f *FallbackStore) SaveMessage(ctx context.Context, msg *Message) error {
	err := f.remote.SaveMessage(ctx, msg)
	if err == nil {
		return nil
	}

	LogWarn("remote save_message failed, falling back to local store for message %s (chat %s): %v",
		msg.ID, msg.ChatID, err)
	if localErr := f.local.SaveMessage(ctx, msg); localErr != nil {
		return localErr
	}
	return nil
}

// LoadChatHistory reads from the remote store only. Reads never fall back;
// mixing partially diverged histories would be worse than failing.
func (f *FallbackStore) LoadChatHistory(ctx context.Context, chatID string) ([]*Message, error) {
	return f.remote.LoadChatHistory(ctx, chatID)
}

// LoadAllChats reads from the remote store only.
func (f *FallbackStore) LoadAllChats(ctx context.Context) ([]*Chat, error) {
	return f.remote.LoadAllChats(ctx)
}

// DeleteChat deletes from the remote store only.
func (f *FallbackStore) DeleteChat(ctx context.Context, chatID string) error {
	return f.remote.DeleteChat(ctx, chatID)
}

// DeleteMessagesAfter forwards truncation to the remote store.
func (f *FallbackStore) DeleteMessagesAfter(ctx context.Context, chatID, messageID string) error {
	if editor, ok := f.remote.(MessageEditor); ok {
		return editor.DeleteMessagesAfter(ctx, chatID, messageID)
	}
	return &StorageError{Backend: "remote", Op: "delete",
		Err: errUnsupportedTruncation}
}

// UpdateMessageContent forwards the edit rewrite to the remote store.
func (f *FallbackStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	if editor, ok := f.remote.(MessageEditor); ok {
		return editor.UpdateMessageContent(ctx, messageID, content)
	}
	return &StorageError{Backend: "remote", Op: "save_message",
		Err: errUnsupportedTruncation}
}

// Close closes both stores, returning the first error.
func (f *FallbackStore) Close() error {
	remoteErr := f.remote.Close()
	localErr := f.local.Close()
	if remoteErr != nil {
		return remoteErr
	}
	return localErr
}

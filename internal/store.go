package internal

import "context"

// Store is the persistence port for chats and messages. Exactly one backend
// is active at a time, selected explicitly at startup: the local sqlite
// store or the remote session store (wrapped in its fallback decorator).
type Store interface {
	// SaveChat inserts the chat or updates its title and updated_at.
	SaveChat(ctx context.Context, chat *Chat) error

	// SaveMessage appends a message to its chat.
	SaveMessage(ctx context.Context, msg *Message) error

	// LoadChatHistory returns the chat's messages in storage order.
	LoadChatHistory(ctx context.Context, chatID string) ([]*Message, error)

	// LoadAllChats returns all chats ordered by creation time.
	LoadAllChats(ctx context.Context) ([]*Chat, error)

	// DeleteChat removes the chat and all its messages.
	DeleteChat(ctx context.Context, chatID string) error

	// Close releases backend resources.
	Close() error
}

// HistoryTruncator is implemented by backends that support the edit flow's
// history truncation.
type HistoryTruncator interface {
	// DeleteMessagesAfter removes every message in the chat that was
	// stored after the given message, excluding the message itself.
	DeleteMessagesAfter(ctx context.Context, chatID, messageID string) error
}

// MessageEditor extends truncation with in-place content rewrite, the two
// halves of the edit flow.
type MessageEditor interface {
	HistoryTruncator

	// UpdateMessageContent replaces the message's content, dropping its
	// attachments.
	UpdateMessageContent(ctx context.Context, messageID, content string) error
}

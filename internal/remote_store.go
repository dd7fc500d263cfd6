package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SessionPayload is the wire shape of one stored session.
type SessionPayload struct {
	ChatID    string     `json:"chat_id"`
	ChatTitle string     `json:"chat_title"`
	Messages  []*Message `json:"messages"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SessionSummary is one entry of the remote session listing.
type SessionSummary struct {
	ChatID       string    `json:"chat_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// StoragePathInfo describes the server-side storage configuration.
type StoragePathInfo struct {
	UsingServerStorage bool   `json:"using_server_storage"`
	Path               string `json:"path"`
}

// RemoteStore persists chats through the session storage service. The
// service stores whole sessions, so the store tracks each chat's title and
// message list locally and pushes the full session on every write.
type RemoteStore struct {
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	chats map[string]*Chat
	msgs  map[string][]*Message
}

// NewRemoteStore creates a client for the session storage service.
func NewRemoteStore(baseURL string) *RemoteStore {
	return &RemoteStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		chats:   make(map[string]*Chat),
		msgs:    make(map[string][]*Message),
	}
}

// GetStoragePath reports the server's storage configuration.
func (r *RemoteStore) GetStoragePath(ctx context.Context) (*StoragePathInfo, error) {
	var info StoragePathInfo
	if err := r.getJSON(ctx, "/get_storage_path", &info); err != nil {
		return nil, &StorageError{Backend: "remote", Op: "get_storage_path", Err: err}
	}
	return &info, nil
}

// SetStoragePath configures where the server stores sessions.
func (r *RemoteStore) SetStoragePath(ctx context.Context, path string) error {
	body := map[string]string{"path": path}
	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := r.postJSON(ctx, "/set_storage_path", body, &resp); err != nil {
		return &StorageError{Backend: "remote", Op: "set_storage_path", Err: err}
	}
	if !resp.Success {
		return &StorageError{Backend: "remote", Op: "set_storage_path", Err: fmt.Errorf("%s", resp.Error)}
	}
	return nil
}

// SaveChat records the chat and pushes its session.
func (r *RemoteStore) SaveChat(ctx context.Context, chat *Chat) error {
	r.mu.Lock()
	copied := *chat
	r.chats[chat.ID] = &copied
	r.mu.Unlock()

	return r.pushSession(ctx, chat.ID)
}

// SaveMessage appends the message and pushes the full session.
func (r *RemoteStore) SaveMessage(ctx context.Context, msg *Message) error {
	if _, err := r.history(ctx, msg.ChatID); err != nil {
		return err
	}

	r.mu.Lock()
	r.msgs[msg.ChatID] = append(r.msgs[msg.ChatID], msg)
	r.mu.Unlock()

	if err := r.pushSession(ctx, msg.ChatID); err != nil {
		// Roll the local append back so a later fallback write does not
		// double-count the message on a retried push.
		r.mu.Lock()
		list := r.msgs[msg.ChatID]
		if len(list) > 0 && list[len(list)-1].ID == msg.ID {
			r.msgs[msg.ChatID] = list[:len(list)-1]
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// LoadChatHistory fetches the chat's messages.
func (r *RemoteStore) LoadChatHistory(ctx context.Context, chatID string) ([]*Message, error) {
	return r.history(ctx, chatID)
}

// LoadAllChats lists the stored sessions.
func (r *RemoteStore) LoadAllChats(ctx context.Context) ([]*Chat, error) {
	var resp struct {
		Success  bool             `json:"success"`
		Count    int              `json:"count"`
		Sessions []SessionSummary `json:"sessions"`
		Error    string           `json:"error,omitempty"`
	}
	if err := r.getJSON(ctx, "/load_sessions", &resp); err != nil {
		return nil, &StorageError{Backend: "remote", Op: "load", Err: err}
	}
	if !resp.Success {
		return nil, &StorageError{Backend: "remote", Op: "load", Err: fmt.Errorf("%s", resp.Error)}
	}

	chats := make([]*Chat, 0, len(resp.Sessions))
	for _, s := range resp.Sessions {
		chats = append(chats, &Chat{
			ID:        s.ChatID,
			Title:     s.Title,
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return chats, nil
}

// DeleteChat is not supported by the session storage service; deletion is a
// local-backend concern.
func (r *RemoteStore) DeleteChat(ctx context.Context, chatID string) error {
	return &StorageError{Backend: "remote", Op: "delete",
		Err: fmt.Errorf("the session storage service does not support deletion")}
}

// DeleteMessagesAfter truncates the tracked history and pushes the shorter
// session, supporting the edit flow.
func (r *RemoteStore) DeleteMessagesAfter(ctx context.Context, chatID, messageID string) error {
	if _, err := r.history(ctx, chatID); err != nil {
		return err
	}

	r.mu.Lock()
	msgs := r.msgs[chatID]
	cut := -1
	for i, m := range msgs {
		if m.ID == messageID {
			cut = i
			break
		}
	}
	if cut >= 0 {
		r.msgs[chatID] = msgs[:cut+1]
	}
	r.mu.Unlock()

	if cut < 0 {
		return &StorageError{Backend: "remote", Op: "delete",
			Err: fmt.Errorf("message %s not found", messageID)}
	}
	return r.pushSession(ctx, chatID)
}

// UpdateMessageContent rewrites one tracked message and pushes the session.
func (r *RemoteStore) UpdateMessageContent(ctx context.Context, messageID, content string) error {
	r.mu.Lock()
	var chatID string
	for id, msgs := range r.msgs {
		for _, m := range msgs {
			if m.ID == messageID {
				m.Content = content
				m.Files = nil
				chatID = id
			}
		}
	}
	r.mu.Unlock()

	if chatID == "" {
		return &StorageError{Backend: "remote", Op: "save_message",
			Err: fmt.Errorf("message %s not found", messageID)}
	}
	return r.pushSession(ctx, chatID)
}

// Close releases nothing; the HTTP client has no persistent resources.
func (r *RemoteStore) Close() error {
	return nil
}

func (r *RemoteStore) history(ctx context.Context, chatID string) ([]*Message, error) {
	r.mu.Lock()
	if msgs, ok := r.msgs[chatID]; ok {
		r.mu.Unlock()
		return msgs, nil
	}
	r.mu.Unlock()

	// Stored sessions come back with a "title" key, unlike the
	// "chat_title" field used on save.
	var resp struct {
		Success bool `json:"success"`
		Session *struct {
			ChatID    string     `json:"chat_id"`
			Title     string     `json:"title"`
			CreatedAt time.Time  `json:"created_at"`
			UpdatedAt time.Time  `json:"updated_at"`
			Messages  []*Message `json:"messages"`
		} `json:"session"`
		Error string `json:"error,omitempty"`
	}
	if err := r.getJSON(ctx, "/load_session/"+chatID, &resp); err != nil {
		return nil, &StorageError{Backend: "remote", Op: "load", Err: err}
	}
	if !resp.Success || resp.Session == nil {
		// A chat that was never pushed has no remote session yet; treat
		// it as empty rather than failing the first message save.
		r.mu.Lock()
		r.msgs[chatID] = nil
		r.mu.Unlock()
		return nil, nil
	}

	r.mu.Lock()
	r.msgs[chatID] = resp.Session.Messages
	if _, ok := r.chats[chatID]; !ok {
		r.chats[chatID] = &Chat{
			ID:        resp.Session.ChatID,
			Title:     resp.Session.Title,
			CreatedAt: resp.Session.CreatedAt,
			UpdatedAt: resp.Session.UpdatedAt,
		}
	}
	msgs := r.msgs[chatID]
	r.mu.Unlock()

	return msgs, nil
}

func (r *RemoteStore) pushSession(ctx context.Context, chatID string) error {
	r.mu.Lock()
	chat, ok := r.chats[chatID]
	if !ok {
		chat = &Chat{ID: chatID, Title: "Untitled Chat", CreatedAt: time.Now().UTC()}
		r.chats[chatID] = chat
	}
	payload := SessionPayload{
		ChatID:    chat.ID,
		ChatTitle: chat.Title,
		Messages:  append([]*Message(nil), r.msgs[chatID]...),
		CreatedAt: chat.CreatedAt,
		UpdatedAt: time.Now().UTC(),
	}
	r.mu.Unlock()

	var resp struct {
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := r.postJSON(ctx, "/save_session", payload, &resp); err != nil {
		return &StorageError{Backend: "remote", Op: "save_message", Err: err}
	}
	if !resp.Success {
		return &StorageError{Backend: "remote", Op: "save_message", Err: fmt.Errorf("%s", resp.Error)}
	}
	return nil
}

func (r *RemoteStore) getJSON(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
	if err != nil {
		return err
	}
	return r.doJSON(req, out)
}

func (r *RemoteStore) postJSON(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return r.doJSON(req, out)
}

func (r *RemoteStore) doJSON(req *http.Request, out interface{}) error {
	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid response (HTTP %d): %w", resp.StatusCode, err)
	}
	return nil
}

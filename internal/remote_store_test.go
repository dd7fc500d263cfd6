package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeSessionService mimics the session storage service's wire behavior.
type fakeSessionService struct {
	mu       sync.Mutex
	sessions map[string]map[string]interface{}
	saves    int
}

func newFakeSessionService() *fakeSessionService {
	return &fakeSessionService{sessions: make(map[string]map[string]interface{})}
}

func (f *fakeSessionService) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /save_session", func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		chatID, _ := payload["chat_id"].(string)

		f.mu.Lock()
		f.saves++
		f.sessions[chatID] = map[string]interface{}{
			"chat_id":    chatID,
			"title":      payload["chat_title"],
			"created_at": payload["created_at"],
			"updated_at": time.Now().UTC().Format(time.RFC3339),
			"messages":   payload["messages"],
		}
		f.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "chat_id": chatID})
	})
	mux.HandleFunc("GET /load_session/{chat_id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		session, ok := f.sessions[r.PathValue("chat_id")]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": false, "error": "Session not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"success": true, "session": session})
	})
	mux.HandleFunc("GET /load_sessions", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		var sessions []map[string]interface{}
		for _, s := range f.sessions {
			sessions = append(sessions, map[string]interface{}{
				"chat_id":    s["chat_id"],
				"title":      s["title"],
				"created_at": s["created_at"],
				"updated_at": s["updated_at"],
			})
		}
		f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"success": true, "sessions": sessions, "count": len(sessions),
		})
	})
	mux.HandleFunc("GET /get_storage_path", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"path": "/srv/sessions", "using_server_storage": true,
		})
	})
	return mux
}

func TestRemoteStoreSaveMessagePushesSession(t *testing.T) {
	ctx := context.Background()
	service := newFakeSessionService()
	server := httptest.NewServer(service.handler())
	defer server.Close()

	store := NewRemoteStore(server.URL)
	chat := NewChat("remote chat")
	if err := store.SaveChat(ctx, chat); err != nil {
		t.Fatalf("SaveChat() error = %v", err)
	}
	if err := store.SaveMessage(ctx, NewMessage(chat.ID, RoleUser, "hello", nil)); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}
	if err := store.SaveMessage(ctx, NewMessage(chat.ID, RoleAssistant, "hi", nil)); err != nil {
		t.Fatalf("SaveMessage() error = %v", err)
	}

	// Each write pushes the whole session.
	service.mu.Lock()
	saves := service.saves
	stored := service.sessions[chat.ID]
	service.mu.Unlock()
	if saves != 3 {
		t.Errorf("saves = %d, want 3 (chat + two messages)", saves)
	}
	msgs, _ := stored["messages"].([]interface{})
	if len(msgs) != 2 {
		t.Errorf("stored messages = %d, want 2", len(msgs))
	}
}

func TestRemoteStoreLoadAllChats(t *testing.T) {
	ctx := context.Background()
	service := newFakeSessionService()
	server := httptest.NewServer(service.handler())
	defer server.Close()

	store := NewRemoteStore(server.URL)
	chat := NewChat("listed chat")
	if err := store.SaveChat(ctx, chat); err != nil {
		t.Fatalf("SaveChat() error = %v", err)
	}

	chats, err := store.LoadAllChats(ctx)
	if err != nil {
		t.Fatalf("LoadAllChats() error = %v", err)
	}
	if len(chats) != 1 || chats[0].ID != chat.ID {
		t.Errorf("LoadAllChats() = %+v, want the saved chat", chats)
	}
	if chats[0].Title != "listed chat" {
		t.Errorf("title = %q, want %q", chats[0].Title, "listed chat")
	}
}

func TestRemoteStoreUnknownSessionTreatedAsEmpty(t *testing.T) {
	ctx := context.Background()
	service := newFakeSessionService()
	server := httptest.NewServer(service.handler())
	defer server.Close()

	store := NewRemoteStore(server.URL)
	history, err := store.LoadChatHistory(ctx, "never-saved")
	if err != nil {
		t.Fatalf("LoadChatHistory() error = %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %d messages, want 0", len(history))
	}
}

func TestRemoteStoreTransportErrorSurfaces(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(nil)
	server.Close() // immediately unreachable

	store := NewRemoteStore(server.URL)
	_, err := store.LoadChatHistory(ctx, "any")
	if err == nil {
		t.Fatal("LoadChatHistory() against dead server expected error, got nil")
	}
	var se *StorageError
	if !errors.As(err, &se) {
		t.Errorf("error = %v, want StorageError", err)
	}
}

func TestRemoteStoreDeleteUnsupported(t *testing.T) {
	store := NewRemoteStore("http://localhost:1")
	if err := store.DeleteChat(context.Background(), "x"); err == nil {
		t.Error("DeleteChat() expected unsupported error, got nil")
	}
}

func TestRemoteStoreEditFlowPushesRewrittenSession(t *testing.T) {
	ctx := context.Background()
	service := newFakeSessionService()
	server := httptest.NewServer(service.handler())
	defer server.Close()

	store := NewRemoteStore(server.URL)
	chat := NewChat("edit me")
	if err := store.SaveChat(ctx, chat); err != nil {
		t.Fatalf("SaveChat() error = %v", err)
	}
	first := NewMessage(chat.ID, RoleUser, "original", nil)
	second := NewMessage(chat.ID, RoleAssistant, "stale answer", nil)
	for _, m := range []*Message{first, second} {
		if err := store.SaveMessage(ctx, m); err != nil {
			t.Fatalf("SaveMessage() error = %v", err)
		}
	}

	if err := store.DeleteMessagesAfter(ctx, chat.ID, first.ID); err != nil {
		t.Fatalf("DeleteMessagesAfter() error = %v", err)
	}
	if err := store.UpdateMessageContent(ctx, first.ID, "revised"); err != nil {
		t.Fatalf("UpdateMessageContent() error = %v", err)
	}

	service.mu.Lock()
	stored := service.sessions[chat.ID]
	service.mu.Unlock()
	msgs, _ := stored["messages"].([]interface{})
	if len(msgs) != 1 {
		t.Fatalf("stored messages = %d, want 1 after truncation", len(msgs))
	}
	entry, _ := msgs[0].(map[string]interface{})
	if entry["content"] != "revised" {
		t.Errorf("stored content = %v, want %q", entry["content"], "revised")
	}
}

func TestRemoteStoreGetStoragePath(t *testing.T) {
	service := newFakeSessionService()
	server := httptest.NewServer(service.handler())
	defer server.Close()

	store := NewRemoteStore(server.URL)
	info, err := store.GetStoragePath(context.Background())
	if err != nil {
		t.Fatalf("GetStoragePath() error = %v", err)
	}
	if !info.UsingServerStorage || info.Path != "/srv/sessions" {
		t.Errorf("GetStoragePath() = %+v, want configured path", info)
	}
}

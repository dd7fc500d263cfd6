package internal

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Chat represents one conversation. Only Title and UpdatedAt change after
// creation; deleting a chat cascades to its messages.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Message is one turn in a chat. Messages are immutable once persisted;
// the edit flow deletes later messages and re-sends instead of rewriting.
type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chat_id"`
	Role      Role             `json:"role"`
	Content   string           `json:"content"`
	Files     []FileAttachment `json:"files,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// FileAttachment is a processed upload frozen into its owning message at
// send time.
type FileAttachment struct {
	Name          string `json:"name"`
	Path          string `json:"path,omitempty"`
	MimeType      string `json:"mime_type"`
	ExtractedText string `json:"extracted_text,omitempty"`
	RawDataURI    string `json:"raw_data_uri,omitempty"`
	Width         int    `json:"width,omitempty"`
	Height        int    `json:"height,omitempty"`
	DurationSecs  int    `json:"duration_secs,omitempty"`
}

// IsImage reports whether the attachment carries an image payload.
func (f *FileAttachment) IsImage() bool {
	return strings.HasPrefix(f.MimeType, "image/")
}

// IsAudio reports whether the attachment carries an audio payload. Audio is
// displayed in the UI but never folded into a prompt.
func (f *FileAttachment) IsAudio() bool {
	return strings.HasPrefix(f.MimeType, "audio/")
}

// UploadStatus tracks an in-flight upload.
type UploadStatus string

const (
	UploadLoading UploadStatus = "loading"
	UploadSuccess UploadStatus = "success"
	UploadError   UploadStatus = "error"
)

// UploadStaging is the transient state of a selected file between "user
// picks files" and "user sends or clears". It is never persisted.
type UploadStaging struct {
	ID            string
	Name          string
	Path          string
	MimeType      string
	Status        UploadStatus
	ExtractedText string
	RawDataURI    string
	Err           error
}

// Attachment converts staged upload data into the attachment embedded in a
// message. Only meaningful once Status is UploadSuccess.
func (u *UploadStaging) Attachment() FileAttachment {
	return FileAttachment{
		Name:          u.Name,
		Path:          u.Path,
		MimeType:      u.MimeType,
		ExtractedText: u.ExtractedText,
		RawDataURI:    u.RawDataURI,
	}
}

// Turn is one quoted prior exchange used to rebuild continuity after the
// provider-side history is gone.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ConversationContext is the ordered list of prior turns passed into a model
// call. It is derived from stored messages, never stored itself.
type ConversationContext struct {
	Turns []Turn
}

// NewID generates an identifier for chats, messages and uploads.
func NewID() string {
	return uuid.NewString()
}

// NewChat creates a chat with a fresh id and both timestamps set to now.
func NewChat(title string) *Chat {
	now := time.Now().UTC()
	return &Chat{
		ID:        NewID(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewMessage creates a message owned by the given chat.
func NewMessage(chatID string, role Role, content string, files []FileAttachment) *Message {
	return &Message{
		ID:        NewID(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Files:     files,
		Timestamp: time.Now().UTC(),
	}
}

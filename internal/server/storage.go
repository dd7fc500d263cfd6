package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/optiease/edgechat/internal"
)

// ErrSessionNotFound indicates the requested session has never been saved.
var ErrSessionNotFound = errors.New("session not found")

// ErrNoStoragePath indicates no storage directory has been configured yet.
var ErrNoStoragePath = errors.New("storage path not configured")

// SessionRecord is one stored session as written to disk.
type SessionRecord struct {
	ChatID    string              `json:"chat_id"`
	Title     string              `json:"title"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
	Messages  []*internal.Message `json:"messages"`
}

// SessionSummary is the listing entry for one stored session.
type SessionSummary struct {
	ChatID       string    `json:"chat_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// SessionStorage persists whole chat sessions under a user-chosen
// directory. The directory choice itself survives restarts through a small
// JSON config file.
type SessionStorage struct {
	configFile string

	mu   sync.Mutex
	path string
}

// NewSessionStorage creates session storage whose directory choice is
// persisted in configFile. A previously saved choice is loaded if present.
func NewSessionStorage(configFile string) *SessionStorage {
	s := &SessionStorage{configFile: configFile}
	s.loadConfig()
	return s
}

func (s *SessionStorage) loadConfig() {
	data, err := os.ReadFile(s.configFile)
	if err != nil {
		return
	}
	var cfg struct {
		StoragePath string `json:"storage_path"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		internal.LogError("Error loading storage config: %v", err)
		return
	}
	if cfg.StoragePath != "" {
		s.path = cfg.StoragePath
		internal.LogInfo("Loaded storage path: %s", s.path)
	}
}

func (s *SessionStorage) saveConfig(path string) {
	data, err := json.MarshalIndent(map[string]string{"storage_path": path}, "", "  ")
	if err == nil {
		err = os.WriteFile(s.configFile, data, 0644)
	}
	if err != nil {
		internal.LogError("Error saving storage config: %v", err)
	}
}

// Path returns the configured storage directory, or empty when none is set.
func (s *SessionStorage) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// SetPath configures the storage directory. The directory is created when
// missing and must be writable.
func (s *SessionStorage) SetPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("no path provided")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return "", fmt.Errorf("cannot create directory: %w", err)
		}
	} else if err != nil {
		return "", fmt.Errorf("cannot access path: %w", err)
	} else if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory")
	}

	// Probe write permissions before committing to the directory.
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return "", fmt.Errorf("directory is not writable: %w", err)
	}
	_ = os.Remove(testFile)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	s.mu.Lock()
	s.path = abs
	s.mu.Unlock()

	s.saveConfig(abs)
	internal.LogInfo("Storage path set to: %s", abs)
	return abs, nil
}

// SaveSession writes the session and any attachment payloads to disk.
// Returns the chat folder path.
func (s *SessionStorage) SaveSession(rec *SessionRecord) (string, error) {
	root := s.Path()
	if root == "" {
		return "", ErrNoStoragePath
	}
	if rec.ChatID == "" {
		return "", fmt.Errorf("no chat_id provided")
	}
	if rec.Title == "" {
		rec.Title = "Untitled Chat"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()

	chatFolder := filepath.Join(root, "chat_"+rec.ChatID)
	if err := os.MkdirAll(chatFolder, 0755); err != nil {
		return "", fmt.Errorf("failed to create chat folder: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(filepath.Join(chatFolder, "session.json"), data, 0644); err != nil {
		return "", fmt.Errorf("failed to write session: %w", err)
	}

	// Attachment payloads live alongside the session so the folder is
	// self-contained.
	for _, msg := range rec.Messages {
		for _, f := range msg.Files {
			content := f.ExtractedText
			if content == "" {
				content = f.RawDataURI
			}
			if content == "" {
				continue
			}

			uploadPath := filepath.Join(chatFolder, "uploads", SanitizeFilename(f.Name))
			if err := os.MkdirAll(filepath.Dir(uploadPath), 0755); err != nil {
				return "", fmt.Errorf("failed to create uploads folder: %w", err)
			}
			if err := os.WriteFile(uploadPath, []byte(content), 0644); err != nil {
				return "", fmt.Errorf("failed to write upload %s: %w", f.Name, err)
			}
		}
	}

	internal.LogInfo("Saved session %s: %s", rec.ChatID, rec.Title)
	return chatFolder, nil
}

// LoadSessions lists every stored session, newest first.
func (s *SessionStorage) LoadSessions() ([]SessionSummary, error) {
	root := s.Path()
	if root == "" {
		return nil, ErrNoStoragePath
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	sessions := make([]SessionSummary, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "chat_") {
			continue
		}

		rec, err := s.readSession(filepath.Join(root, entry.Name(), "session.json"))
		if err != nil {
			// Skip folders with missing or unreadable session files.
			continue
		}

		sessions = append(sessions, SessionSummary{
			ChatID:       rec.ChatID,
			Title:        rec.Title,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
			MessageCount: len(rec.Messages),
		})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	return sessions, nil
}

// LoadSession reads one stored session by chat id.
func (s *SessionStorage) LoadSession(chatID string) (*SessionRecord, error) {
	root := s.Path()
	if root == "" {
		return nil, ErrNoStoragePath
	}

	rec, err := s.readSession(filepath.Join(root, "chat_"+chatID, "session.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (s *SessionStorage) readSession(path string) (*SessionRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &rec, nil
}

var invalidFilenameChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// SanitizeFilename makes a name safe for Windows and Unix filesystems.
// URLs are reduced to a meaningful short name first.
func SanitizeFilename(name string) string {
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") || strings.HasPrefix(name, "ftp://") {
		name = filenameFromURL(name)
	}

	name = invalidFilenameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, ". ")

	if name == "" {
		name = "unnamed_file"
	}

	if len(name) > 255 {
		ext := filepath.Ext(name)
		if ext != "" && len(ext) < 255 {
			name = name[:255-len(ext)] + ext
		} else {
			name = name[:255]
		}
	}

	return name
}

func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "url_content.txt"
	}

	if strings.Contains(parsed.Host, "youtube.com") || strings.Contains(parsed.Host, "youtu.be") {
		if id := ExtractVideoID(rawURL); id != "" {
			return "youtube_" + id + ".txt"
		}
		return "youtube_video.txt"
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if last := parts[len(parts)-1]; last != "" {
		return last
	}
	return strings.ReplaceAll(parsed.Host, ".", "_") + ".txt"
}

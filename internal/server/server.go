package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/optiease/edgechat/internal"
)

// Server exposes document conversion and session storage over HTTP. It is
// the backend counterpart of ConverterClient and RemoteStore.
type Server struct {
	converter   Converter
	transcripts TranscriptFetcher
	storage     *SessionStorage
}

// Option configures a Server.
type Option func(*Server)

// WithConverter replaces the native text converter.
func WithConverter(c Converter) Option {
	return func(s *Server) { s.converter = c }
}

// WithTranscriptFetcher enables YouTube transcript extraction.
func WithTranscriptFetcher(f TranscriptFetcher) Option {
	return func(s *Server) { s.transcripts = f }
}

// NewServer creates a server storing its session data choice in configFile.
func NewServer(configFile string, opts ...Option) *Server {
	s := &Server{
		converter: &TextConverter{},
		storage:   NewSessionStorage(configFile),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Storage exposes the session storage, mainly for tests.
func (s *Server) Storage() *SessionStorage {
	return s.storage
}

// Routes builds the request multiplexer.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /formats", s.handleFormats)
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("POST /convert-multiple", s.handleConvertMultiple)
	mux.HandleFunc("POST /youtube", s.handleYouTube)
	mux.HandleFunc("GET /get_storage_path", s.handleGetStoragePath)
	mux.HandleFunc("POST /set_storage_path", s.handleSetStoragePath)
	mux.HandleFunc("POST /save_session", s.handleSaveSession)
	mux.HandleFunc("GET /load_sessions", s.handleLoadSessions)
	mux.HandleFunc("GET /load_session/{chat_id}", s.handleLoadSession)
	return mux
}

// ListenAndServe runs the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	internal.LogInfo("Conversion server listening on %s", addr)
	return srv.ListenAndServe()
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string, extra map[string]interface{}) {
	body := map[string]interface{}{"error": message}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"supported_formats": FormatList(s.converter),
	})
}

func (s *Server) handleFormats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"formats": s.converter.Formats(),
	})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	switch {
	case strings.HasPrefix(contentType, "multipart/form-data"):
		s.convertUpload(w, r)
	case strings.HasPrefix(contentType, "application/json"):
		s.convertURL(w, r)
	default:
		writeError(w, http.StatusBadRequest, "Invalid request format. Send file or JSON with url", nil)
	}
}

func (s *Server) convertUpload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file selected", nil)
		return
	}
	defer func() { _ = file.Close() }()

	internal.LogInfo("Converting uploaded file: %s", header.Filename)

	doc, err := s.convertUploadedFile(r, file, header)
	if err != nil {
		internal.LogError("Conversion error: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Conversion failed: %v", err), nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"text":     doc.Text,
		"markdown": doc.Markdown,
		"title":    doc.Title,
		"filename": header.Filename,
	})
}

func (s *Server) convertUploadedFile(r *http.Request, file multipart.File, header *multipart.FileHeader) (*Document, error) {
	// Converters work on paths, so the upload lands in a temp file first.
	tmp, err := os.CreateTemp("", "convert_*"+filepath.Ext(header.Filename))
	if err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to stage upload: %w", err)
	}

	doc, err := s.converter.ConvertFile(r.Context(), tmpPath)
	if err != nil {
		return nil, err
	}
	// Titles derived from the staging path are meaningless; use the
	// uploaded name instead.
	doc.Title = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	return doc, nil
}

func (s *Server) convertURL(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: url or file", nil)
		return
	}

	internal.LogInfo("Converting from URL: %s", req.URL)

	if IsYouTubeURL(req.URL) {
		s.respondYouTube(w, r, req.URL)
		return
	}

	doc, err := s.converter.ConvertURL(r.Context(), req.URL)
	if err != nil {
		internal.LogError("Error converting URL: %v", err)
		writeError(w, http.StatusInternalServerError, "Conversion failed",
			map[string]interface{}{"message": err.Error(), "url": req.URL})
		return
	}

	if len(strings.TrimSpace(doc.Text)) < 10 {
		writeError(w, http.StatusInternalServerError, "No content extracted from URL",
			map[string]interface{}{"url": req.URL})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"text":       doc.Text,
		"markdown":   doc.Markdown,
		"title":      doc.Title,
		"source_url": req.URL,
		"type":       "url",
	})
}

func (s *Server) handleYouTube(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "Missing YouTube URL", nil)
		return
	}
	if !IsYouTubeURL(req.URL) {
		writeError(w, http.StatusBadRequest, "Invalid YouTube URL", nil)
		return
	}

	s.respondYouTube(w, r, req.URL)
}

func (s *Server) respondYouTube(w http.ResponseWriter, r *http.Request, rawURL string) {
	if s.transcripts == nil {
		writeError(w, http.StatusInternalServerError, "YouTube transcript extraction not available", nil)
		return
	}

	cleaned := CleanYouTubeURL(rawURL)
	internal.LogDebug("Cleaned URL: %s -> %s", rawURL, cleaned)

	transcript, err := FetchTranscript(r.Context(), s.transcripts, cleaned)
	if err != nil {
		internal.LogError("YouTube transcript extraction failed: %v", err)
		writeError(w, http.StatusInternalServerError, "YouTube transcript extraction failed",
			map[string]interface{}{"message": err.Error(), "url": cleaned})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"text":         transcript.Text,
		"markdown":     transcript.Text,
		"title":        fmt.Sprintf("YouTube Transcript (%s)", transcript.VideoID),
		"source_url":   cleaned,
		"type":         "youtube",
		"language":     transcript.Language,
		"is_generated": transcript.IsGenerated,
	})
}

func (s *Server) handleConvertMultiple(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "No files provided", nil)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, "No files selected", nil)
		return
	}

	results := make([]map[string]interface{}, 0, len(files))
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			results = append(results, map[string]interface{}{
				"filename": header.Filename, "error": err.Error(), "success": false,
			})
			continue
		}

		doc, err := s.convertUploadedFile(r, file, header)
		_ = file.Close()
		if err != nil {
			internal.LogError("Error converting %s: %v", header.Filename, err)
			results = append(results, map[string]interface{}{
				"filename": header.Filename, "error": err.Error(), "success": false,
			})
			continue
		}

		results = append(results, map[string]interface{}{
			"filename": header.Filename,
			"text":     doc.Text,
			"markdown": doc.Markdown,
			"title":    doc.Title,
			"success":  true,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"files":   results,
	})
}

func (s *Server) handleGetStoragePath(w http.ResponseWriter, r *http.Request) {
	path := s.storage.Path()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":                 path,
		"using_server_storage": path != "",
	})
}

func (s *Server) handleSetStoragePath(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "No path provided",
		})
		return
	}

	path, err := s.storage.SetPath(req.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"path":    path,
		"message": "Storage path configured successfully",
	})
}

func (s *Server) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChatID    string              `json:"chat_id"`
		ChatTitle string              `json:"chat_title"`
		Messages  []*internal.Message `json:"messages"`
		CreatedAt time.Time           `json:"created_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success": false, "error": "invalid request body",
		})
		return
	}

	rec := &SessionRecord{
		ChatID:    req.ChatID,
		Title:     req.ChatTitle,
		CreatedAt: req.CreatedAt,
		Messages:  req.Messages,
	}

	folder, err := s.storage.SaveSession(rec)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoStoragePath) || rec.ChatID == "" {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{
			"success": false, "error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"chat_id": rec.ChatID,
		"path":    folder,
		"message": fmt.Sprintf("Session saved to %s", folder),
	})
}

func (s *Server) handleLoadSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.storage.LoadSessions()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrNoStoragePath) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, map[string]interface{}{
			"success": false, "error": err.Error(),
		})
		return
	}

	internal.LogInfo("Loaded %d sessions from disk", len(sessions))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleLoadSession(w http.ResponseWriter, r *http.Request) {
	chatID := r.PathValue("chat_id")

	rec, err := s.storage.LoadSession(chatID)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotFound):
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"success": false, "error": "Session not found",
			})
		case errors.Is(err, ErrNoStoragePath):
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"success": false, "error": err.Error(),
			})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"success": false, "error": err.Error(),
			})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"session": rec,
	})
}

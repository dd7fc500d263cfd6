package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConverterClientConvertFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/convert" {
			t.Errorf("path = %q, want /convert", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile() error = %v", err)
		}
		defer file.Close()
		if header.Filename != "report.pdf" {
			t.Errorf("filename = %q, want %q", header.Filename, "report.pdf")
		}
		_ = json.NewEncoder(w).Encode(ConvertResult{
			Success: true, Text: "extracted text", Type: "document",
		})
	}))
	defer server.Close()

	client := NewConverterClient(server.URL)
	result, err := client.ConvertFile(context.Background(), "report.pdf", []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("ConvertFile() error = %v", err)
	}
	if result.Text != "extracted text" {
		t.Errorf("Text = %q, want %q", result.Text, "extracted text")
	}
}

func TestConverterClientConvertURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if body["url"] != "https://example.com/article" {
			t.Errorf("url = %q, want the requested URL", body["url"])
		}
		_ = json.NewEncoder(w).Encode(ConvertResult{Success: true, Text: "article body", Title: "Example"})
	}))
	defer server.Close()

	client := NewConverterClient(server.URL)
	result, err := client.ConvertURL(context.Background(), "https://example.com/article")
	if err != nil {
		t.Fatalf("ConvertURL() error = %v", err)
	}
	if result.Title != "Example" {
		t.Errorf("Title = %q, want %q", result.Title, "Example")
	}
}

func TestConverterClientConvertYouTubeEndpoint(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube" {
			t.Errorf("path = %q, want /youtube", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(ConvertResult{Success: true, Text: "transcript", Type: "youtube"})
	}))
	defer server.Close()

	client := NewConverterClient(server.URL)
	result, err := client.ConvertYouTube(context.Background(), "https://youtu.be/abc123")
	if err != nil {
		t.Fatalf("ConvertYouTube() error = %v", err)
	}
	if result.Type != "youtube" {
		t.Errorf("Type = %q, want %q", result.Type, "youtube")
	}
}

func TestConverterClientErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "service reports failure",
			status:  http.StatusOK,
			body:    `{"success": false, "error": "Unsupported file format"}`,
			wantMsg: "Unsupported file format",
		},
		{
			name:    "failure with message field only",
			status:  http.StatusInternalServerError,
			body:    `{"success": false, "message": "conversion timed out"}`,
			wantMsg: "conversion timed out",
		},
		{
			name:    "bare HTTP error",
			status:  http.StatusBadGateway,
			body:    `{"success": false}`,
			wantMsg: "HTTP 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewConverterClient(server.URL)
			_, err := client.ConvertFile(context.Background(), "bad.bin", []byte{0x00})
			if err == nil {
				t.Fatal("ConvertFile() expected error, got nil")
			}
			var ce *ConversionError
			if !errors.As(err, &ce) {
				t.Fatalf("error = %v, want ConversionError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestConverterClientHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q, want /health", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(HealthResult{
			Status:           "healthy",
			SupportedFormats: []string{"pdf", "docx", "txt"},
		})
	}))
	defer server.Close()

	client := NewConverterClient(server.URL)
	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health() error = %v", err)
	}
	if health.Status != "healthy" || len(health.SupportedFormats) != 3 {
		t.Errorf("Health() = %+v, want healthy with 3 formats", health)
	}
}

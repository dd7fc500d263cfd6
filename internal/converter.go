package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ConvertResult is the conversion service's response shape.
type ConvertResult struct {
	Success  bool   `json:"success"`
	Text     string `json:"text,omitempty"`
	Markdown string `json:"markdown,omitempty"`
	Title    string `json:"title,omitempty"`
	Type     string `json:"type,omitempty"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message,omitempty"`
}

// HealthResult is the conversion service's health check response.
type HealthResult struct {
	Status           string   `json:"status"`
	SupportedFormats []string `json:"supported_formats,omitempty"`
}

// ConverterClient talks to the document conversion service. The service's
// parsing internals are opaque; this client only knows the wire contract.
type ConverterClient struct {
	baseURL string
	client  *http.Client
}

// NewConverterClient creates a client for the service at baseURL.
func NewConverterClient(baseURL string) *ConverterClient {
	return &ConverterClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// ConvertFile uploads a file body for conversion to text.
func (c *ConverterClient) ConvertFile(ctx context.Context, filename string, data []byte) (*ConvertResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, &ConversionError{Source: filename, Err: err}
	}
	if _, err := part.Write(data); err != nil {
		return nil, &ConversionError{Source: filename, Err: err}
	}
	if err := writer.Close(); err != nil {
		return nil, &ConversionError{Source: filename, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/convert", &body)
	if err != nil {
		return nil, &ConversionError{Source: filename, Err: err}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	return c.do(req, filename)
}

// ConvertURL asks the service to convert remote content, including YouTube
// transcript extraction.
func (c *ConverterClient) ConvertURL(ctx context.Context, url string) (*ConvertResult, error) {
	return c.postJSON(ctx, "/convert", url)
}

// ConvertYouTube extracts a YouTube transcript through the dedicated
// endpoint.
func (c *ConverterClient) ConvertYouTube(ctx context.Context, url string) (*ConvertResult, error) {
	return c.postJSON(ctx, "/youtube", url)
}

// Health checks whether the conversion service is reachable.
func (c *ConverterClient) Health(ctx context.Context) (*HealthResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result HealthResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}
	return &result, nil
}

func (c *ConverterClient) postJSON(ctx context.Context, path, url string) (*ConvertResult, error) {
	payload, err := json.Marshal(map[string]string{"url": url})
	if err != nil {
		return nil, &ConversionError{Source: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &ConversionError{Source: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, url)
}

func (c *ConverterClient) do(req *http.Request, source string) (*ConvertResult, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ConversionError{Source: source, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConversionError{Source: source, Err: err}
	}

	var result ConvertResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &ConversionError{Source: source, Err: fmt.Errorf("invalid response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK || !result.Success {
		reason := result.Error
		if reason == "" {
			reason = result.Message
		}
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return nil, &ConversionError{Source: source, Err: fmt.Errorf("%s", reason)}
	}

	return &result, nil
}

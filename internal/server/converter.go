package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Document is the result of converting a file or URL to text.
type Document struct {
	Text     string
	Markdown string
	Title    string
}

// Converter turns uploaded files and remote URLs into plain text. The
// service does not care how a converter does its work; heavyweight parsers
// can be plugged in behind this interface.
type Converter interface {
	ConvertFile(ctx context.Context, path string) (*Document, error)
	ConvertURL(ctx context.Context, url string) (*Document, error)
	Formats() map[string]string
}

// textFormats maps extensions the native converter accepts to their mime
// types.
var textFormats = map[string]string{
	"txt":  "text/plain",
	"md":   "text/markdown",
	"csv":  "text/csv",
	"json": "application/json",
	"xml":  "application/xml",
	"html": "text/html",
	"htm":  "text/html",
	"yaml": "application/yaml",
	"yml":  "application/yaml",
	"log":  "text/plain",
}

// TextConverter handles the plain-text family of formats without external
// tooling. Anything else is rejected so callers can fall back to a richer
// converter.
type TextConverter struct{}

// ConvertFile reads a text-like file and returns its contents.
func (c *TextConverter) ConvertFile(ctx context.Context, path string) (*Document, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if _, ok := textFormats[ext]; !ok {
		return nil, fmt.Errorf("unsupported format: %s", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	text := string(data)
	return &Document{
		Text:     text,
		Markdown: text,
		Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
	}, nil
}

// ConvertURL is not supported by the native converter.
func (c *TextConverter) ConvertURL(ctx context.Context, url string) (*Document, error) {
	return nil, fmt.Errorf("url conversion requires an external converter")
}

// Formats returns the extensions this converter accepts.
func (c *TextConverter) Formats() map[string]string {
	return textFormats
}

// FormatList returns a converter's extensions in sorted order.
func FormatList(c Converter) []string {
	formats := c.Formats()
	list := make([]string, 0, len(formats))
	for ext := range formats {
		list = append(list, ext)
	}
	sort.Strings(list)
	return list
}

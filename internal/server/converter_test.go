package server

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestTextConverterConvertFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "readme.md")
	if err := os.WriteFile(path, []byte("# heading\nbody"), 0644); err != nil {
		t.Fatal(err)
	}

	conv := &TextConverter{}
	doc, err := conv.ConvertFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ConvertFile() error = %v", err)
	}
	if doc.Text != "# heading\nbody" {
		t.Errorf("Text = %q, want the file contents", doc.Text)
	}
	if doc.Title != "readme" {
		t.Errorf("Title = %q, want %q", doc.Title, "readme")
	}
}

func TestTextConverterRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image.png")
	if err := os.WriteFile(path, []byte{0x89}, 0644); err != nil {
		t.Fatal(err)
	}

	conv := &TextConverter{}
	if _, err := conv.ConvertFile(context.Background(), path); err == nil {
		t.Error("ConvertFile() on .png expected error, got nil")
	}
	if _, err := conv.ConvertURL(context.Background(), "https://example.com"); err == nil {
		t.Error("ConvertURL() expected unsupported error, got nil")
	}
}

func TestFormatListSorted(t *testing.T) {
	list := FormatList(&TextConverter{})
	if len(list) == 0 {
		t.Fatal("FormatList() returned nothing")
	}
	for i := 1; i < len(list); i++ {
		if list[i] < list[i-1] {
			t.Fatalf("list not sorted: %v", list)
		}
	}
}

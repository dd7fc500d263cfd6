package internal

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// textLikeExtensions are read directly without going through the converter.
var textLikeExtensions = map[string]bool{
	".txt": true, ".md": true, ".csv": true, ".json": true,
	".xml": true, ".yaml": true, ".yml": true, ".log": true,
	".go": true, ".py": true, ".js": true, ".ts": true,
}

// StageFile processes a local file into an upload staging record. Text
// files are read directly, images become data URIs for the model, and
// everything else goes through the conversion service.
func StageFile(ctx context.Context, path string, converter *ConverterClient) *UploadStaging {
	staging := &UploadStaging{
		ID:     NewID(),
		Name:   filepath.Base(path),
		Path:   path,
		Status: UploadLoading,
	}

	staging.MimeType = detectMimeType(path)

	data, err := os.ReadFile(path)
	if err != nil {
		staging.Status = UploadError
		staging.Err = fmt.Errorf("failed to read file: %w", err)
		return staging
	}

	switch {
	case strings.HasPrefix(staging.MimeType, "image/"),
		strings.HasPrefix(staging.MimeType, "audio/"):
		staging.RawDataURI = fmt.Sprintf("data:%s;base64,%s",
			staging.MimeType, base64.StdEncoding.EncodeToString(data))
		staging.Status = UploadSuccess

	case textLikeExtensions[strings.ToLower(filepath.Ext(path))]:
		staging.ExtractedText = string(data)
		staging.Status = UploadSuccess

	default:
		if converter == nil {
			staging.Status = UploadError
			staging.Err = fmt.Errorf("no converter configured for %s", staging.MimeType)
			return staging
		}
		result, err := converter.ConvertFile(ctx, staging.Name, data)
		if err != nil {
			staging.Status = UploadError
			staging.Err = err
			return staging
		}
		staging.ExtractedText = result.Text
		staging.Status = UploadSuccess
	}

	return staging
}

// StageURL creates a staging record for a URL attachment. The transcript is
// resolved lazily by the assembler right before assembly.
func StageURL(url string) *UploadStaging {
	return &UploadStaging{
		ID:       NewID(),
		Name:     url,
		Path:     url,
		MimeType: "text/x-uri",
		Status:   UploadSuccess,
	}
}

func detectMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t := mime.TypeByExtension(ext); t != "" {
		// Strip any charset parameter; attachments store the bare type.
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return "application/octet-stream"
}

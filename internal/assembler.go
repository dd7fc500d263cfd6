package internal

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Assembler converts user text plus staged attachments into the payload the
// model accepts. Images pass through as parts, text-bearing files are
// inlined as context, audio is excluded with a warning.
type Assembler struct {
	converter *ConverterClient
}

// NewAssembler creates an assembler. The converter resolves URL attachments
// to transcript text; it may be nil when URL attachments are not used.
func NewAssembler(converter *ConverterClient) *Assembler {
	return &Assembler{converter: converter}
}

// AssembledPrompt is the assembler's output: the budget-controller view of
// the prompt, the image parts to attach, any user-facing warnings, and the
// attachment records frozen into the persisted message.
type AssembledPrompt struct {
	Candidate   PromptCandidate
	Images      []FileAttachment
	Warnings    []string
	Attachments []FileAttachment
}

// Assemble produces the prompt payload. Attachments still loading refuse
// the whole send; there are no partial sends.
func (a *Assembler) Assemble(ctx context.Context, text string, uploads []*UploadStaging) (*AssembledPrompt, error) {
	for _, u := range uploads {
		if u.Status == UploadLoading {
			return nil, &NotReadyError{Name: u.Name}
		}
	}

	out := &AssembledPrompt{
		Candidate: PromptCandidate{Prompt: text},
	}

	for _, u := range uploads {
		if u.Status == UploadError {
			out.Warnings = append(out.Warnings, fmt.Sprintf("attachment %q failed to process and was skipped", u.Name))
			continue
		}

		att := u.Attachment()

		switch {
		case att.IsAudio():
			// The provider does not accept audio. The attachment stays
			// visible on the message, it just contributes no parts.
			out.Warnings = append(out.Warnings, fmt.Sprintf("audio attachment %q is not supported by the model and was ignored", u.Name))
			out.Attachments = append(out.Attachments, att)

		case att.IsImage():
			out.Images = append(out.Images, att)
			out.Attachments = append(out.Attachments, att)

		case isURLAttachment(&att):
			resolved := a.resolveURL(ctx, &att)
			out.Candidate.Files = append(out.Candidate.Files, FileSection{Name: att.Name, Text: resolved})
			att.ExtractedText = resolved
			out.Attachments = append(out.Attachments, att)

		default:
			if att.ExtractedText != "" {
				out.Candidate.Files = append(out.Candidate.Files, FileSection{Name: att.Name, Text: att.ExtractedText})
			}
			out.Attachments = append(out.Attachments, att)
		}
	}

	return out, nil
}

// Input builds the provider payload from the budget-approved rendered text.
// Plain mode when no image is attached; multipart with images first and one
// trailing text part otherwise.
func (p *AssembledPrompt) Input(rendered string) (PromptInput, error) {
	if len(p.Images) == 0 {
		return PromptInput{Text: rendered}, nil
	}

	parts := make([]PromptPart, 0, len(p.Images)+1)
	for _, img := range p.Images {
		data, mimeType, err := decodeDataURI(img.RawDataURI)
		if err != nil {
			return PromptInput{}, fmt.Errorf("failed to decode image %q: %w", img.Name, err)
		}
		if mimeType == "" {
			mimeType = img.MimeType
		}
		parts = append(parts, PromptPart{Kind: PartImage, Data: data, MimeType: mimeType})
	}
	if rendered != "" {
		parts = append(parts, PromptPart{Kind: PartText, Text: rendered})
	}

	return PromptInput{Parts: parts}, nil
}

// resolveURL fetches the transcript for a URL attachment, or a bracket
// placeholder when extraction fails.
func (a *Assembler) resolveURL(ctx context.Context, att *FileAttachment) string {
	if att.ExtractedText != "" {
		return att.ExtractedText
	}
	if a.converter == nil {
		return fmt.Sprintf("[transcript extraction unavailable for %s]", att.Path)
	}

	result, err := a.converter.ConvertURL(ctx, att.Path)
	if err != nil {
		LogWarn("transcript extraction failed for %s: %v", att.Path, err)
		return fmt.Sprintf("[transcript extraction failed for %s]", att.Path)
	}
	return result.Text
}

func isURLAttachment(att *FileAttachment) bool {
	return strings.HasPrefix(att.Path, "http://") || strings.HasPrefix(att.Path, "https://")
}

// decodeDataURI splits a data: URI into payload bytes and mime type.
func decodeDataURI(uri string) ([]byte, string, error) {
	if !strings.HasPrefix(uri, "data:") {
		return nil, "", fmt.Errorf("not a data URI")
	}

	rest := uri[len("data:"):]
	comma := strings.IndexByte(rest, ',')
	if comma < 0 {
		return nil, "", fmt.Errorf("malformed data URI")
	}

	meta := rest[:comma]
	payload := rest[comma+1:]

	mimeType := meta
	if i := strings.IndexByte(meta, ';'); i >= 0 {
		mimeType = meta[:i]
	}

	if strings.Contains(meta, "base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, "", fmt.Errorf("base64 decode failed: %w", err)
		}
		return data, mimeType, nil
	}
	return []byte(payload), mimeType, nil
}

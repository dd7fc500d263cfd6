package internal

import "context"

// Availability describes whether the on-device model can be used at all.
type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityUnavailable Availability = "unavailable"
)

// PartKind distinguishes the entries of a multipart prompt.
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// PromptPart is one entry of a structured prompt payload. Text parts carry
// the string in Text; image parts carry decoded bytes and their mime type.
type PromptPart struct {
	Kind     PartKind
	Text     string
	Data     []byte
	MimeType string
}

// PromptInput is the assembled payload handed to a model call. Either Text
// is set (plain mode) or Parts is non-empty (multipart mode), never both.
type PromptInput struct {
	Text  string
	Parts []PromptPart
}

// IsMultipart reports whether the input uses the structured form.
func (p PromptInput) IsMultipart() bool {
	return len(p.Parts) > 0
}

// CreateOptions is the minimal creation configuration the guard builds.
// Temperature and TopK are clamped before they get here. Accepted input
// kinds are text and image only; audio is deliberately never declared
// because declaring it makes creation fail on the real provider.
type CreateOptions struct {
	Model       string
	Temperature float32
	TopK        float32
	SystemNote  string
}

// Handle is one conversational context owned by the session guard. It is
// never handed to other components for direct mutation.
type Handle interface {
	// Prompt issues a blocking call and returns the full response text.
	Prompt(ctx context.Context, input PromptInput) (string, error)

	// PromptStreaming issues a streaming call. Chunks arrive on the
	// returned channel until it closes; the final error (nil on clean
	// completion) is delivered on the second channel exactly once.
	PromptStreaming(ctx context.Context, input PromptInput) (<-chan string, <-chan error)

	// MeasureInputUsage returns the token cost of the given text.
	MeasureInputUsage(ctx context.Context, text string) (int, error)

	// InputQuota is the token budget of this handle. Zero means unbounded.
	InputQuota() int

	// InputUsage is the token count already consumed by handle-internal
	// history.
	InputUsage() int

	// SetOverflowHandler registers a best-effort callback fired when the
	// provider reports a context overflow. Non-fatal, informational only.
	SetOverflowHandler(fn func(reason string))

	// Destroy releases the handle. Errors are reported but the handle is
	// unusable afterwards regardless.
	Destroy() error
}

// Provider is the narrow boundary to the on-device model. Implementations
// map their raw errors into ProviderError kinds; nothing above this
// interface inspects error strings.
type Provider interface {
	Availability(ctx context.Context) (Availability, error)
	Create(ctx context.Context, opts CreateOptions) (Handle, error)
}

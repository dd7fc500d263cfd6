package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"
)

// crashSignatures is the fixed set of keywords that identify a crash-like
// provider failure. This is the only place in the system allowed to match
// error strings; everything above the provider boundary matches kinds.
var crashSignatures = []string{
	"model crashed",
	"inference process",
	"internal error",
	"resource exhausted during generation",
}

// invalidatedSignatures identify a handle the provider tore down mid-use.
var invalidatedSignatures = []string{
	"session destroyed",
	"session is closed",
	"invalid session",
}

// GenAIProvider implements Provider over the Gemini API. One instance is
// shared by the whole process.
type GenAIProvider struct {
	cfg    ProviderConfig
	client *genai.Client
}

// NewGenAIProvider creates the provider. The API key falls back to the
// GEMINI_API_KEY environment variable when unset in config.
func NewGenAIProvider(ctx context.Context, cfg ProviderConfig) (*GenAIProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ProviderError{Kind: KindUnknown, Op: "create", Err: err}
	}

	return &GenAIProvider{cfg: cfg, client: client}, nil
}

// Availability probes the model with a one-token measurement. The guard
// calls this once and caches the answer.
func (p *GenAIProvider) Availability(ctx context.Context) (Availability, error) {
	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	_, err := p.client.Models.CountTokens(ctx, p.cfg.Model, contents, nil)
	if err != nil {
		return AvailabilityUnavailable, mapGenAIError("availability", err)
	}
	return AvailabilityAvailable, nil
}

// Create opens a fresh conversational handle. Exactly one call per guard
// creation attempt; retries are the guard's policy decision, not ours.
func (p *GenAIProvider) Create(ctx context.Context, opts CreateOptions) (Handle, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](opts.Temperature),
		TopK:        genai.Ptr[float32](opts.TopK),
	}
	if opts.SystemNote != "" {
		cfg.SystemInstruction = genai.NewContentFromText(opts.SystemNote, genai.RoleUser)
	}

	chat, err := p.client.Chats.Create(ctx, opts.Model, cfg, nil)
	if err != nil {
		return nil, mapGenAIError("create", err)
	}

	return &genAIHandle{
		provider: p,
		chat:     chat,
		quota:    p.cfg.ContextWindow,
	}, nil
}

// genAIHandle adapts one genai chat to the Handle contract. The Gemini API
// does not report a per-session quota, so the handle carries the configured
// context window and accumulates usage from response metadata.
type genAIHandle struct {
	provider *GenAIProvider
	chat     *genai.Chat

	quota    int
	usage    atomic.Int64
	mu       sync.Mutex
	overflow func(reason string)
	dead     bool
}

func (h *genAIHandle) Prompt(ctx context.Context, input PromptInput) (string, error) {
	if err := h.alive(); err != nil {
		return "", err
	}

	resp, err := h.chat.SendMessage(ctx, toGenAIParts(input)...)
	if err != nil {
		return "", mapGenAIError("prompt", err)
	}

	h.recordUsage(resp)
	return resp.Text(), nil
}

func (h *genAIHandle) PromptStreaming(ctx context.Context, input PromptInput) (<-chan string, <-chan error) {
	chunks := make(chan string)
	done := make(chan error, 1)

	if err := h.alive(); err != nil {
		close(chunks)
		done <- err
		return chunks, done
	}

	go func() {
		defer close(chunks)
		for resp, err := range h.chat.SendMessageStream(ctx, toGenAIParts(input)...) {
			if err != nil {
				done <- mapGenAIError("prompt", err)
				return
			}
			h.recordUsage(resp)
			text := resp.Text()
			if text == "" {
				continue
			}
			select {
			case chunks <- text:
			case <-ctx.Done():
				done <- &ProviderError{Kind: KindCancelled, Op: "prompt", Err: ctx.Err()}
				return
			}
		}
		done <- nil
	}()

	return chunks, done
}

func (h *genAIHandle) MeasureInputUsage(ctx context.Context, text string) (int, error) {
	if err := h.alive(); err != nil {
		return 0, err
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}
	resp, err := h.provider.client.Models.CountTokens(ctx, h.provider.cfg.Model, contents, nil)
	if err != nil {
		return 0, mapGenAIError("measure", err)
	}
	return int(resp.TotalTokens), nil
}

func (h *genAIHandle) InputQuota() int {
	return h.quota
}

func (h *genAIHandle) InputUsage() int {
	return int(h.usage.Load())
}

func (h *genAIHandle) SetOverflowHandler(fn func(reason string)) {
	h.mu.Lock()
	h.overflow = fn
	h.mu.Unlock()
}

// Destroy drops the chat reference. The remote side has nothing to release
// explicitly; a dead handle just refuses further calls.
func (h *genAIHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dead = true
	h.chat = nil
	return nil
}

func (h *genAIHandle) alive() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dead || h.chat == nil {
		return &ProviderError{Kind: KindInvalidated, Op: "prompt", Err: errors.New("handle destroyed")}
	}
	return nil
}

// recordUsage folds response token metadata into the usage counter and
// fires the overflow watcher when the tracked history outgrows the quota.
func (h *genAIHandle) recordUsage(resp *genai.GenerateContentResponse) {
	if resp == nil || resp.UsageMetadata == nil {
		return
	}
	total := int64(resp.UsageMetadata.TotalTokenCount)
	if total <= h.usage.Load() {
		return
	}
	h.usage.Store(total)

	if h.quota > 0 && int(total) > h.quota {
		h.mu.Lock()
		fn := h.overflow
		h.mu.Unlock()
		if fn != nil {
			fn(fmt.Sprintf("tracked usage %d exceeds quota %d", total, h.quota))
		}
	}
}

func toGenAIParts(input PromptInput) []genai.Part {
	if !input.IsMultipart() {
		return []genai.Part{{Text: input.Text}}
	}

	parts := make([]genai.Part, 0, len(input.Parts))
	for _, p := range input.Parts {
		switch p.Kind {
		case PartImage:
			parts = append(parts, genai.Part{
				InlineData: &genai.Blob{MIMEType: p.MimeType, Data: p.Data},
			})
		default:
			parts = append(parts, genai.Part{Text: p.Text})
		}
	}
	return parts
}

// mapGenAIError translates a raw genai failure into the structured taxonomy.
func mapGenAIError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: KindCancelled, Op: op, Err: err}
	}

	msg := strings.ToLower(err.Error())

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 429:
			return &ProviderError{Kind: KindQuotaExceeded, Op: op, Err: err}
		case 401, 403:
			return &ProviderError{Kind: KindDisabled, Op: op, Err: err}
		case 404:
			return &ProviderError{Kind: KindInvalidated, Op: op, Err: err}
		}
	}

	for _, sig := range invalidatedSignatures {
		if strings.Contains(msg, sig) {
			return &ProviderError{Kind: KindInvalidated, Op: op, Err: err}
		}
	}
	for _, sig := range crashSignatures {
		if strings.Contains(msg, sig) {
			return &ProviderError{Kind: KindCrash, Op: op, Err: err}
		}
	}
	if strings.Contains(msg, "quota") || strings.Contains(msg, "too large") ||
		strings.Contains(msg, "exceeds the maximum") {
		return &ProviderError{Kind: KindQuotaExceeded, Op: op, Err: err}
	}

	return &ProviderError{Kind: KindUnknown, Op: op, Err: err}
}

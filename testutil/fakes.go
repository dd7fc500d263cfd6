package testutil

import (
	"context"
	"sync"

	"github.com/optiease/edgechat/internal"
)

// PromptResult scripts the outcome of one model call on a FakeHandle.
type PromptResult struct {
	// Text is the blocking response. Streaming calls emit Chunks; when
	// Chunks is nil the Text is emitted as a single chunk.
	Text   string
	Chunks []string
	// Err is returned after ErrAfter chunks have been delivered
	// (streaming) or immediately (blocking).
	Err      error
	ErrAfter int
}

// FakeHandle is a scriptable model handle. Calls consume Results in order;
// running past the script returns empty successful responses.
type FakeHandle struct {
	mu sync.Mutex

	Results []PromptResult
	Quota   int
	Usage   int
	// MeasureFn overrides token measurement; the default charges one
	// token per four characters.
	MeasureFn func(text string) int

	calls     int
	inputs    []internal.PromptInput
	destroyed bool
	overflow  func(reason string)

	DestroyErr error
	MeasureErr error
}

func (h *FakeHandle) next(input internal.PromptInput) PromptResult {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inputs = append(h.inputs, input)
	if h.calls >= len(h.Results) {
		h.calls++
		return PromptResult{}
	}
	r := h.Results[h.calls]
	h.calls++
	return r
}

// Prompt returns the next scripted result.
func (h *FakeHandle) Prompt(ctx context.Context, input internal.PromptInput) (string, error) {
	r := h.next(input)
	if r.Err != nil {
		return "", r.Err
	}
	if r.Text == "" && len(r.Chunks) > 0 {
		text := ""
		for _, c := range r.Chunks {
			text += c
		}
		return text, nil
	}
	return r.Text, nil
}

// PromptStreaming emits the next scripted result as a chunk sequence.
func (h *FakeHandle) PromptStreaming(ctx context.Context, input internal.PromptInput) (<-chan string, <-chan error) {
	r := h.next(input)

	chunks := r.Chunks
	if chunks == nil && r.Text != "" {
		chunks = []string{r.Text}
	}

	out := make(chan string)
	done := make(chan error, 1)
	go func() {
		defer close(out)
		for i, chunk := range chunks {
			if r.Err != nil && i >= r.ErrAfter {
				break
			}
			select {
			case <-ctx.Done():
				done <- &internal.ProviderError{Kind: internal.KindCancelled, Op: "prompt", Err: ctx.Err()}
				return
			case out <- chunk:
			}
		}
		done <- r.Err
	}()
	return out, done
}

// MeasureInputUsage measures text with MeasureFn or the default rate.
func (h *FakeHandle) MeasureInputUsage(ctx context.Context, text string) (int, error) {
	if h.MeasureErr != nil {
		return 0, h.MeasureErr
	}
	if h.MeasureFn != nil {
		return h.MeasureFn(text), nil
	}
	return len(text) / 4, nil
}

// InputQuota returns the scripted quota.
func (h *FakeHandle) InputQuota() int { return h.Quota }

// InputUsage returns the scripted usage.
func (h *FakeHandle) InputUsage() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.Usage
}

// SetUsage adjusts the reported usage mid-test.
func (h *FakeHandle) SetUsage(usage int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Usage = usage
}

// SetOverflowHandler records the overflow callback.
func (h *FakeHandle) SetOverflowHandler(fn func(reason string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overflow = fn
}

// FireOverflow invokes the registered overflow callback.
func (h *FakeHandle) FireOverflow(reason string) {
	h.mu.Lock()
	fn := h.overflow
	h.mu.Unlock()
	if fn != nil {
		fn(reason)
	}
}

// Destroy marks the handle destroyed.
func (h *FakeHandle) Destroy() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.destroyed = true
	return h.DestroyErr
}

// Destroyed reports whether Destroy was called.
func (h *FakeHandle) Destroyed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.destroyed
}

// Calls reports how many prompt calls were made.
func (h *FakeHandle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Inputs returns the prompt inputs seen so far.
func (h *FakeHandle) Inputs() []internal.PromptInput {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]internal.PromptInput(nil), h.inputs...)
}

// FakeProvider is a scriptable model provider that counts creation calls.
type FakeProvider struct {
	mu sync.Mutex

	Avail     internal.Availability
	AvailErr  error
	CreateErr error
	// Handle is returned by every Create. NewHandle takes precedence
	// when set, producing a fresh handle per call.
	Handle    *FakeHandle
	NewHandle func() *FakeHandle

	availCalls  int
	createCalls int
}

// Availability returns the scripted availability.
func (p *FakeProvider) Availability(ctx context.Context) (internal.Availability, error) {
	p.mu.Lock()
	p.availCalls++
	p.mu.Unlock()
	if p.AvailErr != nil {
		return internal.AvailabilityUnavailable, p.AvailErr
	}
	if p.Avail == "" {
		return internal.AvailabilityAvailable, nil
	}
	return p.Avail, nil
}

// Create returns the scripted handle or error.
func (p *FakeProvider) Create(ctx context.Context, opts internal.CreateOptions) (internal.Handle, error) {
	p.mu.Lock()
	p.createCalls++
	p.mu.Unlock()
	if p.CreateErr != nil {
		return nil, p.CreateErr
	}
	if p.NewHandle != nil {
		return p.NewHandle(), nil
	}
	if p.Handle != nil {
		return p.Handle, nil
	}
	return &FakeHandle{}, nil
}

// CreateCalls reports how many times Create was invoked.
func (p *FakeProvider) CreateCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.createCalls
}

// AvailabilityCalls reports how many times Availability was invoked.
func (p *FakeProvider) AvailabilityCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.availCalls
}

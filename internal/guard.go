package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

// SessionState is the lifecycle state of the guard's single model handle.
type SessionState int

const (
	StateUninitialized SessionState = iota
	StateCreating
	StateReady
	// StateDisabled is terminal for this guard instance. The provider is
	// known to enter an unrecoverable host-level lockout when creation is
	// retried after certain failure classes, so every creation failure is
	// treated as potentially fatal and never retried here.
	StateDisabled
)

func (s SessionState) String() string {
	switch s {
	case StateCreating:
		return "creating"
	case StateReady:
		return "ready"
	case StateDisabled:
		return "disabled"
	default:
		return "uninitialized"
	}
}

// SessionGuard owns the lifecycle of the single model handle. All access to
// the handle goes through Ensure/Prompt/Reset/Destroy; the handle is never
// exposed for direct mutation elsewhere.
type SessionGuard struct {
	provider Provider
	opts     CreateOptions

	mu     sync.Mutex
	state  SessionState
	handle Handle
	reason string

	availOnce    sync.Once
	availability Availability
	availErr     error

	create singleflight.Group
}

// NewSessionGuard builds a guard over the given provider. Sampling
// parameters in opts are clamped by the caller before construction.
func NewSessionGuard(provider Provider, opts CreateOptions) *SessionGuard {
	return &SessionGuard{
		provider: provider,
		opts:     opts,
		state:    StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (g *SessionGuard) State() SessionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// DisabledReason returns the recorded reason once the guard is disabled.
func (g *SessionGuard) DisabledReason() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reason
}

// Ensure returns the current handle, creating one if necessary. Concurrent
// callers during creation share the same in-flight attempt; a second
// creation while one is pending is itself a crash risk.
func (g *SessionGuard) Ensure(ctx context.Context) (Handle, error) {
	g.mu.Lock()
	switch {
	case g.state == StateDisabled:
		reason := g.reason
		g.mu.Unlock()
		return nil, &DisabledError{Reason: reason}
	case g.state == StateReady && g.handle != nil:
		h := g.handle
		g.mu.Unlock()
		return h, nil
	}
	g.mu.Unlock()

	v, err, _ := g.create.Do("create", func() (interface{}, error) {
		return g.createHandle(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Handle), nil
}

// createHandle performs the one-shot creation protocol. Any failure
// transitions to Disabled; there is no retry at this layer.
func (g *SessionGuard) createHandle(ctx context.Context) (Handle, error) {
	g.mu.Lock()
	if g.state == StateDisabled {
		reason := g.reason
		g.mu.Unlock()
		return nil, &DisabledError{Reason: reason}
	}
	if g.state == StateReady && g.handle != nil {
		h := g.handle
		g.mu.Unlock()
		return h, nil
	}
	g.state = StateCreating
	g.mu.Unlock()

	// Availability is queried once and cached for the lifetime of this
	// guard instance.
	g.availOnce.Do(func() {
		g.availability, g.availErr = g.provider.Availability(ctx)
	})
	if g.availErr != nil {
		g.disable(fmt.Sprintf("availability check failed: %v", g.availErr))
		return nil, &DisabledError{Reason: g.DisabledReason()}
	}
	if g.availability != AvailabilityAvailable {
		g.disable("model reported unavailable")
		return nil, &DisabledError{Reason: g.DisabledReason()}
	}

	handle, err := g.provider.Create(ctx, g.opts)
	if err != nil {
		g.disable(fmt.Sprintf("session creation failed: %v", err))
		return nil, err
	}

	handle.SetOverflowHandler(func(reason string) {
		// Overflow is informational. The budget controller resets
		// proactively before the provider starts evicting turns; if we
		// still get here, log it so the eviction is at least visible.
		LogWarn("provider reported context overflow: %s", reason)
	})

	g.mu.Lock()
	g.state = StateReady
	g.handle = handle
	g.mu.Unlock()

	return handle, nil
}

// Prompt issues a single blocking call. One attempt, no retry; failures are
// classified and may disable the guard.
func (g *SessionGuard) Prompt(ctx context.Context, input PromptInput) (string, error) {
	handle, err := g.Ensure(ctx)
	if err != nil {
		return "", err
	}

	text, err := handle.Prompt(ctx, input)
	if err != nil {
		return "", g.classifyPromptFailure(err)
	}
	return text, nil
}

// PromptStreaming issues a single streaming call. The final error on the
// second channel has already been through failure classification.
func (g *SessionGuard) PromptStreaming(ctx context.Context, input PromptInput) (<-chan string, <-chan error) {
	chunks := make(chan string)
	done := make(chan error, 1)

	handle, err := g.Ensure(ctx)
	if err != nil {
		close(chunks)
		done <- err
		return chunks, done
	}

	rawChunks, rawDone := handle.PromptStreaming(ctx, input)
	go func() {
		defer close(chunks)
		for chunk := range rawChunks {
			chunks <- chunk
		}
		if err := <-rawDone; err != nil {
			done <- g.classifyPromptFailure(err)
			return
		}
		done <- nil
	}()

	return chunks, done
}

// classifyPromptFailure applies the prompt error policy: quota and
// cancellation are expected and recoverable by the caller; invalidation
// clears the handle and disables to prevent repeated invalidation loops;
// everything else is assumed provider instability and disables.
func (g *SessionGuard) classifyPromptFailure(err error) error {
	switch ClassifyError(err) {
	case KindQuotaExceeded, KindCancelled:
		return err
	case KindDisabled:
		return err
	case KindInvalidated:
		g.clearHandle()
		g.disable("handle invalidated mid-use")
		return err
	default:
		g.disable(fmt.Sprintf("prompt failed: %v", err))
		return err
	}
}

// Reset destroys the current handle and returns to Uninitialized. Only
// permitted from Ready; disabling is terminal and not reversible by reset.
func (g *SessionGuard) Reset(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateDisabled {
		return &DisabledError{Reason: g.reason}
	}
	if g.state != StateReady {
		return fmt.Errorf("reset not permitted from state %s", g.state)
	}

	if g.handle != nil {
		if err := g.handle.Destroy(); err != nil {
			LogWarn("handle destroy during reset: %v", err)
		}
	}
	g.handle = nil
	g.state = StateUninitialized
	return nil
}

// Destroy releases the handle best-effort. Errors are logged and swallowed;
// the local reference is always cleared.
func (g *SessionGuard) Destroy() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.handle != nil {
		if err := g.handle.Destroy(); err != nil {
			LogWarn("handle destroy: %v", err)
		}
	}
	g.handle = nil
	if g.state == StateReady || g.state == StateCreating {
		g.state = StateUninitialized
	}
}

// Healthy reports whether the guard holds a usable handle. The structural
// check is free; when inconclusive the caller may follow up with a
// measurement probe.
func (g *SessionGuard) Healthy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state == StateReady && g.handle != nil
}

func (g *SessionGuard) clearHandle() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handle != nil {
		if err := g.handle.Destroy(); err != nil {
			LogDebug("handle destroy after invalidation: %v", err)
		}
	}
	g.handle = nil
}

func (g *SessionGuard) disable(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == StateDisabled {
		return
	}
	LogError("disabling model sessions: %s", reason)
	g.state = StateDisabled
	g.reason = reason
	g.handle = nil
}

// ErrNoHandle signals a liveness probe against a guard with no handle.
var ErrNoHandle = errors.New("no active handle")

// Probe runs the expensive liveness check: a one-token measurement through
// the handle. Used by the orchestrator only when the structural health check
// is inconclusive.
func (g *SessionGuard) Probe(ctx context.Context) error {
	g.mu.Lock()
	handle := g.handle
	g.mu.Unlock()

	if handle == nil {
		return ErrNoHandle
	}
	_, err := handle.MeasureInputUsage(ctx, "ping")
	return err
}

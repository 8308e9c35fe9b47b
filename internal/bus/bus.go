// Package bus provides the in-process asynchronous request/response
// substrate used for local orchestration. Handlers are keyed by agent
// category; every send gets an independent timeout and a correlated
// response.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	// ErrDuplicateHandler is returned when registering a category that
	// already has a handler.
	ErrDuplicateHandler = errors.New("bus: handler already registered")
	// ErrNoHandler is returned synchronously when sending to a category
	// with no registered handler. It is a setup error, not a Response.
	ErrNoHandler = errors.New("bus: no handler registered")
	// ErrBusClosed is returned when sending on a bus after Shutdown.
	ErrBusClosed = errors.New("bus: shut down")
)

// DefaultTimeout bounds a send when the caller passes no timeout.
const DefaultTimeout = 30 * time.Second

// Handler processes a request for one agent category. It may block; the bus
// races it against the request timeout. Returning an error yields a failed
// response for the sender, it never propagates.
type Handler func(ctx context.Context, req *models.Request) (*models.Response, error)

// MessageBus routes requests to category-keyed handlers. All methods are
// safe for concurrent use, and a handler may itself send requests to other
// categories without deadlocking.
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	closed   bool

	// ctx is cancelled at shutdown so in-flight requests can stop early.
	ctx    context.Context
	cancel context.CancelFunc

	pending atomic.Int64
}

// New creates an empty message bus.
func New() *MessageBus {
	ctx, cancel := context.WithCancel(context.Background())
	return &MessageBus{
		handlers: make(map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterHandler binds a handler to a category. Registering a category
// twice fails with ErrDuplicateHandler.
func (b *MessageBus) RegisterHandler(category string, h Handler) error {
	if h == nil {
		return fmt.Errorf("bus: nil handler for category %q", category)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	if _, ok := b.handlers[category]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, category)
	}
	b.handlers[category] = h
	return nil
}

// UnregisterHandler removes the handler for a category. Removing an absent
// category is a no-op.
func (b *MessageBus) UnregisterHandler(category string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, category)
}

// HasHandler reports whether a handler is registered for the category.
func (b *MessageBus) HasHandler(category string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.handlers[category]
	return ok
}

// Categories returns the categories with registered handlers.
func (b *MessageBus) Categories() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.handlers))
	for c := range b.handlers {
		out = append(out, c)
	}
	return out
}

// PendingRequests returns the approximate number of in-flight sends.
func (b *MessageBus) PendingRequests() int {
	return int(b.pending.Load())
}

// SendRequest builds a request for the category and waits for its response,
// bounded by timeout (DefaultTimeout when zero). correlationID, when
// non-empty, is used as the request ID instead of a fresh uuid.
//
// The returned Response always carries CorrelationID equal to the request
// ID. Handler errors and panics surface as a StatusFailed response. On
// timeout the bus stops waiting and returns StatusTimedOut; the handler
// keeps running detached with its context cancelled, so callers must treat
// a timeout as "outcome unknown".
func (b *MessageBus) SendRequest(ctx context.Context, category string, payload map[string]any, timeout time.Duration, correlationID string) (*models.Response, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrBusClosed
	}
	h, ok := b.handlers[category]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, category)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	id := correlationID
	if id == "" {
		id = uuid.NewString()
	}
	req := &models.Request{
		ID:        id,
		Category:  category,
		Payload:   payload,
		Timeout:   timeout,
		CreatedAt: time.Now(),
	}

	// The handler context is detached from the caller's deadline but tied
	// to bus shutdown, so a timed-out send can leave the handler running.
	hctx, hcancel := context.WithCancel(b.ctx)

	b.pending.Add(1)
	done := make(chan *models.Response, 1)
	go func() {
		defer b.pending.Add(-1)
		done <- b.invoke(hctx, h, req)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-done:
		hcancel()
		return resp, nil
	case <-timer.C:
		hcancel()
		return models.TimedOutResponse(req, fmt.Sprintf("request timed out after %s", timeout)), nil
	case <-ctx.Done():
		hcancel()
		return models.TimedOutResponse(req, fmt.Sprintf("request cancelled: %v", ctx.Err())), nil
	case <-b.ctx.Done():
		hcancel()
		return nil, ErrBusClosed
	}
}

// invoke runs the handler and normalizes its outcome, enforcing the
// correlation invariant on whatever the handler returned.
func (b *MessageBus) invoke(ctx context.Context, h Handler, req *models.Request) (resp *models.Response) {
	defer func() {
		if r := recover(); r != nil {
			resp = models.FailedResponse(req, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	out, err := h(ctx, req)
	if err != nil {
		return models.FailedResponse(req, err.Error())
	}
	if out == nil {
		return models.FailedResponse(req, "handler returned no response")
	}
	out.RequestID = req.ID
	out.CorrelationID = req.ID
	if out.Category == "" {
		out.Category = req.Category
	}
	if out.Status == "" || out.Status == models.StatusPending || out.Status == models.StatusProcessing {
		out.Status = models.StatusCompleted
	}
	return out
}

// Shutdown marks the bus closed, cancels in-flight requests, and clears all
// handlers. Subsequent sends fail with ErrBusClosed.
func (b *MessageBus) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.handlers = make(map[string]Handler)
	b.cancel()
}

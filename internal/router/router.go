// Package router dispatches inbound frames to registered handlers by type
// tag. A handler failure is confined to its own request: the router catches
// errors and panics, replies with an error frame, and leaves the connection
// and other in-flight requests untouched.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	sfotel "github.com/lunagrove/sqlforge/internal/otel"
	"github.com/lunagrove/sqlforge/internal/protocol"
)

// HandlerFunc processes one inbound frame. Returned errors are reported to
// the client as an error frame correlated with the frame's request id.
type HandlerFunc func(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error

// Router maps frame type tags to handlers.
type Router struct {
	logger  *slog.Logger
	metrics *sfotel.Metrics

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// New creates an empty Router.
func New(logger *slog.Logger, metrics *sfotel.Metrics) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		logger:   logger,
		handlers: map[string]HandlerFunc{},
		metrics:  metrics,
	}
}

// RegisterHandler installs the handler for a type tag. The last registration
// for a tag wins; handlers are looked up at dispatch time, not inlined, so
// they can be swapped in tests.
func (r *Router) RegisterHandler(kind string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Dispatch parses raw into a frame and invokes the registered handler.
// Concurrent identical request identifiers are not deduplicated: a second
// request with the same id simply receives its own correlated replies, which
// may interleave with the first's at the frame level.
func (r *Router) Dispatch(ctx context.Context, sender protocol.Sender, raw []byte) {
	var frame protocol.Inbound
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		// No request id could be recovered from a malformed frame.
		sender.Send(ctx, protocol.NewOutbound(protocol.KindError, protocol.ErrorPayload{
			Message: "Invalid message format",
		}, ""))
		return
	}

	if r.metrics != nil {
		r.metrics.FramesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("type", frame.Type)))
	}

	r.mu.RLock()
	handler, ok := r.handlers[frame.Type]
	r.mu.RUnlock()
	if !ok {
		sender.Send(ctx, protocol.NewOutbound(protocol.KindError, protocol.ErrorPayload{
			Message: fmt.Sprintf("Unknown message type: %s", frame.Type),
		}, frame.RequestID))
		return
	}

	if err := r.invoke(ctx, handler, sender, frame); err != nil {
		r.logger.Warn("handler failed", "type", frame.Type, "request_id", frame.RequestID, "conn_id", sender.ID(), "error", err)
		if r.metrics != nil {
			r.metrics.DispatchErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", frame.Type)))
		}
		sender.Send(ctx, protocol.NewOutbound(protocol.KindError, protocol.ErrorPayload{
			Message: err.Error(),
			Type:    frame.Type,
		}, frame.RequestID))
	}
}

// invoke runs the handler with panic confinement.
func (r *Router) invoke(ctx context.Context, handler HandlerFunc, sender protocol.Sender, frame protocol.Inbound) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return handler(ctx, sender, frame)
}

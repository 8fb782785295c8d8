package protocol

import (
	"context"
	"math"
	"sync"
)

// Sender delivers outbound frames to one connection. Send reports false when
// the transport is closed or the write fails; it never panics. *hub.Conn is
// the production implementation.
type Sender interface {
	ID() string
	Send(ctx context.Context, frame Outbound) bool
}

// Emitter correlates all outbound frames for one request identifier and
// enforces the terminal-frame discipline: any number of progress and stream
// frames, then exactly one result or error. Frames sent after the terminal
// frame, and stream frames after the done chunk, are dropped.
//
// An Emitter is safe for concurrent use; stream frames for one request are
// serialized through its mutex, preserving emission order.
type Emitter struct {
	sender    Sender
	requestID string

	mu         sync.Mutex
	terminal   bool
	streamDone bool
}

// NewEmitter binds an emitter to a connection and request identifier.
func NewEmitter(sender Sender, requestID string) *Emitter {
	return &Emitter{sender: sender, requestID: requestID}
}

// RequestID returns the correlated request identifier.
func (e *Emitter) RequestID() string { return e.requestID }

// Progress emits a progress frame with a 1-based step index. Percent is
// round(step/total*100). Returns false if the frame was dropped or the
// send failed; callers may use that to abort work for a disconnected peer.
func (e *Emitter) Progress(ctx context.Context, step, total int, label string, data any) bool {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()

	percent := 0
	if total > 0 {
		percent = int(math.Round(float64(step) / float64(total) * 100))
	}
	payload := ProgressPayload{
		Step:       step,
		TotalSteps: total,
		Label:      label,
		Percent:    percent,
		Data:       data,
	}
	return e.sender.Send(ctx, NewOutbound(KindProgress, payload, e.requestID))
}

// Stream emits one chunk. A chunk with done set closes the stream for this
// request identifier; later chunks are dropped.
func (e *Emitter) Stream(ctx context.Context, chunk string, done bool) bool {
	e.mu.Lock()
	if e.terminal || e.streamDone {
		e.mu.Unlock()
		return false
	}
	if done {
		e.streamDone = true
	}
	// Hold the lock across the send so chunks are observed in emission order.
	defer e.mu.Unlock()
	return e.sender.Send(ctx, NewOutbound(KindStream, StreamPayload{Chunk: chunk, Done: done}, e.requestID))
}

// Plan emits the informational plan frame. Not terminal.
func (e *Emitter) Plan(ctx context.Context, payload PlanPayload) bool {
	e.mu.Lock()
	if e.terminal {
		e.mu.Unlock()
		return false
	}
	e.mu.Unlock()
	return e.sender.Send(ctx, NewOutbound(KindPlan, payload, e.requestID))
}

// Result emits the terminal success frame. At most one terminal frame is
// ever sent per request identifier.
func (e *Emitter) Result(ctx context.Context, payload any) bool {
	if !e.claimTerminal() {
		return false
	}
	return e.sender.Send(ctx, NewOutbound(KindResult, payload, e.requestID))
}

// Error emits the terminal failure frame.
func (e *Emitter) Error(ctx context.Context, payload ErrorPayload) bool {
	if !e.claimTerminal() {
		return false
	}
	return e.sender.Send(ctx, NewOutbound(KindError, payload, e.requestID))
}

func (e *Emitter) claimTerminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal {
		return false
	}
	e.terminal = true
	return true
}

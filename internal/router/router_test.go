package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/lunagrove/sqlforge/internal/protocol"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []protocol.Outbound
}

func (f *fakeSender) ID() string { return "conn-test" }

func (f *fakeSender) Send(_ context.Context, frame protocol.Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSender) sent() []protocol.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Outbound(nil), f.frames...)
}

func frameJSON(t *testing.T, kind, requestID string, payload any) []byte {
	t.Helper()
	raw, err := json.Marshal(protocol.Outbound{Type: kind, Payload: payload, RequestID: requestID})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	return raw
}

func TestDispatch_InvokesRegisteredHandler(t *testing.T) {
	r := New(nil, nil)
	s := &fakeSender{}

	var got protocol.Inbound
	r.RegisterHandler("echo", func(_ context.Context, _ protocol.Sender, frame protocol.Inbound) error {
		got = frame
		return nil
	})

	r.Dispatch(context.Background(), s, frameJSON(t, "echo", "r1", map[string]string{"k": "v"}))

	if got.Type != "echo" || got.RequestID != "r1" {
		t.Fatalf("handler saw %+v, want type=echo requestId=r1", got)
	}
	if len(s.sent()) != 0 {
		t.Fatalf("no frames expected from a silent handler, got %d", len(s.sent()))
	}
}

func TestDispatch_ReRegisterReplacesHandler(t *testing.T) {
	r := New(nil, nil)
	s := &fakeSender{}

	var calls []string
	r.RegisterHandler("op", func(context.Context, protocol.Sender, protocol.Inbound) error {
		calls = append(calls, "first")
		return nil
	})
	r.Dispatch(context.Background(), s, frameJSON(t, "op", "", nil))

	r.RegisterHandler("op", func(context.Context, protocol.Sender, protocol.Inbound) error {
		calls = append(calls, "second")
		return nil
	})
	r.Dispatch(context.Background(), s, frameJSON(t, "op", "", nil))

	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Fatalf("calls = %v, want [first second]", calls)
	}
}

func TestDispatch_UnknownTypeEchoesRequestID(t *testing.T) {
	r := New(nil, nil)
	s := &fakeSender{}

	r.Dispatch(context.Background(), s, frameJSON(t, "bogus", "r-bogus", nil))

	frames := s.sent()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	if frames[0].Type != protocol.KindError {
		t.Fatalf("frame type = %q, want error", frames[0].Type)
	}
	payload := frames[0].Payload.(protocol.ErrorPayload)
	if payload.Message != "Unknown message type: bogus" {
		t.Fatalf("message = %q", payload.Message)
	}
	if frames[0].RequestID != "r-bogus" {
		t.Fatalf("requestId = %q, want r-bogus", frames[0].RequestID)
	}
}

func TestDispatch_MalformedFrame(t *testing.T) {
	r := New(nil, nil)

	for _, raw := range [][]byte{
		[]byte("{not json"),
		[]byte(`{"payload": {}}`), // no type tag
		[]byte(`42`),
	} {
		s := &fakeSender{}
		r.Dispatch(context.Background(), s, raw)

		frames := s.sent()
		if len(frames) != 1 {
			t.Fatalf("raw %q: sent %d frames, want 1", raw, len(frames))
		}
		payload := frames[0].Payload.(protocol.ErrorPayload)
		if payload.Message != "Invalid message format" {
			t.Fatalf("raw %q: message = %q", raw, payload.Message)
		}
		if frames[0].RequestID != "" {
			t.Fatalf("raw %q: requestId = %q, want empty (unrecoverable)", raw, frames[0].RequestID)
		}
	}
}

func TestDispatch_HandlerErrorBecomesErrorFrame(t *testing.T) {
	r := New(nil, nil)
	s := &fakeSender{}

	r.RegisterHandler("failing", func(context.Context, protocol.Sender, protocol.Inbound) error {
		return fmt.Errorf("database exploded")
	})
	r.Dispatch(context.Background(), s, frameJSON(t, "failing", "r2", nil))

	frames := s.sent()
	if len(frames) != 1 {
		t.Fatalf("sent %d frames, want 1", len(frames))
	}
	payload := frames[0].Payload.(protocol.ErrorPayload)
	if payload.Message != "database exploded" || payload.Type != "failing" {
		t.Fatalf("payload = %+v", payload)
	}
	if frames[0].RequestID != "r2" {
		t.Fatalf("requestId = %q, want r2", frames[0].RequestID)
	}
}

func TestDispatch_HandlerPanicIsConfined(t *testing.T) {
	r := New(nil, nil)
	s := &fakeSender{}

	r.RegisterHandler("panicky", func(context.Context, protocol.Sender, protocol.Inbound) error {
		panic("boom")
	})
	r.RegisterHandler("healthy", func(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
		sender.Send(ctx, protocol.NewOutbound(protocol.KindResult, "ok", frame.RequestID))
		return nil
	})

	r.Dispatch(context.Background(), s, frameJSON(t, "panicky", "r3", nil))

	// A second, independent request on the same connection still succeeds.
	r.Dispatch(context.Background(), s, frameJSON(t, "healthy", "r4", nil))

	frames := s.sent()
	if len(frames) != 2 {
		t.Fatalf("sent %d frames, want 2", len(frames))
	}
	if frames[0].Type != protocol.KindError || frames[0].RequestID != "r3" {
		t.Fatalf("first frame = %+v, want error for r3", frames[0])
	}
	if frames[1].Type != protocol.KindResult || frames[1].RequestID != "r4" {
		t.Fatalf("second frame = %+v, want result for r4", frames[1])
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lunagrove/sqlforge/internal/bus"
	"github.com/lunagrove/sqlforge/internal/cache"
	"github.com/lunagrove/sqlforge/internal/hub"
	"github.com/lunagrove/sqlforge/internal/llm"
	"github.com/lunagrove/sqlforge/internal/orchestrator"
	"github.com/lunagrove/sqlforge/internal/protocol"
	"github.com/lunagrove/sqlforge/internal/router"
	"github.com/lunagrove/sqlforge/internal/schemaspec"
)

// wireFrame mirrors the outbound envelope for client-side decoding.
type wireFrame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestID string          `json:"requestId"`
	Timestamp int64           `json:"timestamp"`
}

// scriptedService answers schema and stream calls with canned values.
type scriptedService struct {
	schemaDoc   string
	schemaErr   error
	schemaCalls int
	chunks      []llm.Chunk
}

func (s *scriptedService) Generate(context.Context, string) (string, error) {
	return "", errors.New("generate not scripted")
}

func (s *scriptedService) StreamGenerate(context.Context, string) (<-chan llm.Chunk, error) {
	out := make(chan llm.Chunk, len(s.chunks))
	for _, c := range s.chunks {
		out <- c
	}
	close(out)
	return out, nil
}

func (s *scriptedService) GenerateSchema(context.Context, llm.SchemaRequest) (*llm.SchemaResult, error) {
	s.schemaCalls++
	if s.schemaErr != nil {
		return nil, s.schemaErr
	}
	return &llm.SchemaResult{Schema: json.RawMessage(s.schemaDoc)}, nil
}

func (s *scriptedService) GenerateSQL(context.Context, string, string, string) (string, error) {
	return "SELECT 1", nil
}
func (s *scriptedService) AnalyzeQuery(context.Context, string, string) (string, error) {
	return "fine", nil
}
func (s *scriptedService) OptimizeQuery(context.Context, string, string) (string, error) {
	return "SELECT 1", nil
}
func (s *scriptedService) ExplainQuery(context.Context, string, string) (string, error) {
	return "selects one", nil
}
func (s *scriptedService) SuggestIndexes(context.Context, string, string) (string, error) {
	return "none needed", nil
}

const validSchemaDoc = `{"tables": [{"name": "users", "columns": [{"name": "id", "type": "INTEGER"}]}]}`

func dialTestServer(t *testing.T, svc llm.CompletionService) *websocket.Conn {
	t.Helper()

	validator, err := schemaspec.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	respCache := cache.New()
	orch := orchestrator.New(svc, respCache, time.Hour, validator, bus.New(), nil, nil)
	connHub := hub.New(time.Minute, nil, nil)
	srv := New(Config{
		Hub:          connHub,
		Router:       router.New(nil, nil),
		Orchestrator: orch,
		Cache:        respCache,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.CloseNow() })
	return client
}

func readFrame(t *testing.T, client *websocket.Conn) wireFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var frame wireFrame
	if err := wsjson.Read(ctx, client, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

// readConnection consumes the unsolicited connection frame sent on accept.
func readConnection(t *testing.T, client *websocket.Conn) string {
	t.Helper()
	frame := readFrame(t, client)
	if frame.Type != protocol.KindConnection {
		t.Fatalf("first frame type = %q, want connection", frame.Type)
	}
	var payload protocol.ConnectionPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode connection payload: %v", err)
	}
	if payload.ConnectionID == "" {
		t.Fatal("connection frame carries no id")
	}
	if frame.RequestID != "" {
		t.Fatal("connection frame must have no request id")
	}
	return payload.ConnectionID
}

func writeFrame(t *testing.T, client *websocket.Conn, kind, requestID string, payload any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame := map[string]any{"type": kind, "requestId": requestID, "timestamp": time.Now().UnixMilli()}
	if payload != nil {
		frame["payload"] = json.RawMessage(raw)
	}
	if err := wsjson.Write(ctx, client, frame); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestServer_ConnectionFrameFirst(t *testing.T) {
	client := dialTestServer(t, &scriptedService{schemaDoc: validSchemaDoc})
	readConnection(t, client)
}

func TestServer_PingPong(t *testing.T) {
	client := dialTestServer(t, &scriptedService{schemaDoc: validSchemaDoc})
	readConnection(t, client)

	writeFrame(t, client, protocol.KindPing, "ping-1", nil)

	frame := readFrame(t, client)
	if frame.Type != protocol.KindPong {
		t.Fatalf("type = %q, want pong", frame.Type)
	}
	if frame.RequestID != "ping-1" {
		t.Fatalf("requestId = %q, want ping-1", frame.RequestID)
	}
	var payload protocol.PongPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if payload.Time == 0 {
		t.Fatal("pong carries no timestamp")
	}
}

func TestServer_UnknownTypeEchoesRequestID(t *testing.T) {
	client := dialTestServer(t, &scriptedService{schemaDoc: validSchemaDoc})
	readConnection(t, client)

	writeFrame(t, client, "bogus", "req-bogus", map[string]string{"x": "y"})

	frame := readFrame(t, client)
	if frame.Type != protocol.KindError {
		t.Fatalf("type = %q, want error", frame.Type)
	}
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Message != "Unknown message type: bogus" {
		t.Fatalf("message = %q", payload.Message)
	}
	if frame.RequestID != "req-bogus" {
		t.Fatalf("requestId = %q, want req-bogus", frame.RequestID)
	}
}

func TestServer_MalformedFrame(t *testing.T) {
	client := dialTestServer(t, &scriptedService{schemaDoc: validSchemaDoc})
	readConnection(t, client)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Write(ctx, websocket.MessageText, []byte("{this is not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	frame := readFrame(t, client)
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Message != "Invalid message format" {
		t.Fatalf("message = %q", payload.Message)
	}
	if frame.RequestID != "" {
		t.Fatalf("requestId = %q, want empty", frame.RequestID)
	}
}

func TestServer_GenerateSchemaOverTheWire(t *testing.T) {
	svc := &scriptedService{schemaDoc: validSchemaDoc}
	client := dialTestServer(t, svc)
	readConnection(t, client)

	writeFrame(t, client, protocol.KindGenerateSchema, "schema-1", map[string]any{
		"description":  "a user table",
		"databaseType": "postgres",
	})

	var sawResult bool
	lastStep := 0
	for !sawResult {
		frame := readFrame(t, client)
		if frame.RequestID != "schema-1" {
			t.Fatalf("frame %q lost its request id: %q", frame.Type, frame.RequestID)
		}
		switch frame.Type {
		case protocol.KindProgress:
			var p protocol.ProgressPayload
			if err := json.Unmarshal(frame.Payload, &p); err != nil {
				t.Fatalf("decode progress: %v", err)
			}
			if p.Step != lastStep+1 {
				t.Fatalf("progress step = %d after %d", p.Step, lastStep)
			}
			lastStep = p.Step
		case protocol.KindResult:
			var r orchestrator.SchemaResult
			if err := json.Unmarshal(frame.Payload, &r); err != nil {
				t.Fatalf("decode result: %v", err)
			}
			if r.FromCache {
				t.Fatal("first reply should not be fromCache")
			}
			sawResult = true
		default:
			t.Fatalf("unexpected frame type %q", frame.Type)
		}
	}
	if lastStep == 0 {
		t.Fatal("no progress frames observed")
	}

	// Identical request served from cache, without another service call.
	writeFrame(t, client, protocol.KindGenerateSchema, "schema-2", map[string]any{
		"description":  "a user table",
		"databaseType": "postgres",
	})
	frame := readFrame(t, client)
	if frame.Type != protocol.KindResult || frame.RequestID != "schema-2" {
		t.Fatalf("cached reply = %+v, want immediate result", frame)
	}
	var r orchestrator.SchemaResult
	if err := json.Unmarshal(frame.Payload, &r); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !r.FromCache {
		t.Fatal("second reply should carry fromCache")
	}
	if svc.schemaCalls != 1 {
		t.Fatalf("schema service called %d times, want 1", svc.schemaCalls)
	}
}

func TestServer_HandlerFailureLeavesConnectionUsable(t *testing.T) {
	client := dialTestServer(t, &scriptedService{schemaDoc: validSchemaDoc})
	readConnection(t, client)

	// Missing description: the handler rejects before any work starts.
	writeFrame(t, client, protocol.KindGenerateSchema, "bad-1", map[string]any{
		"databaseType": "postgres",
	})
	frame := readFrame(t, client)
	if frame.Type != protocol.KindError || frame.RequestID != "bad-1" {
		t.Fatalf("frame = %+v, want error for bad-1", frame)
	}
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload.Type != protocol.KindGenerateSchema {
		t.Fatalf("error type = %q, want generateSchema", payload.Type)
	}

	// An independent request on the same connection still succeeds.
	writeFrame(t, client, protocol.KindPing, "ping-after", nil)
	frame = readFrame(t, client)
	if frame.Type != protocol.KindPong || frame.RequestID != "ping-after" {
		t.Fatalf("frame = %+v, want pong for ping-after", frame)
	}
}

func TestServer_ChatStreamsOverTheWire(t *testing.T) {
	client := dialTestServer(t, &scriptedService{
		schemaDoc: validSchemaDoc,
		chunks: []llm.Chunk{
			{Text: "hello "},
			{Text: "there"},
			{Done: true},
		},
	})
	readConnection(t, client)

	writeFrame(t, client, protocol.KindChat, "chat-1", map[string]string{"prompt": "hi"})

	var chunks []string
	for {
		frame := readFrame(t, client)
		if frame.Type != protocol.KindStream || frame.RequestID != "chat-1" {
			t.Fatalf("frame = %+v, want stream for chat-1", frame)
		}
		var p protocol.StreamPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			t.Fatalf("decode stream: %v", err)
		}
		if p.Done {
			if p.Chunk != "" {
				t.Fatalf("done chunk = %q, want empty", p.Chunk)
			}
			break
		}
		chunks = append(chunks, p.Chunk)
	}
	if got := strings.Join(chunks, ""); got != "hello there" {
		t.Fatalf("streamed text = %q", got)
	}
}

func TestServer_CacheStats(t *testing.T) {
	client := dialTestServer(t, &scriptedService{schemaDoc: validSchemaDoc})
	readConnection(t, client)

	writeFrame(t, client, protocol.KindGetCacheStats, "stats-1", nil)

	frame := readFrame(t, client)
	if frame.Type != protocol.KindCacheStats || frame.RequestID != "stats-1" {
		t.Fatalf("frame = %+v, want cacheStats for stats-1", frame)
	}
	var stats cache.Stats
	if err := json.Unmarshal(frame.Payload, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.EntryCount != 0 {
		t.Fatalf("entryCount = %d, want 0 on a fresh cache", stats.EntryCount)
	}
}

func TestServer_Healthz(t *testing.T) {
	validator, err := schemaspec.NewValidator()
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	respCache := cache.New()
	orch := orchestrator.New(&scriptedService{schemaDoc: validSchemaDoc}, respCache, time.Hour, validator, bus.New(), nil, nil)
	srv := New(Config{
		Hub:          hub.New(time.Minute, nil, nil),
		Router:       router.New(nil, nil),
		Orchestrator: orch,
		Cache:        respCache,
	})

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if healthy, ok := payload["healthy"].(bool); !ok || !healthy {
		t.Fatalf("payload = %v, want healthy=true", payload)
	}
}

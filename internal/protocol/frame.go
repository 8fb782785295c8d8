// Package protocol defines the frame vocabulary exchanged over the
// persistent WebSocket connection and the emitter handlers use to report
// progress, stream partial output, and deliver terminal results.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound frame kinds. The set is closed; the router's dispatch table is
// built from these at startup so an unknown tag is a reachable branch, not a
// runtime surprise.
const (
	KindGenerateSchema = "generateSchema"
	KindGenerateQuery  = "generateQuery"
	KindExecuteTask    = "executeTask"
	KindChat           = "chat"
	KindPing           = "ping"
	KindPong           = "pong"
	KindGetCacheStats  = "getCacheStats"
	KindSubscribe      = "subscribe"
	KindUnsubscribe    = "unsubscribe"
)

// Outbound frame kinds.
const (
	KindProgress   = "progress"
	KindStream     = "stream"
	KindResult     = "result"
	KindError      = "error"
	KindPlan       = "plan"
	KindConnection = "connection"
	KindCacheStats = "cacheStats"
)

// Inbound is a parsed client frame. The payload stays raw until the
// registered handler decodes it; inbound frames are immutable once parsed.
type Inbound struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Outbound is a server frame. Constructed fresh per send; never mutated
// after emission.
type Outbound struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewOutbound stamps a frame with the current send time in Unix milliseconds.
func NewOutbound(kind string, payload any, requestID string) Outbound {
	return Outbound{
		Type:      kind,
		Payload:   payload,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ProgressPayload reports per-step progress for a planned or pipelined task.
type ProgressPayload struct {
	Step       int    `json:"step"`
	TotalSteps int    `json:"totalSteps"`
	Label      string `json:"label"`
	Percent    int    `json:"percent"`
	Data       any    `json:"data,omitempty"`
}

// StreamPayload carries one chunk of incrementally produced text. The chunk
// with Done set is the last stream frame for its request identifier.
type StreamPayload struct {
	Chunk string `json:"chunk"`
	Done  bool   `json:"done"`
}

// ErrorPayload is the terminal failure payload. Type names the inbound frame
// kind whose handler failed, when known. Code is one of the completion
// service error codes ("exhausted", "rate-limited", "quota-exceeded") or
// empty for everything else.
type ErrorPayload struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

// ConnectionPayload is sent once, unsolicited, immediately after a
// connection is registered.
type ConnectionPayload struct {
	ConnectionID string `json:"connectionId"`
}

// PongPayload answers an inbound ping.
type PongPayload struct {
	Time int64 `json:"time"`
}

// PlanPayload is the informational plan frame sent before execution of a
// two-phase task so the client can render expected steps up front.
type PlanPayload struct {
	TaskID string         `json:"taskId"`
	Steps  []PlanStepView `json:"steps"`
}

// PlanStepView is one step as presented to the client.
type PlanStepView struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

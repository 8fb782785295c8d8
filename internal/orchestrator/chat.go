package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lunagrove/sqlforge/internal/bus"
	"github.com/lunagrove/sqlforge/internal/protocol"
	"github.com/lunagrove/sqlforge/internal/shared"
)

// Chat bypasses planning entirely: the prompt goes straight to the
// completion service's streaming mode and each chunk is relayed as a stream
// frame. The stream ends with an empty done-flagged frame; a mid-stream
// service error becomes the terminal error frame instead.
func (o *Orchestrator) Chat(ctx context.Context, em *protocol.Emitter, req ChatRequest) {
	kind := protocol.KindChat
	start := time.Now()

	var sb strings.Builder
	if strings.TrimSpace(req.Context) != "" {
		fmt.Fprintf(&sb, "Context:\n%s\n\n", req.Context)
	}
	sb.WriteString(req.Prompt)

	chunks, err := o.svc.StreamGenerate(ctx, sb.String())
	if err != nil {
		o.publishTerminal(ctx, em, kind, "", "", start, err)
		o.fail(ctx, em, kind, fmt.Sprintf("chat failed: %v", err), err)
		return
	}

	o.publish(bus.TopicTaskStarted, bus.TaskEvent{
		ConnID:    shared.ConnID(ctx),
		RequestID: em.RequestID(),
		Kind:      kind,
	})

	for chunk := range chunks {
		if chunk.Err != nil {
			o.publishTerminal(ctx, em, kind, "", "", start, chunk.Err)
			o.fail(ctx, em, kind, fmt.Sprintf("chat failed: %v", chunk.Err), chunk.Err)
			return
		}
		if chunk.Done {
			em.Stream(ctx, "", true)
			break
		}
		if em.Stream(ctx, chunk.Text, false) && o.metrics != nil {
			o.metrics.StreamChunks.Add(ctx, 1)
		}
	}

	o.publishTerminal(ctx, em, kind, "", "", start, nil)
}

package history

import (
	"context"
	"log/slog"

	"github.com/lunagrove/sqlforge/internal/bus"
)

// Recorder subscribes to terminal task events and persists them. It runs on
// its own goroutine; a full bus buffer drops events rather than slowing task
// execution, so the history is best-effort.
type Recorder struct {
	store  *Store
	bus    *bus.Bus
	logger *slog.Logger

	sub  *bus.Subscription
	done chan struct{}
}

// NewRecorder wires a recorder to the bus. Call Start to begin consuming.
func NewRecorder(store *Store, b *bus.Bus, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, bus: b, logger: logger, done: make(chan struct{})}
}

// Start begins consuming terminal task events.
func (r *Recorder) Start(ctx context.Context) {
	r.sub = r.bus.Subscribe("task.")
	go r.run(ctx)
}

// Stop unsubscribes and waits for the consumer goroutine to drain.
func (r *Recorder) Stop() {
	r.bus.Unsubscribe(r.sub)
	<-r.done
}

func (r *Recorder) run(ctx context.Context) {
	defer close(r.done)
	for ev := range r.sub.Ch() {
		if ev.Topic != bus.TopicTaskCompleted && ev.Topic != bus.TopicTaskFailed {
			continue
		}
		task, ok := ev.Payload.(bus.TaskEvent)
		if !ok {
			continue
		}
		rec := Record{
			TaskID:     task.TaskID,
			ConnID:     task.ConnID,
			RequestID:  task.RequestID,
			Kind:       task.Kind,
			Dialect:    task.Dialect,
			Status:     task.Status,
			Detail:     task.Detail,
			DurationMs: task.DurationMs,
		}
		if err := r.store.RecordTask(ctx, rec); err != nil {
			r.logger.Warn("record task history", "error", err)
		}
	}
}

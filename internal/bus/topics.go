package bus

// Task lifecycle topics.
const (
	TopicTaskStarted   = "task.started"
	TopicTaskStep      = "task.step"
	TopicTaskCompleted = "task.completed"
	TopicTaskFailed    = "task.failed"
)

// Cache topics.
const (
	TopicCacheHit  = "cache.hit"
	TopicCacheMiss = "cache.miss"
)

// TaskEvent is published on task.* topics.
type TaskEvent struct {
	TaskID     string // Orchestrator task ID
	ConnID     string // Originating connection
	RequestID  string // Client request identifier
	Kind       string // Inbound frame type that started the task
	Dialect    string // Target database dialect, when known
	Step       string // Step name for task.step events
	Status     string // "completed" or "failed" for terminal events
	Detail     string // Error message for task.failed
	DurationMs int64  // Total task duration for terminal events
}

// CacheEvent is published on cache.* topics.
type CacheEvent struct {
	Key  string
	Kind string // Operation kind the key was derived from
}

package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all sqlforge metric instruments.
type Metrics struct {
	ActiveConnections metric.Int64UpDownCounter
	FramesTotal       metric.Int64Counter
	DispatchErrors    metric.Int64Counter
	CacheHits         metric.Int64Counter
	CacheMisses       metric.Int64Counter
	CacheEvictions    metric.Int64Counter
	LLMCallDuration   metric.Float64Histogram
	PlanStepsTotal    metric.Int64Counter
	StreamChunks      metric.Int64Counter
	ConnectionsReaped metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.ActiveConnections, err = meter.Int64UpDownCounter("sqlforge.connections.active",
		metric.WithDescription("Number of currently registered client connections"),
	)
	if err != nil {
		return nil, err
	}

	m.FramesTotal, err = meter.Int64Counter("sqlforge.frames.total",
		metric.WithDescription("Frames dispatched, by type"),
	)
	if err != nil {
		return nil, err
	}

	m.DispatchErrors, err = meter.Int64Counter("sqlforge.dispatch.errors",
		metric.WithDescription("Handler failures surfaced as error frames"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheHits, err = meter.Int64Counter("sqlforge.cache.hits",
		metric.WithDescription("Response cache hits"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheMisses, err = meter.Int64Counter("sqlforge.cache.misses",
		metric.WithDescription("Response cache misses"),
	)
	if err != nil {
		return nil, err
	}

	m.CacheEvictions, err = meter.Int64Counter("sqlforge.cache.evictions",
		metric.WithDescription("Expired response cache entries removed"),
	)
	if err != nil {
		return nil, err
	}

	m.LLMCallDuration, err = meter.Float64Histogram("sqlforge.llm.duration",
		metric.WithDescription("Completion service call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.PlanStepsTotal, err = meter.Int64Counter("sqlforge.plan.steps",
		metric.WithDescription("Plan steps executed"),
	)
	if err != nil {
		return nil, err
	}

	m.StreamChunks, err = meter.Int64Counter("sqlforge.stream.chunks",
		metric.WithDescription("Stream frames delivered to clients"),
	)
	if err != nil {
		return nil, err
	}

	m.ConnectionsReaped, err = meter.Int64Counter("sqlforge.connections.reaped",
		metric.WithDescription("Connections closed by the liveness sweep"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

package service

import (
	"context"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
)

// SpanSource yields pages of spans from the trace store in non-decreasing
// start-time order, starting at the given time. The channel is closed when
// the source is exhausted for this tick or after an error result.
type SpanSource interface {
	Stream(ctx context.Context, since time.Time) <-chan SpanPageResult
}

// SpanPageResult carries one page of decoded spans, or the transport error
// that ended the stream.
type SpanPageResult struct {
	Spans []model.Span
	Err   error
}

// GraphSink accepts the full topology snapshot. Re-submission of the same
// snapshot must be safe; the sink treats each submission as authoritative.
type GraphSink interface {
	Publish(ctx context.Context, topology *model.Topology) error
}

// StateStore persists the discovery state as a single blob with atomic
// replacement semantics. Load returns nil without error when no blob exists.
type StateStore interface {
	Load() (*state.State, error)
	Save(st *state.State) error
}

// TickEventBus publishes the per-tick summary for interested listeners.
type TickEventBus interface {
	Publish(output model.TickOutput) error
}

package service

import (
	"fmt"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"go.uber.org/zap"
)

// Aggregator integrates spans into the discovery state: it upserts services
// and operations, maintains the trace reassembly table, and resolves
// parent/child call relations either immediately or deferred through
// placeholders. It owns exclusive mutable access to the state for the
// duration of a tick.
type Aggregator struct {
	state     *state.State
	tentative time.Time
	processed int
	logger    *zap.Logger
}

func NewAggregator(st *state.State, logger *zap.Logger) *Aggregator {
	agg := &Aggregator{state: st, logger: logger}
	if st.Cursor != nil {
		agg.tentative = *st.Cursor
	}
	return agg
}

// ProcessChunk integrates a chunk of spans in delivery order. The first
// invariant violation aborts the chunk.
func (a *Aggregator) ProcessChunk(spans []model.Span) error {
	for i := range spans {
		if err := a.ProcessSpan(&spans[i]); err != nil {
			return err
		}
	}
	return nil
}

// ProcessSpan integrates a single span. Re-processing the same span is
// idempotent: last-seen times only advance and the call sets deduplicate
// edges.
func (a *Aggregator) ProcessSpan(s *model.Span) error {
	key := state.ServiceKey{
		Namespace:  s.ServiceNamespace,
		Name:       s.ServiceName,
		InstanceID: s.ServiceInstanceID,
	}
	svc := a.state.UpsertService(key, s.Meta, s.StartTime)
	op := a.state.UpsertOperation(svc, state.OperationName(s.OperationName), s.StartTime)
	self := state.SpanRef{ServiceID: svc.ID, OperationID: op.ID}

	a.state.TouchTrace(state.TraceID(s.TraceID), s.StartTime)
	info := a.state.GetOrInsertSpan(state.TraceID(s.TraceID), state.SpanID(s.SpanID))
	info.Key = &self
	queued := info.ParentOf
	info.ParentOf = nil

	for _, ref := range s.ChildOf() {
		if ref.TraceID == s.TraceID && ref.SpanID == s.SpanID {
			// A span that is its own ancestor: skip the self edge.
			continue
		}
		a.state.TouchTrace(state.TraceID(ref.TraceID), s.StartTime)
		parent := a.state.GetOrInsertSpan(state.TraceID(ref.TraceID), state.SpanID(ref.SpanID))
		if parent.Key != nil {
			if err := a.recordCall(*parent.Key, self, s.StartTime); err != nil {
				return err
			}
		} else {
			parent.ParentOf = append(parent.ParentOf, self)
		}
	}

	for _, child := range queued {
		if err := a.recordCall(self, child, s.StartTime); err != nil {
			return err
		}
	}

	if s.StartTime.After(a.tentative) {
		a.tentative = s.StartTime
	}
	a.processed++
	return nil
}

// recordCall records the operation-level edge parent → child and, when the
// two spans belong to different services, the service-level edge as well.
func (a *Aggregator) recordCall(parent, child state.SpanRef, now time.Time) error {
	parentOp := a.state.OperationByID(parent.OperationID)
	if parentOp == nil {
		return fmt.Errorf("span table references unknown operation %s", parent.OperationID)
	}
	a.state.RecordOperationCall(parentOp, child.OperationID, now)

	if parent.ServiceID != child.ServiceID {
		parentSvc := a.state.ServiceByID(parent.ServiceID)
		if parentSvc == nil {
			return fmt.Errorf("span table references unknown service %s", parent.ServiceID)
		}
		a.state.RecordServiceCall(parentSvc, child.ServiceID, now)
	}
	return nil
}

// TentativeCursor is the maximum start time integrated so far. Committed to
// the state only at tick end, so a crash mid-tick replays from the previous
// cursor.
func (a *Aggregator) TentativeCursor() time.Time {
	return a.tentative
}

// Processed is the number of spans integrated by this aggregator.
func (a *Aggregator) Processed() int {
	return a.processed
}

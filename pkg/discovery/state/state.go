package state

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is written into every persisted blob. Unknown fields in older
// or newer blobs are ignored on load, so attributes can be added without
// losing state.
const SchemaVersion = 1

// State is the single persisted object: the ingestion cursor, the discovered
// services with their operations and call relations, and the short-lived
// trace reassembly table. All mutation goes through the aggregator and the
// reaper; no concurrent access is permitted.
type State struct {
	SchemaVersion int                     `json:"schema_version"`
	Cursor        *time.Time              `json:"cursor,omitempty"`
	Services      map[ServiceKey]*Service `json:"services"`
	Traces        map[TraceID]*Trace      `json:"traces"`

	// Id indexes, rebuilt on load, maintained by upserts and sweeps.
	servicesByID   map[uuid.UUID]*Service
	operationsByID map[uuid.UUID]*Operation
}

// Service is a discovered logical process identity. The id is assigned at
// first sight of the key and never changes while the entry exists.
type Service struct {
	ID         uuid.UUID                    `json:"id"`
	LastSeen   time.Time                    `json:"last_seen"`
	Meta       map[string]string            `json:"meta,omitempty"`
	Operations map[OperationName]*Operation `json:"operations"`
	Calls      map[uuid.UUID]*Relation      `json:"calls,omitempty"`
}

// Operation is a named unit of work performed by a service. Calls maps the
// ids of operations this operation has been observed to invoke to the state
// of that edge.
type Operation struct {
	ID       uuid.UUID               `json:"id"`
	LastSeen time.Time               `json:"last_seen"`
	Calls    map[uuid.UUID]*Relation `json:"calls,omitempty"`
}

// Relation is an observed call edge. The id is stable for the lifetime of
// the edge so the downstream sink sees the same relation across submissions.
type Relation struct {
	ID       uuid.UUID `json:"id"`
	LastSeen time.Time `json:"last_seen"`
}

// Trace holds the reassembly state of one trace. Bounded by the skew window.
type Trace struct {
	LastSeen time.Time            `json:"last_seen"`
	Spans    map[SpanID]*SpanInfo `json:"spans"`
}

// SpanRef names the service and operation a span was attributed to.
type SpanRef struct {
	ServiceID   uuid.UUID `json:"service_id"`
	OperationID uuid.UUID `json:"operation_id"`
}

// SpanInfo is one entry in the trace reassembly table. A nil Key marks a
// placeholder: a child referenced this span before the span itself arrived.
// ParentOf queues the children waiting for this span to resolve.
type SpanInfo struct {
	Key      *SpanRef  `json:"key,omitempty"`
	ParentOf []SpanRef `json:"parent_of,omitempty"`
}

func New() *State {
	st := &State{
		SchemaVersion: SchemaVersion,
		Services:      make(map[ServiceKey]*Service),
		Traces:        make(map[TraceID]*Trace),
	}
	st.rebuildIndexes()
	return st
}

// UnmarshalJSON decodes the persisted form and rebuilds the id indexes.
func (st *State) UnmarshalJSON(data []byte) error {
	type plain State
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*st = State(decoded)
	if st.Services == nil {
		st.Services = make(map[ServiceKey]*Service)
	}
	if st.Traces == nil {
		st.Traces = make(map[TraceID]*Trace)
	}
	for _, svc := range st.Services {
		if svc.Operations == nil {
			svc.Operations = make(map[OperationName]*Operation)
		}
	}
	st.rebuildIndexes()
	return nil
}

func (st *State) rebuildIndexes() {
	st.servicesByID = make(map[uuid.UUID]*Service, len(st.Services))
	st.operationsByID = make(map[uuid.UUID]*Operation)
	for _, svc := range st.Services {
		st.servicesByID[svc.ID] = svc
		for _, op := range svc.Operations {
			st.operationsByID[op.ID] = op
		}
	}
}

// UpsertService returns the service for the key, creating it with a fresh id
// if absent. LastSeen advances max-monotone; meta replaces the stored meta
// when non-nil, matching the latest-span-wins behaviour of the collector
// tags.
func (st *State) UpsertService(key ServiceKey, meta map[string]string, now time.Time) *Service {
	svc, ok := st.Services[key]
	if !ok {
		svc = &Service{
			ID:         uuid.New(),
			LastSeen:   now,
			Operations: make(map[OperationName]*Operation),
		}
		st.Services[key] = svc
		st.servicesByID[svc.ID] = svc
	} else if now.After(svc.LastSeen) {
		svc.LastSeen = now
	}
	if meta != nil {
		svc.Meta = meta
	}
	return svc
}

// UpsertOperation returns the named operation under the service, creating it
// with a fresh id if absent. LastSeen advances max-monotone.
func (st *State) UpsertOperation(svc *Service, name OperationName, now time.Time) *Operation {
	op, ok := svc.Operations[name]
	if !ok {
		op = &Operation{
			ID:       uuid.New(),
			LastSeen: now,
		}
		svc.Operations[name] = op
		st.operationsByID[op.ID] = op
	} else if now.After(op.LastSeen) {
		op.LastSeen = now
	}
	return op
}

// TouchTrace updates the trace's last-seen time, creating the trace entry if
// absent.
func (st *State) TouchTrace(traceID TraceID, now time.Time) *Trace {
	tr, ok := st.Traces[traceID]
	if !ok {
		tr = &Trace{
			LastSeen: now,
			Spans:    make(map[SpanID]*SpanInfo),
		}
		st.Traces[traceID] = tr
	} else if now.After(tr.LastSeen) {
		tr.LastSeen = now
	}
	return tr
}

// GetOrInsertSpan returns the span's reassembly entry, inserting a
// placeholder (nil Key) if the span has not been seen yet. The trace entry is
// created as a side effect when missing.
func (st *State) GetOrInsertSpan(traceID TraceID, spanID SpanID) *SpanInfo {
	tr, ok := st.Traces[traceID]
	if !ok {
		tr = &Trace{Spans: make(map[SpanID]*SpanInfo)}
		st.Traces[traceID] = tr
	}
	info, ok := tr.Spans[spanID]
	if !ok {
		info = &SpanInfo{}
		tr.Spans[spanID] = info
	}
	return info
}

// ServiceByID resolves a service id to its entry, or nil.
func (st *State) ServiceByID(id uuid.UUID) *Service {
	return st.servicesByID[id]
}

// OperationByID resolves an operation id to its entry, or nil.
func (st *State) OperationByID(id uuid.UUID) *Operation {
	return st.operationsByID[id]
}

// RecordOperationCall records the edge parent → target at the operation
// level. The edge id is assigned on first sight and kept thereafter.
func (st *State) RecordOperationCall(parent *Operation, target uuid.UUID, now time.Time) {
	if parent.Calls == nil {
		parent.Calls = make(map[uuid.UUID]*Relation)
	}
	recordCall(parent.Calls, target, now)
}

// RecordServiceCall records the edge parent → target at the service level.
func (st *State) RecordServiceCall(parent *Service, target uuid.UUID, now time.Time) {
	if parent.Calls == nil {
		parent.Calls = make(map[uuid.UUID]*Relation)
	}
	recordCall(parent.Calls, target, now)
}

func recordCall(calls map[uuid.UUID]*Relation, target uuid.UUID, now time.Time) {
	rel, ok := calls[target]
	if !ok {
		calls[target] = &Relation{ID: uuid.New(), LastSeen: now}
	} else if now.After(rel.LastSeen) {
		rel.LastSeen = now
	}
}

// SweepTraces evicts every trace whose last-seen time falls before the
// threshold and returns the number of evicted traces. Placeholders lost this
// way represent parents that never arrived within the skew window; their
// queued relations are dropped with them.
func (st *State) SweepTraces(threshold time.Time) int {
	removed := 0
	for id, tr := range st.Traces {
		if tr.LastSeen.Before(threshold) {
			delete(st.Traces, id)
			removed++
		}
	}
	return removed
}

// SweepTopology removes operations whose last-seen time falls before the
// threshold, then services whose operations are all gone and whose own
// last-seen time is also below the threshold, and finally prunes call edges
// that are stale or whose target no longer exists. Returns the removed
// operation and service counts.
func (st *State) SweepTopology(threshold time.Time) (operations, services int) {
	for key, svc := range st.Services {
		for name, op := range svc.Operations {
			if op.LastSeen.Before(threshold) {
				delete(svc.Operations, name)
				delete(st.operationsByID, op.ID)
				operations++
			}
		}
		if len(svc.Operations) == 0 && svc.LastSeen.Before(threshold) {
			delete(st.Services, key)
			delete(st.servicesByID, svc.ID)
			services++
		}
	}
	for _, svc := range st.Services {
		for target, rel := range svc.Calls {
			if rel.LastSeen.Before(threshold) || st.servicesByID[target] == nil {
				delete(svc.Calls, target)
			}
		}
		for _, op := range svc.Operations {
			for target, rel := range op.Calls {
				if rel.LastSeen.Before(threshold) || st.operationsByID[target] == nil {
					delete(op.Calls, target)
				}
			}
		}
	}
	return operations, services
}

// CommitCursor advances the cursor to the given time. The cursor never moves
// backwards; a zero time is ignored.
func (st *State) CommitCursor(t time.Time) {
	if t.IsZero() {
		return
	}
	if st.Cursor == nil || t.After(*st.Cursor) {
		committed := t
		st.Cursor = &committed
	}
}

// CountOperations returns the number of live operations across all services.
func (st *State) CountOperations() int {
	n := 0
	for _, svc := range st.Services {
		n += len(svc.Operations)
	}
	return n
}

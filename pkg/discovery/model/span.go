package model

import (
	"time"
)

const RefTypeChildOf = "CHILD_OF"

// Span is a single unit of traced work as read from the trace store, reduced
// to the fields discovery cares about.
type Span struct {
	TraceID           string
	SpanID            string
	OperationName     string
	StartTime         time.Time
	ServiceName       string
	ServiceNamespace  string
	ServiceInstanceID string
	Meta              map[string]string
	References        []Reference
}

// Reference is a span's declaration of a causal link to another span.
type Reference struct {
	RefType string
	TraceID string
	SpanID  string
}

// ChildOf returns the references declaring this span a child of another span.
func (s *Span) ChildOf() []Reference {
	var refs []Reference
	for _, r := range s.References {
		if r.RefType == RefTypeChildOf {
			refs = append(refs, r)
		}
	}
	return refs
}

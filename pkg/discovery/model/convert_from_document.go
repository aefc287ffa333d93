package model

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	serviceNamespaceTag  = "service.namespace"
	serviceInstanceIDTag = "service.instance.id"
)

// serviceMetaTags are the process tags propagated onto the rendered service
// item. Mirrors the resource attributes written by the Jaeger collector for
// OpenTelemetry-instrumented workloads.
var serviceMetaTags = map[string]struct{}{
	"service.version":        {},
	"deployment.environment": {},
	"k8s.cluster.name":       {},
	"k8s.cluster.uid":        {},
	"k8s.node.name":          {},
	"k8s.node.uid":           {},
	"k8s.namespace.name":     {},
	"k8s.pod.name":           {},
	"k8s.pod.uid":            {},
	"k8s.container.name":     {},
	"k8s.replicaset.name":    {},
	"k8s.replicaset.uid":     {},
	"k8s.deployment.name":    {},
	"k8s.deployment.uid":     {},
	"k8s.statefulset.name":   {},
	"k8s.statefulset.uid":    {},
	"k8s.daemonset.name":     {},
	"k8s.daemonset.uid":      {},
	"k8s.job.name":           {},
	"k8s.job.uid":            {},
	"k8s.cronjob.name":       {},
	"k8s.cronjob.uid":        {},
}

type spanDocument struct {
	TraceID       string          `json:"traceID"`
	SpanID        string          `json:"spanID"`
	OperationName string          `json:"operationName"`
	StartTime     int64           `json:"startTime"`
	References    []refDocument   `json:"references"`
	Process       processDocument `json:"process"`
}

type refDocument struct {
	RefType string `json:"refType"`
	TraceID string `json:"traceID"`
	SpanID  string `json:"spanID"`
}

type processDocument struct {
	ServiceName string        `json:"serviceName"`
	Tags        []tagDocument `json:"tags"`
}

type tagDocument struct {
	Key   string      `json:"key"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// ConvertSpanDocument decodes a Jaeger span document as stored by the
// collector into a Span. The start time is stored in microseconds since the
// epoch.
func ConvertSpanDocument(raw json.RawMessage) (Span, error) {
	var doc spanDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Span{}, fmt.Errorf("failed to unmarshal span document: %w", err)
	}
	if doc.TraceID == "" {
		return Span{}, fmt.Errorf("span document is missing traceID")
	}
	if doc.SpanID == "" {
		return Span{}, fmt.Errorf("span document is missing spanID")
	}
	if doc.OperationName == "" {
		return Span{}, fmt.Errorf("span document is missing operationName")
	}
	if doc.Process.ServiceName == "" {
		return Span{}, fmt.Errorf("span document is missing process.serviceName")
	}
	if doc.StartTime == 0 {
		return Span{}, fmt.Errorf("span document is missing startTime")
	}

	span := Span{
		TraceID:       doc.TraceID,
		SpanID:        doc.SpanID,
		OperationName: doc.OperationName,
		StartTime:     time.UnixMicro(doc.StartTime).UTC(),
		ServiceName:   doc.Process.ServiceName,
	}

	for _, tag := range doc.Process.Tags {
		value, ok := tag.Value.(string)
		if !ok {
			continue
		}
		switch tag.Key {
		case serviceNamespaceTag:
			span.ServiceNamespace = value
		case serviceInstanceIDTag:
			span.ServiceInstanceID = value
		default:
			if _, ok := serviceMetaTags[tag.Key]; ok {
				if span.Meta == nil {
					span.Meta = make(map[string]string)
				}
				span.Meta[tag.Key] = value
			}
		}
	}

	for _, ref := range doc.References {
		if ref.TraceID == "" || ref.SpanID == "" {
			continue
		}
		span.References = append(span.References, Reference{
			RefType: ref.RefType,
			TraceID: ref.TraceID,
			SpanID:  ref.SpanID,
		})
	}

	return span, nil
}

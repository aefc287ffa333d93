package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDocument = `{
	"traceID": "3f2a",
	"spanID": "9b01",
	"operationName": "GET /api/orders",
	"startTime": 1717243200000000,
	"startTimeMillis": 1717243200000,
	"duration": 1532,
	"references": [
		{"refType": "CHILD_OF", "traceID": "3f2a", "spanID": "77aa"}
	],
	"tags": [{"key": "http.status_code", "type": "int64", "value": "200"}],
	"process": {
		"serviceName": "orders",
		"tags": [
			{"key": "service.namespace", "type": "string", "value": "shop"},
			{"key": "service.instance.id", "type": "string", "value": "orders-1"},
			{"key": "service.version", "type": "string", "value": "2.4.1"},
			{"key": "k8s.pod.name", "type": "string", "value": "orders-6d4f"},
			{"key": "host.arch", "type": "string", "value": "amd64"}
		]
	}
}`

func TestConvertSpanDocument(t *testing.T) {
	t.Run("Decodes a Jaeger span document", func(t *testing.T) {
		span, err := ConvertSpanDocument(json.RawMessage(sampleDocument))
		require.NoError(t, err)

		assert.Equal(t, "3f2a", span.TraceID)
		assert.Equal(t, "9b01", span.SpanID)
		assert.Equal(t, "GET /api/orders", span.OperationName)
		assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), span.StartTime)
		assert.Equal(t, "orders", span.ServiceName)
		assert.Equal(t, "shop", span.ServiceNamespace)
		assert.Equal(t, "orders-1", span.ServiceInstanceID)

		require.Len(t, span.References, 1)
		assert.Equal(t, RefTypeChildOf, span.References[0].RefType)
		assert.Equal(t, "77aa", span.References[0].SpanID)
	})

	t.Run("Keeps only allowlisted process tags as meta", func(t *testing.T) {
		span, err := ConvertSpanDocument(json.RawMessage(sampleDocument))
		require.NoError(t, err)
		assert.Equal(t, map[string]string{
			"service.version": "2.4.1",
			"k8s.pod.name":    "orders-6d4f",
		}, span.Meta)
	})

	t.Run("Ignores non-string tag values", func(t *testing.T) {
		doc := `{
			"traceID": "t", "spanID": "s", "operationName": "op", "startTime": 1,
			"process": {"serviceName": "svc", "tags": [
				{"key": "service.namespace", "type": "bool", "value": true}
			]}
		}`
		span, err := ConvertSpanDocument(json.RawMessage(doc))
		require.NoError(t, err)
		assert.Empty(t, span.ServiceNamespace)
	})

	t.Run("Drops references missing ids", func(t *testing.T) {
		doc := `{
			"traceID": "t", "spanID": "s", "operationName": "op", "startTime": 1,
			"references": [{"refType": "CHILD_OF", "traceID": "", "spanID": "x"}],
			"process": {"serviceName": "svc"}
		}`
		span, err := ConvertSpanDocument(json.RawMessage(doc))
		require.NoError(t, err)
		assert.Empty(t, span.References)
	})

	t.Run("Rejects documents missing required fields", func(t *testing.T) {
		documents := map[string]string{
			"traceID":     `{"spanID": "s", "operationName": "op", "startTime": 1, "process": {"serviceName": "svc"}}`,
			"spanID":      `{"traceID": "t", "operationName": "op", "startTime": 1, "process": {"serviceName": "svc"}}`,
			"operation":   `{"traceID": "t", "spanID": "s", "startTime": 1, "process": {"serviceName": "svc"}}`,
			"serviceName": `{"traceID": "t", "spanID": "s", "operationName": "op", "startTime": 1}`,
			"startTime":   `{"traceID": "t", "spanID": "s", "operationName": "op", "process": {"serviceName": "svc"}}`,
		}
		for name, doc := range documents {
			_, err := ConvertSpanDocument(json.RawMessage(doc))
			assert.Error(t, err, "expected a decode error for a document missing %s", name)
		}
	})

	t.Run("Rejects malformed documents", func(t *testing.T) {
		_, err := ConvertSpanDocument(json.RawMessage(`{"traceID": 42}`))
		assert.Error(t, err)
	})
}

func TestSpanChildOf(t *testing.T) {
	t.Run("Filters to child-of references", func(t *testing.T) {
		span := Span{References: []Reference{
			{RefType: RefTypeChildOf, TraceID: "t", SpanID: "a"},
			{RefType: "FOLLOWS_FROM", TraceID: "t", SpanID: "b"},
		}}
		refs := span.ChildOf()
		require.Len(t, refs, 1)
		assert.Equal(t, "a", refs[0].SpanID)
	})
}

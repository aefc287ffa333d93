package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	discoveryModel "github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/service"
	esModel "github.com/ContinuousC/JaegerDiscovery/pkg/elasticsearch/model"
	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

const pitKeepAlive = "1m"
const closePitTimeout = 10 * time.Second

// SpanReader streams Jaeger span documents from the trace store in
// non-decreasing start-time order. Each tick opens a point in time over the
// span indices and pages through it with search_after until exhausted, so a
// consistent view is read even while the collector keeps writing.
// https://www.elastic.co/guide/en/elasticsearch/reference/master/paginate-search-results.html
type SpanReader struct {
	es       *elasticsearch.Client
	index    string
	pageSize int
	logger   *zap.Logger
}

func NewSpanReader(es *elasticsearch.Client, index string, pageSize int, logger *zap.Logger) *SpanReader {
	return &SpanReader{
		es:       es,
		index:    index,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Stream implements service.SpanSource.
func (r *SpanReader) Stream(ctx context.Context, since time.Time) <-chan service.SpanPageResult {
	out := make(chan service.SpanPageResult)
	go func() {
		defer close(out)

		pitID, err := r.openPointInTime(ctx)
		if err != nil {
			r.send(ctx, out, service.SpanPageResult{Err: err})
			return
		}
		defer r.closePointInTime(pitID)

		var searchAfter []interface{}
		for {
			res, err := r.searchPage(ctx, pitID, since, searchAfter)
			if err != nil {
				r.send(ctx, out, service.SpanPageResult{Err: err})
				return
			}
			if res.PitID != "" {
				pitID = res.PitID
			}
			if len(res.Hits.HitArray) == 0 {
				return
			}

			spans := make([]discoveryModel.Span, 0, len(res.Hits.HitArray))
			for _, hit := range res.Hits.HitArray {
				span, err := discoveryModel.ConvertSpanDocument(hit.Source)
				if err != nil {
					r.logger.Warn("skipping undecodable span document",
						zap.String("index", hit.Index),
						zap.String("id", hit.ID),
						zap.Error(err),
					)
					continue
				}
				spans = append(spans, span)
			}
			searchAfter = res.Hits.HitArray[len(res.Hits.HitArray)-1].Sort

			if len(spans) > 0 {
				if !r.send(ctx, out, service.SpanPageResult{Spans: spans}) {
					return
				}
			}
		}
	}()
	return out
}

func (r *SpanReader) send(ctx context.Context, out chan<- service.SpanPageResult, result service.SpanPageResult) bool {
	select {
	case out <- result:
		return true
	case <-ctx.Done():
		return false
	}
}

func (r *SpanReader) openPointInTime(ctx context.Context) (string, error) {
	res, err := r.es.OpenPointInTime(
		[]string{r.index},
		pitKeepAlive,
		r.es.OpenPointInTime.WithContext(ctx),
	)
	if err != nil {
		return "", fmt.Errorf("failed to open point in time: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return "", fmt.Errorf("failed to open point in time: %s", res.String())
	}
	var pitResponse esModel.PitResponse
	if err := json.NewDecoder(res.Body).Decode(&pitResponse); err != nil {
		return "", fmt.Errorf("failed to decode pit response: %w", err)
	}
	if pitResponse.ID == "" {
		return "", fmt.Errorf("failed to read pit id")
	}
	return pitResponse.ID, nil
}

func (r *SpanReader) closePointInTime(pitID string) {
	ctx, cancel := context.WithTimeout(context.Background(), closePitTimeout)
	defer cancel()

	var buf bytes.Buffer
	body := map[string]interface{}{"id": pitID}
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		r.logger.Warn("failed to encode close pit request body", zap.Error(err))
		return
	}

	res, err := r.es.ClosePointInTime(
		r.es.ClosePointInTime.WithBody(&buf),
		r.es.ClosePointInTime.WithContext(ctx),
	)
	if err != nil {
		r.logger.Warn("failed to close point in time", zap.Error(err))
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		r.logger.Warn("failed to close point in time", zap.String("response", res.String()))
	}
}

func (r *SpanReader) searchPage(
	ctx context.Context,
	pitID string,
	since time.Time,
	searchAfter []interface{},
) (*esModel.SearchResponse, error) {
	body := map[string]interface{}{
		"size": r.pageSize,
		"query": map[string]interface{}{
			"range": map[string]interface{}{
				"startTime": map[string]interface{}{
					"gte": since.UnixMicro(),
				},
			},
		},
		"sort": []map[string]interface{}{
			{"startTime": map[string]string{"order": "asc"}},
		},
		"pit": map[string]string{
			"id":         pitID,
			"keep_alive": pitKeepAlive,
		},
	}
	if searchAfter != nil {
		body["search_after"] = searchAfter
	}
	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal span query: %w", err)
	}

	res, err := r.es.Search(
		r.es.Search.WithContext(ctx),
		r.es.Search.WithBody(bytes.NewReader(bodyJSON)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to execute span query: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("failed to execute span query: %s", res.String())
	}

	var searchResponse esModel.SearchResponse
	if err := json.NewDecoder(res.Body).Decode(&searchResponse); err != nil {
		return nil, fmt.Errorf("failed to decode span query response: %w", err)
	}
	return &searchResponse, nil
}

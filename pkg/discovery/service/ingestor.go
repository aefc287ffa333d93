package service

import (
	"context"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Ingestor pulls span pages from the SpanSource, enforces non-decreasing
// delivery order and drops exact duplicate documents before handing the
// stream to the aggregator. Deduplication is an admission shortcut only;
// aggregation stays idempotent without it.
type Ingestor struct {
	source SpanSource
	seen   *ristretto.Cache
	logger *zap.Logger
}

func NewIngestor(source SpanSource, seen *ristretto.Cache, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		source: source,
		seen:   seen,
		logger: logger,
	}
}

// Stream yields the span pages for one tick starting at the given time. The
// sequence is finite and non-restartable; the channel closes when the source
// is exhausted or after an error result.
func (i *Ingestor) Stream(ctx context.Context, since time.Time) <-chan SpanPageResult {
	out := make(chan SpanPageResult)
	go func() {
		defer close(out)
		var maxSeen time.Time
		for result := range i.source.Stream(ctx, since) {
			if ctx.Err() != nil {
				return
			}
			if result.Err != nil {
				select {
				case out <- result:
				case <-ctx.Done():
				}
				return
			}
			spans := make([]model.Span, 0, len(result.Spans))
			for _, s := range result.Spans {
				if s.StartTime.Before(maxSeen) {
					i.logger.Debug("out-of-order span document",
						zap.String("traceId", s.TraceID),
						zap.String("spanId", s.SpanID),
						zap.Time("startTime", s.StartTime),
						zap.Time("maxSeen", maxSeen),
					)
					s.StartTime = maxSeen
				} else {
					maxSeen = s.StartTime
				}
				if i.isDuplicate(&s) {
					continue
				}
				spans = append(spans, s)
			}
			if len(spans) == 0 {
				continue
			}
			select {
			case out <- SpanPageResult{Spans: spans}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (i *Ingestor) isDuplicate(s *model.Span) bool {
	if i.seen == nil {
		return false
	}
	key := s.TraceID + ":" + s.SpanID
	if _, found := i.seen.Get(key); found {
		return true
	}
	i.seen.Set(key, struct{}{}, 1)
	return false
}

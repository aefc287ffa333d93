package bootstrapper

import (
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"
)

const retries = 30
const waitTime = 5

// Bootstrapper verifies at startup that the trace store is reachable. The
// span indices themselves are owned by the Jaeger collector; discovery only
// reads them, so nothing is created here.
type Bootstrapper struct {
	esClient *elasticsearch.Client
	logger   *zap.Logger
}

func NewBootstrapper(esClient *elasticsearch.Client, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		esClient: esClient,
		logger:   logger,
	}
}

// WaitForTraceStore blocks until the trace store answers an info request, or
// fails after the retry budget is exhausted.
func (bs *Bootstrapper) WaitForTraceStore() error {
	if err := bs.waitForElasticsearch(retries, waitTime*time.Second); err != nil {
		return fmt.Errorf("failed to connect to the trace store: %w", err)
	}
	return nil
}

func (bs *Bootstrapper) waitForElasticsearch(maxRetries int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		res, err := bs.esClient.Info()
		if err == nil && !res.IsError() {
			res.Body.Close()
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("info request failed: %s", res.String())
			res.Body.Close()
		}
		bs.logger.Info("waiting for the trace store",
			zap.Int("attempt", i+1),
			zap.Int("maxRetries", maxRetries),
			zap.Error(lastErr),
		)
		time.Sleep(delay)
	}
	return lastErr
}

package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"go.uber.org/zap"
)

const requestTimeout = 60 * time.Second

// maxErrorBodySize bounds how much of an error response is copied into the
// returned error.
const maxErrorBodySize = 4096

// RelationGraphClient submits topology snapshots to the relation-graph
// service. Each submission is authoritative for the current generation, so
// re-submitting the same snapshot is safe.
type RelationGraphClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *zap.Logger
}

func NewRelationGraphClient(baseURL string, insecureSkipVerify bool, logger *zap.Logger) *RelationGraphClient {
	return &RelationGraphClient{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
	}
}

// Publish implements service.GraphSink.
func (c *RelationGraphClient) Publish(ctx context.Context, topology *model.Topology) error {
	body, err := json.Marshal(topology)
	if err != nil {
		return fmt.Errorf("failed to marshal topology: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/items", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build topology request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PROXY-ROLE", "Editor")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit topology: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodySize))
		return fmt.Errorf("topology submission rejected with status %s: %s", res.Status, string(msg))
	}

	c.logger.Debug("topology submitted",
		zap.Int("items", len(topology.Items.Items)),
		zap.Int("relations", len(topology.Items.Relations)),
	)
	return nil
}

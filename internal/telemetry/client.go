package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

// Client uploads telemetry batches to the cloud endpoint.
type Client struct {
	httpClient *http.Client
	endpoint   string
	maxRetries int
	logger     *logger.Logger
}

// NewClient creates a new telemetry client
func NewClient(endpoint string, timeout time.Duration, maxRetries int, log *logger.Logger) *Client {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		endpoint:   endpoint,
		maxRetries: maxRetries,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: log.Named("telemetry-client"),
	}
}

// Upload sends one batch and returns the endpoint's acknowledgment.
// Transient failures are retried with backoff up to the configured
// attempts; after that the error is returned and the rows stay queued.
func (c *Client) Upload(ctx context.Context, batch *BatchRequest) (*BatchResponse, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	retryDelay := 1 * time.Second
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		resp, err := c.doUpload(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if attempt < c.maxRetries {
			c.logger.Warn("Retrying telemetry upload",
				logger.String("batch_id", batch.BatchID),
				logger.Int("attempt", attempt),
				logger.Int("max_attempts", c.maxRetries),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
				retryDelay *= 2
			}
		}
	}

	return nil, fmt.Errorf("upload failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) doUpload(ctx context.Context, body []byte) (*BatchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(bytes.TrimSpace(respBody)) == 0 {
		// No body means a blanket ack.
		return nil, nil
	}

	var ack BatchResponse
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return nil, fmt.Errorf("failed to parse acknowledgment: %w", err)
	}
	return &ack, nil
}

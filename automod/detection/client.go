package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/chatwarden/warden/pkg/robusthttp"
)

// Engine implementation which calls an external detection service over HTTP.
//
// The service is expected to accept a JSON-encoded ContentCheckRequest at POST {Host}/v1/check and respond with a JSON ContentDetectionResult.
type Client struct {
	Host   string
	Token  string
	Client *http.Client
}

var _ Engine = (*Client)(nil)

func NewClient(host, token string) *Client {
	return &Client{
		Host:  strings.TrimSuffix(host, "/"),
		Token: token,
		Client: robusthttp.NewClient(
			robusthttp.WithMaxRetries(2),
			robusthttp.WithRetryWaitMax(5*time.Second),
		),
	}
}

func (c *Client) Check(ctx context.Context, req ContentCheckRequest) (*ContentDetectionResult, error) {
	start := time.Now()
	defer func() {
		detectionDuration.Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Host+"/v1/check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		hreq.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.Client.Do(hreq)
	if err != nil {
		detectionRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()
	detectionRequests.WithLabelValues(fmt.Sprint(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("detection service status=%d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out ContentDetectionResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding detection result: %w", err)
	}
	return &out, nil
}

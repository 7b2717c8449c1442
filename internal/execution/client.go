// Package execution talks to the external query service that runs a
// validated subgraph and returns preview rows.
package execution

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rpattn/dataflow/internal/domain"
	"github.com/rpattn/dataflow/internal/registry"
	"github.com/rpattn/dataflow/internal/xjson"
)

// ErrNotConfigured is returned when no execution service URL is set.
var ErrNotConfigured = errors.New("execution service not configured")

const previewPath = "/v1/preview"

// Request is a serialized subgraph ending at Target.
type Request struct {
	PipelineID string        `json:"pipelineId,omitempty"`
	Target     string        `json:"target"`
	Nodes      []domain.Node `json:"nodes"`
	Limit      int           `json:"limit,omitempty"`
}

// Preview is the row and column data returned for the target node.
type Preview struct {
	Fields []domain.Field `json:"fields"`
	Rows   []registry.Row `json:"rows"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Client calls the execution service over HTTP
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client. A zero timeout defaults to 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Preview posts the subgraph and decodes the preview.
func (c *Client) Preview(ctx context.Context, req Request) (Preview, error) {
	if c == nil || c.baseURL == "" {
		return Preview{}, ErrNotConfigured
	}
	payload, err := xjson.Marshal(req)
	if err != nil {
		return Preview{}, fmt.Errorf("encode preview request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+previewPath, bytes.NewReader(payload))
	if err != nil {
		return Preview{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Preview{}, fmt.Errorf("preview request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return Preview{}, fmt.Errorf("read preview response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure errorBody
		if xjson.Unmarshal(body, &failure) == nil && failure.Error != "" {
			return Preview{}, fmt.Errorf("execution service returned %d: %s", resp.StatusCode, failure.Error)
		}
		return Preview{}, fmt.Errorf("execution service returned %d", resp.StatusCode)
	}

	var preview Preview
	if err := xjson.Unmarshal(body, &preview); err != nil {
		return Preview{}, fmt.Errorf("decode preview response: %w", err)
	}
	return preview, nil
}

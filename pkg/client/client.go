// Package client talks to a running reminisce API server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/papercomputeco/reminisce/pkg/eventstream"
	"github.com/papercomputeco/reminisce/pkg/invalidation"
	"github.com/papercomputeco/reminisce/pkg/reminisce"
)

const defaultTimeout = 10 * time.Second

// Client calls the /v1 API.
type Client struct {
	target *url.URL
	http   *http.Client
}

// New creates a client for the server at apiTarget.
func New(apiTarget string) (*Client, error) {
	u, err := url.Parse(apiTarget)
	if err != nil {
		return nil, fmt.Errorf("invalid API target URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API target URL %q: scheme and host are required", apiTarget)
	}

	return &Client{
		target: u,
		http:   &http.Client{Timeout: defaultTimeout},
	}, nil
}

// Stats fetches store statistics.
func (c *Client) Stats(ctx context.Context, detailed bool) (*reminisce.Stats, error) {
	q := url.Values{}
	if detailed {
		q.Set("detailed", "true")
	}

	var res reminisce.Result[*reminisce.Stats]
	if err := c.do(ctx, http.MethodGet, "/v1/stats", q, nil, &res); err != nil {
		return nil, err
	}
	return res.Data, res.Err()
}

// EmitEntityChange posts an entity change event and returns what it did.
func (c *Client) EmitEntityChange(ctx context.Context, event *eventstream.EntityChangeEvent) (*invalidation.Outcome, error) {
	if event == nil {
		return nil, eventstream.ErrNilEvent
	}

	var res reminisce.Result[invalidation.Outcome]
	if err := c.do(ctx, http.MethodPost, "/v1/events", nil, event, &res); err != nil {
		return nil, err
	}
	if err := res.Err(); err != nil {
		return nil, err
	}
	return &res.Data, nil
}

// do sends one request and decodes the result envelope. Error statuses still
// carry an envelope, so only undecodable bodies are transport failures.
func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	u := *c.target
	u.Path = path
	u.RawQuery = q.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to reminisce API at %s: %w", c.target, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("request failed (HTTP %d): %s", resp.StatusCode, string(data))
	}
	return nil
}

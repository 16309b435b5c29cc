// Package client talks to a running scheduler over its HTTP API and renders
// results for the terminal.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultPort is the scheduler's default listen port.
const DefaultPort = 39512

// Client is a thin wrapper over the scheduler's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the scheduler at host:port.
func New(host string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// apiError is the JSON error body the server produces.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error_  string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("scheduler unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if err := json.Unmarshal(data, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("%s", apiErr.Message)
		}
		if apiErr.Error_ != "" {
			return fmt.Errorf("%s", apiErr.Error_)
		}
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

// Package webdriver is the default session backend: a minimal client for
// the W3C WebDriver HTTP endpoints a remote grid exposes. Everything above
// the pool treats sessions as opaque; only this package speaks the wire
// protocol.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const defaultRequestTimeout = 60 * time.Second

// Client issues WebDriver protocol requests against one grid endpoint.
type Client struct {
	baseURL string
	http    *http.Client
	log     log.Logger
}

// NewClient creates a client for the grid at baseURL.
func NewClient(baseURL string, logger log.Logger) *Client {
	if logger == nil {
		logger = log.New()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultRequestTimeout},
		log:     logger.New("component", "webdriver"),
	}
}

type newSessionResponse struct {
	Value struct {
		SessionID    string         `json:"sessionId"`
		Capabilities map[string]any `json:"capabilities"`
	} `json:"value"`
}

type errorResponse struct {
	Value struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"value"`
}

// NewSession establishes a session with the given desired capabilities and
// returns its identifier and the capabilities the grid resolved.
func (c *Client) NewSession(ctx context.Context, caps map[string]any) (string, map[string]any, error) {
	body := map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": caps,
		},
	}

	var resp newSessionResponse
	if err := c.do(ctx, http.MethodPost, "/session", body, &resp); err != nil {
		return "", nil, fmt.Errorf("new session: %w", err)
	}
	if resp.Value.SessionID == "" {
		return "", nil, fmt.Errorf("new session: grid returned no session id")
	}
	c.log.Debug("Session established", "session", resp.Value.SessionID)
	return resp.Value.SessionID, resp.Value.Capabilities, nil
}

// DeleteSession tears the session down on the grid.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// Navigate points the session's browser at url.
func (c *Client) Navigate(ctx context.Context, sessionID, url string) error {
	body := map[string]any{"url": url}
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/url", body, nil); err != nil {
		return fmt.Errorf("navigate session %s: %w", sessionID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var wdErr errorResponse
		if json.Unmarshal(data, &wdErr) == nil && wdErr.Value.Error != "" {
			return fmt.Errorf("%s: %s", wdErr.Value.Error, wdErr.Value.Message)
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(data))
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

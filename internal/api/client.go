package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/benaskins/biokey/internal/errcode"
)

// Client calls a biokey daemon over its Unix socket.
type Client struct {
	http *http.Client
	base string
}

// NewClient returns a client for the daemon listening on socketPath.
// Challenges can wait on the user, so requests carry no client-side timeout;
// bound them with the context instead.
func NewClient(socketPath string) *Client {
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
		base: "http://biokey",
	}
}

// Exec runs action with positional args. A failed operation is returned as
// its errcode.Code so callers can match it with errors.Is.
func (c *Client) Exec(ctx context.Context, action string, args ...any) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	body, err := json.Marshal(Request{Args: args})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/exec/"+action, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is biokey daemon running?)", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK      bool            `json:"ok"`
		Payload json.RawMessage `json:"payload"`
		Code    string          `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response (status %d): %w", resp.StatusCode, err)
	}
	if !result.OK {
		return nil, errcode.Code(result.Code)
	}
	return result.Payload, nil
}

// Keys lists the keys with a saved credential.
func (c *Client) Keys(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/keys", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to daemon: %w (is biokey daemon running?)", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error %d", resp.StatusCode)
	}
	var keys []string
	if err := json.NewDecoder(resp.Body).Decode(&keys); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return keys, nil
}

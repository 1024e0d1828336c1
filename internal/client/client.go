// Package client talks to a running daemon over its HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"wg-tunnels/internal/core"
	"wg-tunnels/internal/quickaction"
	"wg-tunnels/internal/service"
)

const defaultTimeout = 35 * time.Second

// Client is an API client. Streams (Events) are not bound by Timeout.
type Client struct {
	base    string
	http    *http.Client
	Timeout time.Duration
}

// New creates a client for addr, either host:port or a full URL.
func New(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base:    strings.TrimRight(base, "/") + "/api/v1",
		http:    &http.Client{},
		Timeout: defaultTimeout,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
	// Kind is set for rejected activations, e.g. "anotherTunnelIsOperational".
	Kind string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("%s (%s, HTTP %d)", e.Message, e.Kind, e.Status)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.Status)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) request(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("client: encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends a request and decodes a JSON response into out (if not nil).
// A 207 response is decoded and not treated as an error.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	req, err := c.request(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: is the daemon running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message, apiErr.Kind = body.Error, body.Kind
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

func tunnelPath(name string, parts ...string) string {
	p := "/tunnels/" + url.PathEscape(name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) Status(ctx context.Context) (service.StatusView, error) {
	var st service.StatusView
	err := c.do(ctx, http.MethodGet, "/status", nil, &st)
	return st, err
}

func (c *Client) List(ctx context.Context) ([]service.TunnelView, error) {
	var out []service.TunnelView
	err := c.do(ctx, http.MethodGet, "/tunnels", nil, &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, name string) (service.TunnelView, error) {
	var out service.TunnelView
	err := c.do(ctx, http.MethodGet, tunnelPath(name), nil, &out)
	return out, err
}

// Add imports a tunnel from wg-quick text.
func (c *Client) Add(ctx context.Context, name, config string, onDemand *core.OnDemandRules) (service.TunnelView, error) {
	var out service.TunnelView
	err := c.do(ctx, http.MethodPost, "/tunnels", service.TunnelRequest{Name: name, Config: config, OnDemand: onDemand}, &out)
	return out, err
}

// Modify renames and/or reconfigures a tunnel. Empty fields are left as
// they are.
func (c *Client) Modify(ctx context.Context, name string, req service.TunnelRequest) (service.TunnelView, error) {
	var out service.TunnelView
	err := c.do(ctx, http.MethodPut, tunnelPath(name), req, &out)
	return out, err
}

func (c *Client) Remove(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, tunnelPath(name), nil, nil)
}

// RemoveMultiple returns the per-name outcome; partial failure is not an
// error.
func (c *Client) RemoveMultiple(ctx context.Context, names []string) (service.RemoveResult, error) {
	var out service.RemoveResult
	err := c.do(ctx, http.MethodPost, "/tunnels/remove", service.RemoveRequest{Names: names}, &out)
	return out, err
}

// Move returns the new order.
func (c *Client) Move(ctx context.Context, name string, to int) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodPost, tunnelPath(name, "move"), service.MoveRequest{To: to}, &out)
	return out, err
}

// Activate requests activation. With wait it blocks until the daemon knows
// the outcome and returns the activated tunnel.
func (c *Client) Activate(ctx context.Context, name string, wait bool) (service.TunnelView, error) {
	path := tunnelPath(name, "activate")
	if wait {
		path += "?wait=true"
	}
	var out service.TunnelView
	if !wait {
		return out, c.do(ctx, http.MethodPost, path, nil, nil)
	}
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func (c *Client) Deactivate(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, tunnelPath(name, "deactivate"), nil, nil)
}

func (c *Client) Restart(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, tunnelPath(name, "restart"), nil, nil)
}

func (c *Client) SetOnDemand(ctx context.Context, name string, req service.OnDemandRequest) (service.TunnelView, error) {
	var out service.TunnelView
	err := c.do(ctx, http.MethodPut, tunnelPath(name, "on-demand"), req, &out)
	return out, err
}

func (c *Client) Recents(ctx context.Context, limit int) ([]string, error) {
	var out []string
	err := c.do(ctx, http.MethodGet, "/recents?limit="+strconv.Itoa(limit), nil, &out)
	return out, err
}

func (c *Client) QuickActions(ctx context.Context) ([]quickaction.Item, error) {
	var out []quickaction.Item
	err := c.do(ctx, http.MethodGet, "/quick-actions", nil, &out)
	return out, err
}

// Logs returns recent daemon log lines.
func (c *Client) Logs(ctx context.Context, tail int, level, tag string) ([]service.LogEntry, error) {
	q := url.Values{}
	q.Set("tail", strconv.Itoa(tail))
	if level != "" {
		q.Set("level", level)
	}
	if tag != "" {
		q.Set("tag", tag)
	}
	var out []service.LogEntry
	err := c.do(ctx, http.MethodGet, "/logs?"+q.Encode(), nil, &out)
	return out, err
}

// Event is a manager event as received from the stream. Payload is left
// raw; its shape depends on Type.
type Event struct {
	Type    core.EventType  `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Events streams manager events until ctx ends or the daemon goes away.
// The channel is closed when the stream ends.
func (c *Client) Events(ctx context.Context, types ...core.EventType) (<-chan Event, error) {
	path := "/events"
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = t.String()
		}
		path += "?types=" + url.QueryEscape(strings.Join(names, ","))
	}
	req, err := c.request(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("client: is the daemon running? %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}

	out := make(chan Event)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, out)
	}()
	return out, nil
}

func readEvents(ctx context.Context, r io.Reader, out chan<- Event) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &e); err != nil {
			core.Log.Debugf("Client", "Skipping malformed event: %v", err)
			continue
		}
		select {
		case out <- e:
		case <-ctx.Done():
			return
		}
	}
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Client talks to a running scale's API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at base, e.g. http://localhost:8080.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var r result
		if json.Unmarshal(data, &r) == nil && r.Message != "" {
			return nil, errors.Errorf("%s %s: %s", method, path, r.Message)
		}
		return nil, errors.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return data, nil
}

// Dashboard fetches the combined status.
func (c *Client) Dashboard(ctx context.Context) (Dashboard, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/dashboard", nil)
	if err != nil {
		return Dashboard{}, err
	}
	var d Dashboard
	if err := json.Unmarshal(data, &d); err != nil {
		return Dashboard{}, errors.Wrap(err, "decode dashboard")
	}
	return d, nil
}

// Tare tares the scale and returns the server's message.
func (c *Client) Tare(ctx context.Context) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/tare", url.Values{})
	return string(data), err
}

// SetMode switches the scale's mode.
func (c *Client) SetMode(ctx context.Context, mode string) (string, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/mode", url.Values{"mode": {mode}})
	return string(data), err
}

// Package defectclient is a client for the defect REST API.
//
// Every call returns the raw *http.Response (body already consumed) alongside
// the decoded body, so callers can read headers such as Link.
package defectclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joeblew999/plat-defects/internal/defect"
)

// APIError is a non-2xx response. Detail carries the huma problem detail
// when the server sent one.
type APIError struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, http.StatusText(e.Status))
}

// NotFound reports whether the error is a 404.
func (e *APIError) NotFound() bool { return e.Status == http.StatusNotFound }

// ListQuery filters GET /defects. Zero values are omitted.
type ListQuery struct {
	Skip       int
	Limit      int
	DefectType defect.Type
	Severity   defect.Severity
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Skip > 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.DefectType.Known() {
		v.Set("defect_type", q.DefectType.String())
	}
	if q.Severity.Known() {
		v.Set("severity", q.Severity.String())
	}
	return v
}

// Client talks to one defect API base URL, e.g. http://localhost:8086/api.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets a per-request timeout. Zero means none.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// New creates a client for baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string { return c.base }

// ListDefects calls GET /defects.
func (c *Client) ListDefects(ctx context.Context, q ListQuery) (*http.Response, []defect.Defect, error) {
	var out []defect.Defect
	resp, err := c.do(ctx, http.MethodGet, "/defects", q.values(), nil, &out)
	return resp, out, err
}

// GetDefect calls GET /defects/{id}.
func (c *Client) GetDefect(ctx context.Context, id int64) (*http.Response, defect.Defect, error) {
	var out defect.Defect
	resp, err := c.do(ctx, http.MethodGet, "/defects/"+strconv.FormatInt(id, 10), nil, nil, &out)
	return resp, out, err
}

// CreateDefect calls POST /defects.
func (c *Client) CreateDefect(ctx context.Context, req defect.CreateRequest) (*http.Response, defect.Defect, error) {
	var out defect.Defect
	resp, err := c.do(ctx, http.MethodPost, "/defects", nil, req, &out)
	return resp, out, err
}

// Statistics calls GET /defects/statistics/summary.
func (c *Client) Statistics(ctx context.Context) (*http.Response, defect.Statistics, error) {
	var out defect.Statistics
	resp, err := c.do(ctx, http.MethodGet, "/defects/statistics/summary", nil, nil, &out)
	return resp, out, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (*http.Response, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}
		var problem struct {
			Detail string `json:"detail"`
		}
		if json.Unmarshal(data, &problem) == nil {
			apiErr.Detail = problem.Detail
		}
		return resp, apiErr
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp, nil
}

// Package httputil provides the HTTP client abstraction the online
// backends sit on: an interface for testability, a retrying wrapper with
// deadline-aware backoff, and a mock implementation for tests.
package httputil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// HTTPClient abstracts HTTP operations for testability. Use a
// *StandardClient in production and *MockHTTPClient in tests.
type HTTPClient interface {
	// Do sends an HTTP request and returns an HTTP response.
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client to implement HTTPClient.
type StandardClient struct {
	*http.Client
}

// NewStandardClient creates a StandardClient. A nil argument selects
// http.DefaultClient.
func NewStandardClient(c *http.Client) *StandardClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &StandardClient{Client: c}
}

// Do sends an HTTP request.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	return c.Client.Do(req)
}

// RetryPolicy controls DoWithRetry. Client errors (4xx) are never retried;
// timeouts and 5xx responses are retried up to Retries additional attempts.
type RetryPolicy struct {
	Retries int           // additional attempts after the first
	Backoff time.Duration // pause between attempts, skipped when zero
}

// DefaultRetryPolicy is the online-backend default: one retry after the
// first attempt, no backoff.
var DefaultRetryPolicy = RetryPolicy{Retries: 1}

// ErrServerStatus marks a 5xx response surfaced as an error.
var ErrServerStatus = errors.New("httputil: server error status")

// ErrClientStatus marks a 4xx response surfaced as an error. Never retried.
var ErrClientStatus = errors.New("httputil: client error status")

// DoWithRetry issues req through c under the retry policy. The request
// must carry a context; each attempt reuses it, so the caller's deadline
// bounds the total time including retries. A body, when present, must be
// rewindable via req.GetBody.
func DoWithRetry(c HTTPClient, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= policy.Retries; attempt++ {
		if attempt > 0 {
			if err := req.Context().Err(); err != nil {
				return nil, err
			}
			if policy.Backoff > 0 {
				select {
				case <-req.Context().Done():
					return nil, req.Context().Err()
				case <-time.After(policy.Backoff):
				}
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httputil: rewind request body: %w", err)
				}
				req.Body = body
			}
		}

		resp, err := c.Do(req)
		if err != nil {
			// Context expiry and transport failures are retryable until
			// the caller's deadline runs out.
			lastErr = err
			if errors.Is(err, context.Canceled) {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("%w: %d", ErrServerStatus, resp.StatusCode)
			continue
		case resp.StatusCode >= 400:
			resp.Body.Close()
			return nil, fmt.Errorf("%w: %d", ErrClientStatus, resp.StatusCode)
		default:
			return resp, nil
		}
	}
	return nil, lastErr
}

// MockHTTPClient provides a testable HTTP client: queue canned responses
// with AddResponse, then assert on the recorded requests.
type MockHTTPClient struct {
	mu        sync.Mutex
	requests  []*http.Request
	responses []mockResponse
	idx       int

	// DoFunc, when set, overrides the queued responses entirely.
	DoFunc func(req *http.Request) (*http.Response, error)
}

type mockResponse struct {
	status int
	body   string
	err    error
}

// NewMockHTTPClient creates an empty mock client.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response. Returns the client for chaining.
func (m *MockHTTPClient) AddResponse(statusCode int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: statusCode, body: body})
	return m
}

// AddError queues a transport-level error. Returns the client for chaining.
func (m *MockHTTPClient) AddError(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

// Do implements HTTPClient. Responses repeat their last entry once the
// queue is exhausted.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.DoFunc != nil {
		m.mu.Unlock()
		return m.DoFunc(req)
	}
	if len(m.responses) == 0 {
		m.mu.Unlock()
		return nil, errors.New("httputil: mock has no responses queued")
	}
	r := m.responses[m.idx]
	if m.idx < len(m.responses)-1 {
		m.idx++
	}
	m.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	return &http.Response{
		StatusCode: r.status,
		Body:       io.NopCloser(bytes.NewBufferString(r.body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Requests returns a copy of the recorded requests.
func (m *MockHTTPClient) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*http.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns how many requests the mock has served.
func (m *MockHTTPClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

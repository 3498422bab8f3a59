// Package httpclient provides the outbound HTTP client used for
// provider API calls: bounded timeout, per-provider circuit breaker,
// no automatic retries.
package httpclient

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// DefaultTimeout bounds provider calls that do not configure their own.
const DefaultTimeout = 15 * time.Second

// Client wraps http.Client with a circuit breaker. A provider whose API
// keeps failing stops being called for a cool-down window instead of
// holding request handlers on timeouts.
type Client struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// New creates a client for one provider. name labels the breaker in
// its state-change log line.
func New(name string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Do executes the request through the breaker. Only transport-level
// failures count against the breaker; HTTP error statuses are the
// caller's business.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.URL.Host, err)
	}
	return resp, nil
}

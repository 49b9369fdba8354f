package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// maxSummaryBytes caps how much of an upstream response we will read.
const maxSummaryBytes = 1 << 20

// Client calls the upstream crawl+summarize service. HTML cleaning, prompt
// construction and model invocation all live behind that service; this is
// only the transport for the gate's produce step.
type Client struct {
	http     *http.Client
	base     string
	throttle *rate.Limiter
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithThrottle caps outbound calls across all identities, to be polite to
// the upstream regardless of per-client quotas.
func WithThrottle(rps float64, burst int) Option {
	return func(c *Client) { c.throttle = rate.NewLimiter(rate.Limit(rps), burst) }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func New(upstreamURL string, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second, Transport: newTransport()},
		base:     upstreamURL,
		throttle: rate.NewLimiter(rate.Limit(1), 3),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

type summarizeRequest struct {
	URL string `json:"url"`
}

type summarizeResponse struct {
	Summary string `json:"summary"`
}

// Produce asks the upstream to crawl and summarize url. Cancellation and
// timeout come from ctx; the caller already spent quota by the time this
// runs, so there are no retries here.
func (c *Client) Produce(ctx context.Context, url string) (string, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return "", fmt.Errorf("pipeline: throttle: %w", err)
	}

	body, err := json.Marshal(summarizeRequest{URL: url})
	if err != nil {
		return "", fmt.Errorf("pipeline: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pipeline: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("pipeline: upstream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pipeline: upstream status %d", resp.StatusCode)
	}
	var out summarizeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSummaryBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("pipeline: decode response: %w", err)
	}
	if out.Summary == "" {
		return "", fmt.Errorf("pipeline: empty summary from upstream")
	}
	return out.Summary, nil
}

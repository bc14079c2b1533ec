// Package signal is the client for the external probabilistic risk signal
// service. The service scores a submission 0-100 from features the rule
// engine cannot see; the assessment pipeline treats it as advisory and keeps
// working when it is down.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/veridoc/kyc-engine/internal/resilience"
)

const defaultBaseURL = "https://signal.veridoc.internal"

// ErrUnavailable is returned when the service cannot produce a score. Callers
// degrade to rule-only scoring; they never fail the assessment on it.
var ErrUnavailable = eris.New("signal: service unavailable")

// Client requests risk signals for submissions.
type Client interface {
	Assess(ctx context.Context, req Request) (*Response, error)
}

// Request is the body for POST /v1/signals.
type Request struct {
	SubmissionID string            `json:"submission_id"`
	CountryCode  string            `json:"country_code"`
	FormFields   map[string]string `json:"form_fields"`
	IssueTypes   []string          `json:"issue_types,omitempty"`
}

// Response is the scored signal.
type Response struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	ModelID   string  `json:"model_id,omitempty"`
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default service base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit caps outbound requests per second. Batch assessment fans out
// concurrently, so the limiter protects the service from a burst of workers.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

// WithBreaker installs a circuit breaker shared across requests.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *httpClient) {
		c.breaker = b
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewClient creates a signal service client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Assess(ctx context.Context, req Request) (*Response, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, eris.Wrap(ErrUnavailable, "breaker open")
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "signal: rate limit wait")
		}
	}

	resp, err := c.post(ctx, req)
	if c.breaker != nil {
		c.breaker.Record(err)
	}
	return resp, err
}

func (c *httpClient) post(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "signal: marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/signals", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "signal: create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "signal: send request"), 0)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "signal: read response")
	}

	if httpResp.StatusCode != http.StatusOK {
		err := eris.Errorf("signal: unexpected status %d: %s", httpResp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(httpResp.StatusCode) {
			return nil, resilience.NewTransientError(err, httpResp.StatusCode)
		}
		return nil, err
	}

	var result Response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, eris.Wrap(err, "signal: unmarshal response")
	}
	if result.Score < 0 || result.Score > 100 {
		return nil, eris.Errorf("signal: score %.1f out of range", result.Score)
	}

	return &result, nil
}

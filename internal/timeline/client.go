// Package timeline is the HTTP client for the upstream post-retrieval API
// (statuses/user_timeline). It serves one page of an account's posts at a
// time, walking backward from an inclusive max-id cursor.
package timeline

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/postpulse/postpulse/internal/config"
)

const timelinePath = "/statuses/user_timeline.json"

// maxErrorBody caps how much of a non-200 response body is read.
const maxErrorBody = 4 << 10

// Upstream error codes that identify a missing account.
const (
	codePageNotExist = 34
	codeUserNotFound = 50
)

var (
	// ErrAccountNotFound is returned when the upstream does not know the account.
	ErrAccountNotFound = errors.New("timeline: account not found")

	// ErrUnauthorized is returned for rejected credentials or protected accounts.
	ErrUnauthorized = errors.New("timeline: unauthorized")

	// ErrRateLimited is returned when the upstream answers 429.
	ErrRateLimited = errors.New("timeline: rate limited")

	// ErrCircuitOpen is returned without contacting the upstream while the
	// breaker is open.
	ErrCircuitOpen = errors.New("timeline: circuit open")
)

// Post is the subset of a timeline record the engine consumes.
type Post struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"created_at"`
}

// StatusError is a non-200 response not covered by a sentinel error.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("timeline: unexpected status %d", e.Code)
}

// Permanent reports whether err means retrying the same request
// cannot succeed.
func Permanent(err error) bool {
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrUnauthorized) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 400 && se.Code < 500 && se.Code != http.StatusTooManyRequests
	}
	return false
}

// apiError is the upstream error envelope: {"errors":[{"code":34,"message":"..."}]}.
type apiError struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Client fetches timeline pages. It is safe for concurrent use; the rate
// limiter and circuit breaker are shared by all callers.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// New returns a Client for the given timeline configuration.
// It builds the HTTP client once and reuses it across page requests.
func New(cfg config.TimelineConfig) (*Client, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("timeline: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("timeline: base url %q: scheme must be http or https", cfg.BaseURL)
	}
	return newClient(cfg, buildHTTPClient(cfg)), nil
}

func newClient(cfg config.TimelineConfig, client *http.Client) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
		breaker: newBreaker(cfg.Breaker),
	}
}

func newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = config.DefaultBreakerFailures
	}
	st := gobreaker.Settings{
		Name:    "timeline",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Answers about the account itself say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || Permanent(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("timeline: circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// FetchPage returns up to count of account's posts with id <= maxID, newest
// first. A nil maxID starts from the most recent post. An empty slice means
// the end of history.
func (c *Client) FetchPage(ctx context.Context, account string, maxID *int64, count int) ([]Post, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("timeline: rate limit wait: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, account, maxID, count)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}
	return out.([]Post), nil
}

func (c *Client) get(ctx context.Context, account string, maxID *int64, count int) ([]Post, error) {
	q := url.Values{}
	q.Set("screen_name", account)
	q.Set("count", strconv.Itoa(count))
	q.Set("trim_user", "true")
	q.Set("include_rts", "true")
	if maxID != nil {
		q.Set("max_id", strconv.FormatInt(*maxID, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+timelinePath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("timeline: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("timeline: http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var posts []Post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, fmt.Errorf("timeline: decode page: %w", err)
	}
	return posts, nil
}

// statusError maps a non-200 response to a sentinel or *StatusError.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope apiError
	_ = json.Unmarshal(body, &envelope)
	for _, e := range envelope.Errors {
		if e.Code == codePageNotExist || e.Code == codeUserNotFound {
			return ErrAccountNotFound
		}
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrAccountNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.AuthConfig
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs an http.Client for the configured auth and TLS settings.
func buildHTTPClient(cfg config.TimelineConfig) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	transport := &authRoundTripper{
		base: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsCfg,
		},
		auth: cfg.Auth,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   cfg.Timeout,
	}
}

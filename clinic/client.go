// Package clinic is the authenticated gateway to the clinic REST API.
//
// Every authenticated call carries the bearer token and the CSRF header and
// records activity on the token source. A 401 on any endpoint other than
// the refresh endpoint triggers at most one token refresh followed by at
// most one retry of the original request. When the refresh is refused or
// fails, the registered expiry handler is invoked and the original error is
// returned.
package clinic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/patientportal/internal/uuid"
)

const (
	// CSRFCookieName is the cookie the clinic API sets for double-submit
	// CSRF protection.
	CSRFCookieName = "csrf_token"
	// CSRFHeaderName echoes the CSRF cookie value on every authenticated call.
	CSRFHeaderName = "X-CSRF-Token"
	// RequestIDHeader correlates client and server logs.
	RequestIDHeader = "X-Request-ID"

	DefaultTimeout            = 15 * time.Second
	DefaultRefreshCooldown    = 5 * time.Second
	DefaultMaxRefreshAttempts = 2
	DefaultLogoutTimeout      = 5 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

// TokenSource supplies and persists the bearer token. session.TokenStore
// implements it.
type TokenSource interface {
	Token() string
	SetToken(token string) error
	Touch()
}

// ExpiryHandler is invoked when a 401 could not be recovered by refreshing.
type ExpiryHandler func(ctx context.Context)

// Client calls the clinic API. It is safe for concurrent use.
type Client struct {
	baseURL       *url.URL
	http          *http.Client
	tokens        TokenSource
	logger        *slog.Logger
	now           func() time.Time
	logoutTimeout time.Duration
	refresh       *refresher

	mu        sync.RWMutex
	onExpired ExpiryHandler
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. A cookie jar is attached
// to a copy of hc when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		c.http = &cp
	}
}

// WithTokenSource sets where the bearer token is read from and stored.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithRefreshCooldown sets the minimum gap between refresh attempts.
func WithRefreshCooldown(d time.Duration) Option {
	return func(c *Client) { c.refresh.cooldown = d }
}

// WithMaxRefreshAttempts sets how many consecutive refreshes may fail before
// further refreshes are refused.
func WithMaxRefreshAttempts(n int) Option {
	return func(c *Client) { c.refresh.max = n }
}

// WithLogoutTimeout bounds the best-effort logout call.
func WithLogoutTimeout(d time.Duration) Option {
	return func(c *Client) { c.logoutTimeout = d }
}

// WithExpiryHandler registers the handler invoked when refresh fails.
func WithExpiryHandler(fn ExpiryHandler) Option {
	return func(c *Client) { c.onExpired = fn }
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	c := &Client{
		baseURL:       u,
		http:          &http.Client{Timeout: DefaultTimeout},
		tokens:        noTokens{},
		now:           time.Now,
		logoutTimeout: DefaultLogoutTimeout,
		refresh: &refresher{
			cooldown: DefaultRefreshCooldown,
			max:      DefaultMaxRefreshAttempts,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	c.logger = c.logger.With("component", "clinic")
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	c.refresh.init()
	return c, nil
}

// OnSessionExpired replaces the expiry handler.
func (c *Client) OnSessionExpired(fn ExpiryHandler) {
	c.mu.Lock()
	c.onExpired = fn
	c.mu.Unlock()
}

// ResetRefreshAttempts clears the failed-refresh counter. Called after a
// fresh login.
func (c *Client) ResetRefreshAttempts() {
	c.refresh.reset()
}

// request describes one call. Values are copied, never mutated: a retry is
// a new descriptor with retries incremented.
type request struct {
	method string
	path   string
	body   []byte

	// authenticated attaches bearer and CSRF headers and records activity.
	authenticated bool
	// intercept enables the 401 refresh-and-retry flow.
	intercept bool
	// bearer replaces the token source when fixedBearer is set.
	bearer      string
	fixedBearer bool
	// credentialOp marks the login call, where 401 means bad credentials.
	credentialOp bool

	retries int
}

func (r request) op() string { return r.method + " " + r.path }

func (r request) retried() request {
	r.retries++
	return r
}

func newRequest(method, path string, body any) (request, error) {
	req := request{method: method, path: path}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return request{}, fmt.Errorf("encoding %s body: %w", req.op(), err)
		}
		req.body = data
	}
	return req, nil
}

func (c *Client) shouldRefresh(req request) bool {
	return req.intercept && req.retries == 0 && req.path != pathRefresh
}

// do sends req, runs the 401 interception and decodes a successful
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	status, body, err := c.send(ctx, req)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && c.shouldRefresh(req) {
		original := c.statusError(req, status, body)
		if rerr := c.refreshToken(ctx); rerr != nil {
			c.logger.Warn("token refresh failed, expiring session",
				slog.String("op", req.op()),
				slog.String("error", rerr.Error()))
			c.expire(ctx)
			return original
		}
		return c.do(ctx, req.retried(), out)
	}

	if status >= 400 {
		return c.statusError(req, status, body)
	}
	if out != nil && len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return &APIError{Category: CategoryUnknown, Op: req.op(), Status: status,
				Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

// send performs a single HTTP exchange and returns the status and body.
func (c *Client) send(ctx context.Context, req request) (int, []byte, error) {
	var body io.Reader
	if req.body != nil {
		body = bytes.NewReader(req.body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.baseURL.JoinPath(req.path).String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("building %s request: %w", req.op(), err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	requestID := uuid.New()
	httpReq.Header.Set(RequestIDHeader, requestID)

	if req.authenticated {
		token := req.bearer
		if !req.fixedBearer {
			token = c.tokens.Token()
		}
		if token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
		if csrf := c.csrfToken(); csrf != "" {
			httpReq.Header.Set(CSRFHeaderName, csrf)
		}
		c.tokens.Touch()
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed",
			slog.String("op", req.op()),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return 0, nil, &APIError{Category: CategoryNetwork, Op: req.op(), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, &APIError{Category: CategoryNetwork, Op: req.op(), Status: resp.StatusCode,
			Err: fmt.Errorf("reading response: %w", err)}
	}
	c.logger.Debug("request completed",
		slog.String("op", req.op()),
		slog.String("request_id", requestID),
		slog.Int("status", resp.StatusCode),
		slog.Int("retries", req.retries))
	return resp.StatusCode, data, nil
}

func (c *Client) statusError(req request, status int, body []byte) error {
	return &APIError{
		Category: statusCategory(status, req.credentialOp),
		Op:       req.op(),
		Status:   status,
		Message:  serverMessage(body),
	}
}

func (c *Client) csrfToken() string {
	for _, ck := range c.http.Jar.Cookies(c.baseURL) {
		if ck.Name == CSRFCookieName {
			return ck.Value
		}
	}
	return ""
}

func (c *Client) expire(ctx context.Context) {
	c.mu.RLock()
	fn := c.onExpired
	c.mu.RUnlock()
	if fn != nil {
		fn(ctx)
	}
}

type noTokens struct{}

func (noTokens) Token() string         { return "" }
func (noTokens) SetToken(string) error { return nil }
func (noTokens) Touch()                {}

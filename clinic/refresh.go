package clinic

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// refresher gates token refreshes with a cooldown and a cap on consecutive
// failures. The counter survives across calls until a refresh succeeds or
// reset is called.
type refresher struct {
	cooldown time.Duration
	max      int

	mu       sync.Mutex
	limiter  *rate.Limiter
	attempts int
}

func (r *refresher) init() {
	limit := rate.Inf
	if r.cooldown > 0 {
		limit = rate.Every(r.cooldown)
	}
	r.limiter = rate.NewLimiter(limit, 1)
}

// acquire reserves an attempt at now or explains why none is allowed.
func (r *refresher) acquire(now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts >= r.max {
		return ErrRefreshExhausted
	}
	if !r.limiter.AllowN(now, 1) {
		return ErrRefreshCooldown
	}
	r.attempts++
	return nil
}

func (r *refresher) reset() {
	r.mu.Lock()
	r.attempts = 0
	r.mu.Unlock()
}

type refreshResponse struct {
	Token string `json:"token"`
}

// Refresh asks the API for a new credential using the refresh cookie,
// subject to the cooldown and attempt cap. A token in the response is
// persisted before Refresh returns.
func (c *Client) Refresh(ctx context.Context) error {
	return c.refreshToken(ctx)
}

func (c *Client) refreshToken(ctx context.Context) error {
	if err := c.refresh.acquire(c.now()); err != nil {
		return err
	}
	req := request{method: http.MethodPost, path: pathRefresh, authenticated: true}
	var resp refreshResponse
	if err := c.do(ctx, req, &resp); err != nil {
		return fmt.Errorf("refreshing token: %w", err)
	}
	if resp.Token != "" {
		if err := c.tokens.SetToken(resp.Token); err != nil {
			return fmt.Errorf("persisting refreshed token: %w", err)
		}
	}
	c.refresh.reset()
	c.logger.Info("token refreshed")
	return nil
}

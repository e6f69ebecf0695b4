// Package compliance gates every outbound request behind the robots
// policy, per-host rate limits, and status classification.
package compliance

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Gate bundles the robots policy and limiter registry that every fetch
// consults before touching the network.
type Gate struct {
	robots   *RobotsGate
	limiters *Registry
}

// NewGate wires a compliance gate from the transparent UA and page
// rate-limit interval.
func NewGate(userAgent string, pageInterval, robotsTimeout time.Duration, logger *slog.Logger) *Gate {
	return &Gate{
		robots:   NewRobotsGate(userAgent, robotsTimeout, logger),
		limiters: NewRegistry(pageInterval),
	}
}

// IsAllowed answers the robots policy for a URL.
func (g *Gate) IsAllowed(ctx context.Context, rawURL string) bool {
	return g.robots.IsAllowed(ctx, rawURL)
}

// PageLimiter returns the serialized page-level limiter for a host.
func (g *Gate) PageLimiter(host string) *Limiter {
	return g.limiters.PageLimiter(host)
}

// APILimiter returns the day-worker limiter for a host.
func (g *Gate) APILimiter(host string) *Limiter {
	return g.limiters.APILimiter(host)
}

// Reset clears cached robots policies and materialized limiters.
func (g *Gate) Reset() {
	g.robots.Reset()
	g.limiters.Reset()
}

// IsPaywall reports whether a status code indicates a paywall.
func IsPaywall(status int) bool {
	return status == http.StatusPaymentRequired
}

// IsAuthWall reports whether a status code indicates an auth wall.
func IsAuthWall(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}

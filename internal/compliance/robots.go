package compliance

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// maxRobotsBodyBytes limits how much robots.txt we will read.
const maxRobotsBodyBytes = 512 * 1024

// RobotsGate fetches and caches robots.txt per host and answers allow
// queries. A robots.txt that cannot be fetched, or that answers with a
// 4xx/5xx status, is treated as unrestricted (RFC 9309).
type RobotsGate struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration

	mu    sync.RWMutex
	cache map[string]*robotsEntry
	// fetching deduplicates concurrent first lookups per host.
	fetching map[string]chan struct{}

	logger *slog.Logger
}

// robotsEntry holds the parsed group for our user agent.
// A nil group means unrestricted.
type robotsEntry struct {
	group *robotstxt.Group
}

// NewRobotsGate creates a RobotsGate with the given transparent UA.
func NewRobotsGate(userAgent string, timeout time.Duration, logger *slog.Logger) *RobotsGate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RobotsGate{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		timeout:   timeout,
		cache:     make(map[string]*robotsEntry),
		fetching:  make(map[string]chan struct{}),
		logger:    logger.With("component", "robots"),
	}
}

// IsAllowed reports whether rawURL may be fetched under the host's
// robots policy. The policy is fetched at most once per host.
func (g *RobotsGate) IsAllowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		// Unparseable targets are rejected later by the trap detector;
		// robots has nothing to say about them.
		return true
	}

	host := strings.ToLower(u.Host)
	entry := g.entryFor(ctx, host, u.Scheme)
	if entry == nil || entry.group == nil {
		return true
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return entry.group.Test(path)
}

// Reset drops all cached policies.
func (g *RobotsGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[string]*robotsEntry)
}

// entryFor returns the cached entry for host, fetching it on first use.
// Concurrent first lookups for the same host share one fetch.
func (g *RobotsGate) entryFor(ctx context.Context, host, scheme string) *robotsEntry {
	for {
		g.mu.RLock()
		entry, ok := g.cache[host]
		g.mu.RUnlock()
		if ok {
			return entry
		}

		g.mu.Lock()
		if entry, ok = g.cache[host]; ok {
			g.mu.Unlock()
			return entry
		}
		ch, inFlight := g.fetching[host]
		if !inFlight {
			ch = make(chan struct{})
			g.fetching[host] = ch
		}
		g.mu.Unlock()

		if inFlight {
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return nil
			}
		}

		entry = g.fetch(ctx, host, scheme)

		g.mu.Lock()
		g.cache[host] = entry
		delete(g.fetching, host)
		close(ch)
		g.mu.Unlock()
		return entry
	}
}

// fetch downloads and parses robots.txt for a host. Any failure or
// non-2xx status yields an unrestricted entry.
func (g *RobotsGate) fetch(ctx context.Context, host, scheme string) *robotsEntry {
	if scheme == "" {
		scheme = "https"
	}
	robotsURL := scheme + "://" + host + "/robots.txt"

	fetchCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return &robotsEntry{}
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("robots fetch failed, allowing", "host", host, "error", err)
		return &robotsEntry{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		g.logger.Debug("robots non-2xx, allowing", "host", host, "status", resp.StatusCode)
		return &robotsEntry{}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBodyBytes))
	if err != nil {
		return &robotsEntry{}
	}

	data, err := robotstxt.FromBytes(body)
	if err != nil {
		g.logger.Debug("robots parse failed, allowing", "host", host, "error", err)
		return &robotsEntry{}
	}

	return &robotsEntry{group: data.FindGroup(g.userAgent)}
}

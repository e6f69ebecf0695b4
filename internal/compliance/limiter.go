package compliance

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds concurrency and spacing for one host. Callers must
// Acquire before issuing a request and Release when done; waiters are
// served in arrival order.
type Limiter struct {
	sem      *semaphore.Weighted
	interval *rate.Limiter
	// reservoir adds a refill-style budget on top of the interval
	// spacing; nil for limiters without one.
	reservoir *rate.Limiter
}

// Acquire blocks until the caller may issue a request, or ctx ends.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	if err := l.interval.Wait(ctx); err != nil {
		l.sem.Release(1)
		return err
	}
	if l.reservoir != nil {
		if err := l.reservoir.Wait(ctx); err != nil {
			l.sem.Release(1)
			return err
		}
	}
	return nil
}

// Release frees the concurrency slot taken by Acquire.
func (l *Limiter) Release() {
	l.sem.Release(1)
}

// pageLimiter: one request at a time, spaced by the configured interval.
func newPageLimiter(minInterval time.Duration) *Limiter {
	return &Limiter{
		sem:      semaphore.NewWeighted(1),
		interval: rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// apiLimiter: up to 3 in flight, 500ms spacing, and a reservoir of 5
// requests refilled over 10 seconds.
func newAPILimiter() *Limiter {
	return &Limiter{
		sem:       semaphore.NewWeighted(3),
		interval:  rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		reservoir: rate.NewLimiter(rate.Every(2*time.Second), 5),
	}
}

// Registry materializes limiters lazily per host and retains them for
// the process lifetime or until Reset.
type Registry struct {
	mu           sync.Mutex
	page         map[string]*Limiter
	api          map[string]*Limiter
	pageInterval time.Duration
}

// NewRegistry creates a limiter registry with the page-level interval.
func NewRegistry(pageInterval time.Duration) *Registry {
	if pageInterval <= 0 {
		pageInterval = 2 * time.Second
	}
	return &Registry{
		page:         make(map[string]*Limiter),
		api:          make(map[string]*Limiter),
		pageInterval: pageInterval,
	}
}

// PageLimiter returns the page-level limiter for a host.
func (r *Registry) PageLimiter(host string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.page[host]
	if !ok {
		l = newPageLimiter(r.pageInterval)
		r.page[host] = l
	}
	return l
}

// APILimiter returns the day-worker limiter for a host.
func (r *Registry) APILimiter(host string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.api[host]
	if !ok {
		l = newAPILimiter()
		r.api[host] = l
	}
	return l
}

// Reset drops all materialized limiters.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = make(map[string]*Limiter)
	r.api = make(map[string]*Limiter)
}

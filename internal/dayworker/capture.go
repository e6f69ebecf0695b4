package dayworker

import (
	"context"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Recorder collects XHR/fetch requests a live page issues. Attach it
// before (or right after) navigation and snapshot once the page has
// settled; the listener dies with the context.
type Recorder struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

// NewRecorder attaches a network listener to the page bound to ctx.
func NewRecorder(ctx context.Context, page *rod.Page) *Recorder {
	r := &Recorder{}
	bound := page.Context(ctx)
	go bound.EachEvent(func(e *proto.NetworkRequestWillBeSent) {
		if e.Type != proto.NetworkResourceTypeXHR && e.Type != proto.NetworkResourceTypeFetch {
			return
		}
		headers := make(map[string]string, len(e.Request.Headers))
		for k, v := range e.Request.Headers {
			headers[k] = v.Str()
		}
		var body string
		if e.Request.HasPostData {
			body = e.Request.PostData
		}
		r.mu.Lock()
		r.requests = append(r.requests, CapturedRequest{
			URL:     e.Request.URL,
			Method:  e.Request.Method,
			Body:    body,
			Headers: headers,
		})
		r.mu.Unlock()
	})()
	return r
}

// Snapshot returns a copy of everything captured so far.
func (r *Recorder) Snapshot() []CapturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CapturedRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

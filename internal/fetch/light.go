package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"syscall"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/publicsuffix"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// desktopUA is the impersonated browser identity for the light path.
// The transparent bot UA is reserved for robots.txt lookups.
const desktopUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// LightClient issues single HTTPS requests with a browser-like TLS
// ClientHello and header set. It is the cheap first path; anything it
// cannot render falls through to the browser pool.
type LightClient struct {
	client      *http.Client
	maxBodySize int64
	logger      *slog.Logger
}

// NewLightClient builds the impersonating HTTP client.
func NewLightClient(timeout time.Duration, maxBodySize int64, logger *slog.Logger) (*LightClient, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     impersonatedTLSConfig(),
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		// Decompression is handled here so brotli works too.
		DisableCompression: true,
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &LightClient{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   timeout,
		},
		maxBodySize: maxBodySize,
		logger:      logger.With("component", "light_fetcher"),
	}, nil
}

// Get fetches a URL on the light path.
func (c *LightClient) Get(ctx context.Context, rawURL string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}
	applyBrowserHeaders(req.Header)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: isRetryableError(err)}
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if c.maxBodySize > 0 {
		reader = io.LimitReader(reader, c.maxBodySize)
	}
	reader, err = decompressReader(resp.Header.Get("Content-Encoding"), reader)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: false}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &types.FetchError{URL: rawURL, Err: err, Retryable: true}
	}

	c.logger.Debug("light fetch complete",
		"url", rawURL,
		"status", resp.StatusCode,
		"size", len(body),
		"duration", time.Since(start),
	)

	return &Result{
		Body:       string(body),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Method:     MethodLight,
	}, nil
}

// CookieHeader renders the jar's cookies for a URL as a request header
// value, for day-worker replays outside this client.
func (c *LightClient) CookieHeader(rawURL string) string {
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	var out string
	for _, ck := range c.client.Jar.Cookies(req.URL) {
		if out != "" {
			out += "; "
		}
		out += ck.Name + "=" + ck.Value
	}
	return out
}

// applyBrowserHeaders sets the generated desktop header set.
func applyBrowserHeaders(h http.Header) {
	h.Set("User-Agent", desktopUA)
	h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("Upgrade-Insecure-Requests", "1")
	h.Set("Sec-Ch-Ua", `"Chromium";v="126", "Not/A)Brand";v="8", "Google Chrome";v="126"`)
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	h.Set("Sec-Fetch-Dest", "document")
	h.Set("Sec-Fetch-Mode", "navigate")
	h.Set("Sec-Fetch-Site", "none")
	h.Set("Sec-Fetch-User", "?1")
}

// impersonatedTLSConfig mimics a current Chrome ClientHello: cipher
// suite order, curves, and version range.
func impersonatedTLSConfig() *tls.Config {
	return &tls.Config{
		CipherSuites: []uint16{
			tls.TLS_AES_128_GCM_SHA256,
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
			tls.CurveP384,
		},
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
	}
}

// decompressReader wraps a reader with the matching decompressor.
func decompressReader(encoding string, reader io.Reader) (io.Reader, error) {
	switch encoding {
	case "gzip":
		return gzip.NewReader(reader)
	case "deflate":
		return flate.NewReader(reader), nil
	case "br":
		return brotli.NewReader(reader), nil
	default:
		return reader, nil
	}
}

// isRetryableError checks if a transport error warrants the browser
// fallback. Context cancellation is not retryable.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if errors.Is(opErr.Err, syscall.ECONNRESET) || errors.Is(opErr.Err, syscall.ECONNREFUSED) {
			return true
		}
	}
	return false
}

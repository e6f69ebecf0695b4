// Package browser owns the headless engine: a lazily launched singleton
// shared by all borrows, handing out instrumented pages with
// guaranteed-release semantics.
package browser

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/milesc-bot/gym-scraper/internal/types"
)

// PageHook instruments a freshly created page before it is handed out.
// The session manager registers hooks for cookie preload and the login
// monitor.
type PageHook func(page *rod.Page) error

// Pool serializes engine startup, reuses a single browser across
// borrows, and tears it down on process termination.
type Pool struct {
	mu       sync.Mutex
	browser  *rod.Browser
	closed   atomic.Bool
	hooks    []PageHook
	sigOnce  sync.Once
	logger   *slog.Logger
	headless bool
}

// NewPool creates a Pool. The engine itself launches on first borrow.
func NewPool(logger *slog.Logger) *Pool {
	return &Pool{
		logger:   logger.With("component", "browser_pool"),
		headless: true,
	}
}

// OnPage registers a hook run on every created page, in order.
func (p *Pool) OnPage(hook PageHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, hook)
}

// Borrow creates an instrumented page and returns it with a dispose
// function. The caller owns disposal; prefer WithPage when the page does
// not need to outlive the callback.
func (p *Pool) Borrow() (*rod.Page, func(), error) {
	if p.closed.Load() {
		return nil, nil, types.ErrPoolClosed
	}

	engine, err := p.engine()
	if err != nil {
		return nil, nil, err
	}

	page, err := stealth.Page(engine)
	if err != nil {
		return nil, nil, fmt.Errorf("stealth page: %w", err)
	}

	if err := p.instrument(page); err != nil {
		_ = page.Close()
		return nil, nil, err
	}

	dispose := func() {
		if err := page.Close(); err != nil {
			p.logger.Debug("page close", "error", err)
		}
	}
	return page, dispose, nil
}

// WithPage borrows a page, invokes fn, and disposes the page even when
// fn panics or errors.
func (p *Pool) WithPage(fn func(page *rod.Page) error) error {
	page, dispose, err := p.Borrow()
	if err != nil {
		return err
	}
	defer dispose()
	return fn(page)
}

// Close shuts the engine down. Further borrows fail with ErrPoolClosed.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.browser != nil {
		if err := p.browser.Close(); err != nil {
			p.logger.Warn("browser close", "error", err)
		}
		p.browser = nil
	}
	p.logger.Info("browser pool closed")
}

// engine returns the shared browser, launching it once.
func (p *Pool) engine() (*rod.Browser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browser != nil {
		return p.browser, nil
	}

	l := launcher.New().
		Headless(p.headless).
		Set("disable-gpu").
		Set("disable-dev-shm-usage").
		Set("no-sandbox").
		Set("disable-blink-features", "AutomationControlled")

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}

	p.browser = browser
	p.installSignalTeardown()
	p.logger.Info("browser engine ready")
	return p.browser, nil
}

// instrument applies viewport, fingerprint shims, and registered hooks.
func (p *Pool) instrument(page *rod.Page) error {
	vp := randomViewport()
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.w,
		Height:            vp.h,
		DeviceScaleFactor: 1,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	if _, err := page.EvalOnNewDocument(fingerprintJS(vp)); err != nil {
		return fmt.Errorf("install fingerprint shims: %w", err)
	}

	p.mu.Lock()
	hooks := append([]PageHook(nil), p.hooks...)
	p.mu.Unlock()

	for _, hook := range hooks {
		if err := hook(page); err != nil {
			return fmt.Errorf("page hook: %w", err)
		}
	}
	return nil
}

// installSignalTeardown closes the engine on SIGINT/SIGTERM so a killed
// process never leaves a headless chromium behind.
func (p *Pool) installSignalTeardown() {
	p.sigOnce.Do(func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-sigCh
			p.Close()
		}()
	})
}

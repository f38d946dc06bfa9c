package observe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/blackout-monitor/internal/config"
)

// Renderer fetches a page and returns its HTML after scripts have run (for
// renderers that run scripts). waitFor is a CSS selector worth waiting for
// before the HTML is captured; it is a hint, not a requirement.
type Renderer interface {
	Render(ctx context.Context, url, waitFor string) (string, error)
	Reset() error
	Close() error
}

func NewRenderer(kind string, timeout time.Duration) Renderer {
	if kind == config.RendererHTTP {
		return NewHTTPRenderer(timeout)
	}
	return NewChromeRenderer(timeout / 2)
}

// HTTPRenderer is a plain GET. It is enough for pages rendered server-side.
type HTTPRenderer struct {
	timeout time.Duration

	mu     sync.Mutex
	client *http.Client
}

func NewHTTPRenderer(timeout time.Duration) *HTTPRenderer {
	return &HTTPRenderer{timeout: timeout}
}

func (r *HTTPRenderer) Render(ctx context.Context, url, _ string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrObservationFailure, err)
	}

	r.mu.Lock()
	if r.client == nil {
		r.client = HTTPClient(r.timeout)
	}
	client := r.client
	r.mu.Unlock()

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %w", ErrObservationFailure, ctx.Err())
		}
		return "", fmt.Errorf("%w: %w", ErrClientFault, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: %s returned status %d", ErrObservationFailure, url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrObservationFailure, err)
	}
	return string(body), nil
}

func (r *HTTPRenderer) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.CloseIdleConnections()
		r.client = nil
	}
	return nil
}

func (r *HTTPRenderer) Close() error {
	return r.Reset()
}

// ChromeRenderer drives a headless Chrome. The browser is started on first
// use and torn down by Reset and Close.
type ChromeRenderer struct {
	waitTimeout time.Duration

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

func NewChromeRenderer(waitTimeout time.Duration) *ChromeRenderer {
	return &ChromeRenderer{waitTimeout: waitTimeout}
}

func (c *ChromeRenderer) browser() (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx != nil {
		return c.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// the first Run starts the browser; it must not carry a deadline
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("%w: start browser: %w", ErrClientFault, err)
	}

	log.Info().Msg("Headless browser started")
	c.browserCtx = browserCtx
	c.cancelAlloc = cancelAlloc
	c.cancelBrowser = cancelBrowser
	return browserCtx, nil
}

func (c *ChromeRenderer) Render(ctx context.Context, url, waitFor string) (string, error) {
	browserCtx, err := c.browser()
	if err != nil {
		return "", err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()

	if err := chromedp.Run(tabCtx, chromedp.Navigate(url)); err != nil {
		return "", c.classify(ctx, fmt.Errorf("navigate %s: %w", url, err))
	}

	if waitFor != "" {
		waitCtx, cancelWait := context.WithTimeout(tabCtx, c.waitTimeout)
		err := chromedp.Run(waitCtx, chromedp.WaitReady(waitFor, chromedp.ByQuery))
		cancelWait()
		if err != nil && ctx.Err() == nil {
			log.Debug().Str("url", url).Str("selector", waitFor).Msg("Selector did not appear before capture")
		}
	}

	var html string
	if err := chromedp.Run(tabCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", c.classify(ctx, fmt.Errorf("capture %s: %w", url, err))
	}
	return html, nil
}

// classify treats a cancelled or expired caller context as a failed attempt
// and anything else as a browser fault.
func (c *ChromeRenderer) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ErrObservationFailure, err)
	}
	return fmt.Errorf("%w: %w", ErrClientFault, err)
}

func (c *ChromeRenderer) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browserCtx == nil {
		return nil
	}
	c.cancelBrowser()
	c.cancelAlloc()
	c.browserCtx = nil
	c.cancelBrowser = nil
	c.cancelAlloc = nil
	log.Info().Msg("Headless browser stopped")
	return nil
}

func (c *ChromeRenderer) Close() error {
	return c.Reset()
}

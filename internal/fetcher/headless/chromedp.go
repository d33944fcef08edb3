// Package headless contains the rendered-page backend, which drives a
// Chrome browser through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// Defaults applied by NewChromedp.
const (
	DefaultMarkerSelector    = "div[data-component-type='s-search-result']"
	DefaultMarkerTimeout     = 10 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	DefaultNavigationTimeout = 45 * time.Second
)

// Config controls the behavior of the headless fetcher.
type Config struct {
	Headless          bool
	MarkerSelector    string
	MarkerTimeout     time.Duration
	SettleDelay       time.Duration
	NavigationTimeout time.Duration
	// ExecPath points at a Chrome binary; empty lets chromedp search PATH.
	ExecPath string
}

// Fetcher implements crawler.Fetcher using chromedp. It owns one browser,
// started on the first Fetch. After any failure it shuts the browser down
// and refuses further work.
type Fetcher struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	browser       context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	disabled      bool
	closed        bool
}

// NewChromedp creates a headless fetcher. No browser is started until the
// first Fetch.
func NewChromedp(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MarkerSelector == "" {
		cfg.MarkerSelector = DefaultMarkerSelector
	}
	if cfg.MarkerTimeout <= 0 {
		cfg.MarkerTimeout = DefaultMarkerTimeout
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = 0
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{cfg: cfg, logger: logger}
}

// Disabled reports whether the fetcher has shut itself down.
func (f *Fetcher) Disabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disabled || f.closed
}

// Close releases the browser. It is safe to call more than once.
func (f *Fetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.shutdown()
}

// Fetch navigates with the browser and returns the rendered DOM.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	target := request.FullURL()

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled || f.closed {
		return crawler.FetchResponse{}, crawler.NewRenderError(target, crawler.ErrRendererDisabled)
	}
	if err := f.ensureBrowser(); err != nil {
		f.disable(target, err)
		return crawler.FetchResponse{}, crawler.NewRenderError(target, err)
	}

	tabCtx, tabCancel := chromedp.NewContext(f.browser)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	start := time.Now()
	html, finalURL, err := f.runHeadless(tabCtx, target, request.Headers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			// Cancellation by the caller says nothing about browser health.
			return crawler.FetchResponse{}, crawler.NewRenderError(target, ctxErr)
		}
		f.disable(target, err)
		return crawler.FetchResponse{}, crawler.NewRenderError(target, err)
	}

	status, headers, responseURL := meta.snapshotWithFallbacks(target, finalURL)
	if headers == nil {
		headers = http.Header{}
	}

	return crawler.FetchResponse{
		URL:          responseURL,
		StatusCode:   status,
		Headers:      headers,
		Body:         []byte(html),
		Duration:     time.Since(start),
		UsedHeadless: true,
	}, nil
}

func (f *Fetcher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", f.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-gpu", true),
	)
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}
	return opts
}

// ensureBrowser starts the browser if needed. Callers hold f.mu.
func (f *Fetcher) ensureBrowser() error {
	if f.browser != nil {
		return nil
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), f.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// An empty Run launches the browser so start-up errors surface here.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("start browser: %w", err)
	}
	f.browser = browserCtx
	f.allocCancel = allocCancel
	f.browserCancel = browserCancel
	f.logger.Info("headless browser started", zap.Bool("headless", f.cfg.Headless))
	return nil
}

func (f *Fetcher) disable(target string, cause error) {
	f.disabled = true
	f.shutdown()
	f.logger.Error("headless backend disabled",
		zap.String("url", target),
		zap.Error(cause),
	)
}

// shutdown cancels the browser and allocator contexts. Callers hold f.mu.
func (f *Fetcher) shutdown() {
	if f.browserCancel != nil {
		f.browserCancel()
		f.browserCancel = nil
	}
	if f.allocCancel != nil {
		f.allocCancel()
		f.allocCancel = nil
	}
	f.browser = nil
}

func (f *Fetcher) runHeadless(ctx context.Context, target string, headers http.Header) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		f.networkSetupAction(headers),
		chromedp.Navigate(target),
		f.waitForMarker(),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (f *Fetcher) waitForMarker() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		waitCtx, cancel := context.WithTimeout(ctx, f.cfg.MarkerTimeout)
		defer cancel()
		err := chromedp.WaitVisible(f.cfg.MarkerSelector, chromedp.ByQuery).Do(waitCtx)
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("marker %q not visible after %s: %w", f.cfg.MarkerSelector, f.cfg.MarkerTimeout, err)
		}
		return err
	})
}

func (f *Fetcher) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if ua := headers.Get("User-Agent"); ua != "" {
			if err := emulation.SetUserAgentOverride(ua).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if extra := toNetworkHeaders(headers); len(extra) > 0 {
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers http.Header
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{
		headers: http.Header{},
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Only the first document response describes the search page.
	if m.url != "" {
		return
	}
	m.status = int(event.Response.Status)
	m.headers = headers
	m.url = event.Response.URL
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, http.Header, string) {
	m.mu.RLock()
	status, headers, url := m.status, cloneHeader(m.headers), m.url
	m.mu.RUnlock()

	switch {
	case finalURL != "":
		url = finalURL
	case url != "":
	default:
		url = requestURL
	}
	if status == 0 {
		status = http.StatusOK
	}
	return status, headers, url
}

func cloneHeader(src http.Header) http.Header {
	if src == nil {
		return nil
	}
	return src.Clone()
}

// hopHeaders are managed by the browser itself and must not be overridden.
var hopHeaders = map[string]struct{}{
	"Connection":      {},
	"Accept-Encoding": {},
	"User-Agent":      {},
	"Host":            {},
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		canonical := http.CanonicalHeaderKey(key)
		if _, skip := hopHeaders[canonical]; skip || len(values) == 0 {
			continue
		}
		headers[canonical] = strings.Join(values, ", ")
	}
	return headers
}

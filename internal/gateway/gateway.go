// Package gateway issues paced, identity-rotated page fetches through a
// static or rendered backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/clock/system"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
)

// Backend names a fetch strategy.
type Backend string

// Supported backends.
const (
	BackendStatic   Backend = "static"
	BackendRendered Backend = "rendered"
)

// DefaultUserAgents is the identity pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:89.0) Gecko/20100101 Firefox/89.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
}

// Config controls pacing, identity rotation and backend choice.
type Config struct {
	Backend    Backend
	UserAgents []string
	// Floor is the minimum spacing between requests. A request arriving
	// sooner sleeps for a random duration in [MinDelay, MaxDelay].
	Floor    time.Duration
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Gateway serializes fetches for one crawl. It is safe to share, but
// requests are issued one at a time.
type Gateway struct {
	cfg      Config
	static   crawler.Fetcher
	rendered crawler.Fetcher
	clock    crawler.Clock
	pauser   crawler.Pauser
	jitter   crawler.Jitter
	pick     func(n int) int
	logger   *zap.Logger

	mu   sync.Mutex
	last time.Time
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithClock overrides the time source used for pacing.
func WithClock(c crawler.Clock) Option { return func(g *Gateway) { g.clock = c } }

// WithPauser overrides how pacing sleeps.
func WithPauser(p crawler.Pauser) Option { return func(g *Gateway) { g.pauser = p } }

// WithJitter overrides the pacing delay distribution.
func WithJitter(j crawler.Jitter) Option { return func(g *Gateway) { g.jitter = j } }

// WithPicker overrides user-agent selection.
func WithPicker(pick func(n int) int) Option { return func(g *Gateway) { g.pick = pick } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(g *Gateway) { g.logger = l } }

// New builds a Gateway. rendered may be nil when no browser is configured;
// the static backend then serves every request.
func New(cfg Config, static, rendered crawler.Fetcher, opts ...Option) (*Gateway, error) {
	if static == nil {
		return nil, errors.New("static backend is required")
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendStatic
	}
	if cfg.Backend != BackendStatic && cfg.Backend != BackendRendered {
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultUserAgents
	}
	if cfg.MaxDelay < cfg.MinDelay {
		return nil, fmt.Errorf("pacing max delay %s is below min delay %s", cfg.MaxDelay, cfg.MinDelay)
	}
	g := &Gateway{
		cfg:      cfg,
		static:   static,
		rendered: rendered,
		clock:    system.New(),
		pauser:   system.New(),
		jitter:   crawler.UniformJitter,
		pick:     rand.IntN,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// FetchMarkup retrieves rawURL with params and reports whether markup came
// back. Failures are logged; the caller only learns that the page is
// unusable.
func (g *Gateway) FetchMarkup(ctx context.Context, rawURL string, params url.Values) ([]byte, bool) {
	resp, err := g.Fetch(ctx, crawler.FetchRequest{URL: rawURL, Params: params})
	if err != nil {
		return nil, false
	}
	return resp.Body, true
}

// Fetch implements crawler.Fetcher. It paces, stamps identity headers and
// delegates to the selected backend.
func (g *Gateway) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pace(ctx)
	if err := ctx.Err(); err != nil {
		return crawler.FetchResponse{}, crawler.NewTransportError(request.FullURL(), 0, err)
	}

	request.Headers = g.identityHeaders(request.Headers)
	backend, name := g.backend()
	target := request.FullURL()

	start := time.Now()
	resp, err := backend.Fetch(ctx, request)
	if err != nil {
		reason := crawler.Reason(err)
		metrics.ObserveFetch(name, reason, time.Since(start))
		g.logger.Warn("page fetch failed",
			zap.String("url", target),
			zap.String("backend", name),
			zap.String("kind", string(crawler.KindOf(err))),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return crawler.FetchResponse{}, err
	}
	metrics.ObserveFetch(name, "ok", time.Since(start))
	g.logger.Debug("page fetched",
		zap.String("url", target),
		zap.String("backend", name),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(resp.Body)),
		zap.Bool("cached", resp.FromCache),
	)
	return resp, nil
}

func (g *Gateway) pace(ctx context.Context) {
	now := g.clock.Now()
	if !g.last.IsZero() && now.Sub(g.last) < g.cfg.Floor {
		delay := g.jitter(g.cfg.MinDelay, g.cfg.MaxDelay)
		metrics.ObservePacingDelay(delay)
		g.logger.Debug("pacing request", zap.Duration("delay", delay))
		g.pauser.Pause(ctx, delay)
	}
	g.last = g.clock.Now()
}

func (g *Gateway) backend() (crawler.Fetcher, string) {
	if g.cfg.Backend == BackendRendered && g.rendered != nil {
		return g.rendered, string(BackendRendered)
	}
	return g.static, string(BackendStatic)
}

func (g *Gateway) identityHeaders(extra http.Header) http.Header {
	h := BrowserHeaders()
	for key, values := range extra {
		h.Del(key)
		for _, v := range values {
			h.Add(key, v)
		}
	}
	h.Set("User-Agent", g.cfg.UserAgents[g.pick(len(g.cfg.UserAgents))])
	return h
}

// BrowserHeaders returns the header set sent with every page request,
// minus the rotated User-Agent.
func BrowserHeaders() http.Header {
	return http.Header{
		"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8"},
		"Accept-Language":           {"en-US,en;q=0.5"},
		"Accept-Encoding":           {"gzip, deflate"},
		"Connection":                {"keep-alive"},
		"Upgrade-Insecure-Requests": {"1"},
	}
}

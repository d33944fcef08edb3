// Package linkcheck finds amazon links in an HTML document and reports
// which of them no longer resolve.
package linkcheck

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/affiliate"
	"github.com/JakeFAU/affiliate-crawler/internal/extract"
	"github.com/JakeFAU/affiliate-crawler/internal/gateway"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
	"github.com/JakeFAU/affiliate-crawler/internal/policy/ratelimit"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultTimeout       = 10 * time.Second
	DefaultRatePerSecond = 1.0
	DefaultCacheSize     = 1024
)

// Link is one amazon anchor found in a document.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
	ASIN string `json:"asin,omitempty"`
}

// Result is the verdict for one link.
type Result struct {
	Link
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Status     string `json:"status"`
	// SearchURL is a fallback search link for broken entries with text.
	SearchURL string `json:"search_url,omitempty"`
}

// Config tunes the checker.
type Config struct {
	Timeout       time.Duration
	RatePerSecond float64
	CacheSize     int
	UserAgent     string
}

type verdict struct {
	ok     bool
	code   int
	status string
}

// Checker issues HEAD/GET probes, one host-rate-limited request at a time,
// and remembers verdicts per URL.
type Checker struct {
	client    *http.Client
	limiter   *ratelimit.Limiter
	cache     *lru.Cache[string, verdict]
	userAgent string
	logger    *zap.Logger
}

// Option customizes a Checker.
type Option func(*Checker)

// WithTransport swaps the HTTP transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Checker) { c.client.Transport = rt }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a Checker.
func New(cfg Config, opts ...Option) (*Checker, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = gateway.DefaultUserAgents[0]
	}
	cache, err := lru.New[string, verdict](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("link cache: %w", err)
	}
	c := &Checker{
		client:    &http.Client{Timeout: cfg.Timeout},
		limiter:   ratelimit.New(ratelimit.Config{RPS: cfg.RatePerSecond, Burst: 1}),
		cache:     cache,
		userAgent: cfg.UserAgent,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ScanLinks returns every anchor whose host contains "amazon.", in
// document order.
func ScanLinks(doc *goquery.Document) []Link {
	var links []Link
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !IsAmazonURL(href) {
			return
		}
		text, _ := extract.CollapseSpace(a.Text())
		link := Link{URL: strings.TrimSpace(href), Text: text}
		if asin, ok := affiliate.ASINFromURL(link.URL); ok {
			link.ASIN = asin
		}
		links = append(links, link)
	})
	return links
}

// IsAmazonURL reports whether rawURL is absolute and points at an amazon
// storefront.
func IsAmazonURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return false
	}
	return strings.Contains(strings.ToLower(u.Hostname()), "amazon.")
}

// CheckDocument scans r and checks every amazon link it holds.
func (c *Checker) CheckDocument(ctx context.Context, r io.Reader) ([]Result, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	links := ScanLinks(doc)
	results := make([]Result, 0, len(links))
	for _, link := range links {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("link check canceled: %w", err)
		}
		results = append(results, c.CheckLink(ctx, link))
	}
	return results, nil
}

// CheckLink checks one link and fills in the fallback search URL when it
// is broken.
func (c *Checker) CheckLink(ctx context.Context, link Link) Result {
	v := c.check(ctx, link.URL)
	res := Result{Link: link, OK: v.ok, StatusCode: v.code, Status: v.status}
	if !v.ok && link.Text != "" {
		res.SearchURL = SearchURL(link.Text)
	}
	return res
}

func (c *Checker) check(ctx context.Context, rawURL string) verdict {
	if v, ok := c.cache.Get(rawURL); ok {
		return v
	}
	v, err := c.probe(ctx, rawURL)
	if err != nil {
		v = verdict{status: "Request error: " + err.Error()}
	}
	if ctx.Err() == nil {
		c.cache.Add(rawURL, v)
	}
	result := "ok"
	if !v.ok {
		result = "broken"
	}
	metrics.ObserveLinkCheck(result)
	c.logger.Debug("link checked",
		zap.String("url", rawURL),
		zap.Bool("ok", v.ok),
		zap.String("status", v.status),
	)
	return v
}

// probe sends HEAD, then GET when HEAD gives anything but 200 or 404.
func (c *Checker) probe(ctx context.Context, rawURL string) (verdict, error) {
	code, err := c.do(ctx, http.MethodHead, rawURL)
	if err != nil {
		return verdict{}, err
	}
	if v, final := classify(code); final {
		return v, nil
	}
	code, err = c.do(ctx, http.MethodGet, rawURL)
	if err != nil {
		return verdict{}, err
	}
	if v, final := classify(code); final {
		return v, nil
	}
	return verdict{code: code, status: fmt.Sprintf("Status code: %d", code)}, nil
}

func classify(code int) (verdict, bool) {
	switch code {
	case http.StatusOK:
		return verdict{ok: true, code: code, status: "OK"}, true
	case http.StatusNotFound:
		return verdict{code: code, status: "404 Not Found"}, true
	default:
		return verdict{}, false
	}
}

func (c *Checker) do(ctx context.Context, method, rawURL string) (int, error) {
	if err := c.limiter.Wait(ctx, rawURL); err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return 0, urlErr.Err
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}

// SearchURL builds a storefront search link for name, used to replace a
// broken product link.
func SearchURL(name string) string {
	term := strings.ReplaceAll(strings.TrimSpace(name), "&", "and")
	q := url.Values{}
	q.Set("k", term)
	q.Set("ref", "sr_pg_1")
	return affiliate.DefaultOrigin + "/s?" + q.Encode()
}

// Package search drives keyword searches across result pages and collects
// product records under global caps.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/affiliate"
	"github.com/JakeFAU/affiliate-crawler/internal/clock/system"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/id/uuid"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
)

// Defaults applied when Config leaves a field empty.
const (
	DefaultMaxPages     = 3
	DefaultMaxProducts  = 50
	DefaultSearchPath   = "/s"
	DefaultPageDelayMin = time.Second
	DefaultPageDelayMax = 2 * time.Second
)

// Config holds the orchestrator's defaults.
type Config struct {
	BaseURL      string
	SearchPath   string
	MaxPages     int
	MaxProducts  int
	PageDelayMin time.Duration
	PageDelayMax time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = affiliate.DefaultOrigin
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SearchPath == "" {
		c.SearchPath = DefaultSearchPath
	}
	if !strings.HasPrefix(c.SearchPath, "/") {
		c.SearchPath = "/" + c.SearchPath
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	if c.MaxProducts <= 0 {
		c.MaxProducts = DefaultMaxProducts
	}
	if c.PageDelayMin == 0 && c.PageDelayMax == 0 {
		c.PageDelayMin, c.PageDelayMax = DefaultPageDelayMin, DefaultPageDelayMax
	}
	return c
}

// Orchestrator runs searches. It is not safe for concurrent Search calls;
// the service gives each worker its own.
type Orchestrator struct {
	cfg       Config
	paginator *paginator
	ids       crawler.IDGenerator
	logger    *zap.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithPauser overrides the inter-page sleep.
func WithPauser(p crawler.Pauser) Option {
	return func(o *Orchestrator) { o.paginator.pauser = p }
}

// WithJitter overrides the inter-page delay distribution.
func WithJitter(j crawler.Jitter) Option {
	return func(o *Orchestrator) { o.paginator.jitter = j }
}

// WithSnapshotter stores pages that yielded no containers.
func WithSnapshotter(s Snapshotter) Option {
	return func(o *Orchestrator) { o.paginator.snapshots = s }
}

// WithIDGenerator overrides session ID generation.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(o *Orchestrator) { o.ids = ids }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
		o.paginator.logger = l
	}
}

// New builds an Orchestrator.
func New(cfg Config, fetcher crawler.Fetcher, extractor Extractor, opts ...Option) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if extractor == nil {
		return nil, errors.New("extractor is required")
	}
	cfg = cfg.withDefaults()
	if cfg.PageDelayMax < cfg.PageDelayMin {
		return nil, fmt.Errorf("page delay max %s is below min %s", cfg.PageDelayMax, cfg.PageDelayMin)
	}
	o := &Orchestrator{
		cfg: cfg,
		paginator: &paginator{
			cfg:       cfg,
			fetcher:   fetcher,
			extractor: extractor,
			pauser:    system.New(),
			jitter:    crawler.UniformJitter,
			logger:    zap.NewNop(),
		},
		ids:    uuid.New(),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Search walks each keyword in order and returns at most maxProducts
// records, tagged with their keyword. Caps <= 0 fall back to the configured
// defaults. Records are not deduplicated across keywords. The only error is
// cancellation, which still returns what was collected.
func (o *Orchestrator) Search(ctx context.Context, keywords []string, maxPages, maxProducts int) ([]crawler.ProductRecord, Summary, error) {
	if maxPages <= 0 {
		maxPages = o.cfg.MaxPages
	}
	if maxProducts <= 0 {
		maxProducts = o.cfg.MaxProducts
	}
	id, err := o.ids.NewID()
	if err != nil {
		return nil, Summary{}, fmt.Errorf("session id: %w", err)
	}
	s := newSession(id, maxPages, maxProducts)
	logger := o.logger.With(zap.String("session_id", id))
	logger.Info("search started",
		zap.Strings("keywords", keywords),
		zap.Int("max_pages", maxPages),
		zap.Int("max_products", maxProducts),
	)

	for _, raw := range keywords {
		if s.Full() {
			logger.Info("product cap reached", zap.Int("records", len(s.Records)))
			break
		}
		if ctx.Err() != nil {
			break
		}
		keyword := strings.TrimSpace(raw)
		if keyword == "" {
			logger.Warn("skipping blank keyword")
			continue
		}
		o.paginator.crawl(ctx, s, keyword)
	}

	summary := s.summary()
	if err := ctx.Err(); err != nil {
		metrics.ObserveSearch(string(crawler.SearchStatusCanceled))
		logger.Warn("search canceled", zap.Int("records", summary.Records), zap.Error(err))
		return s.Records, summary, fmt.Errorf("search canceled: %w", err)
	}
	metrics.ObserveSearch(string(crawler.SearchStatusSucceeded))
	logger.Info("search finished",
		zap.Int("records", summary.Records),
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Duration("duration", summary.Duration),
	)
	return s.Records, summary, nil
}

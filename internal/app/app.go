// Package app initializes and holds long-lived application services, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/config"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/extract"
	"github.com/JakeFAU/affiliate-crawler/internal/fetcher/cache"
	collyfetcher "github.com/JakeFAU/affiliate-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/affiliate-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/affiliate-crawler/internal/gateway"
	"github.com/JakeFAU/affiliate-crawler/internal/hash/sha256"
	"github.com/JakeFAU/affiliate-crawler/internal/id/uuid"
	"github.com/JakeFAU/affiliate-crawler/internal/linkcheck"
	memorypub "github.com/JakeFAU/affiliate-crawler/internal/publisher/memory"
	pubsubpub "github.com/JakeFAU/affiliate-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/affiliate-crawler/internal/search"
	"github.com/JakeFAU/affiliate-crawler/internal/storage/gcs"
	"github.com/JakeFAU/affiliate-crawler/internal/storage/local"
	"github.com/JakeFAU/affiliate-crawler/internal/storage/memory"
	"github.com/JakeFAU/affiliate-crawler/internal/storage/postgres"
)

// App holds the shared, long-lived services for one process: the fetch
// stack, export storage, record persistence and the completion publisher.
// It is built once at startup and closed on exit.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	fetcher   crawler.Fetcher
	blobStore crawler.BlobStore
	records   crawler.RecordStore
	publisher crawler.Publisher

	rendered     *headless.Fetcher
	redis        *goredis.Client
	productStore *postgres.ProductStore
	pubsubPub    *pubsubpub.Publisher
	pubsubClient *pubsub.Client
	gcsClient    *gcstorage.Client
}

// Option customizes App construction.
type Option func(*options)

type options struct {
	static   crawler.Fetcher
	rendered crawler.Fetcher
	redis    *goredis.Client
}

// WithStaticFetcher replaces the colly backend. Tests use it to avoid the network.
func WithStaticFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.static = f }
}

// WithRenderedFetcher replaces the chromedp backend.
func WithRenderedFetcher(f crawler.Fetcher) Option {
	return func(o *options) { o.rendered = f }
}

// WithRedisClient supplies the page cache client instead of dialing cache.redis_addr.
func WithRedisClient(c *goredis.Client) Option {
	return func(o *options) { o.redis = c }
}

// New creates the App from configuration. It fails fast if any configured
// backend cannot be initialized, closing whatever it had already opened.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger}
	logger.Info("Initializing application services...")

	if err := a.initFetchStack(o); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initBlobStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initRecordStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	logger.Info("Application services initialized successfully.")
	return a, nil
}

func (a *App) initFetchStack(o options) error {
	cfg := a.cfg

	static := o.static
	if static == nil {
		static = collyfetcher.New(collyfetcher.Config{
			RespectRobots: cfg.Fetch.RespectRobots,
			Timeout:       cfg.Fetch.Timeout,
		})
	}

	rendered := o.rendered
	if rendered == nil && cfg.Headless.Enabled {
		a.rendered = headless.NewChromedp(headless.Config{
			Headless:      cfg.Headless.Headless,
			MarkerTimeout: cfg.Headless.MarkerTimeout,
			SettleDelay:   cfg.Headless.SettleDelay,
			ExecPath:      cfg.Headless.ExecPath,
		}, a.logger.Named("headless"))
		rendered = a.rendered
	}

	backend := gateway.Backend(cfg.Gateway.Backend)
	if backend == gateway.BackendRendered && rendered == nil {
		a.logger.Warn("gateway.backend is 'rendered' but headless.enabled is false; using the static backend")
	}

	gw, err := gateway.New(gateway.Config{
		Backend:    backend,
		UserAgents: cfg.Gateway.UserAgents,
		Floor:      cfg.Pacing.Floor,
		MinDelay:   cfg.Pacing.MinDelay,
		MaxDelay:   cfg.Pacing.MaxDelay,
	}, static, rendered, gateway.WithLogger(a.logger.Named("gateway")))
	if err != nil {
		return fmt.Errorf("init gateway: %w", err)
	}
	a.fetcher = gw

	client := o.redis
	if client == nil && cfg.Cache.RedisAddr != "" {
		client = goredis.NewClient(&goredis.Options{Addr: cfg.Cache.RedisAddr, DB: cfg.Cache.RedisDB})
		a.redis = client
	}
	if client == nil {
		return nil
	}
	cached, err := cache.New(gw, client, sha256.New(), cache.Config{TTL: cfg.Cache.TTL}, a.logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("init page cache: %w", err)
	}
	a.logger.Info("Page cache enabled", zap.String("addr", cfg.Cache.RedisAddr), zap.Duration("ttl", cfg.Cache.TTL))
	a.fetcher = cached
	return nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	cfg := a.cfg.Export
	switch cfg.Backend {
	case "", "local":
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobStore = store
	case "memory":
		a.logger.Info("Using in-memory export storage. Exports are discarded on exit.")
		a.blobStore = memory.NewBlobStore()
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("init gcs client: %w", err)
		}
		a.gcsClient = client
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.logger.Info("Using GCS export storage", zap.String("bucket", cfg.GCSBucket))
		a.blobStore = store
	default:
		return fmt.Errorf("unknown export backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) initRecordStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		return nil
	}
	a.logger.Info("Connecting to PostgreSQL...")
	store, err := postgres.NewProductStore(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: int32(a.cfg.DB.MaxConns), //nolint:gosec // validated as small positive
	})
	if err != nil {
		return fmt.Errorf("init record store: %w", err)
	}
	a.productStore = store
	if err := store.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure record schema: %w", err)
	}
	a.records = store
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.cfg.PubSub
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		a.logger.Info("Pub/Sub not configured; completion events stay in memory.")
		a.publisher = memorypub.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return fmt.Errorf("init pubsub client: %w", err)
	}
	a.pubsubClient = client
	pub, err := pubsubpub.New(client)
	if err != nil {
		return fmt.Errorf("init publisher: %w", err)
	}
	a.logger.Info("Connected to GCP Pub/Sub", zap.String("topic", cfg.TopicName))
	a.pubsubPub = pub
	a.publisher = pub
	return nil
}

// Config returns the configuration the App was built from.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Fetcher returns the request gateway, wrapped by the page cache when enabled.
func (a *App) Fetcher() crawler.Fetcher { return a.fetcher }

// BlobStore returns the export and snapshot store.
func (a *App) BlobStore() crawler.BlobStore { return a.blobStore }

// RecordStore returns the Postgres record store, or nil when no DSN is set.
func (a *App) RecordStore() crawler.RecordStore { return a.records }

// Publisher returns the completion event publisher.
func (a *App) Publisher() crawler.Publisher { return a.publisher }

// NewOrchestrator builds a search orchestrator over the shared fetch stack.
// An empty tag falls back to affiliate.tag.
func (a *App) NewOrchestrator(tag string, snapshots search.Snapshotter) (*search.Orchestrator, error) {
	if tag == "" {
		tag = a.cfg.Affiliate.Tag
	}
	cfg := a.cfg.Search
	opts := []search.Option{
		search.WithIDGenerator(uuid.New()),
		search.WithLogger(a.logger.Named("search")),
	}
	if snapshots != nil {
		opts = append(opts, search.WithSnapshotter(snapshots))
	}
	orch, err := search.New(search.Config{
		BaseURL:      cfg.BaseURL,
		SearchPath:   cfg.SearchPath,
		MaxPages:     cfg.MaxPages,
		MaxProducts:  cfg.MaxProducts,
		PageDelayMin: cfg.PageDelayMin,
		PageDelayMax: cfg.PageDelayMax,
	}, a.fetcher, extract.New(extract.Config{Origin: cfg.BaseURL, AffiliateTag: tag}), opts...)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, nil
}

// NewLinkChecker builds a link checker from the linkcheck section.
func (a *App) NewLinkChecker() (*linkcheck.Checker, error) {
	cfg := a.cfg.LinkCheck
	ua := ""
	if len(a.cfg.Gateway.UserAgents) > 0 {
		ua = a.cfg.Gateway.UserAgents[0]
	}
	checker, err := linkcheck.New(linkcheck.Config{
		Timeout:       cfg.Timeout,
		RatePerSecond: cfg.RatePerSecond,
		CacheSize:     cfg.CacheSize,
		UserAgent:     ua,
	}, linkcheck.WithLogger(a.logger.Named("linkcheck")))
	if err != nil {
		return nil, fmt.Errorf("init link checker: %w", err)
	}
	return checker, nil
}

// Close shuts down every service the App opened. It is safe to call on a
// partially built App.
func (a *App) Close() {
	a.logger.Info("Shutting down application services...")
	if a.rendered != nil {
		a.rendered.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("Error closing redis client", zap.Error(err))
		}
	}
	if a.productStore != nil {
		a.productStore.Close()
	}
	if a.pubsubPub != nil {
		a.pubsubPub.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("Error closing pubsub client", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("Error closing gcs client", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

package search

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/metrics"
	"github.com/JakeFAU/affiliate-crawler/internal/parser"
)

// Extractor turns one result container into a record.
type Extractor interface {
	Extract(container *goquery.Selection) (crawler.ProductRecord, bool)
}

// Snapshotter keeps the markup of pages that yielded no containers.
type Snapshotter interface {
	Snapshot(ctx context.Context, keyword string, page int, markup []byte) error
}

// invalidator is implemented by caching fetchers that can forget a page.
type invalidator interface {
	Invalidate(ctx context.Context, request crawler.FetchRequest) error
}

// PageParams builds the query for one page of results.
func PageParams(keyword string, page int) url.Values {
	return url.Values{
		"k":    {keyword},
		"page": {strconv.Itoa(page)},
		"ref":  {fmt.Sprintf("sr_pg_%d", page)},
	}
}

// paginator walks result pages for a single keyword.
type paginator struct {
	cfg       Config
	fetcher   crawler.Fetcher
	extractor Extractor
	pauser    crawler.Pauser
	jitter    crawler.Jitter
	snapshots Snapshotter
	logger    *zap.Logger
}

func (p *paginator) searchURL() string {
	return p.cfg.BaseURL + p.cfg.SearchPath
}

// crawl appends the keyword's records to the session. It returns early once
// the session is full, a page has no containers, or no next page exists.
// Failed pages are skipped.
func (p *paginator) crawl(ctx context.Context, s *Session, keyword string) {
	logger := p.logger.With(zap.String("session_id", s.ID), zap.String("keyword", keyword))
	run := s.begin(keyword)

	for page := 1; page <= s.MaxPages; page++ {
		if s.Full() {
			return
		}
		if page > 1 {
			p.pauser.Pause(ctx, p.jitter(p.cfg.PageDelayMin, p.cfg.PageDelayMax))
		}
		if ctx.Err() != nil {
			return
		}
		s.PagesVisited[run].Pages = page

		request := crawler.FetchRequest{
			JobID:  s.ID,
			URL:    p.searchURL(),
			Params: PageParams(keyword, page),
		}
		resp, err := p.fetcher.Fetch(ctx, request)
		if err != nil {
			s.pagesFailed++
			metrics.ObservePage("fetch_failed")
			logger.Warn("skipping page", zap.Int("page", page), zap.Error(err))
			continue
		}
		s.pagesFetched++

		doc, err := parser.Parse(resp.Body)
		if err != nil {
			s.pagesFailed++
			metrics.ObservePage("parse_failed")
			logger.Warn("skipping unparsable page", zap.Int("page", page), zap.Error(err))
			continue
		}
		if parser.IsChallenge(doc) {
			s.pagesFailed++
			metrics.ObservePage("challenge")
			logger.Warn("skipping page",
				zap.Int("page", page),
				zap.Error(crawler.NewTransportError(resp.URL, resp.StatusCode, crawler.ErrChallengePage)),
			)
			p.forget(ctx, request, logger)
			continue
		}

		containers := parser.Containers(doc)
		if containers.Length() == 0 {
			s.emptyPages++
			metrics.ObservePage("empty")
			logger.Info("no product containers, stopping keyword", zap.Int("page", page))
			p.snapshot(ctx, keyword, page, resp.Body, logger)
			return
		}

		before := len(s.Records)
		containers.EachWithBreak(func(_ int, container *goquery.Selection) bool {
			if s.Full() {
				return false
			}
			if record, ok := p.extract(container, s, logger); ok {
				s.add(record.WithKeyword(keyword))
			}
			return true
		})
		added := len(s.Records) - before
		metrics.ObservePage("ok")
		metrics.ObserveRecords(added)
		logger.Info("page processed",
			zap.Int("page", page),
			zap.Int("containers", containers.Length()),
			zap.Int("records", added),
			zap.Bool("cached", resp.FromCache),
		)

		if s.Full() {
			return
		}
		if !parser.HasNextPage(doc) {
			logger.Info("no next page", zap.Int("page", page))
			return
		}
	}
}

// extract runs the extractor on one container. A panic inside the rules is
// contained to that container.
func (p *paginator) extract(container *goquery.Selection, s *Session, logger *zap.Logger) (record crawler.ProductRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.extractionFailures++
			metrics.ObserveExtractionFailure()
			logger.Warn("container extraction failed",
				zap.String("kind", string(crawler.ExtractionFailure)),
				zap.Any("panic", r),
			)
			record, ok = crawler.ProductRecord{}, false
		}
	}()
	return p.extractor.Extract(container)
}

func (p *paginator) snapshot(ctx context.Context, keyword string, page int, markup []byte, logger *zap.Logger) {
	if p.snapshots == nil {
		return
	}
	if err := p.snapshots.Snapshot(ctx, keyword, page, markup); err != nil {
		logger.Warn("snapshot failed", zap.Int("page", page), zap.Error(err))
	}
}

func (p *paginator) forget(ctx context.Context, request crawler.FetchRequest, logger *zap.Logger) {
	inv, ok := p.fetcher.(invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, request); err != nil {
		logger.Debug("cache invalidation failed", zap.Error(err))
	}
}

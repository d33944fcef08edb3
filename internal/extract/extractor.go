package extract

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/affiliate-crawler/internal/affiliate"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// Config controls link resolution and tagging.
type Config struct {
	// Origin resolves relative links. Defaults to affiliate.DefaultOrigin.
	Origin string
	// AffiliateTag is merged into every product URL. Empty leaves URLs untagged.
	AffiliateTag string
}

// Extractor produces ProductRecords from search result containers.
type Extractor struct {
	origin   string
	rewriter affiliate.Rewriter

	title   []Rule
	price   []Rule
	rating  []Rule
	reviews []Rule
	image   []Rule
	asin    []Rule
}

// New builds an Extractor with the default rule sets.
func New(cfg Config) *Extractor {
	origin := cfg.Origin
	if origin == "" {
		origin = affiliate.DefaultOrigin
	}
	e := &Extractor{
		origin:   origin,
		rewriter: affiliate.Rewriter{Tag: cfg.AffiliateTag},
	}
	e.title = []Rule{
		TextRule("h2.a-size-mini a.a-link-normal", CollapseSpace),
		TextRule("h2.a-size-medium a.a-link-normal", CollapseSpace),
		TextRule("span.a-size-medium a.a-link-normal", CollapseSpace),
		TextRule("span.a-size-base-plus a.a-link-normal", CollapseSpace),
		TextRule("a.a-link-normal h2", CollapseSpace),
		TextRule("a.a-link-normal span.a-text-normal", CollapseSpace),
		TextRule("h2 a span", CollapseSpace),
		TextRule("[data-cy='title-recipe'] h2", CollapseSpace),
		TextRule("a.a-link-normal", CollapseSpace),
	}
	e.price = []Rule{
		TextRule("span.a-price .a-offscreen", NormalizePrice),
		TextRule("span.a-price-whole", NormalizePrice),
		TextRule("span.a-color-base", NormalizePrice),
		TextRule(".a-price .a-offscreen", NormalizePrice),
	}
	e.rating = []Rule{
		TextRule("span.a-icon-alt", ratingNormalizer),
		TextRule("i.a-icon-star-small span.a-icon-alt", ratingNormalizer),
		AttrRule("[aria-label*='out of 5']", "aria-label", ratingNormalizer),
	}
	e.reviews = []Rule{
		AttrRule("span[aria-label$='ratings']", "aria-label", countNormalizer),
		AttrRule("span[aria-label$='rating']", "aria-label", countNormalizer),
		TextRule("a[href*='customerReviews'] span", countNormalizer),
		TextRule("span.a-size-base.s-underline-text", countNormalizer),
		TextRule("span.a-size-small span.a-link-normal", countNormalizer),
		TextRule("span.a-size-base", countNormalizer),
	}
	e.image = []Rule{
		AttrRule("img.s-image", "src", e.absoluteHTTP),
		AttrRule("img", "src", e.absoluteHTTP),
		AttrRule("img", "data-src", e.absoluteHTTP),
	}
	e.asin = []Rule{
		SelfAttrRule("data-asin", validASIN),
		AttrRule("[data-asin]", "data-asin", validASIN),
	}
	return e
}

// Extract builds a record from one container. It reports false when no
// title could be found; such containers never yield partial records.
func (e *Extractor) Extract(container *goquery.Selection) (crawler.ProductRecord, bool) {
	if container == nil || container.Length() == 0 {
		return crawler.ProductRecord{}, false
	}
	title, ok := FirstMatch(container, e.title)
	if !ok {
		return crawler.ProductRecord{}, false
	}
	rec := crawler.ProductRecord{Title: title.Value}

	if link, ok := e.productURL(container, title.Node); ok {
		rec.URL = crawler.Ptr(e.rewriter.Rewrite(link))
	}
	if m, ok := FirstMatch(container, e.price); ok {
		rec.Price = crawler.Ptr(m.Value)
	}
	if m, ok := FirstMatch(container, e.rating); ok {
		if v, err := strconv.ParseFloat(m.Value, 64); err == nil {
			rec.Rating = crawler.Ptr(v)
		}
	}
	if m, ok := FirstMatch(container, e.reviews); ok {
		if v, err := strconv.Atoi(m.Value); err == nil {
			rec.ReviewsCount = crawler.Ptr(v)
		}
	}
	if m, ok := FirstMatch(container, e.image); ok {
		rec.ImageURL = crawler.Ptr(m.Value)
	}
	if rec.URL != nil {
		if asin, ok := affiliate.ASINFromURL(*rec.URL); ok {
			rec.ASIN = crawler.Ptr(asin)
		}
	} else if m, ok := FirstMatch(container, e.asin); ok {
		rec.ASIN = crawler.Ptr(m.Value)
	}
	return rec, true
}

// productURL prefers the title's own href, then the first anchor that
// points at a product detail page.
func (e *Extractor) productURL(container, titleNode *goquery.Selection) (string, bool) {
	if titleNode != nil && goquery.NodeName(titleNode) == "a" {
		if href, ok := titleNode.Attr("href"); ok {
			if abs, ok := affiliate.Resolve(e.origin, href); ok {
				return abs, true
			}
		}
	}
	var out string
	container.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		abs, ok := affiliate.Resolve(e.origin, href)
		if !ok {
			return true
		}
		u, err := url.Parse(abs)
		if err != nil || !strings.Contains(u.Path, "/dp/") {
			return true
		}
		out = abs
		return false
	})
	return out, out != ""
}

func (e *Extractor) absoluteHTTP(raw string) (string, bool) {
	abs, ok := affiliate.Resolve(e.origin, raw)
	if !ok {
		return "", false
	}
	if !strings.HasPrefix(abs, "https://") && !strings.HasPrefix(abs, "http://") {
		return "", false
	}
	return abs, true
}

func validASIN(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	return v, affiliate.ValidASIN(v)
}

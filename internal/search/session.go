package search

import (
	"time"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// KeywordPages counts the result pages visited for one keyword run.
type KeywordPages struct {
	Keyword string `json:"keyword"`
	Pages   int    `json:"pages"`
}

// Session is the transient state of one Search call. Keywords holds the
// trimmed keywords actually crawled, in order, repeats included.
type Session struct {
	ID           string
	Keywords     []string
	PagesVisited []KeywordPages
	Records      []crawler.ProductRecord
	MaxPages     int
	MaxProducts  int

	started            time.Time
	pagesFetched       int
	pagesFailed        int
	emptyPages         int
	extractionFailures int
}

func newSession(id string, maxPages, maxProducts int) *Session {
	return &Session{
		ID:           id,
		MaxPages:     maxPages,
		MaxProducts:  maxProducts,
		started:      time.Now(),
	}
}

// Full reports whether the product cap has been reached.
func (s *Session) Full() bool {
	return len(s.Records) >= s.MaxProducts
}

// begin registers a keyword run and returns its index in PagesVisited.
func (s *Session) begin(keyword string) int {
	s.Keywords = append(s.Keywords, keyword)
	s.PagesVisited = append(s.PagesVisited, KeywordPages{Keyword: keyword})
	return len(s.PagesVisited) - 1
}

func (s *Session) add(record crawler.ProductRecord) {
	s.Records = append(s.Records, record)
}

// Summary is a read-only account of a finished session.
type Summary struct {
	SessionID          string         `json:"session_id"`
	Keywords           []string       `json:"keywords"`
	PagesVisited       []KeywordPages `json:"pages_visited"`
	PagesFetched       int            `json:"pages_fetched"`
	PagesFailed        int            `json:"pages_failed"`
	EmptyPages         int            `json:"empty_pages"`
	ExtractionFailures int            `json:"extraction_failures"`
	Records            int            `json:"records"`
	CapReached         bool           `json:"cap_reached"`
	Duration           time.Duration  `json:"duration"`
}

func (s *Session) summary() Summary {
	return Summary{
		SessionID:          s.ID,
		Keywords:           append([]string(nil), s.Keywords...),
		PagesVisited:       append([]KeywordPages(nil), s.PagesVisited...),
		PagesFetched:       s.pagesFetched,
		PagesFailed:        s.pagesFailed,
		EmptyPages:         s.emptyPages,
		ExtractionFailures: s.extractionFailures,
		Records:            len(s.Records),
		CapReached:         s.Full(),
		Duration:           time.Since(s.started),
	}
}

package crawler

import (
	"net/http"
	"net/url"
	"time"
)

// ProductRecord is one product extracted from a search result container.
// Optional fields are nil when no rule produced a value.
type ProductRecord struct {
	Title         string   `json:"title"`
	URL           *string  `json:"url"`
	Price         *string  `json:"price"`
	Rating        *float64 `json:"rating"`
	ReviewsCount  *int     `json:"reviews_count"`
	ImageURL      *string  `json:"image_url"`
	ASIN          *string  `json:"asin"`
	SearchKeyword string   `json:"search_keyword"`
}

// WithKeyword returns a copy of the record tagged with keyword.
func (r ProductRecord) WithKeyword(keyword string) ProductRecord {
	r.SearchKeyword = keyword
	return r
}

// StringValue dereferences an optional string, returning "" when absent.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

// FetchRequest captures everything needed to fetch one search page.
type FetchRequest struct {
	JobID   string
	URL     string
	Params  url.Values
	Headers http.Header
}

// FullURL returns URL with Params merged into its query string.
func (r FetchRequest) FullURL() string {
	if len(r.Params) == 0 {
		return r.URL
	}
	u, err := url.Parse(r.URL)
	if err != nil {
		return r.URL
	}
	q := u.Query()
	for key, values := range r.Params {
		q.Del(key)
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
	FromCache    bool
}

// SearchStatus represents the lifecycle state of a submitted search job.
type SearchStatus string

// Search job status values persisted in the job store.
const (
	SearchStatusQueued    SearchStatus = "queued"
	SearchStatusRunning   SearchStatus = "running"
	SearchStatusSucceeded SearchStatus = "succeeded"
	SearchStatusFailed    SearchStatus = "failed"
	SearchStatusCanceled  SearchStatus = "canceled"
)

// IsTerminal reports whether no further transitions are expected.
func (s SearchStatus) IsTerminal() bool {
	switch s {
	case SearchStatusSucceeded, SearchStatusFailed, SearchStatusCanceled:
		return true
	default:
		return false
	}
}

// SearchParameters are the knobs a client may set per search job.
type SearchParameters struct {
	Keywords     []string `json:"keywords"`
	MaxPages     int      `json:"max_pages"`
	MaxProducts  int      `json:"max_products"`
	AffiliateTag string   `json:"affiliate_tag,omitempty"`
	Formats      []string `json:"formats,omitempty"`
}

// SearchCounters tracks page and record totals for a job.
type SearchCounters struct {
	PagesFetched int `json:"pages_fetched"`
	PagesFailed  int `json:"pages_failed"`
	Records      int `json:"records"`
}

// SearchJob is the metadata persisted for each search submitted to the service.
type SearchJob struct {
	ID         string            `json:"id"`
	Status     SearchStatus      `json:"status"`
	Submitted  time.Time         `json:"submitted_at"`
	Started    *time.Time        `json:"started_at,omitempty"`
	Finished   *time.Time        `json:"finished_at,omitempty"`
	ErrorText  string            `json:"error_text,omitempty"`
	Parameters SearchParameters  `json:"parameters"`
	Counters   SearchCounters    `json:"counters"`
	ExportURIs map[string]string `json:"export_uris,omitempty"`
}

// SearchJobResult is returned by the API records endpoint.
type SearchJobResult struct {
	Job     SearchJob       `json:"job"`
	Records []ProductRecord `json:"records"`
}

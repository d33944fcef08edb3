package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestLabel(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Timeout", "timeout"},
		{"trims", "  ok ", "ok"},
		{"empty", "", "unknown"},
		{"blank", "   ", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Label(tc.input); got != tc.expected {
				t.Errorf("Label(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if pagesTotal == nil || fetchesTotal == nil || recordsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpersIncrementCounters(t *testing.T) {
	Init()
	before := testutil.ToFloat64(pagesTotal.WithLabelValues("metrics_test_ok"))
	ObservePage("metrics_test_ok")
	if got := testutil.ToFloat64(pagesTotal.WithLabelValues("metrics_test_ok")); got != before+1 {
		t.Errorf("expected page counter %f, got %f", before+1, got)
	}

	beforeRecords := testutil.ToFloat64(recordsTotal)
	ObserveRecords(3)
	ObserveRecords(0)
	if got := testutil.ToFloat64(recordsTotal); got != beforeRecords+3 {
		t.Errorf("expected records counter %f, got %f", beforeRecords+3, got)
	}

	beforeFetch := testutil.ToFloat64(fetchesTotal.WithLabelValues("static", "metrics_test"))
	ObserveFetch("static", "metrics_test", 150*time.Millisecond)
	if got := testutil.ToFloat64(fetchesTotal.WithLabelValues("static", "metrics_test")); got != beforeFetch+1 {
		t.Errorf("expected fetch counter %f, got %f", beforeFetch+1, got)
	}

	beforeFailures := testutil.ToFloat64(extractionFailuresTotal)
	ObserveExtractionFailure()
	if got := testutil.ToFloat64(extractionFailuresTotal); got != beforeFailures+1 {
		t.Errorf("expected extraction failures %f, got %f", beforeFailures+1, got)
	}

	ObservePacingDelay(time.Second)
	ObserveSearch("succeeded")
	ObserveCacheLookup("hit")
	ObserveLinkCheck("ok")
}

// Fuzz test for Label.
func FuzzLabel(f *testing.F) {
	for _, tc := range []string{"ok", "", "  Mixed Case "} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if Label(orig) == "" {
			t.Errorf("Label(%q) returned an empty string", orig)
		}
	})
}

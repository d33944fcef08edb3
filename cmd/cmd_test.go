package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/affiliate-crawler/internal/app"
	"github.com/JakeFAU/affiliate-crawler/internal/config"
	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/linkcheck"
)

const resultsPage = `<html><body><div class="s-main-slot">
<div data-component-type="s-search-result" data-asin="B000000001">
<h2><a href="/usb-hub/dp/B000000001"><span>USB Hub</span></a></h2>
<span class="a-price"><span class="a-offscreen">$19.99</span></span>
</div></div></body></html>`

type stubFetcher struct{ keywords []string }

func (s *stubFetcher) Fetch(_ context.Context, r crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.keywords = append(s.keywords, r.Params.Get("k"))
	return crawler.FetchResponse{URL: r.FullURL(), StatusCode: 200, Body: []byte(resultsPage)}, nil
}

// useTestApp swaps the app factory for one that writes exports under dir
// and never touches the network.
func useTestApp(t *testing.T, dir string) *stubFetcher {
	t.Helper()
	stub := &stubFetcher{}
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (*app.App, error) {
		cfg.Export.Backend = "local"
		cfg.Export.BaseDir = dir
		cfg.Pacing.Floor, cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay = 0, 0, 0
		return app.New(ctx, cfg, zap.NewNop(), app.WithStaticFetcher(stub))
	}
	t.Cleanup(func() { newApp = orig })
	t.Setenv("AFFILIATE_LOGGING_LEVEL", "error")
	return stub
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root, closeApp := newRootCmd()
	defer closeApp()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSearchCommandWritesAllFormats(t *testing.T) {
	dir := t.TempDir()
	stub := useTestApp(t, dir)

	out, err := execute(t, "search", "usb hub", "--max-pages", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 products across 1 keyword(s)")
	assert.Equal(t, []string{"usb hub"}, stub.keywords)

	for _, ext := range []string{"json", "txt", "csv"} {
		assert.FileExists(t, filepath.Join(dir, "amazon_products."+ext))
	}
	body, err := os.ReadFile(filepath.Join(dir, "amazon_products.json"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "tag=cyberheroes-20")
}

// useObservedApp is useTestApp with a logger whose entries the test can read.
func useObservedApp(t *testing.T, dir string) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.InfoLevel)
	orig := newApp
	newApp = func(ctx context.Context, cfg config.Config, _ *zap.Logger) (*app.App, error) {
		cfg.Export.Backend = "local"
		cfg.Export.BaseDir = dir
		cfg.Pacing.Floor, cfg.Pacing.MinDelay, cfg.Pacing.MaxDelay = 0, 0, 0
		return app.New(ctx, cfg, zap.New(core), app.WithStaticFetcher(&stubFetcher{}))
	}
	t.Cleanup(func() { newApp = orig })
	t.Setenv("AFFILIATE_LOGGING_LEVEL", "error")
	return logs
}

func TestAppClosedWhenCommandFails(t *testing.T) {
	logs := useObservedApp(t, t.TempDir())

	_, err := execute(t, "check-links", filepath.Join(t.TempDir(), "missing.html"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open page")
	assert.Equal(t, 1, logs.FilterMessage("Shutting down application services...").Len())
}

func TestAppClosedOnceWhenCommandSucceeds(t *testing.T) {
	logs := useObservedApp(t, t.TempDir())

	_, err := execute(t, "search", "hub", "--max-pages", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessage("Shutting down application services...").Len())
}

func TestSearchCommandHonoursFlags(t *testing.T) {
	dir := t.TempDir()
	useTestApp(t, dir)

	_, err := execute(t, "search", "hub", "--format", "csv", "--output", "picks", "--tag", "mine-20")
	require.NoError(t, err)

	body, err := os.ReadFile(filepath.Join(dir, "picks.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(body), "tag=mine-20")
	assert.NoFileExists(t, filepath.Join(dir, "picks.json"))
}

func TestSearchCommandRejectsBadFormat(t *testing.T) {
	useTestApp(t, t.TempDir())

	_, err := execute(t, "search", "hub", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestSearchCommandRequiresKeyword(t *testing.T) {
	useTestApp(t, t.TempDir())

	_, err := execute(t, "search")
	require.Error(t, err)

	_, err = execute(t, "search", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-empty keyword")
}

func TestFixLinksCommand(t *testing.T) {
	dir := t.TempDir()
	useTestApp(t, dir)

	in := filepath.Join(dir, "post.html")
	out := filepath.Join(dir, "fixed.html")
	page := `<html><body>
<p><a href="https://www.amazon.com/gp/product/B000000002?ref=old">Old Widget</a></p>
<p>The USB Hub is great.</p>
</body></html>`
	require.NoError(t, os.WriteFile(in, []byte(page), 0o600))

	stdout, err := execute(t, "fix-links", in, "--out", out, "--product", "USB Hub=B000000001", "--tag", "blog-20")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Fixed 1 link(s), added 1 link(s)")

	body, err := os.ReadFile(out)
	require.NoError(t, err)
	html := string(body)
	assert.Contains(t, html, "/dp/B000000002")
	assert.Contains(t, html, "/dp/B000000001")
	assert.Contains(t, html, "tag=blog-20")
}

func TestParseProducts(t *testing.T) {
	products, err := parseProducts([]string{"USB Hub=b000000001", " Cable = B000000002 "})
	require.NoError(t, err)
	assert.Equal(t, "B000000001", products["USB Hub"])
	assert.Equal(t, "B000000002", products["Cable"])

	for _, bad := range []string{"no-separator", "=B000000001", "Hub=short"} {
		_, err := parseProducts([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestReportLinkResults(t *testing.T) {
	var out strings.Builder
	broken := reportLinkResults(&out, []linkcheck.Result{
		{Link: linkcheck.Link{URL: "https://www.amazon.com/dp/B000000001", Text: "Hub"}, OK: true, Status: "OK"},
		{
			Link:      linkcheck.Link{URL: "https://www.amazon.com/dp/B000000002", Text: "Cable", ASIN: "B000000002"},
			Status:    "404 Not Found",
			SearchURL: "https://www.amazon.com/s?k=Cable&ref=sr_pg_1",
		},
	})
	assert.Equal(t, 1, broken)
	text := out.String()
	assert.Contains(t, text, "[ok] Hub: OK")
	assert.Contains(t, text, "[FAIL] Cable: 404 Not Found")
	assert.Contains(t, text, "ASIN: B000000002")
	assert.Contains(t, text, "Search URL: https://www.amazon.com/s?k=Cable&ref=sr_pg_1")
}

func TestReportLinkResultsAllHealthy(t *testing.T) {
	var out strings.Builder
	assert.Zero(t, reportLinkResults(&out, nil))
	assert.Contains(t, out.String(), "All links are working.")
}

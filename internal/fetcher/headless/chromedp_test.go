package headless

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	f := NewChromedp(Config{SettleDelay: -time.Second}, nil)
	assert.Equal(t, DefaultMarkerSelector, f.cfg.MarkerSelector)
	assert.Equal(t, DefaultMarkerTimeout, f.cfg.MarkerTimeout)
	assert.Equal(t, DefaultNavigationTimeout, f.cfg.NavigationTimeout)
	assert.Zero(t, f.cfg.SettleDelay)
	assert.False(t, f.Disabled())
	assert.Nil(t, f.browser, "browser starts lazily")
}

func TestFetchDisablesAfterLaunchFailure(t *testing.T) {
	t.Parallel()

	bogus := filepath.Join(t.TempDir(), "no-such-chrome")
	f := NewChromedp(Config{Headless: true, ExecPath: bogus}, zap.NewNop())
	t.Cleanup(f.Close)

	req := crawler.FetchRequest{URL: "https://www.amazon.com/s"}
	_, err := f.Fetch(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, crawler.RenderFailure, crawler.KindOf(err))
	assert.NotErrorIs(t, err, crawler.ErrRendererDisabled)
	assert.True(t, f.Disabled())

	_, err = f.Fetch(context.Background(), req)
	require.ErrorIs(t, err, crawler.ErrRendererDisabled)
	assert.Equal(t, "renderer_disabled", crawler.Reason(err))
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	f := NewChromedp(Config{}, nil)
	f.Close()
	f.Close()
	assert.True(t, f.Disabled())

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://www.amazon.com/s"})
	require.ErrorIs(t, err, crawler.ErrRendererDisabled)
}

func TestAllocatorOptionsIncludeExecPath(t *testing.T) {
	t.Parallel()

	base := NewChromedp(Config{}, nil)
	withPath := NewChromedp(Config{ExecPath: "/opt/chrome"}, nil)
	assert.Len(t, withPath.allocatorOptions(), len(base.allocatorOptions())+1)
}

func TestToNetworkHeadersSkipsBrowserManagedHeaders(t *testing.T) {
	t.Parallel()

	src := http.Header{
		"Accept-Language": {"en-US,en;q=0.5"},
		"Accept-Encoding": {"gzip, deflate"},
		"Connection":      {"keep-alive"},
		"User-Agent":      {"agent"},
		"X-Multi":         {"a", "b"},
		"X-Empty":         {},
	}
	got := toNetworkHeaders(src)
	assert.Equal(t, network.Headers{
		"Accept-Language": "en-US,en;q=0.5",
		"X-Multi":         "a, b",
	}, got)
}

func TestCloneHeader(t *testing.T) {
	t.Parallel()

	assert.Nil(t, cloneHeader(nil))
	src := http.Header{"X-Test": {"a", "b"}}
	cloned := cloneHeader(src)
	cloned.Add("X-Test", "c")
	assert.Len(t, src["X-Test"], 2)
}

func TestResponseMetaCaptureAndFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  503,
			URL:     "https://www.amazon.com/s?k=hub",
			Headers: network.Headers{"X-Amz-Rid": "abc", "Set-Cookie": []any{"a=1", "b=2"}},
		},
	})
	// Later documents such as iframes are ignored.
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200, URL: "https://ads.example/frame"},
	})
	// Non-document resources are ignored.
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeScript,
		Response: &network.Response{Status: 404, URL: "https://www.amazon.com/app.js"},
	})

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	assert.Equal(t, 503, status)
	assert.Equal(t, "abc", headers.Get("X-Amz-Rid"))
	assert.Equal(t, []string{"a=1", "b=2"}, headers.Values("Set-Cookie"))
	assert.Equal(t, "https://www.amazon.com/s?k=hub", url)

	meta = newResponseMeta()
	status, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "https://final", url)

	_, _, url = newResponseMeta().snapshotWithFallbacks("https://req", "")
	assert.Equal(t, "https://req", url)
}

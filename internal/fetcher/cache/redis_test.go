package cache

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/hash/sha256"
)

type countingFetcher struct {
	calls  int
	status int
	body   string
	err    error
}

func (c *countingFetcher) Fetch(_ context.Context, r crawler.FetchRequest) (crawler.FetchResponse, error) {
	c.calls++
	if c.err != nil {
		return crawler.FetchResponse{}, c.err
	}
	return crawler.FetchResponse{URL: r.FullURL(), StatusCode: c.status, Body: []byte(c.body)}, nil
}

func newCache(t *testing.T, next crawler.Fetcher) (*Fetcher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	f, err := New(next, client, sha256.New(), Config{TTL: time.Minute}, nil)
	require.NoError(t, err)
	return f, mr
}

var searchPage = crawler.FetchRequest{
	URL:    "https://www.amazon.com/s",
	Params: url.Values{"k": {"usb hub"}, "page": {"1"}},
}

func TestFetchCachesSuccessfulPages(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{status: 200, body: "<html>page one</html>"}
	f, mr := newCache(t, next)
	ctx := context.Background()

	first, err := f.Fetch(ctx, searchPage)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(ctx, searchPage)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, "<html>page one</html>", string(second.Body))
	assert.Equal(t, 1, next.calls)

	key, err := f.key(searchPage.FullURL())
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))

	mr.FastForward(2 * time.Minute)
	_, err = f.Fetch(ctx, searchPage)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls, "expired entries are refetched")
}

func TestFetchSkipsCachingFailures(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{status: 503, body: "busy"}
	f, mr := newCache(t, next)

	_, err := f.Fetch(context.Background(), searchPage)
	require.NoError(t, err)
	assert.Empty(t, mr.Keys())

	next.err = crawler.NewTransportError(searchPage.FullURL(), 0, context.DeadlineExceeded)
	_, err = f.Fetch(context.Background(), searchPage)
	require.Error(t, err)
	assert.Empty(t, mr.Keys())
}

func TestFetchTreatsRedisOutageAsMiss(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{status: 200, body: "fresh"}
	f, mr := newCache(t, next)
	mr.Close()

	resp, err := f.Fetch(context.Background(), searchPage)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(resp.Body))
	assert.Equal(t, 1, next.calls)
}

func TestInvalidate(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{status: 200, body: "page"}
	f, mr := newCache(t, next)
	ctx := context.Background()

	_, err := f.Fetch(ctx, searchPage)
	require.NoError(t, err)
	require.Len(t, mr.Keys(), 1)

	require.NoError(t, f.Invalidate(ctx, searchPage))
	assert.Empty(t, mr.Keys())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	_, err := New(nil, client, sha256.New(), Config{}, nil)
	require.Error(t, err)
	_, err = New(&countingFetcher{}, nil, sha256.New(), Config{}, nil)
	require.Error(t, err)
	_, err = New(&countingFetcher{}, client, nil, Config{}, nil)
	require.Error(t, err)

	f, err := New(&countingFetcher{}, client, sha256.New(), Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, f.ttl)
}

package crawler

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformJitterStaysInWindow(t *testing.T) {
	t.Parallel()

	lo, hi := time.Second, 3*time.Second
	for range 200 {
		d := UniformJitter(lo, hi)
		require.GreaterOrEqual(t, d, lo)
		require.LessOrEqual(t, d, hi)
	}
	assert.Equal(t, lo, UniformJitter(lo, lo))
	assert.Equal(t, hi, UniformJitter(hi, lo))
}

func TestFetchRequestFullURL(t *testing.T) {
	t.Parallel()

	req := FetchRequest{
		URL:    "https://www.amazon.com/s",
		Params: url.Values{"k": {"usb hub"}, "page": {"2"}, "ref": {"sr_pg_2"}},
	}
	assert.Equal(t, "https://www.amazon.com/s?k=usb+hub&page=2&ref=sr_pg_2", req.FullURL())
	assert.Equal(t, "https://www.amazon.com/s", FetchRequest{URL: "https://www.amazon.com/s"}.FullURL())
}

func TestProductRecordWithKeywordCopies(t *testing.T) {
	t.Parallel()

	rec := ProductRecord{Title: "Hub", Price: Ptr("19.99")}
	tagged := rec.WithKeyword("usb hub")

	assert.Equal(t, "usb hub", tagged.SearchKeyword)
	assert.Empty(t, rec.SearchKeyword)
	assert.Equal(t, "19.99", StringValue(tagged.Price))
	assert.Equal(t, "", StringValue(nil))
}

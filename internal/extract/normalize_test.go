package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"$19.99", "19.99", true},
		{"$1,299.99", "1299.99", true},
		{"1,299.", "1299.", true},
		{"$10.00 - $20.00", "10.00", true},
		{"$12 - $20", "12", true},
		{"$1,200 - $1,500", "1200", true},
		{"$9.99 - $15", "9.99", true},
		{"See options", "", false},
		{"$.", "", false},
		{"", "", false},
	}
	for _, tc := range tests {
		got, ok := NormalizePrice(tc.raw)
		assert.Equal(t, tc.wantOK, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestNormalizePriceIsIdempotent(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"$19.99", "EUR 1.299", "$1,234,567.00", "12", "0.5", "$3.00 - $4.00", "$12 - $20", "USD 7."} {
		once, ok := NormalizePrice(raw)
		if !ok {
			continue
		}
		twice, ok := NormalizePrice(once)
		assert.True(t, ok, raw)
		assert.Equal(t, once, twice, raw)
	}
}

func TestParseRating(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   float64
		wantOK bool
	}{
		{"4.5 out of 5 stars", 4.5, true},
		{"4 out of 5 stars", 4, true},
		{"0 OUT OF 5", 0, true},
		{"5.0 out of 5 stars", 5, true},
		{"10", 0, false},
		{"Pack of 10", 0, false},
		{"7 out of 5 stars", 0, false},
		{"4 out of 50", 0, false},
		{"", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseRating(tc.raw)
		assert.Equal(t, tc.wantOK, ok, tc.raw)
		assert.InDelta(t, tc.want, got, 1e-9, tc.raw)
	}
}

func TestParseCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw    string
		want   int
		wantOK bool
	}{
		{"(1,234)", 1234, true},
		{"12,345 ratings", 12345, true},
		{"87", 87, true},
		{"no reviews", 0, false},
	}
	for _, tc := range tests {
		got, ok := ParseCount(tc.raw)
		assert.Equal(t, tc.wantOK, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}
}

func TestCollapseSpace(t *testing.T) {
	t.Parallel()

	got, ok := CollapseSpace("  Anker\n\t USB   Hub ")
	assert.True(t, ok)
	assert.Equal(t, "Anker USB Hub", got)

	_, ok = CollapseSpace(" \n ")
	assert.False(t, ok)
}

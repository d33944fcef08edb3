package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToleratesMalformedMarkup(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<html><body><div data-component-type='s-search-result'><h2><a class="a-link-normal" href=/dp/B000000001>Unclosed
	<div class=s-result-item><img class=s-image></body>`))
	require.NoError(t, err)
	assert.Equal(t, 1, Containers(doc).Length())
	assert.Contains(t, doc.Find("a.a-link-normal").Text(), "Unclosed")
}

func TestParseEmptyInput(t *testing.T) {
	t.Parallel()

	doc, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, Containers(doc).Length())
	assert.False(t, HasNextPage(doc))
	assert.False(t, IsChallenge(doc))

	_, err = ParseReader(nil)
	require.Error(t, err)
}

func TestContainersFallsBackToResultItem(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<div class="s-result-item">a</div><div class="s-result-item">b</div>`))
	require.NoError(t, err)
	assert.Equal(t, 2, Containers(doc).Length())

	doc, err = Parse([]byte(`
		<div data-component-type="s-search-result" class="s-result-item">a</div>
		<div class="s-result-item">ad slot</div>`))
	require.NoError(t, err)
	assert.Equal(t, 1, Containers(doc).Length(), "primary marker wins when present")
}

func TestHasNextPage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		markup string
		want   bool
	}{
		{"exact label", `<a aria-label="Go to next page" href="/s?page=2">Next</a>`, true},
		{"label with page suffix", `<a aria-label="Go to next page, page 2" href="/s?page=2">Next</a>`, true},
		{"pagination class", `<a class="s-pagination-item s-pagination-next" href="/s?page=2">Next</a>`, true},
		{"disabled pagination", `<span class="s-pagination-item s-pagination-next s-pagination-disabled">Next</span>`, false},
		{"aria disabled", `<a class="s-pagination-next" aria-disabled="true">Next</a>`, false},
		{"previous only", `<a aria-label="Go to previous page" href="/s?page=1">Prev</a>`, false},
		{"none", `<div>no pagination</div>`, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			doc, err := Parse([]byte(tc.markup))
			require.NoError(t, err)
			assert.Equal(t, tc.want, HasNextPage(doc))
		})
	}
}

func TestIsChallenge(t *testing.T) {
	t.Parallel()

	for _, markup := range []string{
		`<form action="/errors/validateCaptcha"><input id="captchacharacters"></form>`,
		`<html><head><title>Robot Check</title></head></html>`,
		`<input id="captchacharacters">`,
	} {
		doc, err := Parse([]byte(markup))
		require.NoError(t, err)
		assert.True(t, IsChallenge(doc), markup)
	}

	doc, err := Parse([]byte(`<html><head><title>Amazon.com : usb hub</title></head></html>`))
	require.NoError(t, err)
	assert.False(t, IsChallenge(doc))
}

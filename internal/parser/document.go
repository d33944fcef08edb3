// Package parser turns raw search page markup into a queryable goquery tree
// and locates the page landmarks the search loop depends on.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Landmark selectors. The first selector in each list that matches wins.
var (
	ContainerSelectors = []string{
		"div[data-component-type='s-search-result']",
		"div.s-result-item",
	}
	NextPageSelectors = []string{
		"a[aria-label='Go to next page']",
		"a[aria-label^='Go to next page']",
		"a.s-pagination-next:not(.s-pagination-disabled):not([aria-disabled='true'])",
	}
	challengeSelectors = []string{
		"form[action*='validateCaptcha']",
		"form[action*='Captcha']",
		"#captchacharacters",
	}
)

// Parse builds a document from markup. The underlying HTML5 parser repairs
// unclosed tags and stray attributes instead of failing.
func Parse(markup []byte) (*goquery.Document, error) {
	return ParseReader(bytes.NewReader(markup))
}

// ParseReader builds a document from r.
func ParseReader(r io.Reader) (*goquery.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("parse document: nil reader")
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	return doc, nil
}

// Containers returns the product result containers on a search page.
func Containers(doc *goquery.Document) *goquery.Selection {
	return firstNonEmpty(doc.Selection, ContainerSelectors)
}

// HasNextPage reports whether the page offers a link to the following page.
func HasNextPage(doc *goquery.Document) bool {
	return firstNonEmpty(doc.Selection, NextPageSelectors).Length() > 0
}

// IsChallenge reports whether the page is a bot-check interstitial.
func IsChallenge(doc *goquery.Document) bool {
	if firstNonEmpty(doc.Selection, challengeSelectors).Length() > 0 {
		return true
	}
	return strings.Contains(strings.ToLower(doc.Find("title").First().Text()), "robot check")
}

func firstNonEmpty(root *goquery.Selection, selectors []string) *goquery.Selection {
	for _, sel := range selectors {
		if found := root.Find(sel); found.Length() > 0 {
			return found
		}
	}
	return root.Find(selectors[len(selectors)-1])
}

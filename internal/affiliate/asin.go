package affiliate

import "regexp"

var (
	asinInPath = []*regexp.Regexp{
		regexp.MustCompile(`/dp/([A-Z0-9]{10})(?:[/?#]|$)`),
		regexp.MustCompile(`/gp/product/([A-Z0-9]{10})(?:[/?#]|$)`),
		regexp.MustCompile(`/product-reviews/([A-Z0-9]{10})(?:[/?#]|$)`),
	}
	asinExact = regexp.MustCompile(`^[A-Z0-9]{10}$`)
)

// ASINFromURL returns the catalog identifier embedded after a product path
// marker in rawURL.
func ASINFromURL(rawURL string) (string, bool) {
	for _, re := range asinInPath {
		if m := re.FindStringSubmatch(rawURL); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// ValidASIN reports whether s has the shape of a catalog identifier.
func ValidASIN(s string) bool {
	return asinExact.MatchString(s)
}

// HasProductPath reports whether rawURL points at a product detail page.
func HasProductPath(rawURL string) bool {
	_, ok := ASINFromURL(rawURL)
	return ok
}

// Package affiliate rewrites product links so they carry a referral tag and
// derives catalog identifiers from them.
package affiliate

import (
	"net/url"
	"regexp"
	"strings"
)

// TagParam is the query parameter that carries the affiliate tag.
const TagParam = "tag"

// DefaultOrigin is the storefront used to resolve relative links.
const DefaultOrigin = "https://www.amazon.com"

// Rewrite returns rawURL with tag merged into its query string. Existing
// parameters are kept and any previous tag is replaced, so the result holds
// exactly one tag. The URL is canonicalized: lower-case scheme and host, no
// fragment, query keys sorted. Empty input, an empty tag, or an unparsable
// URL come back unchanged.
func Rewrite(rawURL, tag string) string {
	if rawURL == "" || tag == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	q := u.Query()
	q.Set(TagParam, tag)
	u.RawQuery = q.Encode()
	return u.String()
}

// Rewriter binds a tag so callers can pass the rewrite around as a value.
type Rewriter struct {
	Tag string
}

// Rewrite applies the bound tag to rawURL.
func (r Rewriter) Rewrite(rawURL string) string {
	return Rewrite(rawURL, r.Tag)
}

// Resolve turns href into an absolute URL against origin. Sponsored
// redirect links (/sspa/click?...&url=/dp/...) are unwrapped to the
// product link they point at.
func Resolve(origin, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
		return "", false
	}
	base, err := url.Parse(origin)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if target := unwrapSponsored(abs); target != nil {
		abs = base.ResolveReference(target)
	}
	return abs.String(), true
}

func unwrapSponsored(u *url.URL) *url.URL {
	if !strings.Contains(u.Path, "/sspa/click") {
		return nil
	}
	inner := u.Query().Get("url")
	if inner == "" {
		return nil
	}
	target, err := url.Parse(inner)
	if err != nil {
		return nil
	}
	return target
}

var slugUnsafe = regexp.MustCompile(`[^\w\s-]`)
var slugSpace = regexp.MustCompile(`[-\s]+`)

// Slug turns a product name into the path segment used in product links.
func Slug(name string) string {
	s := slugUnsafe.ReplaceAllString(strings.TrimSpace(name), "")
	s = slugSpace.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// ProductLink builds origin/<slug>/dp/<asin>?tag=<tag>. This form drops any
// query string the original link carried and is used when repairing links
// whose original href is unusable.
func ProductLink(origin, asin, name, tag string) string {
	if origin == "" {
		origin = DefaultOrigin
	}
	origin = strings.TrimRight(origin, "/")
	path := "/dp/" + asin
	if slug := Slug(name); slug != "" {
		path = "/" + slug + path
	}
	link := origin + path
	if tag != "" {
		link += "?" + url.Values{TagParam: {tag}}.Encode()
	}
	return link
}

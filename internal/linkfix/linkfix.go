// Package linkfix repairs amazon product links in article HTML and links
// bare product mentions.
package linkfix

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/affiliate-crawler/internal/affiliate"
	"github.com/JakeFAU/affiliate-crawler/internal/extract"
	"github.com/JakeFAU/affiliate-crawler/internal/linkcheck"
)

// Products maps a product name to its ASIN.
type Products map[string]string

// names returns product names longest first so "Dell XPS 15 OLED" wins over
// "Dell XPS 15".
func (p Products) names() []string {
	out := make([]string, 0, len(p))
	for name := range p {
		if strings.TrimSpace(name) != "" {
			out = append(out, name)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// match finds the product whose name occurs in text, ignoring case.
func (p Products) match(text string) (string, string, bool) {
	lower := strings.ToLower(text)
	for _, name := range p.names() {
		if strings.Contains(lower, strings.ToLower(name)) {
			return name, p[name], true
		}
	}
	return "", "", false
}

// FixLinks rewrites every amazon anchor to the canonical
// origin/<slug>/dp/<ASIN>?tag=<tag> form. The ASIN comes from a product
// named in the anchor text, else from the existing href. The slug uses the
// anchor text, the enclosing h3, or "product". Anchors with no usable ASIN
// are left alone. It returns the number of anchors rewritten.
func FixLinks(doc *goquery.Document, products Products, tag string) int {
	fixed := 0
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		if !linkcheck.IsAmazonURL(href) {
			return
		}
		text, _ := extract.CollapseSpace(a.Text())
		name := contextName(a, text)
		asin, ok := affiliate.ASINFromURL(href)
		if productName, productASIN, matched := products.match(text); matched {
			name, asin, ok = productName, productASIN, true
		}
		if !ok || !affiliate.ValidASIN(asin) {
			return
		}
		link := affiliate.ProductLink(affiliate.DefaultOrigin, asin, name, tag)
		if link != href {
			a.SetAttr("href", link)
			fixed++
		}
	})
	return fixed
}

func contextName(a *goquery.Selection, text string) string {
	if text != "" {
		return text
	}
	if h3 := a.Closest("h3"); h3.Length() > 0 {
		if name, ok := extract.CollapseSpace(h3.Text()); ok {
			return name
		}
	}
	return "product"
}

// InjectLinks wraps the first bare mention of each product in an anchor to
// origin/dp/<ASIN>?tag=<tag>. Text already inside an anchor, script or
// style element is skipped. It returns the number of links added.
func InjectLinks(doc *goquery.Document, products Products, tag string) int {
	if len(doc.Nodes) == 0 {
		return 0
	}
	added := 0
	for _, name := range products.names() {
		href := affiliate.ProductLink(affiliate.DefaultOrigin, products[name], "", tag)
		if node := findText(doc.Nodes[0], name); node != nil {
			wrap(node, name, href)
			added++
		}
	}
	return added
}

func findText(n *html.Node, needle string) *html.Node {
	if n.Type == html.ElementNode {
		switch n.DataAtom {
		case atom.A, atom.Script, atom.Style, atom.Head:
			return nil
		}
	}
	if n.Type == html.TextNode && strings.Contains(n.Data, needle) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findText(c, needle); found != nil {
			return found
		}
	}
	return nil
}

// wrap splits text node n around the first occurrence of name.
func wrap(n *html.Node, name, href string) {
	idx := strings.Index(n.Data, name)
	before, after := n.Data[:idx], n.Data[idx+len(name):]
	parent := n.Parent

	anchor := &html.Node{
		Type:     html.ElementNode,
		Data:     "a",
		DataAtom: atom.A,
		Attr: []html.Attribute{
			{Key: "href", Val: href},
			{Key: "target", Val: "_blank"},
			{Key: "rel", Val: "noopener"},
		},
	}
	anchor.AppendChild(&html.Node{Type: html.TextNode, Data: name})

	if before != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: before}, n)
	}
	parent.InsertBefore(anchor, n)
	if after != "" {
		parent.InsertBefore(&html.Node{Type: html.TextNode, Data: after}, n)
	}
	parent.RemoveChild(n)
}

// Render writes the whole document back out as HTML.
func Render(w io.Writer, doc *goquery.Document) error {
	for _, n := range doc.Nodes {
		if err := html.Render(w, n); err != nil {
			return fmt.Errorf("render document: %w", err)
		}
	}
	return nil
}

// Package extract derives ProductRecords from search result containers.
//
// Every field is resolved by an ordered list of Rules. A Rule is a pure
// function from a container to an optional Match; the first Rule that
// yields a usable value wins and later Rules are not consulted.
package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Match is the value a Rule produced and the node it came from.
type Match struct {
	Node  *goquery.Selection
	Value string
}

// Rule inspects a container and reports a Match when it applies.
type Rule func(container *goquery.Selection) (Match, bool)

// Normalizer turns raw text into a field value. It reports false when the
// text carries no usable value, which makes the owning Rule fall through.
type Normalizer func(raw string) (string, bool)

// FirstMatch applies rules in order and returns the first Match.
func FirstMatch(container *goquery.Selection, rules []Rule) (Match, bool) {
	for _, rule := range rules {
		if m, ok := rule(container); ok {
			return m, true
		}
	}
	return Match{}, false
}

// TextRule matches the first element under selector whose text normalizes
// to a value.
func TextRule(selector string, normalize Normalizer) Rule {
	return func(container *goquery.Selection) (Match, bool) {
		return scan(container.Find(selector), func(node *goquery.Selection) (string, bool) {
			return node.Text(), true
		}, normalize)
	}
}

// AttrRule matches the first element under selector whose attr value
// normalizes to a value.
func AttrRule(selector, attr string, normalize Normalizer) Rule {
	return func(container *goquery.Selection) (Match, bool) {
		return scan(container.Find(selector), func(node *goquery.Selection) (string, bool) {
			return node.Attr(attr)
		}, normalize)
	}
}

// SelfAttrRule matches the container's own attribute.
func SelfAttrRule(attr string, normalize Normalizer) Rule {
	return func(container *goquery.Selection) (Match, bool) {
		raw, ok := container.Attr(attr)
		if !ok {
			return Match{}, false
		}
		v, ok := normalize(raw)
		if !ok {
			return Match{}, false
		}
		return Match{Node: container, Value: v}, true
	}
}

func scan(
	nodes *goquery.Selection,
	read func(*goquery.Selection) (string, bool),
	normalize Normalizer,
) (Match, bool) {
	var out Match
	found := false
	nodes.EachWithBreak(func(_ int, node *goquery.Selection) bool {
		raw, ok := read(node)
		if !ok {
			return true
		}
		v, ok := normalize(raw)
		if !ok {
			return true
		}
		out = Match{Node: node, Value: v}
		found = true
		return false
	})
	return out, found
}

// CollapseSpace trims text and folds internal whitespace runs to one space.
func CollapseSpace(raw string) (string, bool) {
	v := strings.Join(strings.Fields(raw), " ")
	return v, v != ""
}

package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	priceToken  = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?|\.\d+`)
	ratingToken = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*out\s+of\s+5(?:\D|$)`)
	countToken  = regexp.MustCompile(`\d{1,3}(?:,\d{3})+|\d+`)
)

// NormalizePrice keeps only digits and the decimal point. Text that holds
// several numbers (a price range) keeps the first one. Applying it to its
// own output returns the output unchanged.
func NormalizePrice(raw string) (string, bool) {
	stripped := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, raw)
	if strings.Count(stripped, ".") > 1 || len(priceToken.FindAllString(raw, 2)) > 1 {
		stripped = strings.ReplaceAll(priceToken.FindString(raw), ",", "")
	}
	if strings.Trim(stripped, ".") == "" {
		return "", false
	}
	return stripped, true
}

// ParseRating reads "X out of 5" text and returns X when it lies in [0, 5].
func ParseRating(raw string) (float64, bool) {
	m := ratingToken.FindStringSubmatch(raw)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 5 {
		return 0, false
	}
	return v, true
}

// ParseCount reads the first integer, allowing thousands separators.
func ParseCount(raw string) (int, bool) {
	tok := countToken.FindString(raw)
	if tok == "" {
		return 0, false
	}
	v, err := strconv.Atoi(strings.ReplaceAll(tok, ",", ""))
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

func ratingNormalizer(raw string) (string, bool) {
	v, ok := ParseRating(raw)
	if !ok {
		return "", false
	}
	return strconv.FormatFloat(v, 'f', -1, 64), true
}

func countNormalizer(raw string) (string, bool) {
	v, ok := ParseCount(raw)
	if !ok {
		return "", false
	}
	return strconv.Itoa(v), true
}

// Package export serializes product records as JSON, a plain-text link
// listing, or CSV, and stores the results through a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
)

// Format names an output encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatTXT  Format = "txt"
	FormatCSV  Format = "csv"
)

// DefaultBaseName is the output name used when none is given.
const DefaultBaseName = "amazon_products"

// AllFormats lists every format in write order.
var AllFormats = []Format{FormatJSON, FormatTXT, FormatCSV}

// ParseFormats expands names such as "json" or "all" into formats,
// dropping duplicates.
func ParseFormats(names []string) ([]Format, error) {
	seen := map[Format]bool{}
	var out []Format
	add := func(f Format) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, raw := range names {
		for _, name := range strings.Split(raw, ",") {
			switch n := strings.ToLower(strings.TrimSpace(name)); n {
			case "":
			case "all":
				for _, f := range AllFormats {
					add(f)
				}
			case string(FormatJSON), string(FormatTXT), string(FormatCSV):
				add(Format(n))
			default:
				return nil, fmt.Errorf("unknown export format %q", name)
			}
		}
	}
	if len(out) == 0 {
		return append([]Format(nil), AllFormats...), nil
	}
	return out, nil
}

// Writer encodes records in one format.
type Writer interface {
	Format() Format
	ContentType() string
	Write(w io.Writer, records []crawler.ProductRecord) error
}

// WriterFor returns the Writer for f.
func WriterFor(f Format) (Writer, error) {
	switch f {
	case FormatJSON:
		return JSONWriter{}, nil
	case FormatTXT:
		return TextWriter{}, nil
	case FormatCSV:
		return CSVWriter{}, nil
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
}

// ObjectName returns the blob path for one format.
func ObjectName(prefix, base string, f Format) string {
	if base == "" {
		base = DefaultBaseName
	}
	return path.Join(prefix, base+"."+string(f))
}

// WriteAll encodes records in every format and stores each one. It returns
// the URI of every object written; a failure in one format does not stop
// the others.
func WriteAll(
	ctx context.Context,
	store crawler.BlobStore,
	prefix, base string,
	formats []Format,
	records []crawler.ProductRecord,
) (map[string]string, error) {
	uris := make(map[string]string, len(formats))
	var errs []error
	for _, f := range formats {
		w, err := WriterFor(f)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		var buf bytes.Buffer
		if err := w.Write(&buf, records); err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", f, err))
			continue
		}
		uri, err := store.PutObject(ctx, ObjectName(prefix, base, f), w.ContentType(), &buf)
		if err != nil {
			errs = append(errs, fmt.Errorf("store %s: %w", f, err))
			continue
		}
		uris[string(f)] = uri
	}
	return uris, errors.Join(errs...)
}

// JSONWriter writes an indented JSON array.
type JSONWriter struct{}

// Format implements Writer.
func (JSONWriter) Format() Format { return FormatJSON }

// ContentType implements Writer.
func (JSONWriter) ContentType() string { return "application/json" }

// Write implements Writer. An empty input produces "[]".
func (JSONWriter) Write(w io.Writer, records []crawler.ProductRecord) error {
	if records == nil {
		records = []crawler.ProductRecord{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(records); err != nil {
		return fmt.Errorf("encode json records: %w", err)
	}
	return nil
}

// TextWriter writes the human-readable link listing.
type TextWriter struct{}

// Format implements Writer.
func (TextWriter) Format() Format { return FormatTXT }

// ContentType implements Writer.
func (TextWriter) ContentType() string { return "text/plain; charset=utf-8" }

const notAvailable = "N/A"

// Write implements Writer.
func (TextWriter) Write(w io.Writer, records []crawler.ProductRecord) error {
	var b strings.Builder
	b.WriteString("AMAZON PRODUCT LINKS\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")
	for i, rec := range records {
		price := notAvailable
		if rec.Price != nil {
			price = "$" + *rec.Price
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, orNA(rec.Title))
		fmt.Fprintf(&b, "   Link: %s\n", orNA(crawler.StringValue(rec.URL)))
		fmt.Fprintf(&b, "   Price: %s\n", price)
		fmt.Fprintf(&b, "   Rating: %s\n", formatRating(rec.Rating, notAvailable))
		fmt.Fprintf(&b, "   Keyword: %s\n", orNA(rec.SearchKeyword))
		b.WriteString(strings.Repeat("-", 50) + "\n\n")
	}
	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write text listing: %w", err)
	}
	return nil
}

// CSVWriter writes one row per record under a fixed header.
type CSVWriter struct{}

// Format implements Writer.
func (CSVWriter) Format() Format { return FormatCSV }

// ContentType implements Writer.
func (CSVWriter) ContentType() string { return "text/csv; charset=utf-8" }

// CSVHeader is the first row of every CSV export.
var CSVHeader = []string{"Title", "URL", "Price", "Rating", "Search Keyword"}

// Write implements Writer. Absent values are empty cells.
func (CSVWriter) Write(w io.Writer, records []crawler.ProductRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			rec.Title,
			crawler.StringValue(rec.URL),
			crawler.StringValue(rec.Price),
			formatRating(rec.Rating, ""),
			rec.SearchKeyword,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

func orNA(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}

func formatRating(r *float64, missing string) string {
	if r == nil {
		return missing
	}
	return strconv.FormatFloat(*r, 'f', -1, 64)
}

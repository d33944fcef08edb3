package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/affiliate"
	"github.com/JakeFAU/affiliate-crawler/internal/linkcheck"
	"github.com/JakeFAU/affiliate-crawler/internal/linkfix"
)

func newCheckLinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-links <file.html>",
		Short: "Probe every Amazon link in an HTML page and report the broken ones",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckLinksCommand,
	}
}

func runCheckLinksCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	checker, err := appInstance.NewLinkChecker()
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			appInstance.Logger().Warn("Failed to close page", zap.Error(cerr))
		}
	}()

	results, err := checker.CheckDocument(cmd.Context(), f)
	if err != nil {
		return err
	}
	broken := reportLinkResults(cmd.OutOrStdout(), results)
	if broken > 0 {
		return fmt.Errorf("%d broken link(s)", broken)
	}
	return nil
}

// reportLinkResults prints one line per link and a summary of failures,
// returning the failure count.
func reportLinkResults(w io.Writer, results []linkcheck.Result) int {
	fmt.Fprintln(w, "Checking Amazon links...")
	fmt.Fprintln(w, strings.Repeat("=", 50))

	var failed []linkcheck.Result
	for _, r := range results {
		mark := "ok"
		if !r.OK {
			mark = "FAIL"
			failed = append(failed, r)
		}
		fmt.Fprintf(w, "  [%s] %s: %s\n", mark, linkName(r.Link), r.Status)
	}

	fmt.Fprintln(w, strings.Repeat("=", 50))
	if len(failed) == 0 {
		fmt.Fprintln(w, "All links are working.")
		return 0
	}
	fmt.Fprintf(w, "Found %d link(s) with issues:\n", len(failed))
	for _, r := range failed {
		fmt.Fprintf(w, "- %s: %s\n", linkName(r.Link), r.Status)
		if r.Link.ASIN != "" {
			fmt.Fprintf(w, "  ASIN: %s\n", r.Link.ASIN)
		}
		fmt.Fprintf(w, "  Search URL: %s\n", r.SearchURL)
	}
	return len(failed)
}

func linkName(l linkcheck.Link) string {
	if l.Text != "" {
		return l.Text
	}
	return l.URL
}

func newFixLinksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix-links <in.html>",
		Short: "Rewrite Amazon links in an HTML page to clean affiliate product links",
		Long: `Rewrites every Amazon anchor to a canonical /dp/ link carrying the
affiliate tag. Products named with --product are matched by anchor text, and
their first bare mention in the page is turned into a link.`,
		Args: cobra.ExactArgs(1),
		RunE: runFixLinksCommand,
	}
	cmd.Flags().String("out", "", "output file (defaults to overwriting the input)")
	cmd.Flags().StringArray("product", nil, "product to link, as NAME=ASIN (repeatable)")
	cmd.Flags().String("tag", "", "affiliate tag (defaults to affiliate.tag)")
	return cmd
}

func runFixLinksCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	out, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}
	if out == "" {
		out = args[0]
	}
	pairs, err := cmd.Flags().GetStringArray("product")
	if err != nil {
		return err
	}
	products, err := parseProducts(pairs)
	if err != nil {
		return err
	}
	tag := appInstance.Config().Affiliate.Tag

	in, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(in)))
	if err != nil {
		return fmt.Errorf("parse page: %w", err)
	}

	fixed := linkfix.FixLinks(doc, products, tag)
	injected := linkfix.InjectLinks(doc, products, tag)

	var b strings.Builder
	if err := linkfix.Render(&b, doc); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	if err := os.WriteFile(out, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fixed %d link(s), added %d link(s); saved to %s\n", fixed, injected, out)
	return nil
}

// parseProducts turns NAME=ASIN pairs into a product table.
func parseProducts(pairs []string) (linkfix.Products, error) {
	products := make(linkfix.Products, len(pairs))
	for _, pair := range pairs {
		name, asin, ok := strings.Cut(pair, "=")
		name, asin = strings.TrimSpace(name), strings.ToUpper(strings.TrimSpace(asin))
		if !ok || name == "" {
			return nil, fmt.Errorf("product %q: want NAME=ASIN", pair)
		}
		if !affiliate.ValidASIN(asin) {
			return nil, fmt.Errorf("product %q: invalid ASIN %q", pair, asin)
		}
		products[name] = asin
	}
	return products, nil
}

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/crawler"
	"github.com/JakeFAU/affiliate-crawler/internal/export"
	"github.com/JakeFAU/affiliate-crawler/internal/hash/sha256"
	"github.com/JakeFAU/affiliate-crawler/internal/search"
)

// newSearchCmd creates the 'search' subcommand, which runs one search
// session in-process and exports its records.
func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <keyword>...",
		Short: "Search Amazon for one or more keywords and export tagged product links",
		Long: `Runs the keywords in order, walking result pages until the page or
product limit is reached, then writes the collected records in every
requested format. A keyword containing spaces must be quoted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runSearchCommand,
	}
	flags := cmd.Flags()
	flags.Int("max-pages", search.DefaultMaxPages, "result pages per keyword")
	flags.Int("max-products", search.DefaultMaxProducts, "records per session across all keywords")
	flags.StringSlice("format", []string{"all"}, "export formats: json, txt, csv or all")
	flags.String("output", export.DefaultBaseName, "export base name without extension")
	flags.Bool("rendered", false, "fetch through a headless browser instead of plain HTTP")
	flags.Bool("headless", true, "hide the browser window when --rendered is set")
	flags.String("tag", "", "affiliate tag merged into every product link")
	return cmd
}

func runSearchCommand(cmd *cobra.Command, args []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	keywords := make([]string, 0, len(args))
	for _, k := range args {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) == 0 {
		return errors.New("at least one non-empty keyword is required")
	}
	formats, err := export.ParseFormats(cfg.Export.Formats)
	if err != nil {
		return err
	}

	snapshots := search.NewBlobSnapshotter(appInstance.BlobStore(), sha256.New(), path.Join(cfg.Export.Prefix, "snapshots"))
	orch, err := appInstance.NewOrchestrator("", snapshots)
	if err != nil {
		return err
	}

	records, summary, searchErr := orch.Search(cmd.Context(), keywords, cfg.Search.MaxPages, cfg.Search.MaxProducts)
	interrupted := errors.Is(searchErr, context.Canceled)
	if interrupted {
		logger.Warn("Search interrupted; exporting partial results", zap.Int("records", len(records)))
	}

	// Records already collected are exported even when the session ended early.
	ctx := context.WithoutCancel(cmd.Context())
	uris, exportErr := export.WriteAll(ctx, appInstance.BlobStore(), cfg.Export.Prefix, cfg.Export.Output, formats, records)
	if exportErr != nil {
		logger.Error("Export failed", zap.Error(exportErr))
	}
	if rs := appInstance.RecordStore(); rs != nil && len(records) > 0 {
		if err := rs.StoreRecords(ctx, summary.SessionID, records); err != nil {
			logger.Error("Persisting records failed", zap.Error(err))
		}
	}

	printSummary(cmd.OutOrStdout(), records, summary, uris)

	if searchErr != nil && !interrupted {
		return fmt.Errorf("search: %w", searchErr)
	}
	return exportErr
}

func printSummary(w io.Writer, records []crawler.ProductRecord, summary search.Summary, uris map[string]string) {
	fmt.Fprintf(w, "Found %d products across %d keyword(s) (%d pages fetched, %d failed)\n",
		len(records), len(summary.Keywords), summary.PagesFetched, summary.PagesFailed)
	if summary.CapReached {
		fmt.Fprintln(w, "Product limit reached.")
	}
	names := make([]string, 0, len(uris))
	for name := range uris {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "Saved %s: %s\n", name, uris[name])
	}
}

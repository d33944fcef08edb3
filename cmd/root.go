// Package cmd defines and implements the CLI commands for the affiliate-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/affiliate-crawler/internal/app"
	"github.com/JakeFAU/affiliate-crawler/internal/config"
	"github.com/JakeFAU/affiliate-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject fakes.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned func
// closes the App built for the run and must be called once ExecuteContext
// returns, whether or not the command failed.
func newRootCmd() (*cobra.Command, func()) {
	var (
		cfgFile string
		built   *app.App
	)
	closeApp := func() {
		if built != nil {
			built.Close()
			built = nil
		}
	}

	cmd := &cobra.Command{
		Use:   "affiliate-crawler",
		Short: "Searches Amazon by keyword and exports affiliate-tagged product records.",
		Long: `affiliate-crawler runs keyword searches against Amazon, extracts product
records from each results page and rewrites every product link to carry an
affiliate tag. Results export as JSON, text or CSV. The same engine can run
as an HTTP service, and helper commands check or repair affiliate links in
existing HTML pages.`,
		SilenceUsage: true,

		// Build the application once, before any subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := applyOverrides(cmd, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			built = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newCheckLinksCmd())
	cmd.AddCommand(newFixLinksCmd())
	cmd.AddCommand(newServeCmd())

	return cmd, closeApp
}

// applyOverrides maps command-line flags onto the loaded config before
// validation. Only flags the user actually set take effect.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	var err error
	if changed("max-pages") {
		cfg.Search.MaxPages, err = flags.GetInt("max-pages")
	}
	if err == nil && changed("max-products") {
		cfg.Search.MaxProducts, err = flags.GetInt("max-products")
	}
	if err == nil && changed("tag") {
		cfg.Affiliate.Tag, err = flags.GetString("tag")
	}
	if err == nil && changed("format") {
		cfg.Export.Formats, err = flags.GetStringSlice("format")
	}
	if err == nil && changed("output") {
		cfg.Export.Output, err = flags.GetString("output")
	}
	if err == nil && changed("rendered") {
		var rendered bool
		if rendered, err = flags.GetBool("rendered"); rendered {
			cfg.Gateway.Backend = "rendered"
			cfg.Headless.Enabled = true
		}
	}
	if err == nil && changed("headless") {
		cfg.Headless.Headless, err = flags.GetBool("headless")
	}
	if err == nil && changed("port") {
		cfg.Server.Port, err = flags.GetInt("port")
	}
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	return nil
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
// SIGINT and SIGTERM cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root, closeApp := newRootCmd()
	err := root.ExecuteContext(ctx)
	closeApp()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

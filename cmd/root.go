// Package cmd implements the sitemirror command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirrorlab/sitemirror/internal/app"
	"github.com/mirrorlab/sitemirror/internal/config"
)

var (
	cfgFile string
	verbose bool
)

// appKeyType is the key for storing the App in the command context.
type appKeyType string

const appKey appKeyType = "app"

// buildApp is the application factory. It is a variable so tests can
// swap in a stub without touching real backends.
var buildApp = app.Build

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitemirror",
		Short: "Crawl websites into browsable offline snapshots",
		Long: `sitemirror walks a website tree and writes an offline snapshot: raw and
cleaned markdown per page, deduplicated images and documents, and derived
metadata. Run it one-shot with "crawl" or as a job service with "serve".`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Only commands that actually crawl or serve need the app.
			switch cmd.Name() {
			case "version", "help", "completion", cobra.ShellCompRequestCmd:
				return nil
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if verbose {
				cfg.Logging.Development = true
			}

			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				_ = a.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML; environment variables override)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging (human-readable, debug level)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command and exits nonzero on failure.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/snapshot"
)

func newCrawlCmd() *cobra.Command {
	var (
		depth       int
		maxPages    int
		concurrency int
		wait        float64
		sameDomain  bool
		tags        map[string]string
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site once and write its snapshot",
		Long: `Crawls a website starting from the given URL and writes the snapshot
under output.dir: raw and cleaned markdown per page, deduplicated assets,
and a crawl summary. Flags override the corresponding config values for
this run only.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := a.Config()

			params := crawler.Params{
				RootURL:        args[0],
				MaxDepth:       cfg.Crawler.MaxDepth,
				MaxPages:       cfg.Crawler.MaxPages,
				Concurrency:    cfg.Crawler.Concurrency,
				SameDomainOnly: cfg.Crawler.SameDomainOnly,
				WaitSeconds:    cfg.Crawler.WaitSeconds,
				Tags:           tags,
			}
			flags := cmd.Flags()
			if flags.Changed("depth") {
				params.MaxDepth = depth
			}
			if flags.Changed("max-pages") {
				params.MaxPages = maxPages
			}
			if flags.Changed("concurrency") {
				params.Concurrency = concurrency
			}
			if flags.Changed("wait") {
				params.WaitSeconds = wait
			}
			if flags.Changed("same-domain") {
				params.SameDomainOnly = sameDomain
			}
			if _, err := crawler.ValidateRootURL(params.RootURL); err != nil {
				return err
			}

			job, result, err := a.RunOnce(cmd.Context(), params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			summary := result.Summary
			fmt.Fprintf(out, "run %s finished: %s\n", result.RunID, job.Status)
			fmt.Fprintf(out, "  pages:    %d fetched, %d failed\n", summary.PagesFetched, summary.PagesFailed)
			fmt.Fprintf(out, "  assets:   %d stored, %d deduplicated, %d skipped\n",
				summary.AssetsDownloaded, summary.AssetsDeduplicated, summary.AssetsSkipped)
			fmt.Fprintf(out, "  snapshot: %s\n", filepath.Join(cfg.Output.Dir, snapshot.SiteLabel(params.RootURL)))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&depth, "depth", 0, "maximum link depth from the root (overrides config)")
	flags.IntVar(&maxPages, "max-pages", 0, "page budget for the run (overrides config)")
	flags.IntVar(&concurrency, "concurrency", 0, "concurrent page fetches (overrides config)")
	flags.Float64Var(&wait, "wait", 0, "settle delay in seconds before reading rendered pages (overrides config)")
	flags.BoolVar(&sameDomain, "same-domain", true, "restrict traversal to the root domain (overrides config)")
	flags.StringToStringVar(&tags, "tag", nil, "run tag as key=value (repeatable)")

	return cmd
}

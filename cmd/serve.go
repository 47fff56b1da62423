package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the crawl job service",
		Long: `Starts the HTTP API, job queue, and worker pool, then blocks until the
process receives SIGINT or SIGTERM. Jobs submitted over the API run through
the same pipeline as one-shot crawls.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
}

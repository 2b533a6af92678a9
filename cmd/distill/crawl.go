package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/distillhq/distill/internal/config"
	"github.com/distillhq/distill/internal/crawl"
)

func crawlCmd() *cobra.Command {
	var (
		maxDepth    int
		maxPages    int
		renderJS    bool
		crossOrigin bool
	)

	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site and print distilled pages as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			opts := cfg.Crawl
			opts.MaxDepth = maxDepth
			opts.MaxPages = maxPages
			opts.RenderJS = renderJS
			opts.AllowCrossOrigin = crossOrigin

			job, err := a.crawls.Start(cmd.Context(), args[0], opts)
			if err != nil {
				return err
			}
			log.Info().Str("job", job.ID).Str("seed", job.Seed).Msg("crawl started")

			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					if err := a.crawls.Cancel(job.ID); err != nil {
						log.Warn().Err(err).Msg("crawl cancel failed")
					}
					return cmd.Context().Err()
				case <-ticker.C:
				}

				snap := job.Snapshot()
				switch snap.Status {
				case crawl.StatusCompleted, crawl.StatusCancelled, crawl.StatusFailed:
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(map[string]any{
						"jobId":    snap.ID,
						"status":   snap.Status,
						"progress": snap.Progress,
						"results":  job.Results(),
					})
				}
			}
		},
	}

	cmd.Flags().IntVar(&maxDepth, "max-depth", 2, "maximum link depth from the seed")
	cmd.Flags().IntVar(&maxPages, "max-pages", 50, "maximum pages to crawl")
	cmd.Flags().BoolVar(&renderJS, "render-js", false, "render pages in the headless browser")
	cmd.Flags().BoolVar(&crossOrigin, "allow-cross-origin", false, "follow links to other origins")
	return cmd
}

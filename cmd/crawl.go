package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webqueryai/webquery/internal/crawler"
)

var crawlDepth int

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Crawl a website and index its content",
	Long: `Crawl a website and index its content.

Follows same-host links from the start URL up to the depth limit, extracts
readable text from each page, and stores embedded chunks for retrieval.
Re-crawling a site replaces its indexed content.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCrawl(cmd.Context(), args[0])
	},
}

func init() {
	crawlCmd.Flags().IntVar(&crawlDepth, "depth", 0, "max link depth (overrides crawler.max_depth config)")
	rootCmd.AddCommand(crawlCmd)
}

func runCrawl(ctx context.Context, startURL string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := crawler.Config{
		MaxDepth:         a.cfg.Crawler.MaxDepth,
		MaxContentLength: a.cfg.Crawler.MaxContentLength,
		Parallelism:      a.cfg.Crawler.Parallelism,
		DelayMs:          a.cfg.Crawler.DelayMs,
		TimeoutMs:        a.cfg.Crawler.TimeoutMs,
	}
	if crawlDepth > 0 {
		cfg.MaxDepth = crawlDepth
	}

	c, err := crawler.New(a.indexer, cfg, a.logger)
	if err != nil {
		return fmt.Errorf("creating crawler: %w", err)
	}

	stats, err := c.Crawl(ctx, startURL)
	if err != nil {
		return err
	}

	fmt.Printf("Crawl finished: %d pages visited, %d indexed, %d chunks stored, %d skipped, %d failed\n",
		stats.PagesVisited, stats.PagesIndexed, stats.ChunksStored, stats.Skipped, stats.Failed)
	return nil
}

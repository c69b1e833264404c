// Package crawler fetches site content for indexing. It walks same-host
// links breadth-first up to a depth limit, extracts readable article text
// from each page, and hands documents to a sink for chunking and embedding.
package crawler

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	"github.com/gocolly/colly/v2"
	"github.com/google/uuid"

	"github.com/webqueryai/webquery/internal/knowledge"
	"github.com/webqueryai/webquery/internal/log"
	"github.com/webqueryai/webquery/internal/security"
)

// Sink receives each extracted document. Implemented by rag.Indexer.
type Sink interface {
	Index(ctx context.Context, doc knowledge.Document) (int, error)
}

// Config holds crawl limits and politeness settings.
type Config struct {
	MaxDepth         int
	MaxContentLength int
	Parallelism      int
	DelayMs          int
	TimeoutMs        int

	// AllowPrivateHosts disables SSRF protection so crawls can target
	// loopback and private-network servers. Tests only.
	AllowPrivateHosts bool
}

// Stats summarizes one crawl.
type Stats struct {
	PagesVisited int
	PagesIndexed int
	ChunksStored int
	Skipped      int
	Failed       int
}

// skipPathFragments marks URL paths that never contain indexable content.
// Matched as substrings of the lowercased path.
var skipPathFragments = []string{
	"/api/", "/login", "/logout", "/signin", "/signup", "/register",
	"/admin", "/cart", "/checkout", "/account",
	"/static/", "/assets/", "/cdn-cgi/",
}

// skipExtensions marks binary and asset URLs.
var skipExtensions = []string{
	".pdf", ".zip", ".tar", ".gz", ".png", ".jpg", ".jpeg", ".gif",
	".svg", ".ico", ".css", ".js", ".woff", ".woff2", ".mp4", ".mp3",
	".xml", ".rss",
}

// Crawler walks a site and feeds extracted pages to a Sink.
type Crawler struct {
	sink      Sink
	cfg       Config
	validator *security.URL
	logger    log.Logger
}

// New creates a Crawler.
func New(sink Sink, cfg Config, logger log.Logger) (*Crawler, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.MaxDepth <= 0 {
		return nil, fmt.Errorf("max depth must be positive, got %d", cfg.MaxDepth)
	}
	if cfg.MaxContentLength <= 0 {
		return nil, fmt.Errorf("max content length must be positive, got %d", cfg.MaxContentLength)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Crawler{sink: sink, cfg: cfg, logger: logger}
	if !cfg.AllowPrivateHosts {
		c.validator = security.NewURL()
	}
	return c, nil
}

// Crawl walks startURL's site and indexes every readable page.
//
// Only links on the start URL's host are followed, to MaxDepth levels.
// Pages whose path matches a skip fragment or asset extension are not
// fetched. Extraction or indexing failures on individual pages are counted
// and logged but do not abort the crawl; ctx cancellation does.
func (c *Crawler) Crawl(ctx context.Context, startURL string) (*Stats, error) {
	start, err := url.Parse(startURL)
	if err != nil {
		return nil, fmt.Errorf("parsing start URL: %w", err)
	}
	if start.Scheme != "http" && start.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q (need http or https)", start.Scheme)
	}
	if start.Host == "" {
		return nil, fmt.Errorf("start URL has no host: %q", startURL)
	}
	if c.validator != nil {
		if err := c.validator.Validate(start.String()); err != nil {
			return nil, fmt.Errorf("unsafe start URL: %w", err)
		}
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(start.Hostname()),
		colly.MaxDepth(c.cfg.MaxDepth),
		colly.Async(true),
		colly.UserAgent("webquery-crawler/1.0"),
	)
	collector.SetRequestTimeout(time.Duration(c.cfg.TimeoutMs) * time.Millisecond)
	if c.validator != nil {
		// Validates resolved IPs at dial time, catching DNS rebinding
		// and redirects into private ranges.
		collector.WithTransport(c.validator.SafeTransport())
	}

	err = collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Parallelism,
		Delay:       time.Duration(c.cfg.DelayMs) * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("setting crawl limits: %w", err)
	}

	var (
		mu    sync.Mutex
		stats Stats
	)

	collector.OnRequest(func(r *colly.Request) {
		// colly carries no context; honor cancellation at request boundaries.
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if c.shouldSkip(r.URL) {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		// Visit errors (already visited, depth, domain filter) are expected.
		_ = e.Request.Visit(link)
	})

	collector.OnResponse(func(r *colly.Response) {
		if ctx.Err() != nil {
			return
		}
		mu.Lock()
		stats.PagesVisited++
		mu.Unlock()

		doc, err := c.extract(r)
		if err != nil {
			c.logger.Warn("page extraction failed", "url", r.Request.URL, "error", err)
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			return
		}
		if doc == nil {
			mu.Lock()
			stats.Skipped++
			mu.Unlock()
			return
		}

		chunks, err := c.sink.Index(ctx, *doc)
		if err != nil {
			c.logger.Warn("page indexing failed", "url", doc.URL, "error", err)
			mu.Lock()
			stats.Failed++
			mu.Unlock()
			return
		}

		mu.Lock()
		stats.PagesIndexed++
		stats.ChunksStored += chunks
		mu.Unlock()
		c.logger.Info("page indexed", "url", doc.URL, "chunks", chunks)
	})

	collector.OnError(func(r *colly.Response, err error) {
		c.logger.Warn("request failed", "url", r.Request.URL, "error", err)
		mu.Lock()
		stats.Failed++
		mu.Unlock()
	})

	if err := collector.Visit(start.String()); err != nil {
		return nil, fmt.Errorf("starting crawl: %w", err)
	}
	collector.Wait()

	if ctx.Err() != nil {
		return &stats, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}

	c.logger.Info("crawl complete",
		"start", startURL,
		"visited", stats.PagesVisited,
		"indexed", stats.PagesIndexed,
		"chunks", stats.ChunksStored,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return &stats, nil
}

// extract pulls readable article text from a fetched page.
// Returns (nil, nil) for pages with no usable text content.
func (c *Crawler) extract(r *colly.Response) (*knowledge.Document, error) {
	contentType := strings.ToLower(r.Headers.Get("Content-Type"))
	if contentType != "" && !strings.Contains(contentType, "text/html") {
		return nil, nil
	}

	article, err := readability.FromReader(bytes.NewReader(r.Body), r.Request.URL)
	if err != nil {
		return nil, fmt.Errorf("extracting article: %w", err)
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		return nil, nil
	}
	if len(text) > c.cfg.MaxContentLength {
		text = truncateRunes(text, c.cfg.MaxContentLength)
	}

	return &knowledge.Document{
		ID:        uuid.New(),
		URL:       r.Request.URL.String(),
		Title:     strings.TrimSpace(article.Title),
		RawText:   text,
		ScrapedAt: time.Now().UTC(),
	}, nil
}

// shouldSkip reports whether a URL points at non-content.
func (c *Crawler) shouldSkip(u *url.URL) bool {
	path := strings.ToLower(u.Path)
	for _, frag := range skipPathFragments {
		if strings.Contains(path, frag) {
			return true
		}
	}
	for _, ext := range skipExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

// truncateRunes cuts s to at most n bytes without tearing a rune.
func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 {
		r, size := utf8.DecodeLastRuneInString(cut)
		if r != utf8.RuneError || size != 1 {
			break
		}
		cut = cut[:len(cut)-1]
	}
	return cut
}

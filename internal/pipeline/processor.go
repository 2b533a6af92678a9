package pipeline

import (
	"context"
	"net/url"

	"github.com/rs/zerolog/log"

	"github.com/distillhq/distill/internal/browser"
	"github.com/distillhq/distill/internal/crawl"
	"github.com/distillhq/distill/internal/distill"
	"github.com/distillhq/distill/internal/fetch"
	"github.com/distillhq/distill/internal/ratelimit"
)

// CrawlProcessor adapts the fetch and distill stages for the crawler,
// which needs the raw HTML back for link extraction. Robots checks and
// frontier policy stay with the crawl manager.
type CrawlProcessor struct {
	Fetcher   *fetch.Fetcher
	Browser   *browser.Pool
	Distiller *distill.Distiller
	Origins   *ratelimit.OriginLimiter
}

// Process fetches and distills one page.
func (p *CrawlProcessor) Process(ctx context.Context, target string, render bool) (*crawl.Page, error) {
	if p.Origins != nil {
		if u, err := url.Parse(target); err == nil {
			if err := p.Origins.WaitForClearance(ctx, u.Scheme+"://"+u.Host); err != nil {
				return nil, err
			}
		}
	}

	doc, err := p.fetch(ctx, target, render)
	if err != nil {
		return nil, err
	}

	res, err := p.Distiller.Distill(ctx, doc.HTML, target)
	if err != nil {
		return nil, err
	}
	return &crawl.Page{
		FinalURL:   doc.FinalURL,
		HTML:       doc.HTML,
		Title:      res.Title,
		Method:     string(res.Method),
		Nodes:      res.Nodes,
		Confidence: res.Confidence.Overall,
	}, nil
}

func (p *CrawlProcessor) fetch(ctx context.Context, target string, render bool) (*fetch.Document, error) {
	if render && p.Browser != nil && p.Browser.Available() {
		doc, err := p.Browser.Render(ctx, target, browser.PageOptions{Stealth: true})
		if err == nil {
			return doc, nil
		}
		log.Warn().Err(err).Str("url", target).Msg("crawl render failed, falling back to http")
	}
	return p.Fetcher.Fetch(ctx, target, nil, nil)
}

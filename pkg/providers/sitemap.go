package providers

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

// maxSitemapDepth bounds sitemap index recursion.
const maxSitemapDepth = 3

type urlSet struct {
	URLs []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc     string     `xml:"loc"`
	LastMod string     `xml:"lastmod"`
	News    newsDetail `xml:"news"`
}

type newsDetail struct {
	PublicationDate string `xml:"publication_date"`
	Keywords        string `xml:"keywords"`
	Title           string `xml:"title"`
}

type sitemapIndex struct {
	Sitemaps []sitemapIndexEntry `xml:"sitemap"`
}

type sitemapIndexEntry struct {
	Loc string `xml:"loc"`
}

// sitemapDiscoverer reads plain and Google News sitemaps, following sitemap
// indexes.
type sitemapDiscoverer struct {
	client HTTPClient
	log    logger.Logger
}

// NewSitemapDiscoverer builds a Discoverer for XML sitemaps.
func NewSitemapDiscoverer(client HTTPClient, log logger.Logger) Discoverer {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &sitemapDiscoverer{client: client, log: ensureLogger(log)}
}

func (d *sitemapDiscoverer) Strategy() string { return StrategySitemap }

// Discover resolves every configured sitemap into candidates.
func (d *sitemapDiscoverer) Discover(ctx context.Context, req Request) ([]domain.Candidate, error) {
	cfg := req.Provider
	if len(cfg.Discovery.Sitemaps) == 0 {
		return nil, fmt.Errorf("%w: provider %q has no sitemaps", ErrNoDiscovery, cfg.ID)
	}
	client := clientFor(req, d.client)
	headers := Headers(cfg)
	visited := make(map[string]struct{})

	var (
		entries   []sitemapURL
		errs      []error
		reachable bool
	)
	for _, sm := range cfg.Discovery.Sitemaps {
		urls, err := d.fetchURLs(ctx, client, cfg, sm, headers, visited, 0)
		if err != nil {
			errs = append(errs, err)
			d.log.WarnObj("sitemap fetch failed", "sitemap_failed", map[string]any{
				"provider_id": cfg.ID,
				"sitemap":     sm,
				"kind":        httpclient.Kind(err),
				"error":       err.Error(),
			})
			continue
		}
		reachable = true
		entries = append(entries, urls...)
	}
	if !reachable {
		return nil, fmt.Errorf("%w: %w", ErrNoDiscovery, errors.Join(errs...))
	}

	return candidatesFromSitemap(entries), nil
}

// fetchURLs resolves the given sitemap URL into entries, following sitemap
// indexes if necessary.
func (d *sitemapDiscoverer) fetchURLs(ctx context.Context, client HTTPClient, cfg Provider, rawURL string, headers map[string]string, visited map[string]struct{}, depth int) ([]sitemapURL, error) {
	if _, seen := visited[rawURL]; seen {
		return nil, nil
	}
	visited[rawURL] = struct{}{}

	resp, err := fetchBody(ctx, client, rawURL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetch %s sitemap: %w", cfg.ID, err)
	}
	raw := resp.Body()

	var set urlSet
	if err := xml.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode sitemap %s: %w", rawURL, err)
	}
	if len(set.URLs) > 0 {
		return set.URLs, nil
	}

	var index sitemapIndex
	if err := xml.Unmarshal(raw, &index); err != nil {
		return nil, fmt.Errorf("decode sitemap index %s: %w", rawURL, err)
	}
	if len(index.Sitemaps) == 0 || depth >= maxSitemapDepth {
		return nil, nil
	}

	var all []sitemapURL
	for _, entry := range index.Sitemaps {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		if err := sleepCtx(ctx, cfg.RequestDelay()); err != nil {
			return all, err
		}

		nested, err := d.fetchURLs(ctx, client, cfg, resolveURL(loc, rawURL), headers, visited, depth+1)
		if err != nil {
			d.log.WarnObj("nested sitemap failed", "sitemap_failed", map[string]any{
				"provider_id": cfg.ID,
				"sitemap":     loc,
				"kind":        httpclient.Kind(err),
				"error":       err.Error(),
			})
			continue
		}
		all = append(all, nested...)
	}
	return all, nil
}

func candidatesFromSitemap(entries []sitemapURL) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		loc := strings.TrimSpace(entry.Loc)
		if loc == "" {
			continue
		}
		if _, dup := seen[loc]; dup {
			continue
		}
		seen[loc] = struct{}{}

		published := parseSitemapDate(entry.News.PublicationDate)
		if published == nil {
			published = parseSitemapDate(entry.LastMod)
		}
		out = append(out, domain.Candidate{
			URL:         loc,
			Title:       strings.TrimSpace(entry.News.Title),
			Tags:        parseKeywords(entry.News.Keywords),
			PublishedAt: published,
			Via:         StrategySitemap,
		})
	}
	return out
}

// parseKeywords splits a comma-separated string of keywords.
func parseKeywords(raw string) []string {
	return trimList(strings.Split(raw, ","))
}

// parseSitemapDate accepts the W3C datetime forms allowed in sitemaps.
func parseSitemapDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04Z07:00", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

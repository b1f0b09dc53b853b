package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

// Expand substitutes {yyyy}, {mm} and {dd} for every day in [start, end],
// inclusive, using start's location for day boundaries. Duplicate results,
// such as a monthly template over several days, are emitted once.
func Expand(template string, start, end time.Time) []string {
	loc := start.Location()
	y, m, d := start.Date()
	cur := time.Date(y, m, d, 0, 0, 0, 0, loc)
	ey, em, ed := end.In(loc).Date()
	last := time.Date(ey, em, ed, 0, 0, 0, 0, loc)
	if cur.After(last) {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for ; !cur.After(last); cur = cur.AddDate(0, 0, 1) {
		u := strings.NewReplacer(
			"{yyyy}", fmt.Sprintf("%04d", cur.Year()),
			"{mm}", fmt.Sprintf("%02d", int(cur.Month())),
			"{dd}", fmt.Sprintf("%02d", cur.Day()),
		).Replace(template)
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// archiveDiscoverer builds candidate URLs from a date template. Article
// templates yield candidates directly; listing templates are fetched and
// their article links collected.
type archiveDiscoverer struct {
	client HTTPClient
	log    logger.Logger
}

// NewArchiveDiscoverer builds a Discoverer for date-addressed archives.
func NewArchiveDiscoverer(client HTTPClient, log logger.Logger) Discoverer {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &archiveDiscoverer{client: client, log: ensureLogger(log)}
}

func (d *archiveDiscoverer) Strategy() string { return StrategyArchive }

// Discover expands the archive template over the request window.
func (d *archiveDiscoverer) Discover(ctx context.Context, req Request) ([]domain.Candidate, error) {
	cfg := req.Provider
	if !cfg.HasArchive() {
		return nil, fmt.Errorf("%w: provider %q has no archive template", ErrNoDiscovery, cfg.ID)
	}
	archive := cfg.Discovery.Archive
	urls := Expand(archive.Template, req.Window.Start, req.Window.End)

	if archive.Kind != ArchiveKindListing {
		out := make([]domain.Candidate, 0, len(urls))
		for _, u := range urls {
			out = append(out, domain.Candidate{URL: u, Via: StrategyArchive})
		}
		return out, nil
	}

	client := clientFor(req, d.client)
	var (
		out       []domain.Candidate
		errs      []error
		reachable bool
	)
	seen := make(map[string]struct{})
	for i, listingURL := range urls {
		if i > 0 {
			if err := sleepCtx(ctx, cfg.RequestDelay()); err != nil {
				return out, err
			}
		}

		links, err := d.listingLinks(ctx, client, cfg, listingURL)
		if err != nil {
			errs = append(errs, err)
			d.log.WarnObj("archive listing failed", "listing_failed", map[string]any{
				"provider_id": cfg.ID,
				"listing":     listingURL,
				"kind":        httpclient.Kind(err),
				"error":       err.Error(),
			})
			continue
		}
		reachable = true
		for _, link := range links {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			out = append(out, domain.Candidate{URL: link, Via: StrategyArchive})
		}
	}

	if !reachable && len(urls) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrNoDiscovery, errors.Join(errs...))
	}
	return out, nil
}

func (d *archiveDiscoverer) listingLinks(ctx context.Context, client HTTPClient, cfg Provider, listingURL string) ([]string, error) {
	resp, err := fetchBody(ctx, client, listingURL, Headers(cfg))
	if err != nil {
		return nil, fmt.Errorf("fetch %s listing: %w", cfg.ID, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s listing %s: %w", cfg.ID, listingURL, err)
	}

	hrefs, _, err := First(doc, cfg.Discovery.Archive.Links)
	if len(hrefs) == 0 && err != nil {
		return nil, fmt.Errorf("select %s listing links: %w", cfg.ID, err)
	}

	out := make([]string, 0, len(hrefs))
	for _, h := range hrefs {
		if u := resolveURL(h, listingURL); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

// rssDiscoverer reads RSS/Atom feeds. Entry fields are kept as hints for the
// extractor.
type rssDiscoverer struct {
	client  HTTPClient
	markers MarkerStore
	log     logger.Logger
}

// NewRSSDiscoverer builds a Discoverer for RSS and Atom feeds. markers may be
// nil, in which case feeds are always fetched unconditionally.
func NewRSSDiscoverer(client HTTPClient, markers MarkerStore, log logger.Logger) Discoverer {
	if client == nil {
		client = DefaultHTTPClient()
	}
	return &rssDiscoverer{client: client, markers: markers, log: ensureLogger(log)}
}

func (d *rssDiscoverer) Strategy() string { return StrategyRSS }

// Discover fetches every feed of the provider. A feed answering 304 yields no
// candidates but counts as reachable; ErrNoDiscovery is returned only when
// every feed failed.
func (d *rssDiscoverer) Discover(ctx context.Context, req Request) ([]domain.Candidate, error) {
	cfg := req.Provider
	if len(cfg.Discovery.Feeds) == 0 {
		return nil, fmt.Errorf("%w: provider %q has no feeds", ErrNoDiscovery, cfg.ID)
	}
	client := clientFor(req, d.client)

	var (
		out       []domain.Candidate
		errs      []error
		reachable bool
	)
	for _, feedURL := range cfg.Discovery.Feeds {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		items, err := d.fetchFeed(ctx, client, req, feedURL)
		switch {
		case errors.Is(err, httpclient.ErrNotModified):
			reachable = true
			d.log.InfoObj("feed not modified", "feed_not_modified", map[string]any{
				"provider_id": cfg.ID,
				"feed":        feedURL,
			})
		case err != nil:
			errs = append(errs, err)
			d.log.WarnObj("feed fetch failed", "feed_failed", map[string]any{
				"provider_id": cfg.ID,
				"feed":        feedURL,
				"kind":        httpclient.Kind(err),
				"error":       err.Error(),
			})
		default:
			reachable = true
			out = append(out, items...)
		}
	}

	if !reachable {
		return nil, fmt.Errorf("%w: %w", ErrNoDiscovery, errors.Join(errs...))
	}
	return out, nil
}

func (d *rssDiscoverer) fetchFeed(ctx context.Context, client HTTPClient, req Request, feedURL string) ([]domain.Candidate, error) {
	cfg := req.Provider
	headers := Headers(cfg)
	if headers == nil {
		headers = make(map[string]string, 2)
	}
	if d.markers != nil {
		if m, ok := d.markers.Marker(feedURL); ok {
			if m.ETag != "" {
				headers["If-None-Match"] = m.ETag
			}
			if m.LastModified != "" {
				headers["If-Modified-Since"] = m.LastModified
			}
		}
	}

	resp, err := fetchBody(ctx, client, feedURL, headers)
	if err != nil {
		return nil, fmt.Errorf("fetch %s feed: %w", cfg.ID, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse %s feed %s: %w", cfg.ID, feedURL, err)
	}

	m := Marker{
		ETag:         strings.TrimSpace(resp.Header().Get("ETag")),
		LastModified: strings.TrimSpace(resp.Header().Get("Last-Modified")),
	}
	if !m.IsZero() {
		d.recordMarker(req, feedURL, m)
	}

	return candidatesFromFeed(feed, feedURL, cfg.ID, d.log), nil
}

// recordMarker hands m to the request's OnMarker, or saves it directly when
// the caller did not ask to defer it.
func (d *rssDiscoverer) recordMarker(req Request, feedURL string, m Marker) {
	if req.OnMarker != nil {
		req.OnMarker(feedURL, m)
		return
	}
	if d.markers == nil {
		return
	}
	if err := d.markers.SaveMarker(feedURL, m); err != nil {
		d.log.WarnObj("feed marker not saved", "marker_save_failed", map[string]any{
			"provider_id": req.Provider.ID,
			"feed":        feedURL,
			"error":       err.Error(),
		})
	}
}

// candidatesFromFeed converts feed items. Items without a link are skipped.
func candidatesFromFeed(feed *gofeed.Feed, feedURL, providerID string, log logger.Logger) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(feed.Items))
	for i, item := range feed.Items {
		if item == nil {
			continue
		}
		link := resolveURL(item.Link, feedURL)
		if link == "" {
			log.DebugObj("feed entry without link skipped", "feed_entry_skipped", map[string]any{
				"provider_id": providerID,
				"feed":        feedURL,
				"index":       i,
				"title":       strings.TrimSpace(item.Title),
			})
			continue
		}

		out = append(out, domain.Candidate{
			URL:         link,
			GUID:        strings.TrimSpace(item.GUID),
			Title:       strings.TrimSpace(item.Title),
			Summary:     strings.TrimSpace(item.Description),
			Content:     strings.TrimSpace(item.Content),
			Author:      feedAuthor(item),
			Tags:        trimList(item.Categories),
			PublishedAt: feedDate(item),
			Via:         StrategyRSS,
		})
	}
	return out
}

func feedAuthor(item *gofeed.Item) string {
	for _, a := range item.Authors {
		if a != nil && strings.TrimSpace(a.Name) != "" {
			return strings.TrimSpace(a.Name)
		}
	}
	if item.Author != nil {
		return strings.TrimSpace(item.Author.Name)
	}
	return ""
}

func feedDate(item *gofeed.Item) *time.Time {
	switch {
	case item.PublishedParsed != nil:
		t := *item.PublishedParsed
		return &t
	case item.UpdatedParsed != nil:
		t := *item.UpdatedParsed
		return &t
	}
	return nil
}

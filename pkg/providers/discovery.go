package providers

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

// ErrNoDiscovery means no discovery source of a provider could be reached.
var ErrNoDiscovery = errors.New("no discovery source reachable")

// HTTPClient is the transport used by discoverers.
type HTTPClient = httpclient.Client

// Window is an inclusive range of calendar days.
type Window struct {
	Start time.Time
	End   time.Time
}

// ArchiveWindow returns the days archive discovery should cover: from since
// (or the provider lookback) through now, in the provider's timezone.
func (p Provider) ArchiveWindow(since *time.Time, now time.Time) Window {
	loc := p.Location()
	end := now.In(loc)
	if since != nil && !since.IsZero() {
		return Window{Start: since.In(loc), End: end}
	}
	return Window{Start: end.AddDate(0, 0, -(p.LookbackDays() - 1)), End: end}
}

// Request is one discovery run for a provider.
type Request struct {
	Provider Provider
	Window   Window
	// Client overrides the discoverer's default client, e.g. to apply the
	// provider's retry settings.
	Client HTTPClient
	// OnMarker receives the freshness markers seen during discovery. When set
	// the discoverer does not save them itself, so the caller can persist a
	// marker only once the candidates behind it were processed.
	OnMarker func(key string, m Marker)
}

// Discoverer enumerates candidate article URLs for a provider.
type Discoverer interface {
	Strategy() string
	Discover(ctx context.Context, req Request) ([]domain.Candidate, error)
}

// DiscovererRegistry resolves discoverers by strategy.
type DiscovererRegistry interface {
	DiscovererFor(strategy string) (Discoverer, error)
}

// Marker is a feed freshness marker used for conditional requests.
type Marker struct {
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
}

// IsZero reports whether the marker carries no validator.
func (m Marker) IsZero() bool { return m.ETag == "" && m.LastModified == "" }

// MarkerStore persists freshness markers keyed by feed URL.
type MarkerStore interface {
	Marker(key string) (Marker, bool)
	SaveMarker(key string, m Marker) error
}

type discovererRegistry struct {
	discoverers map[string]Discoverer
	mu          sync.RWMutex
}

// NewDiscovererRegistry builds a registry for the provided discoverers.
func NewDiscovererRegistry(discoverers ...Discoverer) DiscovererRegistry {
	reg := &discovererRegistry{
		discoverers: make(map[string]Discoverer, len(discoverers)),
	}

	for _, d := range discoverers {
		if d == nil {
			continue
		}
		reg.discoverers[strings.ToLower(strings.TrimSpace(d.Strategy()))] = d
	}

	return reg
}

// DiscovererFor selects the discoverer registered for a strategy.
func (r *discovererRegistry) DiscovererFor(strategy string) (Discoverer, error) {
	key := strings.ToLower(strings.TrimSpace(strategy))
	if key == "" {
		return nil, errors.New("discovery strategy is empty")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.discoverers[key]; ok {
		return d, nil
	}

	return nil, fmt.Errorf("no discoverer registered for strategy %q", strategy)
}

// DefaultHTTPClient returns the resty client used when none is supplied.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(15 * time.Second) }

// DefaultDiscovererRegistry wires up the rss, archive and sitemap strategies.
func DefaultDiscovererRegistry(client HTTPClient, markers MarkerStore, log logger.Logger) DiscovererRegistry {
	if client == nil {
		client = DefaultHTTPClient()
	}

	return NewDiscovererRegistry(
		NewRSSDiscoverer(client, markers, log),
		NewArchiveDiscoverer(client, log),
		NewSitemapDiscoverer(client, log),
	)
}

func clientFor(req Request, def HTTPClient) HTTPClient {
	if req.Client != nil {
		return req.Client
	}
	return def
}

func ensureLogger(log logger.Logger) logger.Logger {
	if log == nil {
		return logger.NopLogger{}
	}
	return log
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(raw, base string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.IsAbs() {
		return parsed.String()
	}

	baseURL, err := url.Parse(base)
	if err != nil {
		return raw
	}

	return baseURL.ResolveReference(parsed).String()
}

// fetchBody performs a GET and classifies the status.
func fetchBody(ctx context.Context, client HTTPClient, rawURL string, headers map[string]string) (httpclient.Response, error) {
	resp, err := client.Get(ctx, rawURL, headers)
	if err != nil {
		return nil, err
	}
	if err := httpclient.CheckStatus(rawURL, resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

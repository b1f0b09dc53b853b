package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"

	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
)

// ErrDisallowed is returned by a gated client for URLs excluded by robots.txt.
var ErrDisallowed = errors.New("disallowed by robots.txt")

const robotsRetryAfter = time.Minute

// RobotsGate answers whether a URL may be fetched according to the host's
// robots.txt. Rules are fetched once per scheme and host. While robots.txt
// cannot be fetched the host is allowed and the fetch is retried after
// retryAfter; a cancelled fetch is retried on the next check.
type RobotsGate struct {
	client     httpclient.Client
	userAgent  string
	log        logger.Logger
	retryAfter time.Duration
	now        func() time.Time

	mu    sync.Mutex
	hosts map[string]*robotsEntry
}

type robotsEntry struct {
	mu      sync.Mutex
	loaded  bool
	retryAt time.Time
	group   *robotstxt.Group
}

// NewRobotsGate builds a gate that evaluates rules for userAgent.
func NewRobotsGate(client httpclient.Client, userAgent string, log logger.Logger) *RobotsGate {
	if client == nil {
		client = httpclient.NewRestyClient(0)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &RobotsGate{
		client:     client,
		userAgent:  userAgent,
		log:        log,
		retryAfter: robotsRetryAfter,
		now:        time.Now,
		hosts:      make(map[string]*robotsEntry),
	}
}

// Allowed reports whether rawURL may be fetched.
func (g *RobotsGate) Allowed(ctx context.Context, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return true
	}
	base := u.Scheme + "://" + u.Host

	g.mu.Lock()
	entry, ok := g.hosts[base]
	if !ok {
		entry = &robotsEntry{}
		g.hosts[base] = entry
	}
	g.mu.Unlock()

	entry.mu.Lock()
	if !entry.loaded && !g.now().Before(entry.retryAt) {
		group, final := g.load(ctx, base)
		switch {
		case final:
			entry.loaded, entry.group = true, group
		case ctx.Err() == nil:
			entry.retryAt = g.now().Add(g.retryAfter)
		}
	}
	group := entry.group
	entry.mu.Unlock()

	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

// Client wraps next so every GET is checked against robots.txt first.
func (g *RobotsGate) Client(next httpclient.Client) httpclient.Client {
	return &robotsClient{next: next, gate: g}
}

type robotsClient struct {
	next httpclient.Client
	gate *RobotsGate
}

func (c *robotsClient) Get(ctx context.Context, rawURL string, headers map[string]string) (httpclient.Response, error) {
	if !c.gate.Allowed(ctx, rawURL) {
		return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
	}
	return c.next.Get(ctx, rawURL, headers)
}

// load fetches and parses robots.txt. final is false when the outcome should
// not be kept, which is the case for transport errors and server errors.
func (g *RobotsGate) load(ctx context.Context, base string) (group *robotstxt.Group, final bool) {
	robotsURL := base + "/robots.txt"
	resp, err := g.client.Get(ctx, robotsURL, nil)
	if err != nil {
		g.log.DebugObj("robots.txt unavailable, allowing host", "robots_unavailable", map[string]any{
			"url":   robotsURL,
			"error": err.Error(),
		})
		return nil, false
	}
	if resp.StatusCode() >= 500 {
		g.log.DebugObj("robots.txt server error, allowing host", "robots_unavailable", map[string]any{
			"url":    robotsURL,
			"status": resp.StatusCode(),
		})
		return nil, false
	}

	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode(), resp.Body())
	if err != nil {
		g.log.DebugObj("robots.txt unparseable, allowing host", "robots_unavailable", map[string]any{
			"url":   robotsURL,
			"error": err.Error(),
		})
		return nil, true
	}
	return data.FindGroup(g.userAgent), true
}

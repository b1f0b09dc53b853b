// Package crawler runs crawl sessions: for every provider it discovers
// candidate URLs, fetches and extracts pages, runs records through the
// pipeline and hands survivors to the sink.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/extractor"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/internal/pipeline"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
)

const (
	defaultMaxInFlight         = 16
	defaultProviderParallelism = 4
	budgetDropReason           = "budget: item budget exhausted"
)

// Sink receives records that survived the pipeline.
type Sink interface {
	Emit(ctx context.Context, providerID string, rec domain.ArticleRecord) error
}

// Options are the session parameters.
type Options struct {
	// Since is the inclusive lower bound for publication dates.
	Since *time.Time
	// MaxItems stops the session after this many emitted records; 0 is unlimited.
	MaxItems int
	// MaxDuration stops the session after this long; 0 is unlimited.
	MaxDuration time.Duration
	// MaxInFlight caps concurrent page fetches across all providers.
	MaxInFlight int
	// ProviderParallelism caps how many providers crawl at once.
	ProviderParallelism int
	ObeyRobots          bool
	UserAgent           string
	Timeout             time.Duration
	Clock               func() time.Time
}

// Deps are the collaborators of a Crawler. Discoverers and Sink are required.
type Deps struct {
	Discoverers providers.DiscovererRegistry
	Sink        Sink
	// Seen persists identity keys across sessions; nil keeps dedup in memory.
	Seen pipeline.SeenStore
	// Markers receives feed freshness markers once a provider finished
	// cleanly; nil disables conditional refetch.
	Markers providers.MarkerStore
	// ClientFor builds the HTTP client of a provider. The default applies the
	// provider retry count and the session user agent.
	ClientFor func(providers.Provider) httpclient.Client
	Robots    *RobotsGate
	Log       logger.Logger
}

// Crawler runs crawl sessions over a set of providers.
type Crawler struct {
	discoverers providers.DiscovererRegistry
	sink        Sink
	seen        pipeline.SeenStore
	markers     providers.MarkerStore
	clientFor   func(providers.Provider) httpclient.Client
	robots      *RobotsGate
	log         logger.Logger
	opts        Options
}

// New validates dependencies and applies option defaults.
func New(deps Deps, opts Options) (*Crawler, error) {
	if deps.Discoverers == nil {
		return nil, errors.New("crawler: discoverer registry is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("crawler: sink is required")
	}
	if deps.Log == nil {
		deps.Log = logger.NopLogger{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = defaultMaxInFlight
	}
	if opts.ProviderParallelism <= 0 {
		opts.ProviderParallelism = defaultProviderParallelism
	}

	c := &Crawler{
		discoverers: deps.Discoverers,
		sink:        deps.Sink,
		seen:        deps.Seen,
		markers:     deps.Markers,
		clientFor:   deps.ClientFor,
		robots:      deps.Robots,
		log:         deps.Log,
		opts:        opts,
	}
	if c.clientFor == nil {
		c.clientFor = func(p providers.Provider) httpclient.Client {
			return httpclient.NewRestyClient(opts.Timeout,
				httpclient.WithRetryCount(p.Retries()),
				httpclient.WithUserAgent(opts.UserAgent),
			)
		}
	}
	if opts.ObeyRobots && c.robots == nil {
		c.robots = NewRobotsGate(
			httpclient.NewRestyClient(opts.Timeout, httpclient.WithUserAgent(opts.UserAgent)),
			opts.UserAgent, deps.Log,
		)
	}
	if !opts.ObeyRobots {
		c.robots = nil
	}
	return c, nil
}

// session is the state shared by all providers of one run.
type session struct {
	id       string
	pipe     *pipeline.Pipeline
	dedup    *pipeline.Deduper
	inflight *semaphore.Weighted
	maxItems int64
	emitted  atomic.Int64
	stopOnce sync.Once
	cancel   context.CancelFunc
}

// reserve claims an emission slot. last is set for the slot that exhausts
// the budget.
func (s *session) reserve() (ok, last bool) {
	if s.maxItems <= 0 {
		return true, false
	}
	n := s.emitted.Add(1)
	return n <= s.maxItems, n == s.maxItems
}

func (s *session) stop() {
	s.stopOnce.Do(s.cancel)
}

// Run crawls every provider once. Provider failures are reported in the
// summary and never abort the other providers; only the item and time
// budgets or ctx end the session early.
func (c *Crawler) Run(ctx context.Context, provs []providers.Provider) Summary {
	start := c.opts.Clock()
	sum := Summary{SessionID: uuid.NewString(), StartedAt: start}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.opts.MaxDuration > 0 {
		var cancelTimeout context.CancelFunc
		runCtx, cancelTimeout = context.WithTimeout(runCtx, c.opts.MaxDuration)
		defer cancelTimeout()
	}

	dedup := pipeline.NewDeduper(c.seen)
	sess := &session{
		id: sum.SessionID,
		pipe: pipeline.New(pipeline.Options{
			Since: c.opts.Since,
			Clock: c.opts.Clock,
			Dedup: dedup,
		}),
		dedup:    dedup,
		inflight: semaphore.NewWeighted(int64(c.opts.MaxInFlight)),
		maxItems: int64(c.opts.MaxItems),
		cancel:   cancel,
	}

	c.log.InfoObj("crawl session started", "session_start", map[string]any{
		"session_id": sess.id,
		"providers":  len(provs),
		"max_items":  c.opts.MaxItems,
	})

	trackers := make([]*tracker, len(provs))
	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(c.opts.ProviderParallelism)
	for i, p := range provs {
		trackers[i] = newTracker(p.ID)
		g.Go(func() error {
			c.runProvider(gctx, sess, p, trackers[i])
			return nil
		})
	}
	_ = g.Wait()

	sum.Cancelled = runCtx.Err() != nil
	sum.Duration = c.opts.Clock().Sub(start)
	for _, t := range trackers {
		sum.Providers = append(sum.Providers, t.snapshot())
	}

	emitted, dropped := sum.Totals()
	c.log.InfoObj("crawl session finished", "session_summary", map[string]any{
		"session_id":  sess.id,
		"emitted":     emitted,
		"dropped":     dropped,
		"cancelled":   sum.Cancelled,
		"duration_ms": sum.Duration.Milliseconds(),
	})
	return sum
}

func (c *Crawler) runProvider(ctx context.Context, sess *session, p providers.Provider, t *tracker) {
	c.moveTo(sess, p, t, StateDiscovering)

	ex, err := extractor.New(p, c.log)
	if err != nil {
		c.fail(sess, p, t, fmt.Errorf("build extractor: %w", err))
		return
	}

	client := c.clientFor(p)
	pending := make(map[string]providers.Marker)
	discoverClient := client
	if c.robots != nil {
		discoverClient = c.robots.Client(client)
	}
	candidates, strategy, err := c.discover(ctx, p, discoverClient, func(key string, m providers.Marker) {
		pending[key] = m
	})
	t.update(func(s *ProviderSummary) { s.Strategy = strategy })
	if err != nil {
		if ctx.Err() == nil {
			c.fail(sess, p, t, err)
			return
		}
		candidates = nil
	}
	candidates = c.filterCandidates(p, candidates, t)

	c.moveTo(sess, p, t, StateFetching)

	workers := p.Workers()
	pages := make(chan fetchedPage, workers)
	records := make(chan domain.ArticleRecord, workers)

	extractDone := make(chan struct{})
	go func() {
		defer close(extractDone)
		defer close(records)
		for fp := range pages {
			if rec, ok := c.extractOne(sess, p, ex, fp, t); ok {
				records <- rec
			}
		}
	}()

	emitDone := make(chan struct{})
	go func() {
		defer close(emitDone)
		for rec := range records {
			c.emitOne(ctx, sess, p, rec, t)
		}
	}()

	NewScraper(client, c.robots, sess.inflight, c.log).Fetch(ctx, p, candidates, pages, t)
	close(pages)

	c.moveTo(sess, p, t, StateExtracting)
	<-extractDone
	c.moveTo(sess, p, t, StateDraining)
	<-emitDone
	c.saveMarkers(ctx, p, t, pending)
	c.moveTo(sess, p, t, StateDone)
}

// saveMarkers persists the feed markers of a provider whose candidates were
// all fetched and delivered. Any fetch or delivery failure, or an early stop,
// leaves the old markers in place so the next session refetches the feed.
func (c *Crawler) saveMarkers(ctx context.Context, p providers.Provider, t *tracker, pending map[string]providers.Marker) {
	if c.markers == nil || len(pending) == 0 {
		return
	}
	snap := t.snapshot()
	if ctx.Err() != nil || len(snap.FetchFailures) > 0 || snap.EmitFailures > 0 {
		c.log.DebugObj("feed markers not saved after incomplete crawl", "markers_deferred", map[string]any{
			"provider_id":    p.ID,
			"fetch_failures": len(snap.FetchFailures),
			"emit_failures":  snap.EmitFailures,
			"stopped":        ctx.Err() != nil,
		})
		return
	}
	for key, m := range pending {
		if err := c.markers.SaveMarker(key, m); err != nil {
			c.log.WarnObj("feed marker not saved", "marker_save_failed", map[string]any{
				"provider_id": p.ID,
				"feed":        key,
				"error":       err.Error(),
			})
		}
	}
}

// discover runs the provider's strategy. An rss or sitemap provider whose
// sources are all unreachable falls back to its archive template.
func (c *Crawler) discover(ctx context.Context, p providers.Provider, client httpclient.Client, onMarker func(string, providers.Marker)) ([]domain.Candidate, string, error) {
	strategy := p.Discovery.Strategy
	d, err := c.discoverers.DiscovererFor(strategy)
	if err != nil {
		return nil, strategy, err
	}

	req := providers.Request{
		Provider: p,
		Window:   p.ArchiveWindow(c.opts.Since, c.opts.Clock()),
		Client:   client,
		OnMarker: onMarker,
	}
	candidates, err := d.Discover(ctx, req)
	if err == nil || !errors.Is(err, providers.ErrNoDiscovery) || strategy == providers.StrategyArchive || !p.HasArchive() {
		return candidates, strategy, err
	}

	c.log.WarnObj("discovery failed, falling back to archive", "discovery_fallback", map[string]any{
		"provider_id": p.ID,
		"strategy":    strategy,
		"error":       err.Error(),
	})
	archive, aerr := c.discoverers.DiscovererFor(providers.StrategyArchive)
	if aerr != nil {
		return nil, strategy, errors.Join(err, aerr)
	}
	candidates, err = archive.Discover(ctx, req)
	return candidates, providers.StrategyArchive, err
}

// filterCandidates drops off-domain and repeated URLs.
func (c *Crawler) filterCandidates(p providers.Provider, in []domain.Candidate, t *tracker) []domain.Candidate {
	out := make([]domain.Candidate, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	offDomain := 0
	for _, cand := range in {
		if !p.AllowsURL(cand.URL) {
			offDomain++
			c.log.DebugObj("candidate outside allowed domains", "candidate_off_domain", map[string]any{
				"provider_id": p.ID,
				"url":         cand.URL,
			})
			continue
		}
		key := pipeline.NormalizeURL(cand.URL)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cand)
	}
	t.update(func(s *ProviderSummary) {
		s.Discovered = len(out)
		s.OffDomain = offDomain
	})
	c.log.InfoObj("candidates discovered", "discovery_done", map[string]any{
		"provider_id": p.ID,
		"candidates":  len(out),
		"off_domain":  offDomain,
	})
	return out
}

func (c *Crawler) extractOne(sess *session, p providers.Provider, ex *extractor.Extractor, fp fetchedPage, t *tracker) (domain.ArticleRecord, bool) {
	rec, err := ex.Extract(fp.page, fp.hint)
	if err != nil {
		t.update(func(s *ProviderSummary) { s.ExtractFailure++ })
		c.log.WarnObj("article page could not be extracted", "extract_page_failed", map[string]any{
			"provider_id": p.ID,
			"url":         fp.page.URL,
			"error":       err.Error(),
		})
		return domain.ArticleRecord{}, false
	}
	t.update(func(s *ProviderSummary) { s.Extracted++ })

	if drop := sess.pipe.Process(&rec); drop != nil {
		t.update(func(s *ProviderSummary) { s.Dropped[drop.Error()]++ })
		c.log.InfoObj("record dropped", "record_dropped", map[string]any{
			"provider_id": p.ID,
			"url":         fp.page.URL,
			"stage":       drop.Stage,
			"reason":      drop.Reason,
		})
		return domain.ArticleRecord{}, false
	}
	t.update(func(s *ProviderSummary) { s.Validated++ })
	return rec, true
}

// emitOne delivers a validated record. Delivery is detached from session
// cancellation so records that made it through the pipeline are not lost.
func (c *Crawler) emitOne(ctx context.Context, sess *session, p providers.Provider, rec domain.ArticleRecord, t *tracker) {
	ok, last := sess.reserve()
	if !ok {
		t.update(func(s *ProviderSummary) { s.Dropped[budgetDropReason]++ })
		sess.stop()
		return
	}

	if err := c.sink.Emit(context.WithoutCancel(ctx), p.ID, rec); err != nil {
		t.update(func(s *ProviderSummary) { s.EmitFailures++ })
		c.log.ErrorObj("record not delivered", "emit_failed", map[string]any{
			"provider_id": p.ID,
			"url":         rec.URL,
			"error":       err.Error(),
		})
	} else {
		t.update(func(s *ProviderSummary) { s.Emitted++ })
		if err := sess.dedup.Confirm(rec); err != nil {
			c.log.WarnObj("emitted record not persisted for dedup", "dedup_persist_failed", map[string]any{
				"provider_id": p.ID,
				"url":         rec.URL,
				"error":       err.Error(),
			})
		}
	}

	if last {
		c.log.InfoObj("item budget reached, stopping session", "budget_exhausted", map[string]any{
			"session_id": sess.id,
			"max_items":  sess.maxItems,
		})
		sess.stop()
	}
}

func (c *Crawler) moveTo(sess *session, p providers.Provider, t *tracker, to State) {
	from, ok := t.moveTo(to)
	if !ok {
		c.log.ErrorObj("illegal provider state transition", "provider_state_invalid", map[string]any{
			"session_id":  sess.id,
			"provider_id": p.ID,
			"from":        string(from),
			"to":          string(to),
		})
		return
	}
	c.log.DebugObj("provider state changed", "provider_state", map[string]any{
		"session_id":  sess.id,
		"provider_id": p.ID,
		"from":        string(from),
		"to":          string(to),
	})
}

func (c *Crawler) fail(sess *session, p providers.Provider, t *tracker, err error) {
	t.update(func(s *ProviderSummary) { s.Error = err.Error() })
	c.moveTo(sess, p, t, StateFailed)
	c.log.ErrorObj("provider skipped for this session", "provider_failed", map[string]any{
		"session_id":  sess.id,
		"provider_id": p.ID,
		"error":       err.Error(),
	})
}

package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/extractor"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
)

const maxHTMLBodyBytes = 2 << 20 // 2 MiB

// fetchedPage is a downloaded article page plus the discovery hints for it.
type fetchedPage struct {
	page extractor.Page
	hint domain.Candidate
}

// Scraper downloads candidate pages for one provider with a bounded worker
// pool and a politeness limiter.
type Scraper struct {
	client   httpclient.Client
	robots   *RobotsGate
	inflight *semaphore.Weighted
	log      logger.Logger
}

// NewScraper creates a Scraper. robots and inflight are optional.
func NewScraper(client httpclient.Client, robots *RobotsGate, inflight *semaphore.Weighted, log logger.Logger) *Scraper {
	if client == nil {
		client = providers.DefaultHTTPClient()
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Scraper{client: client, robots: robots, inflight: inflight, log: log}
}

// Fetch downloads candidates and sends each page on out. It returns when every
// candidate was attempted or ctx is done; it never closes out.
func (s *Scraper) Fetch(ctx context.Context, cfg providers.Provider, candidates []domain.Candidate, out chan<- fetchedPage, t *tracker) {
	if len(candidates) == 0 {
		return
	}

	workerCount := min(len(candidates), cfg.Workers())

	var limiter <-chan time.Time
	if delay := cfg.RequestDelay(); delay > 0 {
		ticker := time.NewTicker(delay)
		defer ticker.Stop()
		limiter = ticker.C
	}

	jobCh := make(chan domain.Candidate)
	var wg sync.WaitGroup

	for workerID := range workerCount {
		wg.Add(1)
		go s.pageWorker(ctx, cfg, limiter, jobCh, out, t, &wg, workerID)
	}

feed:
	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			break feed
		case jobCh <- cand:
		}
	}
	close(jobCh)

	wg.Wait()
}

// pageWorker fetches pages from the job channel, waiting on the limiter
// before every request.
func (s *Scraper) pageWorker(
	ctx context.Context,
	cfg providers.Provider,
	limiter <-chan time.Time,
	jobCh <-chan domain.Candidate,
	out chan<- fetchedPage,
	t *tracker,
	wg *sync.WaitGroup,
	workerID int,
) {
	defer wg.Done()

	for cand := range jobCh {
		if ctx.Err() != nil {
			return
		}

		if s.robots != nil && !s.robots.Allowed(ctx, cand.URL) {
			t.update(func(p *ProviderSummary) { p.Disallowed++ })
			s.log.DebugObj("url disallowed by robots.txt", "robots_disallowed", map[string]any{
				"provider_id": cfg.ID,
				"url":         cand.URL,
			})
			continue
		}

		if limiter != nil {
			select {
			case <-ctx.Done():
				return
			case <-limiter:
			}
		}

		body, err := s.fetchPage(ctx, cfg, cand.URL, workerID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			kind := httpclient.Kind(err)
			t.update(func(p *ProviderSummary) { p.FetchFailures[kind]++ })
			s.log.WarnObj("article fetch failed", "fetch_failed", map[string]any{
				"worker_id":   workerID,
				"provider_id": cfg.ID,
				"url":         cand.URL,
				"kind":        kind,
				"error":       err.Error(),
			})
			continue
		}
		t.update(func(p *ProviderSummary) { p.Fetched++ })

		select {
		case <-ctx.Done():
			return
		case out <- fetchedPage{page: extractor.Page{URL: cand.URL, Body: body}, hint: cand}:
		}
	}
}

// fetchPage downloads one article page, truncating oversized bodies.
func (s *Scraper) fetchPage(ctx context.Context, cfg providers.Provider, pageURL string, workerID int) ([]byte, error) {
	if s.inflight != nil {
		if err := s.inflight.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer s.inflight.Release(1)
	}

	s.log.DebugObj("fetching article", "fetch_start", map[string]any{
		"worker_id":   workerID,
		"provider_id": cfg.ID,
		"url":         pageURL,
	})

	resp, err := s.client.Get(ctx, pageURL, providers.Headers(cfg))
	if err != nil {
		return nil, fmt.Errorf("http fetch: %w", err)
	}
	if err := httpclient.CheckStatus(pageURL, resp); err != nil {
		return nil, err
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		s.log.InfoObj("html body truncated", "truncation", map[string]any{
			"worker_id":   workerID,
			"provider_id": cfg.ID,
			"url":         pageURL,
			"original":    len(body),
			"kept":        maxHTMLBodyBytes,
		})
		body = body[:maxHTMLBodyBytes]
	}
	return body, nil
}

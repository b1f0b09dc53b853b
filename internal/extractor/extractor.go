// Package extractor turns a fetched article page into a provisional
// ArticleRecord using a provider's selector profile.
package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/dates"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
)

// ErrPageShape reports a page that cannot be treated as an article at all.
var ErrPageShape = errors.New("page does not look like an html document")

var defaultCanonical = []providers.Locator{{CSS: `link[rel="canonical"]`, Attr: "href"}}

// Page is a fetched document.
type Page struct {
	URL  string
	Body []byte
}

// Extractor applies one provider's profile. It holds no per-page state and is
// safe for concurrent use.
type Extractor struct {
	provider providers.Provider
	dates    *dates.Normalizer
	log      logger.Logger
}

// New builds an Extractor for the provider.
func New(p providers.Provider, log logger.Logger) (*Extractor, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	norm, err := dates.New(dates.Options{
		Location:   p.Location(),
		Locale:     p.Locale,
		Layouts:    p.Profile.DateLayouts,
		URLPattern: p.Profile.URLDatePattern,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %q dates: %w", p.ID, err)
	}
	return &Extractor{provider: p, dates: norm, log: log}, nil
}

// Extract builds a provisional record from the page. Fields whose locators
// fail are left empty; the candidate's hints fill gaps the page leaves.
// ErrPageShape is returned when the body is not a usable HTML document.
func (e *Extractor) Extract(page Page, hint domain.Candidate) (domain.ArticleRecord, error) {
	doc, err := parseDocument(page.Body)
	if err != nil {
		return domain.ArticleRecord{}, err
	}

	p := e.provider
	rec := domain.ArticleRecord{
		URL:        page.URL,
		SourceName: p.SourceName(),
		SpiderName: p.ID,
		Tags:       []string{},
		Meta: domain.RecordMeta{
			GUID:     hint.GUID,
			FetchURL: page.URL,
		},
	}

	e.guard("remove", page.URL, func() error {
		for _, css := range p.Profile.Remove {
			doc.Find(css).Remove()
		}
		return nil
	})

	e.guard("canonical", page.URL, func() error {
		locs := p.Profile.Canonical
		if len(locs) == 0 {
			locs = defaultCanonical
		}
		vals, _, err := providers.First(doc, locs)
		if len(vals) > 0 {
			if u := canonicalURL(vals[0], page.URL); u != "" {
				rec.URL = u
			}
		}
		return err
	})

	e.guard("title", page.URL, func() error {
		vals, _, err := providers.First(doc, p.Profile.Title)
		if len(vals) > 0 {
			rec.Title = vals[0]
		}
		return err
	})

	e.guard("body", page.URL, func() error {
		vals, _, err := providers.First(doc, p.Profile.Body)
		if len(vals) > 0 {
			rec.FullText = strings.Join(vals, "\n\n")
		}
		return err
	})

	e.guard("author", page.URL, func() error {
		vals, _, err := providers.First(doc, p.Profile.Author)
		if len(vals) > 0 {
			a := vals[0]
			rec.Author = &a
		}
		return err
	})

	e.guard("tags", page.URL, func() error {
		vals, _, err := providers.First(doc, p.Profile.Tags)
		rec.Tags = splitTags(vals)
		return err
	})

	e.guard("date", page.URL, func() error {
		e.extractDate(doc, &rec, hint)
		return nil
	})

	applyHints(&rec, hint)
	return rec, nil
}

// applyHints fills fields the page did not provide from discovery hints. A
// feed summary is never used as the article body.
func applyHints(rec *domain.ArticleRecord, hint domain.Candidate) {
	if strings.TrimSpace(rec.Title) == "" {
		rec.Title = hint.Title
	}
	if strings.TrimSpace(rec.FullText) == "" {
		rec.FullText = hint.Content
	}
	if rec.Author == nil && strings.TrimSpace(hint.Author) != "" {
		a := hint.Author
		rec.Author = &a
	}
	if len(rec.Tags) == 0 && len(hint.Tags) > 0 {
		rec.Tags = splitTags(hint.Tags)
	}
}

// guard runs one field's extraction, isolating errors and panics so the
// remaining fields are still attempted.
func (e *Extractor) guard(field, pageURL string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WarnObj("field extraction panicked", "extract_field_failed", map[string]any{
				"provider_id": e.provider.ID,
				"url":         pageURL,
				"field":       field,
				"error":       fmt.Sprint(r),
			})
		}
	}()
	if err := fn(); err != nil {
		e.log.WarnObj("field extraction failed", "extract_field_failed", map[string]any{
			"provider_id": e.provider.ID,
			"url":         pageURL,
			"field":       field,
			"error":       err.Error(),
		})
	}
}

func parseDocument(body []byte) (*goquery.Document, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrPageShape)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPageShape, err)
	}
	if doc.Find("body *, head meta, head title").Length() == 0 {
		return nil, fmt.Errorf("%w: no elements", ErrPageShape)
	}
	return doc, nil
}

// canonicalURL resolves a canonical link against the page URL and accepts
// only absolute http(s) results.
func canonicalURL(raw, base string) string {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	if !ref.IsAbs() {
		b, err := url.Parse(base)
		if err != nil {
			return ""
		}
		ref = b.ResolveReference(ref)
	}
	if (ref.Scheme != "http" && ref.Scheme != "https") || ref.Host == "" {
		return ""
	}
	ref.Fragment = ""
	return ref.String()
}

// splitTags splits comma separated values and drops duplicates, keeping order.
func splitTags(vals []string) []string {
	out := []string{}
	seen := make(map[string]struct{})
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			tag := strings.TrimSpace(part)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}

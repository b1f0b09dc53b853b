package extractor

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/dates"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
)

// Generic machine-readable date carriers tried after the profile's own
// attribute locators.
var genericDateAttrs = []providers.Locator{
	{CSS: `meta[property="article:published_time"]`, Attr: "content"},
	{CSS: `meta[itemprop="datePublished"]`, Attr: "content"},
	{CSS: `time[datetime]`, Attr: "datetime"},
}

func (e *Extractor) extractDate(doc *goquery.Document, rec *domain.ArticleRecord, hint domain.Candidate) {
	in := dates.Input{
		Structured: jsonLDDates(doc),
		Feed:       hint.PublishedAt,
		URL:        rec.URL,
	}

	for _, l := range e.provider.Profile.Date {
		vals, err := l.Values(doc)
		if err != nil {
			e.log.DebugObj("date locator failed", "date_locator_failed", map[string]any{
				"provider_id": e.provider.ID,
				"url":         rec.URL,
				"locator":     l.String(),
				"error":       err.Error(),
			})
			continue
		}
		if l.Attr != "" {
			in.Attributes = append(in.Attributes, vals...)
		} else {
			in.Text = append(in.Text, vals...)
		}
	}
	for _, l := range genericDateAttrs {
		if vals, err := l.Values(doc); err == nil {
			in.Attributes = append(in.Attributes, vals...)
		}
	}

	res, err := e.dates.Normalize(in)
	if err != nil && rec.Meta.FetchURL != "" && rec.Meta.FetchURL != rec.URL {
		if t, ok := e.dates.FromURL(rec.Meta.FetchURL); ok {
			res, err = dates.Result{Time: t, Source: dates.SourceURL, LowPrecision: true}, nil
		}
	}
	if err != nil {
		rec.Meta.DateError = err
		fields := map[string]any{
			"provider_id": e.provider.ID,
			"url":         rec.URL,
			"error":       err.Error(),
		}
		if errors.Is(err, dates.ErrUnparseable) {
			e.log.WarnObj("publication date unparseable", "date_unparseable", fields)
		} else {
			e.log.DebugObj("publication date not found", "date_missing", fields)
		}
		return
	}

	t := res.Time
	rec.PublicationDate = &t
	rec.Meta.DateSource = string(res.Source)
	rec.Meta.DateLowPrecision = res.LowPrecision
}

// jsonLDDates collects datePublished values from JSON-LD blocks, including
// @graph members and top-level arrays.
func jsonLDDates(doc *goquery.Document) []string {
	var out []string
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var v any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &v); err != nil {
			return
		}
		out = append(out, collectDatePublished(v, 0)...)
	})
	return out
}

func collectDatePublished(v any, depth int) []string {
	if depth > 4 {
		return nil
	}
	var out []string
	switch node := v.(type) {
	case []any:
		for _, item := range node {
			out = append(out, collectDatePublished(item, depth+1)...)
		}
	case map[string]any:
		if s, ok := node["datePublished"].(string); ok && strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
		if g, ok := node["@graph"]; ok {
			out = append(out, collectDatePublished(g, depth+1)...)
		}
	}
	return out
}

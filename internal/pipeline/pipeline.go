// Package pipeline normalizes and validates extracted records before they are
// handed to publishers. Stages run in a fixed order and any stage may drop
// the record, which short-circuits the rest.
package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
)

// Stage names, also used as summary keys.
const (
	StageValidate   = "validate"
	StageClean      = "clean"
	StageStamp      = "stamp"
	StageDedup      = "dedup"
	StageDateFilter = "date_filter"
)

// Drop is the typed outcome of a stage rejecting a record.
type Drop struct {
	Stage  string
	Reason string
}

func (d *Drop) Error() string { return fmt.Sprintf("%s: %s", d.Stage, d.Reason) }

func missingField(stage, field string) *Drop {
	return &Drop{Stage: stage, Reason: "missing required field: " + field}
}

// Stage transforms a record in place or drops it.
type Stage struct {
	Name  string
	Apply func(rec *domain.ArticleRecord) *Drop
}

// Options configures the standard stage chain.
type Options struct {
	// Since is the inclusive lower bound of the date filter; nil disables it.
	Since *time.Time
	// Clock supplies scraped_at; defaults to time.Now.
	Clock func() time.Time
	// Dedup is shared by every provider of a session. A fresh in-memory set
	// is used when nil.
	Dedup *Deduper
}

// Pipeline is an ordered chain of stages. It is safe for concurrent use as
// long as its stages are; the standard stages are.
type Pipeline struct {
	stages []Stage
}

// New builds the standard chain: validate, clean, stamp, dedup, date filter.
func New(opts Options) *Pipeline {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	dedup := opts.Dedup
	if dedup == nil {
		dedup = NewDeduper(nil)
	}

	return NewWithStages(
		Stage{Name: StageValidate, Apply: Validate},
		Stage{Name: StageClean, Apply: Clean},
		Stage{Name: StageStamp, Apply: Stamp(clock)},
		Stage{Name: StageDedup, Apply: dedup.Apply},
		Stage{Name: StageDateFilter, Apply: DateFilter(opts.Since)},
	)
}

// NewWithStages builds a pipeline from explicit stages.
func NewWithStages(stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages}
}

// Process runs the record through every stage. A nil result means the record
// survived and may be emitted.
func (p *Pipeline) Process(rec *domain.ArticleRecord) *Drop {
	for _, st := range p.stages {
		if drop := st.Apply(rec); drop != nil {
			if drop.Stage == "" {
				drop.Stage = st.Name
			}
			return drop
		}
	}
	return nil
}

// Stages returns the stage names in order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, st := range p.stages {
		out[i] = st.Name
	}
	return out
}

// Validate requires url, title, full_text, source_name and spider_name to be
// non-empty after trimming.
func Validate(rec *domain.ArticleRecord) *Drop {
	if field := firstMissing(rec); field != "" {
		return missingField(StageValidate, field)
	}
	return nil
}

func firstMissing(rec *domain.ArticleRecord) string {
	required := []struct {
		name  string
		value string
	}{
		{"url", rec.URL},
		{"title", rec.Title},
		{"full_text", rec.FullText},
		{"source_name", rec.SourceName},
		{"spider_name", rec.SpiderName},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return f.name
		}
	}
	return ""
}

// Stamp sets scraped_at from the clock. Publication dates are left as found.
func Stamp(clock func() time.Time) func(*domain.ArticleRecord) *Drop {
	return func(rec *domain.ArticleRecord) *Drop {
		rec.ScrapedAt = clock()
		return nil
	}
}

// DateFilter drops records published strictly before since. Records without
// a publication date pass and are flagged for review.
func DateFilter(since *time.Time) func(*domain.ArticleRecord) *Drop {
	return func(rec *domain.ArticleRecord) *Drop {
		if since == nil || since.IsZero() {
			return nil
		}
		if rec.PublicationDate == nil {
			rec.Meta.NeedsReview = true
			return nil
		}
		if rec.PublicationDate.Before(*since) {
			return &Drop{Stage: StageDateFilter, Reason: "published before lower bound"}
		}
		return nil
	}
}

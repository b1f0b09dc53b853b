package domain

import "time"

// Domain contains core models shared by discovery, extraction and the pipeline.

// ArticleRecord is the canonical unit forwarded to publishers. Optional fields
// are pointers so they serialize as null instead of being omitted.
type ArticleRecord struct {
	URL             string     `json:"url"`
	SourceName      string     `json:"source_name"`
	Title           string     `json:"title"`
	FullText        string     `json:"full_text"`
	Author          *string    `json:"author"`
	PublicationDate *time.Time `json:"publication_date"`
	ScrapedAt       time.Time  `json:"scraped_at"`
	SpiderName      string     `json:"spider_name"`
	Tags            []string   `json:"tags"`

	Meta RecordMeta `json:"-"`
}

// RecordMeta carries pipeline bookkeeping that never leaves the process as part
// of the record payload.
type RecordMeta struct {
	// GUID is the feed-provided identity key, if any.
	GUID string
	// FetchURL is the URL the page was requested from; URL may differ when the
	// page declares a canonical link.
	FetchURL string
	// DateSource names the normalizer tier that produced PublicationDate.
	DateSource string
	// DateLowPrecision is set when the date only carries a day component.
	DateLowPrecision bool
	// DateError holds the explicit parse outcome when no date was found.
	DateError error
	// NeedsReview flags records passed through the date filter with an unknown date.
	NeedsReview bool
}

// AuthorValue returns the author or an empty string.
func (r ArticleRecord) AuthorValue() string {
	if r.Author == nil {
		return ""
	}
	return *r.Author
}

// Candidate is a discovered article URL plus any hints the discovery source
// carried inline. Hints are fallbacks; page extraction is authoritative.
type Candidate struct {
	URL         string
	GUID        string
	Title       string
	Summary     string
	Content     string
	Author      string
	Tags        []string
	PublishedAt *time.Time
	Via         string
}

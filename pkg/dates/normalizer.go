// Package dates turns the heterogeneous date representations found on news
// pages into timezone-aware instants.
//
// Sources are tried in a fixed priority order and the first success wins:
// structured metadata, machine-readable attributes, free text and finally a
// date fragment embedded in the URL path. A missing date is reported as an
// error; the crawl time is never substituted.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goodsign/monday"
)

var (
	// ErrNoCandidates means no source offered any date value.
	ErrNoCandidates = errors.New("dates: no date candidates")
	// ErrUnparseable means candidates existed but none could be parsed.
	ErrUnparseable = errors.New("dates: unparseable")
)

// Source identifies the tier that produced a date.
type Source string

const (
	SourceStructured Source = "structured"
	SourceAttribute  Source = "attribute"
	SourceText       Source = "text"
	SourceFeed       Source = "feed"
	SourceURL        Source = "url"
)

// DefaultURLPattern captures YYYY/MM/DD or YYYY-MM-DD fragments in a path.
const DefaultURLPattern = `(?:^|/)(?P<year>\d{4})[/-](?P<month>\d{2})[/-](?P<day>\d{2})(?:/|$|-)`

// machineLayouts are tried for structured and attribute values.
var machineLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC822Z,
	time.RFC822,
}

// defaultTextLayouts cover the human-readable forms seen on the supported sites.
var defaultTextLayouts = []string{
	"January 2, 2006 15:04",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
	"Jan 2, 2006 15:04",
	"Jan 2, 2006",
	"Monday, January 2, 2006",
	"Mon, Jan 2, 2006",
	"2 January 2006 15:04",
	"2 January 2006",
	"2 Jan 2006",
	"02 January 2006",
	"2006 January 2",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006",
	"02.01.2006",
}

// Input collects candidate values per tier. Empty values are ignored.
type Input struct {
	Structured []string
	Attributes []string
	Text       []string
	// Feed is a date already parsed by the feed reader.
	Feed *time.Time
	URL  string
}

// Result is a successfully normalized date.
type Result struct {
	Time   time.Time
	Source Source
	// LowPrecision is set when only a calendar day was known.
	LowPrecision bool
}

// ISO formats the result as an ISO-8601 string.
func (r Result) ISO() string { return r.Time.Format(time.RFC3339) }

// Options configures a Normalizer.
type Options struct {
	// Location applies to values without an explicit offset.
	Location *time.Location
	// Locale drives month and weekday names in free text, e.g. "en_US".
	Locale string
	// Layouts are tried before the defaults for free text.
	Layouts []string
	// URLPattern must declare year, month and day named groups.
	URLPattern string
}

// Normalizer parses dates for a single provider.
type Normalizer struct {
	loc     *time.Location
	locale  monday.Locale
	layouts []string
	urlRe   *regexp.Regexp
}

// New builds a Normalizer. An empty URL pattern uses DefaultURLPattern.
func New(opts Options) (*Normalizer, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	var locale monday.Locale = monday.LocaleEnUS
	if l := strings.TrimSpace(opts.Locale); l != "" {
		locale = monday.Locale(l)
	}

	pattern := strings.TrimSpace(opts.URLPattern)
	if pattern == "" {
		pattern = DefaultURLPattern
	}
	re, err := CompileURLPattern(pattern)
	if err != nil {
		return nil, err
	}

	layouts := make([]string, 0, len(opts.Layouts)+len(defaultTextLayouts))
	for _, l := range opts.Layouts {
		if l = strings.TrimSpace(l); l != "" {
			layouts = append(layouts, l)
		}
	}
	layouts = append(layouts, defaultTextLayouts...)

	return &Normalizer{loc: loc, locale: locale, layouts: layouts, urlRe: re}, nil
}

// CompileURLPattern compiles a URL date pattern and checks its named groups.
func CompileURLPattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile url date pattern: %w", err)
	}
	for _, group := range []string{"year", "month", "day"} {
		if re.SubexpIndex(group) < 0 {
			return nil, fmt.Errorf("url date pattern %q lacks named group %q", pattern, group)
		}
	}
	return re, nil
}

// Normalize walks the tiers in priority order. The returned error wraps
// ErrNoCandidates or ErrUnparseable when nothing matched.
func (n *Normalizer) Normalize(in Input) (Result, error) {
	seen, bikramSambat := false, false

	for _, raw := range in.Structured {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		seen = true
		if t, ok := n.parseMachine(raw); ok {
			return Result{Time: t, Source: SourceStructured}, nil
		}
	}

	for _, raw := range in.Attributes {
		if raw = strings.TrimSpace(raw); raw == "" {
			continue
		}
		seen = true
		if t, ok := n.parseMachine(raw); ok {
			return Result{Time: t, Source: SourceAttribute}, nil
		}
	}

	for _, raw := range in.Text {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		seen = true
		if IsBikramSambat(raw) {
			if t, ok := parseBikramSambat(raw, n.loc); ok {
				return Result{Time: t, Source: SourceText, LowPrecision: true}, nil
			}
			bikramSambat = true
			continue
		}
		if t, ok := n.ParseText(raw); ok {
			return Result{Time: t, Source: SourceText}, nil
		}
	}

	if in.Feed != nil && !in.Feed.IsZero() {
		return Result{Time: *in.Feed, Source: SourceFeed}, nil
	}

	if in.URL != "" {
		if t, ok := n.FromURL(in.URL); ok {
			return Result{Time: t, Source: SourceURL, LowPrecision: true}, nil
		}
	}

	if bikramSambat {
		return Result{}, fmt.Errorf("%w: bikram sambat date outside the supported range", ErrUnparseable)
	}
	if seen {
		return Result{}, fmt.Errorf("%w: no candidate matched a known layout", ErrUnparseable)
	}
	return Result{}, ErrNoCandidates
}

// parseMachine parses RFC 3339-like values, applying the provider location
// when no offset is present.
func (n *Normalizer) parseMachine(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && len(raw) >= 9 {
		if len(raw) >= 13 {
			return time.UnixMilli(unix).UTC(), true
		}
		return time.Unix(unix, 0).UTC(), true
	}
	for _, layout := range machineLayouts {
		if t, err := time.ParseInLocation(layout, raw, n.loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseText parses a human-readable date. Non-Latin digits and month names are
// converted before locale-aware parsing.
func (n *Normalizer) ParseText(raw string) (time.Time, bool) {
	text := cleanText(Transliterate(raw))
	if text == "" {
		return time.Time{}, false
	}
	if t, ok := n.parseMachine(text); ok {
		return t, true
	}
	for _, layout := range n.layouts {
		if t, err := monday.ParseInLocation(layout, text, n.loc, n.locale); err == nil {
			return t, true
		}
		if n.locale != monday.LocaleEnUS {
			if t, err := time.ParseInLocation(layout, text, n.loc); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

// FromURL extracts a calendar day from a URL path. The result is midnight UTC
// whatever the provider location.
func (n *Normalizer) FromURL(rawURL string) (time.Time, bool) {
	m := n.urlRe.FindStringSubmatch(rawURL)
	if m == nil {
		return time.Time{}, false
	}
	year, errY := strconv.Atoi(m[n.urlRe.SubexpIndex("year")])
	month, errM := strconv.Atoi(m[n.urlRe.SubexpIndex("month")])
	day, errD := strconv.Atoi(m[n.urlRe.SubexpIndex("day")])
	if errY != nil || errM != nil || errD != nil {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow, e.g. 2023-02-30 becomes March 2.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

var (
	publishedPrefixRe = regexp.MustCompile(`(?i)^(published|updated|posted)(\s+(at|on))?\s*:?\s*`)
	ordinalRe         = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	spaceRe           = regexp.MustCompile(`\s+`)
)

// cleanText drops "Published at :" style prefixes, ordinals, trailing zone
// abbreviations like NPT and redundant whitespace.
func cleanText(s string) string {
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	s = publishedPrefixRe.ReplaceAllString(s, "")
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = strings.TrimSuffix(s, " NPT")
	s = strings.TrimSuffix(s, " IST")
	s = strings.Trim(s, " |,")
	return s
}

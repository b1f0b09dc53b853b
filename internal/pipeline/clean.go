package pipeline

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"

	"github.com/Adda-Baaj/khobor-scrapers/internal/domain"
)

// maxUnescapeRounds bounds nested entity decoding such as "&amp;lt;b&amp;gt;".
const maxUnescapeRounds = 32

// blockTags break lines. cellTags separate words. Every other tag is inline
// and joins its text to the neighbours, so "H<sub>2</sub>O" stays one word.
var (
	blockTags = map[string]struct{}{
		"br": {}, "p": {}, "div": {}, "li": {}, "ul": {}, "ol": {}, "tr": {},
		"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
		"blockquote": {}, "section": {}, "article": {}, "figcaption": {},
		"figure": {}, "header": {}, "footer": {}, "aside": {}, "main": {},
		"nav": {}, "pre": {}, "hr": {}, "table": {}, "dl": {},
	}
	cellTags = map[string]struct{}{
		"td": {}, "th": {}, "dt": {}, "dd": {},
	}
)

// Clean strips markup and entities from text fields, collapses whitespace and
// applies NFC. Title and body are re-checked because markup-only values
// become empty.
func Clean(rec *domain.ArticleRecord) *Drop {
	rec.URL = strings.TrimSpace(rec.URL)
	rec.SourceName = CleanLine(rec.SourceName)
	rec.SpiderName = strings.TrimSpace(rec.SpiderName)
	rec.Title = CleanLine(rec.Title)
	rec.FullText = CleanText(rec.FullText)

	if rec.Author != nil {
		if a := CleanLine(*rec.Author); a != "" {
			rec.Author = &a
		} else {
			rec.Author = nil
		}
	}

	tags := make([]string, 0, len(rec.Tags))
	seen := make(map[string]struct{}, len(rec.Tags))
	for _, t := range rec.Tags {
		t = CleanLine(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		tags = append(tags, t)
	}
	rec.Tags = tags

	for _, f := range []struct{ name, value string }{{"title", rec.Title}, {"full_text", rec.FullText}} {
		if f.value == "" {
			return missingField(StageClean, f.name)
		}
	}
	return nil
}

// CleanLine returns single-line text: markup and entities removed, all
// whitespace runs collapsed to one space, NFC normalized.
func CleanLine(s string) string {
	return norm.NFC.String(strings.Join(strings.FieldsFunc(stripMarkup(s), unicode.IsSpace), " "))
}

// CleanText is CleanLine for multi-paragraph text: line breaks survive, blank
// line runs collapse to a single paragraph break.
func CleanText(s string) string {
	lines := strings.Split(stripMarkup(s), "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, unicode.IsSpace), " ")
		if line == "" {
			blank = len(out) > 0
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return norm.NFC.String(strings.Join(out, "\n"))
}

// stripMarkup tokenizes until neither tags nor entities remain, so encoded
// markup like "&lt;b&gt;" is removed as well.
func stripMarkup(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for range maxUnescapeRounds {
		next := textOnly(s)
		if next == s {
			break
		}
		s = next
	}
	return s
}

func textOnly(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			switch tag := string(name); tag {
			case "script", "style":
				skip++
			default:
				b.WriteString(separator(tag))
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); tag {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			default:
				b.WriteString(separator(tag))
			}
		}
	}
}

func separator(tag string) string {
	if _, ok := blockTags[tag]; ok {
		return "\n"
	}
	if _, ok := cellTags[tag]; ok {
		return " "
	}
	return ""
}

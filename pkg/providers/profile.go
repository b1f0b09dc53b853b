package providers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"gopkg.in/yaml.v3"
)

// Profile declares where each article field lives on a provider's pages.
// Every field accepts several locators; the first one yielding a non-empty
// value wins.
type Profile struct {
	Title     []Locator `json:"title" yaml:"title"`
	Body      []Locator `json:"body" yaml:"body"`
	Author    []Locator `json:"author" yaml:"author"`
	Date      []Locator `json:"date" yaml:"date"`
	Tags      []Locator `json:"tags" yaml:"tags"`
	Canonical []Locator `json:"canonical" yaml:"canonical"`
	// Remove lists CSS selectors stripped from the page before extraction.
	Remove []string `json:"remove" yaml:"remove"`
	// DateLayouts are Go reference layouts tried before the built-in ones.
	DateLayouts []string `json:"date_layouts" yaml:"date_layouts"`
	// URLDatePattern is a regexp with year, month and day named groups.
	URLDatePattern string `json:"url_date_pattern" yaml:"url_date_pattern"`
}

// Locator finds a value in a document by CSS selector or XPath expression.
// When Attr is set the attribute value is read instead of the element text.
// A bare string in config files is shorthand for a CSS selector.
type Locator struct {
	CSS   string `json:"css,omitempty" yaml:"css,omitempty"`
	XPath string `json:"xpath,omitempty" yaml:"xpath,omitempty"`
	Attr  string `json:"attr,omitempty" yaml:"attr,omitempty"`
}

// UnmarshalYAML accepts either a mapping or a bare CSS selector string.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*l = Locator{CSS: node.Value}
		return nil
	}
	type plain Locator
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*l = Locator(p)
	return nil
}

// UnmarshalJSON accepts either an object or a bare CSS selector string.
func (l *Locator) UnmarshalJSON(data []byte) error {
	var css string
	if err := json.Unmarshal(data, &css); err == nil {
		*l = Locator{CSS: css}
		return nil
	}
	type plain Locator
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*l = Locator(p)
	return nil
}

func (l Locator) String() string {
	expr := l.CSS
	if expr == "" {
		expr = "xpath:" + l.XPath
	}
	if l.Attr != "" {
		return expr + "@" + l.Attr
	}
	return expr
}

// Validate checks that exactly one of CSS or XPath is set and compiles.
func (l Locator) Validate() error {
	css, xp := strings.TrimSpace(l.CSS), strings.TrimSpace(l.XPath)
	switch {
	case css == "" && xp == "":
		return errors.New("locator needs css or xpath")
	case css != "" && xp != "":
		return fmt.Errorf("locator %q sets both css and xpath", css)
	case css != "":
		if _, err := cascadia.Compile(css); err != nil {
			return fmt.Errorf("compile css %q: %w", css, err)
		}
	default:
		if _, err := xpath.Compile(xp); err != nil {
			return fmt.Errorf("compile xpath %q: %w", xp, err)
		}
	}
	return nil
}

// Values returns the trimmed, non-empty values of every node the locator
// matches, in document order.
func (l Locator) Values(doc *goquery.Document) ([]string, error) {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil, errors.New("empty document")
	}
	if css := strings.TrimSpace(l.CSS); css != "" {
		sel, err := cascadia.Compile(css)
		if err != nil {
			return nil, fmt.Errorf("compile css %q: %w", css, err)
		}
		var out []string
		doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
			var v string
			if l.Attr != "" {
				v, _ = s.Attr(l.Attr)
			} else {
				v = s.Text()
			}
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		})
		return out, nil
	}

	expr, err := xpath.Compile(strings.TrimSpace(l.XPath))
	if err != nil {
		return nil, fmt.Errorf("compile xpath %q: %w", l.XPath, err)
	}
	var out []string
	for _, n := range htmlquery.QuerySelectorAll(doc.Nodes[0], expr) {
		var v string
		if l.Attr != "" {
			v = htmlquery.SelectAttr(n, l.Attr)
		} else {
			v = htmlquery.InnerText(n)
		}
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out, nil
}

// First evaluates locators in order and returns the values of the first one
// that matched anything, together with that locator. Errors from malformed
// locators tried along the way are joined and returned even when a later
// locator matched.
func First(doc *goquery.Document, locators []Locator) ([]string, Locator, error) {
	var errs []error
	for _, l := range locators {
		vals, err := l.Values(doc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l, err))
			continue
		}
		if len(vals) > 0 {
			return vals, l, errors.Join(errs...)
		}
	}
	return nil, Locator{}, errors.Join(errs...)
}

func validateLocators(field string, locators []Locator) error {
	for i, l := range locators {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("%s[%d]: %w", field, i, err)
		}
	}
	return nil
}

// Validate checks every locator and the remove list compile.
func (p Profile) Validate() error {
	if len(p.Title) == 0 {
		return errors.New("profile.title needs at least one locator")
	}
	if len(p.Body) == 0 {
		return errors.New("profile.body needs at least one locator")
	}
	fields := []struct {
		name string
		locs []Locator
	}{
		{"profile.title", p.Title},
		{"profile.body", p.Body},
		{"profile.author", p.Author},
		{"profile.date", p.Date},
		{"profile.tags", p.Tags},
		{"profile.canonical", p.Canonical},
	}
	for _, f := range fields {
		if err := validateLocators(f.name, f.locs); err != nil {
			return err
		}
	}
	for i, css := range p.Remove {
		if _, err := cascadia.Compile(css); err != nil {
			return fmt.Errorf("profile.remove[%d]: compile css %q: %w", i, css, err)
		}
	}
	return nil
}

package providers

import (
	"net/url"
	"strings"
	"time"
)

const (
	// Supported discovery strategies.
	StrategyRSS     = "rss"
	StrategyArchive = "archive"
	StrategySitemap = "sitemap"

	// Archive template kinds.
	ArchiveKindListing = "listing"
	ArchiveKindArticle = "article"

	defaultConcurrency  = 1
	defaultRequestDelay = time.Second
	defaultRetryCount   = 2
	defaultLookbackDays = 1
	maxConcurrency      = 16
)

// Provider is a news site the harvester collects articles from: how its
// candidates are discovered and where each field lives on its pages.
type Provider struct {
	ID             string            `json:"id" yaml:"id"`
	Name           string            `json:"name" yaml:"name"`
	Enabled        *bool             `json:"enabled" yaml:"enabled"`
	Discovery      Discovery         `json:"discovery" yaml:"discovery"`
	Profile        Profile           `json:"profile" yaml:"profile"`
	Timezone       string            `json:"timezone" yaml:"timezone"`
	Locale         string            `json:"locale" yaml:"locale"`
	Concurrency    int               `json:"concurrency" yaml:"concurrency"`
	RequestDelayMS *int              `json:"request_delay_ms" yaml:"request_delay_ms"`
	RetryCount     *int              `json:"retry_count" yaml:"retry_count"`
	Headers        map[string]string `json:"headers" yaml:"headers"`
	AllowedDomains []string          `json:"allowed_domains" yaml:"allowed_domains"`
}

// Discovery selects and configures the discovery strategy.
type Discovery struct {
	Strategy string         `json:"strategy" yaml:"strategy"`
	Feeds    []string       `json:"feeds" yaml:"feeds"`
	Sitemaps []string       `json:"sitemaps" yaml:"sitemaps"`
	Archive  *ArchiveConfig `json:"archive" yaml:"archive"`
}

// ArchiveConfig describes date-addressed URLs. Template placeholders are
// {yyyy}, {mm} and {dd}.
type ArchiveConfig struct {
	Template     string    `json:"template" yaml:"template"`
	Kind         string    `json:"kind" yaml:"kind"`
	Links        []Locator `json:"links" yaml:"links"`
	LookbackDays int       `json:"lookback_days" yaml:"lookback_days"`
}

// EnabledValue returns enabled flag defaulting to true.
func (p Provider) EnabledValue() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

// SourceName is the human readable publisher name stamped on records.
func (p Provider) SourceName() string {
	if strings.TrimSpace(p.Name) != "" {
		return p.Name
	}
	return p.ID
}

// RequestDelay is the politeness delay between requests to this provider.
func (p Provider) RequestDelay() time.Duration {
	if p.RequestDelayMS == nil {
		return defaultRequestDelay
	}
	if *p.RequestDelayMS <= 0 {
		return 0
	}
	return time.Duration(*p.RequestDelayMS) * time.Millisecond
}

// Retries is the number of retries for transient fetch failures.
func (p Provider) Retries() int {
	if p.RetryCount == nil || *p.RetryCount < 0 {
		return defaultRetryCount
	}
	return *p.RetryCount
}

// Workers is the per-provider concurrency ceiling.
func (p Provider) Workers() int {
	switch {
	case p.Concurrency <= 0:
		return defaultConcurrency
	case p.Concurrency > maxConcurrency:
		return maxConcurrency
	default:
		return p.Concurrency
	}
}

// Location returns the provider timezone, UTC when unset or unknown.
func (p Provider) Location() *time.Location {
	if strings.TrimSpace(p.Timezone) == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasArchive reports whether date-addressed discovery is configured.
func (p Provider) HasArchive() bool {
	return p.Discovery.Archive != nil && strings.TrimSpace(p.Discovery.Archive.Template) != ""
}

// LookbackDays is the archive range used when a session has no lower bound.
func (p Provider) LookbackDays() int {
	if p.Discovery.Archive == nil || p.Discovery.Archive.LookbackDays <= 0 {
		return defaultLookbackDays
	}
	return p.Discovery.Archive.LookbackDays
}

// AllowsURL reports whether the URL host belongs to one of the allowed
// domains. Providers without an allow list accept any http(s) URL.
func (p Provider) AllowsURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	if len(p.AllowedDomains) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range p.AllowedDomains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// Headers returns a copy of the provider's request headers.
func Headers(cfg Provider) map[string]string {
	if len(cfg.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		out[k] = v
	}
	return out
}

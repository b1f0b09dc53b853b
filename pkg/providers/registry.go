package providers

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goodsign/monday"
	"gopkg.in/yaml.v3"

	"github.com/Adda-Baaj/khobor-scrapers/pkg/dates"
)

//go:embed defaults.yaml
var defaultProvidersYAML []byte

// configFile represents the structure of the providers configuration file.
type configFile struct {
	Providers []Provider `json:"providers" yaml:"providers"`
}

// Registry holds validated provider definitions in declaration order.
type Registry struct {
	mu        sync.RWMutex
	providers []Provider
	idx       map[string]Provider
}

// LoadRegistry loads providers from a YAML/JSON file. An empty path loads the
// built-in provider set.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultRegistry()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open providers file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	return ParseRegistry([]byte(os.ExpandEnv(string(raw))), filepath.Ext(path))
}

// DefaultRegistry returns the embedded provider set.
func DefaultRegistry() (*Registry, error) {
	return ParseRegistry(defaultProvidersYAML, ".yaml")
}

// ParseRegistry decodes, sanitizes and validates provider definitions.
func ParseRegistry(data []byte, ext string) (*Registry, error) {
	fileReg, err := parseProviderFile(data, ext)
	if err != nil {
		return nil, err
	}
	if len(fileReg.Providers) == 0 {
		return nil, errors.New("providers file contains no providers entries")
	}

	reg := &Registry{
		providers: make([]Provider, len(fileReg.Providers)),
		idx:       make(map[string]Provider, len(fileReg.Providers)),
	}
	for i := range fileReg.Providers {
		cfg := sanitizeProvider(fileReg.Providers[i])
		if err := validateProvider(cfg); err != nil {
			return nil, fmt.Errorf("providers[%d]: %w", i, err)
		}
		key := strings.ToLower(cfg.ID)
		if _, exists := reg.idx[key]; exists {
			return nil, fmt.Errorf("duplicate provider id %q", cfg.ID)
		}
		reg.providers[i] = cfg
		reg.idx[key] = cfg
	}
	return reg, nil
}

func parseProviderFile(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		ext string
		fn  func([]byte, any) error
	}{
		{ext: ".yaml", fn: yaml.Unmarshal},
		{ext: ".yml", fn: yaml.Unmarshal},
		{ext: ".json", fn: json.Unmarshal},
	}

	var errs []error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg configFile
		if err := d.fn(data, &reg); err != nil {
			errs = append(errs, fmt.Errorf("decode %s providers: %w", strings.TrimPrefix(d.ext, "."), err))
			continue
		}
		return reg, nil
	}
	if len(errs) > 0 {
		return configFile{}, errors.Join(errs...)
	}
	return configFile{}, errors.New("providers file format not recognized (expected YAML or JSON)")
}

// sanitizeProvider trims and normalizes provider fields.
func sanitizeProvider(cfg Provider) Provider {
	cfg.ID = strings.TrimSpace(cfg.ID)
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.Timezone = strings.TrimSpace(cfg.Timezone)
	cfg.Locale = strings.TrimSpace(cfg.Locale)
	if cfg.Enabled == nil {
		def := true
		cfg.Enabled = &def
	}

	d := cfg.Discovery
	d.Strategy = strings.ToLower(strings.TrimSpace(d.Strategy))
	d.Feeds = trimList(d.Feeds)
	d.Sitemaps = trimList(d.Sitemaps)
	if d.Archive != nil {
		a := *d.Archive
		a.Template = strings.TrimSpace(a.Template)
		a.Kind = strings.ToLower(strings.TrimSpace(a.Kind))
		if a.Kind == "" {
			a.Kind = ArchiveKindArticle
		}
		d.Archive = &a
	}
	cfg.Discovery = d

	cfg.Profile.Remove = trimList(cfg.Profile.Remove)
	cfg.Profile.DateLayouts = trimList(cfg.Profile.DateLayouts)
	cfg.Profile.URLDatePattern = strings.TrimSpace(cfg.Profile.URLDatePattern)
	cfg.Headers = sanitizeHeaders(cfg.Headers)
	cfg.AllowedDomains = trimList(cfg.AllowedDomains)
	return cfg
}

func trimList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// sanitizeHeaders trims and removes empty headers.
func sanitizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// validateProvider checks that the provider can be crawled as declared.
func validateProvider(cfg Provider) error {
	if cfg.ID == "" {
		return errors.New("id is required")
	}

	d := cfg.Discovery
	switch d.Strategy {
	case StrategyRSS:
		if len(d.Feeds) == 0 {
			return fmt.Errorf("discovery.feeds is required for rss provider %q", cfg.ID)
		}
	case StrategySitemap:
		if len(d.Sitemaps) == 0 {
			return fmt.Errorf("discovery.sitemaps is required for sitemap provider %q", cfg.ID)
		}
	case StrategyArchive:
		if !cfg.HasArchive() {
			return fmt.Errorf("discovery.archive.template is required for archive provider %q", cfg.ID)
		}
	case "":
		return fmt.Errorf("discovery.strategy is required for provider %q", cfg.ID)
	default:
		return fmt.Errorf("discovery strategy %q not supported for provider %q", d.Strategy, cfg.ID)
	}
	if d.Archive != nil {
		if err := validateArchive(*d.Archive); err != nil {
			return fmt.Errorf("provider %q: %w", cfg.ID, err)
		}
	}

	if err := cfg.Profile.Validate(); err != nil {
		return fmt.Errorf("provider %q: %w", cfg.ID, err)
	}
	if cfg.Profile.URLDatePattern != "" {
		if _, err := dates.CompileURLPattern(cfg.Profile.URLDatePattern); err != nil {
			return fmt.Errorf("provider %q: %w", cfg.ID, err)
		}
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("provider %q timezone: %w", cfg.ID, err)
		}
	}
	if cfg.Locale != "" && !knownLocale(cfg.Locale) {
		return fmt.Errorf("provider %q locale %q not supported", cfg.ID, cfg.Locale)
	}
	if cfg.RequestDelayMS != nil && *cfg.RequestDelayMS < 0 {
		return fmt.Errorf("provider %q request_delay_ms must not be negative", cfg.ID)
	}
	return nil
}

func validateArchive(a ArchiveConfig) error {
	if a.Template == "" {
		return nil
	}
	if !strings.Contains(a.Template, "{yyyy}") {
		return fmt.Errorf("archive template %q has no {yyyy} placeholder", a.Template)
	}
	switch a.Kind {
	case ArchiveKindArticle:
	case ArchiveKindListing:
		if len(a.Links) == 0 {
			return errors.New("archive.links is required for listing archives")
		}
		if err := validateLocators("archive.links", a.Links); err != nil {
			return err
		}
	default:
		return fmt.Errorf("archive kind %q not supported", a.Kind)
	}
	return nil
}

func knownLocale(name string) bool {
	for _, l := range monday.ListLocales() {
		if string(l) == name {
			return true
		}
	}
	return false
}

// ByID returns the provider by id, case-insensitively.
func (r *Registry) ByID(id string) (Provider, bool) {
	if r == nil {
		return Provider{}, false
	}

	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return Provider{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.idx[id]
	return cfg, ok
}

// All returns all configured providers.
func (r *Registry) All() []Provider {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Enabled returns enabled providers. A non-empty only list restricts the
// result to those ids, enabled or not; unknown ids are reported.
func (r *Registry) Enabled(only ...string) ([]Provider, error) {
	if r == nil {
		return nil, nil
	}

	var wanted []string
	for _, id := range only {
		if id = strings.TrimSpace(id); id != "" {
			wanted = append(wanted, id)
		}
	}

	if len(wanted) > 0 {
		out := make([]Provider, 0, len(wanted))
		for _, id := range wanted {
			cfg, ok := r.ByID(id)
			if !ok {
				return nil, fmt.Errorf("unknown provider %q", id)
			}
			out = append(out, cfg)
		}
		return out, nil
	}

	all := r.All()
	out := make([]Provider, 0, len(all))
	for _, cfg := range all {
		if cfg.EnabledValue() {
			out = append(out, cfg)
		}
	}
	return out, nil
}

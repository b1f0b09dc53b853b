// Package config resolves harvester settings from flags, HARVESTER_*
// environment variables and an optional .env file, in that precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "HARVESTER"

const (
	defaultUserAgent   = "khobor-scrapers/1.0 (+https://github.com/Adda-Baaj/khobor-scrapers)"
	defaultHTTPTimeout = 15 * time.Second
	defaultStatePath   = "data/harvester.db"
)

// Config is the resolved application configuration.
type Config struct {
	LogLevel  string
	LogFormat string

	ProvidersFile  string
	Only           []string
	PublishersFile string
	StatePath      string

	HTTPTimeout time.Duration
	UserAgent   string
	ObeyRobots  bool
	MaxInFlight int

	Since        *time.Time
	MaxItems     int
	MaxDuration  time.Duration
	LookbackDays int
	PersistDedup bool

	Schedule string
}

// flagKeys maps flag names to viper keys.
var flagKeys = map[string]string{
	"log-level":     "log.level",
	"log-format":    "log.format",
	"providers":     "providers.file",
	"only":          "providers.only",
	"publishers":    "publishers.file",
	"state":         "state.path",
	"timeout":       "http.timeout",
	"user-agent":    "http.user_agent",
	"max-in-flight": "http.max_in_flight",
	"obey-robots":   "robots.obey",
	"since":         "session.since",
	"max-items":     "session.max_items",
	"max-duration":  "session.max_duration",
	"lookback-days": "archive.lookback_days",
	"persist-dedup": "dedup.persist",
	"schedule":      "schedule",
}

// Load parses args (without the program name) and returns the merged config.
func Load(args []string) (Config, error) {
	fs := pflag.NewFlagSet("harvester", pflag.ContinueOnError)
	envFile := fs.String("env-file", ".env", "dotenv file loaded before reading the environment")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.String("log-format", "json", "log encoding (json or console)")
	fs.String("providers", "", "providers YAML/JSON file (built-in providers when empty)")
	fs.StringSlice("only", nil, "crawl only these provider ids")
	fs.String("publishers", "", "publishers YAML/JSON file (stdout when empty)")
	fs.String("state", defaultStatePath, "bbolt state file")
	fs.Duration("timeout", defaultHTTPTimeout, "HTTP request timeout")
	fs.String("user-agent", defaultUserAgent, "User-Agent for every request")
	fs.Int("max-in-flight", 16, "concurrent page fetches across providers")
	fs.Bool("obey-robots", true, "honor robots.txt")
	fs.String("since", "", "inclusive lower bound for publication dates (YYYY-MM-DD or RFC3339)")
	fs.Int("max-items", 0, "stop after emitting this many records (0 = unlimited)")
	fs.Duration("max-duration", 0, "stop a session after this long (0 = unlimited)")
	fs.Int("lookback-days", 0, "archive days covered when --since is not set (0 = provider default)")
	fs.Bool("persist-dedup", false, "reject records emitted in earlier sessions")
	fs.String("schedule", "", "cron spec for repeated sessions (empty = run once)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(*envFile); err != nil {
		return Config{}, err
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	cfg := Config{
		LogLevel:       v.GetString("log.level"),
		LogFormat:      v.GetString("log.format"),
		ProvidersFile:  strings.TrimSpace(v.GetString("providers.file")),
		Only:           splitList(v.GetStringSlice("providers.only")),
		PublishersFile: strings.TrimSpace(v.GetString("publishers.file")),
		StatePath:      strings.TrimSpace(v.GetString("state.path")),
		HTTPTimeout:    v.GetDuration("http.timeout"),
		UserAgent:      strings.TrimSpace(v.GetString("http.user_agent")),
		MaxInFlight:    v.GetInt("http.max_in_flight"),
		ObeyRobots:     v.GetBool("robots.obey"),
		MaxItems:       v.GetInt("session.max_items"),
		MaxDuration:    v.GetDuration("session.max_duration"),
		LookbackDays:   v.GetInt("archive.lookback_days"),
		PersistDedup:   v.GetBool("dedup.persist"),
		Schedule:       strings.TrimSpace(v.GetString("schedule")),
	}

	since, err := ParseSince(v.GetString("session.since"))
	if err != nil {
		return Config{}, err
	}
	cfg.Since = since

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// ParseSince accepts YYYY-MM-DD (midnight UTC) or RFC3339. Empty means no bound.
func ParseSince(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("session.since %q: expected YYYY-MM-DD or RFC3339", raw)
	}
	return &t, nil
}

func (c Config) validate() error {
	if c.HTTPTimeout <= 0 {
		return errors.New("http.timeout must be positive")
	}
	if c.MaxItems < 0 {
		return errors.New("session.max_items must not be negative")
	}
	if c.MaxDuration < 0 {
		return errors.New("session.max_duration must not be negative")
	}
	if c.LookbackDays < 0 {
		return errors.New("archive.lookback_days must not be negative")
	}
	if c.PersistDedup && c.StatePath == "" {
		return errors.New("dedup.persist requires state.path")
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("schedule %q: %w", c.Schedule, err)
		}
	}
	return nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

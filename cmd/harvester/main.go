// Command harvester discovers news articles from the configured providers,
// extracts and validates them, and hands the records to the configured
// publishers. It runs one session, or repeats sessions on a cron schedule
// until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/Adda-Baaj/khobor-scrapers/internal/config"
	"github.com/Adda-Baaj/khobor-scrapers/internal/crawler"
	"github.com/Adda-Baaj/khobor-scrapers/internal/logger"
	"github.com/Adda-Baaj/khobor-scrapers/internal/pipeline"
	"github.com/Adda-Baaj/khobor-scrapers/internal/store"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/httpclient"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/providers"
	"github.com/Adda-Baaj/khobor-scrapers/pkg/publishers"
)

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}

func run(args []string, report io.Writer) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg, err := providers.LoadRegistry(cfg.ProvidersFile)
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}
	provs, err := reg.Enabled(cfg.Only...)
	if err != nil {
		return err
	}
	if len(provs) == 0 {
		return errors.New("no enabled providers")
	}
	provs = withLookback(provs, cfg.LookbackDays)

	var (
		markers providers.MarkerStore
		seen    pipeline.SeenStore
	)
	if cfg.StatePath != "" {
		state, err := store.Open(cfg.StatePath)
		if err != nil {
			return err
		}
		defer state.Close()
		markers = state
		if cfg.PersistDedup {
			seen = state
		}
	}

	sink, err := publishers.Open(ctx, cfg.PublishersFile, log)
	if err != nil {
		return fmt.Errorf("publishers: %w", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.ErrorObj("closing publishers failed", "publisher_close_failed", map[string]any{"error": err.Error()})
		}
	}()

	feedClient := httpclient.NewRestyClient(cfg.HTTPTimeout, httpclient.WithUserAgent(cfg.UserAgent))
	c, err := crawler.New(crawler.Deps{
		Discoverers: providers.DefaultDiscovererRegistry(feedClient, markers, log),
		Sink:        sink,
		Seen:        seen,
		Markers:     markers,
		Log:         log,
	}, crawler.Options{
		Since:       cfg.Since,
		MaxItems:    cfg.MaxItems,
		MaxDuration: cfg.MaxDuration,
		MaxInFlight: cfg.MaxInFlight,
		ObeyRobots:  cfg.ObeyRobots,
		UserAgent:   cfg.UserAgent,
		Timeout:     cfg.HTTPTimeout,
	})
	if err != nil {
		return err
	}

	session := func() {
		sum := c.Run(ctx, provs)
		sum.Write(report)
	}

	if cfg.Schedule == "" {
		session()
		return nil
	}

	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sched.AddFunc(cfg.Schedule, session); err != nil {
		return fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	log.InfoObj("scheduler started", "scheduler_start", map[string]any{
		"schedule":  cfg.Schedule,
		"providers": len(provs),
	})
	sched.Start()
	<-ctx.Done()

	log.InfoObj("shutting down scheduler", "scheduler_stop", nil)
	<-sched.Stop().Done()
	return nil
}

// withLookback overrides the archive lookback of every provider when days > 0.
func withLookback(provs []providers.Provider, days int) []providers.Provider {
	if days <= 0 {
		return provs
	}
	out := make([]providers.Provider, len(provs))
	for i, p := range provs {
		if p.Discovery.Archive != nil {
			archive := *p.Discovery.Archive
			archive.LookbackDays = days
			p.Discovery.Archive = &archive
		}
		out[i] = p
	}
	return out
}

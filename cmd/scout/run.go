package main

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/FranksOps/scout/internal/bypass"
	"github.com/FranksOps/scout/internal/config"
	"github.com/FranksOps/scout/internal/discovery"
	"github.com/FranksOps/scout/internal/dork"
	"github.com/FranksOps/scout/internal/fingerprint"
	"github.com/FranksOps/scout/internal/logging"
	"github.com/FranksOps/scout/internal/metrics"
	"github.com/FranksOps/scout/internal/pipeline"
	"github.com/FranksOps/scout/internal/report"
	"github.com/FranksOps/scout/internal/scraper"
	"github.com/FranksOps/scout/internal/serp"
	"github.com/FranksOps/scout/internal/storage/textsink"
	"github.com/FranksOps/scout/pkg/proxy"
	"github.com/FranksOps/scout/pkg/useragent"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func registerRunFlags(cmd *cobra.Command) {
	config.RegisterFlags(cmd.Flags())
}

func runScout(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(cmd.Flags(), configPath)
	if err != nil {
		return usageError(err)
	}
	if err := cfg.Validate(); err != nil {
		return usageError(err)
	}

	logger, logCloser, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, cmd.ErrOrStderr())
	if err != nil {
		return usageError(err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if suffix, icann := dork.PublicSuffix(cfg.Domain); !icann {
		logger.Warn("domain does not end in an ICANN public suffix; check for typos",
			"domain", cfg.Domain, "public_suffix", suffix)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profile, _ := dork.Lookup(cfg.CMS)
	mode, _ := textsink.ParseMode(cfg.Mode)
	fp, _ := fingerprint.ParseProfile(cfg.Fingerprint)
	format, _ := report.ParseFormat(cfg.Report)
	runID := uuid.NewString()

	proxies, providerProxy, err := buildProxies(cfg)
	if err != nil {
		return usageError(err)
	}
	uas := useragent.NewPool(nil)

	sink, err := textsink.Open(cfg.Output, mode)
	if err != nil {
		return failureError(err)
	}
	defer sink.Close()

	seen, err := openLedger(ctx, cfg.Ledger)
	if err != nil {
		return failureError(err)
	}
	defer seen.Close()

	p := &pipeline.Pipeline{
		Ledger: seen,
		Output: sink,
		Mode:   mode,
		Limit:  cfg.Limit,
		Delay:  cfg.DelayDuration(),
		Logger: logger,
		RunID:  runID,
	}

	if cfg.Store != "" {
		store, err := openStore(ctx, cfg.Store)
		if err != nil {
			return failureError(err)
		}
		defer store.Close()
		p.Store = store
	}

	provider, err := serp.NewCustomSearch(serp.CustomSearchConfig{
		Endpoint: cfg.ProviderEndpoint,
		Timeout:  cfg.ProviderTimeout,
		Proxy:    providerProxy,
		RPS:      cfg.ProviderRPS,
	})
	if err != nil {
		return usageError(err)
	}
	defer provider.Close()

	opts := discovery.Options{
		Generator:       profile.Generate,
		Provider:        provider,
		Credentials:     cfg.Credentials,
		TotalLimit:      cfg.Limit,
		PerQueryLimit:   cfg.PerQuery,
		Delay:           cfg.DelayDuration(),
		FailoverBackoff: cfg.FailoverBackoff,
		Logger:          logger,
	}
	if cfg.Fallback {
		searchFetcher, err := scraper.NewFetcher(scraper.FetchConfig{
			Timeout:      cfg.FetchTimeout,
			UseCookieJar: true,
			ProxyPool:    proxies,
			UAPool:       uas,
			Fingerprint:  fp,
			Detectors:    bypass.SearchDetectors(),
			RunID:        runID,
		})
		if err != nil {
			return usageError(err)
		}
		opts.Fallback = serp.NewGoogleScrape(searchFetcher, cfg.FallbackHost, logger)
	}
	p.Discoverer = discovery.New(opts)

	if mode == textsink.ModeContent {
		fetcher, err := scraper.NewFetcher(scraper.FetchConfig{
			Timeout:            cfg.FetchTimeout,
			ProxyPool:          proxies,
			UAPool:             uas,
			Fingerprint:        fp,
			InsecureSkipVerify: cfg.Insecure,
			RunID:              runID,
		})
		if err != nil {
			return usageError(err)
		}
		var robots *scraper.Robots
		if cfg.RespectRobots {
			robots = scraper.NewRobots(fetcher, "scout", logger)
		}
		p.Extractor = scraper.NewExtractor(fetcher, robots, logger)
	}

	logger.Info("scout starting", "version", version, "run_id", runID, "domain", cfg.Domain,
		"cms", profile.Name, "mode", mode, "credentials", len(cfg.Credentials), "fallback", cfg.Fallback)

	var sum pipeline.Summary
	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	if cfg.MetricsPort > 0 {
		srv := metrics.NewServer(cfg.MetricsPort, logger)
		g.Go(func() error { return srv.Run(metricsCtx) })
	}
	g.Go(func() error {
		defer stopMetrics()
		var err error
		sum, err = p.Run(gctx, cfg.Domain)
		return err
	})
	runErr := g.Wait()

	if err := report.WriteRun(cmd.OutOrStdout(), format, sum); err != nil {
		logger.Error("write run summary failed", "err", err)
	}

	switch {
	case runErr == nil:
		if sum.New == 0 {
			logger.Info("no new sites found", "domain", cfg.Domain, "found", sum.Found)
		}
		return nil
	case errors.Is(runErr, context.Canceled) && ctx.Err() != nil:
		logger.Warn("run interrupted", "written", sum.Written, "new", sum.New)
		return &exitError{code: exitInterrupted, err: runErr}
	default:
		return failureError(runErr)
	}
}

// buildProxies returns the rotating pool for scraped requests and the fixed
// proxy for the search API. Both are nil when no proxy is configured.
func buildProxies(cfg *config.Config) (*proxy.Pool, *url.URL, error) {
	pool := proxy.NewPool(proxy.Config{})
	var fixed *url.URL

	if cfg.Proxy != "" {
		u, err := proxy.Parse(cfg.Proxy)
		if err != nil {
			return nil, nil, err
		}
		fixed = u
		if err := pool.Add(cfg.Proxy); err != nil {
			return nil, nil, err
		}
	}
	if cfg.ProxyFile != "" {
		if err := pool.LoadFile(cfg.ProxyFile); err != nil {
			return nil, nil, err
		}
	}

	if pool.Len() == 0 {
		return nil, nil, nil
	}
	return pool, fixed, nil
}

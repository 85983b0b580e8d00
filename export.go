package main

import (
	"context"
	"fmt"
	"time"

	"github.com/olgasafonova/wikicat/internal/enumerate"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
	"github.com/olgasafonova/wikicat/internal/output"
	"github.com/olgasafonova/wikicat/metrics"
)

// newClient builds the API client shared by export and serve.
func (a *app) newClient(opts ...mediawiki.ClientOption) *mediawiki.Client {
	opts = append([]mediawiki.ClientOption{mediawiki.WithLogger(a.logger)}, opts...)
	if a.httpClient != nil {
		opts = append(opts, mediawiki.WithHTTPClient(a.httpClient))
	}
	return mediawiki.NewClient(mediawiki.ClientConfig{
		Endpoint:  a.cfg.Endpoint,
		UserAgent: a.cfg.UserAgent,
		Timeout:   a.cfg.Timeout,
	}, opts...)
}

// runExport enumerates the configured category and writes its titles to the output
// file. Nothing is written unless the enumeration completes.
func (a *app) runExport(ctx context.Context) error {
	cfg := a.cfg
	defer a.setupTracing(ctx)()

	a.logger.Info("Starting export",
		"category", cfg.Category,
		"endpoint", cfg.Endpoint,
		"output", cfg.OutputPath,
	)

	progress := enumerate.NewDotProgress(a.stdout)
	enumerator := enumerate.New(a.newClient(), enumerate.Options{
		BatchSize:  cfg.BatchSize,
		Delay:      cfg.Delay,
		RetryMode:  cfg.RetryMode,
		MaxRetries: cfg.MaxRetries,
		Progress:   progress,
		Logger:     a.logger,
	})

	start := time.Now()
	result, err := enumerator.Run(ctx, cfg.Category)
	if progress.Steps() > 0 {
		fmt.Fprintln(a.stdout)
	}
	if err != nil {
		a.pushMetrics(mediawiki.NormalizeCategory(cfg.Category))
		return err
	}

	fmt.Fprintf(a.stdout, "Found %d categories.\n", len(result.Members))

	if err := output.WriteTitles(cfg.OutputPath, result.Members); err != nil {
		return err
	}

	a.logger.Info("Export complete",
		"category", result.Category,
		"members", len(result.Members),
		"fetches", result.Fetches,
		"retries", result.Retries,
		"output", cfg.OutputPath,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	a.pushMetrics(result.Category)
	return nil
}

// pushMetrics sends run metrics to the Pushgateway when one is configured.
// A failed push is logged, never fatal.
func (a *app) pushMetrics(category string) {
	if a.cfg.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(a.cfg.PushgatewayURL, category); err != nil {
		a.logger.Warn("Metrics push failed", "error", err)
		return
	}
	a.logger.Debug("Metrics pushed", "gateway", a.cfg.PushgatewayURL)
}

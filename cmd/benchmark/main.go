package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/olgasafonova/wikicat/internal/config"
	"github.com/olgasafonova/wikicat/internal/enumerate"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
	"github.com/olgasafonova/wikicat/tools"
)

// batchSizes compared by measurePageLatency
var batchSizes = []int{50, 100, 250, 500}

// measurePageLatency times a single first-page request for several cmlimit values
func measurePageLatency(ctx context.Context, w io.Writer, client *mediawiki.Client, cfg *config.Config) {
	fmt.Fprintln(w, "1. First Page Latency by Batch Size:")

	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignRight},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{Borders: tw.BorderNone}),
	)
	table.Header("cmlimit", "members", "latency", "per member")

	for _, size := range batchSizes {
		start := time.Now()
		batch, err := client.FetchCategoryMembers(ctx, mediawiki.MembersRequest{
			Category: mediawiki.NormalizeCategory(cfg.Category),
			Limit:    size,
		})
		if err != nil {
			fmt.Fprintf(w, "   cmlimit=%d Error: %v\n", size, err)
			return
		}
		elapsed := time.Since(start)
		perMember := elapsed / time.Duration(max(len(batch.Members), 1))
		row := []string{
			strconv.Itoa(size),
			strconv.Itoa(len(batch.Members)),
			elapsed.Round(time.Millisecond).String(),
			perMember.Round(time.Microsecond).String(),
		}
		if err := table.Append(row); err != nil {
			fmt.Fprintf(w, "   Error: %v\n", err)
			return
		}
		time.Sleep(cfg.Delay)
	}

	if err := table.Render(); err != nil {
		fmt.Fprintf(w, "   Error: %v\n", err)
	}
	fmt.Fprintln(w)
}

// measureEnumeration runs a complete enumeration at the configured batch size
func measureEnumeration(ctx context.Context, client *mediawiki.Client, cfg *config.Config, logger *slog.Logger) {
	fmt.Println("2. Full Enumeration:")

	enumerator := enumerate.New(client, enumerate.Options{
		BatchSize:  cfg.BatchSize,
		Delay:      cfg.Delay,
		MaxRetries: cfg.MaxRetries,
		Logger:     logger,
	})

	start := time.Now()
	result, err := enumerator.Run(ctx, cfg.Category)
	if err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	elapsed := time.Since(start)

	fmt.Printf("   Category:  %s\n", result.Category)
	fmt.Printf("   Members:   %d\n", len(result.Members))
	fmt.Printf("   Pages:     %d (%d retries)\n", result.Fetches, result.Retries)
	fmt.Printf("   Total:     %v\n", elapsed)
	pacing := cfg.Delay * time.Duration(max(result.Attempts-1, 0))
	fmt.Printf("   Pacing:    %v of courtesy delay\n", pacing)
	fmt.Println()
}

// measureCachePerformance compares a fresh and a cached MCP tool call
func measureCachePerformance(ctx context.Context, client *mediawiki.Client, cfg *config.Config, logger *slog.Logger) {
	fmt.Println("3. MCP Tool Cache Test:")

	service := tools.NewCategoryService(client, enumerate.Options{
		BatchSize:  cfg.BatchSize,
		Delay:      cfg.Delay,
		MaxRetries: cfg.MaxRetries,
	}, logger)
	args := tools.ListMembersArgs{Category: cfg.Category}

	start := time.Now()
	if _, err := service.ListCategoryMembers(ctx, args); err != nil {
		fmt.Printf("   Error: %v\n", err)
		return
	}
	firstCall := time.Since(start)
	fmt.Printf("   First call (network):  %v\n", firstCall)

	start = time.Now()
	_, _ = service.ListCategoryMembers(ctx, args)
	secondCall := time.Since(start)
	fmt.Printf("   Second call (cached):  %v\n", secondCall)
	fmt.Printf("   Speedup: %.0fx faster\n", float64(firstCall)/float64(max(secondCall, time.Nanosecond)))
	fmt.Println()
}

func main() {
	cfg, err := config.Load("", nil)
	if err != nil {
		fmt.Printf("Config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	client := mediawiki.NewClient(mediawiki.ClientConfig{
		Endpoint:  cfg.Endpoint,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.Timeout,
	}, mediawiki.WithLogger(logger))
	ctx := context.Background()

	fmt.Println("wikicat - Performance Measurements")
	fmt.Println("==================================")
	fmt.Printf("Endpoint: %s\nCategory: %s\n\n", cfg.Endpoint, cfg.Category)

	measurePageLatency(ctx, os.Stdout, client, cfg)
	measureEnumeration(ctx, client, cfg, logger)
	measureCachePerformance(ctx, client, cfg, logger)
}

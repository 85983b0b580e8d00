// wikicat exports every page title in a MediaWiki category to a text file,
// one title per line. `wikicat serve` exposes the same enumeration as an MCP tool.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olgasafonova/wikicat/internal/config"
	"github.com/olgasafonova/wikicat/tracing"
)

const (
	ServerName    = "wikicat"
	ServerVersion = "1.0.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// app carries state shared by the commands of one invocation.
type app struct {
	stdout io.Writer
	stderr io.Writer

	cfgFile string
	verbose bool

	cfg    *config.Config
	logger *slog.Logger

	// httpClient replaces the default API transport when set.
	httpClient *http.Client
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdout: stdout, stderr: stderr}
	return a.rootCmd()
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wikicat",
		Short: "Export all page titles in a MediaWiki category",
		Long: `wikicat lists every page in a MediaWiki category, following API pagination,
and writes the titles to a file, one per line.

Example usage:
  wikicat                                   # Category:Mandarin_idioms from en.wiktionary into 成语.lst
  wikicat -c Chinese_proverbs -o proverbs.lst
  wikicat --endpoint https://fr.wiktionary.org/w/api.php -c "Catégorie:Proverbes en chinois"
  wikicat serve                             # run as an MCP server on stdio`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.initConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runExport(cmd.Context())
		},
	}
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default is .wikicat.yaml)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	config.RegisterFlags(pf)

	root.AddCommand(a.serveCmd(), a.versionCmd())
	return root
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the wikicat version",
		Args:  cobra.NoArgs,
		// No configuration needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", ServerName, buildVersion())
		},
	}
}

// initConfig loads configuration and sets up logging.
func (a *app) initConfig(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	level := parseLevel(cfg.LogLevel)
	if a.verbose {
		level = slog.LevelDebug
	}
	// stdout carries progress output and the MCP protocol
	a.logger = slog.New(tracing.LogHandler(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{
		Level: level,
	})))
	slog.SetDefault(a.logger)

	a.logger.Debug("configuration loaded",
		"category", cfg.Category,
		"endpoint", cfg.Endpoint,
		"batch_size", cfg.BatchSize,
		"delay", cfg.Delay,
		"retry_mode", cfg.RetryMode,
	)
	return nil
}

// setupTracing starts tracing when OTEL_ENABLED or OTEL_EXPORTER_OTLP_ENDPOINT is set.
func (a *app) setupTracing(ctx context.Context) func() {
	tcfg := tracing.DefaultConfig()
	tcfg.ServiceVersion = buildVersion()
	tcfg.Writer = a.stderr

	shutdown, err := tracing.Setup(ctx, tcfg)
	if err != nil {
		a.logger.Warn("Tracing disabled", "error", err)
		return func() {}
	}
	return func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("Failed to flush traces", "error", err)
		}
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return ServerVersion
}

package main

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/olgasafonova/wikicat/internal/enumerate"
	"github.com/olgasafonova/wikicat/internal/infra"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
	"github.com/olgasafonova/wikicat/tools"
)

const serverInstructions = `wikicat lists the pages of MediaWiki categories.

Available tools:
- wiki_list_category_members: Every page title in a category, following pagination

Configure via flags, a .wikicat.yaml file or environment variables:
- WIKICAT_ENDPOINT: Wiki API URL (default https://en.wiktionary.org/w/api.php)
- WIKICAT_BATCH_SIZE: Members per API call (default 500)
- WIKICAT_DELAY: Delay between API calls (default 250ms)`

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run as an MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runServe(cmd.Context(), &mcp.StdioTransport{})
		},
	}
}

// newServer creates the MCP server with every tool registered.
func (a *app) newServer() *mcp.Server {
	breaker := infra.NewCircuitBreaker(infra.DefaultBreakerConfig())
	client := a.newClient(mediawiki.WithCircuitBreaker(breaker))

	categories := tools.NewCategoryService(client, enumerate.Options{
		BatchSize:  a.cfg.BatchSize,
		Delay:      a.cfg.Delay,
		MaxRetries: a.cfg.MaxRetries,
	}, a.logger)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: buildVersion(),
	}, &mcp.ServerOptions{
		Logger:       a.logger,
		Instructions: serverInstructions,
	})
	tools.NewHandlerRegistry(categories, a.logger).RegisterAll(server)
	return server
}

// runServe serves MCP requests on transport until the client disconnects or ctx ends.
func (a *app) runServe(ctx context.Context, transport mcp.Transport) error {
	defer a.setupTracing(ctx)()

	server := a.newServer()
	a.logger.Info("Starting MCP server",
		"name", ServerName,
		"version", buildVersion(),
		"endpoint", a.cfg.Endpoint,
	)

	if err := server.Run(ctx, transport); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

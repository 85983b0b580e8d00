package tools

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/olgasafonova/wikicat/metrics"
	"github.com/olgasafonova/wikicat/tracing"
)

// binder adds one tool to a server with its typed handler.
type binder func(server *mcp.Server, tool *mcp.Tool, spec ToolSpec)

// HandlerRegistry binds the declarative ToolSpecs in AllTools to the
// service methods that implement them.
type HandlerRegistry struct {
	categories *CategoryService
	logger     *slog.Logger
	binders    map[string]binder
}

// NewHandlerRegistry creates a registry serving the given category service.
func NewHandlerRegistry(categories *CategoryService, logger *slog.Logger) *HandlerRegistry {
	h := &HandlerRegistry{
		categories: categories,
		logger:     logger,
	}
	h.binders = map[string]binder{
		"ListCategoryMembers": func(server *mcp.Server, tool *mcp.Tool, spec ToolSpec) {
			register(h, server, tool, spec, h.categories.ListCategoryMembers)
		},
	}
	return h
}

// RegisterAll adds every tool in AllTools to server and returns how many were bound.
func (h *HandlerRegistry) RegisterAll(server *mcp.Server) int {
	registered := 0
	for _, spec := range AllTools {
		if h.bind(server, spec) {
			registered++
		}
	}
	h.logger.Info("Registered tools", "count", registered, "total", len(AllTools))
	return registered
}

// bind reports false when no handler implements spec.Method.
func (h *HandlerRegistry) bind(server *mcp.Server, spec ToolSpec) bool {
	b, ok := h.binders[spec.Method]
	if !ok {
		h.logger.Error("No handler for tool", "tool", spec.Name, "method", spec.Method)
		return false
	}
	b(server, toolFor(spec), spec)
	return true
}

// toolFor converts a spec into the MCP tool advertised to clients.
// Optional hints are left nil unless set.
func toolFor(spec ToolSpec) *mcp.Tool {
	hints := &mcp.ToolAnnotations{
		Title:          spec.Title,
		ReadOnlyHint:   spec.ReadOnly,
		IdempotentHint: spec.Idempotent,
	}
	if spec.Destructive {
		hints.DestructiveHint = ptr(true)
	}
	if spec.OpenWorld {
		hints.OpenWorldHint = ptr(true)
	}
	return &mcp.Tool{
		Name:        spec.Name,
		Description: spec.Description,
		Annotations: hints,
	}
}

func register[Args, Result any](
	h *HandlerRegistry,
	server *mcp.Server,
	tool *mcp.Tool,
	spec ToolSpec,
	method func(context.Context, Args) (Result, error),
) {
	mcp.AddTool(server, tool, func(ctx context.Context, _ *mcp.CallToolRequest, args Args) (_ *mcp.CallToolResult, result Result, err error) {
		defer h.recoverPanic(spec.Name, &err)

		err = h.instrument(ctx, spec, func(ctx context.Context) error {
			var callErr error
			result, callErr = method(ctx, args)
			return callErr
		})
		if err != nil {
			var zero Result
			return nil, zero, fmt.Errorf("%s failed: %w", spec.Name, err)
		}
		h.logExecution(spec, args, result)
		return nil, result, nil
	})
}

// instrument runs call inside a tool span and records its outcome in metrics.
func (h *HandlerRegistry) instrument(ctx context.Context, spec ToolSpec, call func(context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "mcp.tool."+spec.Name)
	defer span.End()
	tracing.AddToolAttributes(span, spec.Name, spec.Category)
	span.SetAttributes(attribute.Bool("mcp.tool.readonly", spec.ReadOnly))

	inFlight := metrics.ToolInFlight.WithLabelValues(spec.Name)
	inFlight.Inc()
	defer inFlight.Dec()

	start := time.Now()
	err := call(ctx)
	elapsed := time.Since(start).Seconds()
	metrics.RecordToolCall(spec.Name, elapsed, err == nil)

	if err != nil {
		tracing.RecordError(span, err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.WarnContext(ctx, "Tool failed", "tool", spec.Name, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// recoverPanic turns a panic in a tool handler into an error result.
func (h *HandlerRegistry) recoverPanic(toolName string, err *error) {
	rec := recover()
	if rec == nil {
		return
	}
	metrics.PanicsRecovered.WithLabelValues(toolName).Inc()
	h.logger.Error("Panic recovered",
		"tool", toolName,
		"panic", rec,
		"stack", string(debug.Stack()))
	if err != nil {
		*err = fmt.Errorf("%s failed: internal error", toolName)
	}
}

// logFields is implemented by tool arguments and results that contribute to
// the execution log line.
type logFields interface {
	logFields() []any
}

func (h *HandlerRegistry) logExecution(spec ToolSpec, args, result any) {
	attrs := []any{"tool", spec.Name}
	for _, v := range []any{args, result} {
		if f, ok := v.(logFields); ok {
			attrs = append(attrs, f.logFields()...)
		}
	}
	h.logger.Info("Tool executed", attrs...)
}

package tools

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/olgasafonova/wikicat/internal/enumerate"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(fetcher enumerate.Fetcher) *HandlerRegistry {
	logger := testLogger()
	return NewHandlerRegistry(NewCategoryService(fetcher, enumerate.Options{}, logger), logger)
}

func TestNewHandlerRegistry(t *testing.T) {
	logger := testLogger()
	service := NewCategoryService(staticWiki("a"), enumerate.Options{}, logger)

	registry := NewHandlerRegistry(service, logger)

	if registry == nil {
		t.Fatal("Expected non-nil registry")
	}
	if registry.categories != service {
		t.Error("Registry should hold the category service reference")
	}
	if _, ok := registry.binders["ListCategoryMembers"]; !ok {
		t.Error("Registry should bind ListCategoryMembers")
	}
}

func TestToolFor(t *testing.T) {
	tests := []struct {
		name      string
		spec      ToolSpec
		wantName  string
		wantDesc  string
		wantRO    bool
		wantIdem  bool
		wantDestr bool
		wantOpen  bool
	}{
		{
			name: "read-only tool",
			spec: ToolSpec{
				Name:        "wiki_list_category_members",
				Title:       "List Category Members",
				Description: "List pages in a category",
				Method:      "ListCategoryMembers",
				ReadOnly:    true,
				Idempotent:  true,
			},
			wantName: "wiki_list_category_members",
			wantDesc: "List pages in a category",
			wantRO:   true,
			wantIdem: true,
		},
		{
			name: "destructive open world tool",
			spec: ToolSpec{
				Name:        "wiki_purge_category",
				Description: "Purge every page in a category",
				Destructive: true,
				OpenWorld:   true,
			},
			wantName:  "wiki_purge_category",
			wantDesc:  "Purge every page in a category",
			wantDestr: true,
			wantOpen:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := toolFor(tt.spec)

			if tool.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", tool.Name, tt.wantName)
			}
			if tool.Description != tt.wantDesc {
				t.Errorf("Description = %q, want %q", tool.Description, tt.wantDesc)
			}
			if tool.Annotations == nil {
				t.Fatal("Expected annotations")
			}
			if tool.Annotations.ReadOnlyHint != tt.wantRO {
				t.Errorf("ReadOnlyHint = %v, want %v", tool.Annotations.ReadOnlyHint, tt.wantRO)
			}
			if tool.Annotations.IdempotentHint != tt.wantIdem {
				t.Errorf("IdempotentHint = %v, want %v", tool.Annotations.IdempotentHint, tt.wantIdem)
			}
			if tt.wantDestr != (tool.Annotations.DestructiveHint != nil && *tool.Annotations.DestructiveHint) {
				t.Errorf("DestructiveHint = %v, want %v", tool.Annotations.DestructiveHint, tt.wantDestr)
			}
			if tt.wantOpen != (tool.Annotations.OpenWorldHint != nil && *tool.Annotations.OpenWorldHint) {
				t.Errorf("OpenWorldHint = %v, want %v", tool.Annotations.OpenWorldHint, tt.wantOpen)
			}
		})
	}
}

func TestRecoverPanic(t *testing.T) {
	registry := newTestRegistry(staticWiki())

	var err error
	func() {
		defer registry.recoverPanic("test_tool", &err)
		panic("test panic")
	}()

	if err == nil || !strings.Contains(err.Error(), "test_tool") {
		t.Errorf("err = %v, want error naming the tool", err)
	}
}

func TestLogExecution(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	registry := NewHandlerRegistry(NewCategoryService(staticWiki(), enumerate.Options{}, logger), logger)
	spec := ToolSpec{Name: "wiki_list_category_members"}

	registry.logExecution(spec,
		ListMembersArgs{Category: "Mandarin_idioms", BatchSize: 500},
		ListMembersResult{Category: "Category:Mandarin_idioms", Count: 2, Fetches: 1})
	for _, want := range []string{"tool=wiki_list_category_members", "category=Mandarin_idioms", "batch_size=500", "count=2", "fetches=1"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("log line missing %q: %s", want, buf.String())
		}
	}

	// Values without log fields contribute nothing
	buf.Reset()
	registry.logExecution(spec, struct{}{}, nil)
	if strings.Contains(buf.String(), "category=") {
		t.Errorf("unexpected fields: %s", buf.String())
	}
}

func TestAllToolsNotEmpty(t *testing.T) {
	if len(AllTools) == 0 {
		t.Fatal("AllTools should not be empty")
	}

	seen := make(map[string]bool)
	for _, spec := range AllTools {
		if spec.Name == "" || spec.Method == "" || spec.Description == "" || spec.Title == "" {
			t.Errorf("Tool %+v is missing required metadata", spec)
		}
		if !strings.HasPrefix(spec.Name, "wiki_") {
			t.Errorf("Tool %q should use the wiki_ prefix", spec.Name)
		}
		if seen[spec.Name] {
			t.Errorf("Duplicate tool name %q", spec.Name)
		}
		seen[spec.Name] = true
	}
}

func TestToolsAreReadOnly(t *testing.T) {
	for _, spec := range AllTools {
		if !spec.ReadOnly || spec.Destructive {
			t.Errorf("Tool %q should be read-only and non-destructive", spec.Name)
		}
		if !spec.OpenWorld {
			t.Errorf("Tool %q talks to a remote wiki and should be open-world", spec.Name)
		}
	}
}

func TestRegisterAll(t *testing.T) {
	registry := newTestRegistry(staticWiki())
	server := mcp.NewServer(&mcp.Implementation{Name: "wikicat-test", Version: "test"}, nil)

	if got := registry.RegisterAll(server); got != len(AllTools) {
		t.Errorf("RegisterAll() = %d, want %d", got, len(AllTools))
	}
}

func TestBind_UnknownMethod(t *testing.T) {
	registry := newTestRegistry(staticWiki())
	server := mcp.NewServer(&mcp.Implementation{Name: "wikicat-test", Version: "test"}, nil)

	if registry.bind(server, ToolSpec{Name: "wiki_unknown", Method: "Unknown"}) {
		t.Error("bind() should reject an unknown method")
	}
}

func connect(t *testing.T, registry *HandlerRegistry) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := mcp.NewServer(&mcp.Implementation{Name: "wikicat-test", Version: "test"}, nil)
	registry.RegisterAll(server)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := server.Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server.Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "test"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect() error = %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestServer_CallListCategoryMembers(t *testing.T) {
	session := connect(t, newTestRegistry(staticWiki("画蛇添足", "对牛弹琴")))

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "wiki_list_category_members",
		Arguments: map[string]any{"category": "Mandarin_idioms"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("CallTool() returned tool error: %+v", res.Content)
	}

	structured, ok := res.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("StructuredContent = %T, want object", res.StructuredContent)
	}
	if structured["category"] != "Category:Mandarin_idioms" {
		t.Errorf("category = %v", structured["category"])
	}
	if structured["count"] != float64(2) {
		t.Errorf("count = %v, want 2", structured["count"])
	}
}

func TestServer_ToolErrorIsReported(t *testing.T) {
	failing := enumerate.FetcherFunc(func(context.Context, mediawiki.MembersRequest) (mediawiki.MembersBatch, error) {
		return mediawiki.MembersBatch{}, errors.New("boom")
	})
	registry := newTestRegistry(failing)
	registry.categories.opts.MaxRetries = 0
	session := connect(t, registry)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "wiki_list_category_members",
		Arguments: map[string]any{"category": "Anything"},
	})
	if err != nil {
		t.Fatalf("CallTool() error = %v", err)
	}
	if !res.IsError {
		t.Error("expected a tool error result")
	}
}

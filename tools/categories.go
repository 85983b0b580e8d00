package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/olgasafonova/wikicat/internal/config"
	"github.com/olgasafonova/wikicat/internal/enumerate"
	wikierrors "github.com/olgasafonova/wikicat/internal/errors"
	"github.com/olgasafonova/wikicat/internal/infra"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
	"github.com/olgasafonova/wikicat/metrics"
)

// MembersCacheTTL is how long a complete member list is reused.
const MembersCacheTTL = 10 * time.Minute

// ListMembersArgs are the arguments of wiki_list_category_members.
type ListMembersArgs struct {
	Category  string `json:"category" jsonschema:"category title; a bare name gets the Category: prefix, local namespace names are kept"`
	BatchSize int    `json:"batch_size,omitempty" jsonschema:"members requested per API call, 1 to 500, default 500"`
}

// ListMembersResult is the structured output of wiki_list_category_members.
type ListMembersResult struct {
	Category string   `json:"category"`
	Count    int      `json:"count"`
	Fetches  int      `json:"fetches"`
	Titles   []string `json:"titles"`
	Cached   bool     `json:"cached,omitempty"`
}

func (a ListMembersArgs) logFields() []any {
	return []any{"category", a.Category, "batch_size", a.BatchSize}
}

func (r ListMembersResult) logFields() []any {
	return []any{"count", r.Count, "fetches", r.Fetches, "cached", r.Cached}
}

// CategoryService runs enumerations on behalf of MCP clients. Complete results are
// cached per category and batch size, and identical concurrent calls share one run.
type CategoryService struct {
	fetcher enumerate.Fetcher
	opts    enumerate.Options
	cache   *infra.Cache[ListMembersResult]
	dedup   *infra.Deduplicator[ListMembersResult]
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCategoryService creates a CategoryService. opts supplies pacing and retry limits;
// the retry mode is always bounded and progress output is disabled, since stdout
// carries the MCP protocol.
func NewCategoryService(fetcher enumerate.Fetcher, opts enumerate.Options, logger *slog.Logger) *CategoryService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	opts.RetryMode = config.RetryBounded
	opts.Progress = enumerate.NoProgress{}
	opts.Logger = logger

	return &CategoryService{
		fetcher: fetcher,
		opts:    opts,
		cache:   infra.NewCache[ListMembersResult](0),
		dedup:   infra.NewDeduplicator[ListMembersResult](),
		ttl:     MembersCacheTTL,
		logger:  logger,
	}
}

// ListCategoryMembers enumerates every member of args.Category.
func (s *CategoryService) ListCategoryMembers(ctx context.Context, args ListMembersArgs) (ListMembersResult, error) {
	if strings.TrimSpace(args.Category) == "" {
		return ListMembersResult{}, wikierrors.NewValidationError("category", args.Category, "category is required")
	}

	batchSize := args.BatchSize
	if batchSize == 0 {
		batchSize = s.opts.BatchSize
	}
	if batchSize < 1 || batchSize > config.MaxBatchSize {
		return ListMembersResult{}, wikierrors.NewValidationError("batch_size", strconv.Itoa(args.BatchSize),
			fmt.Sprintf("must be between 1 and %d", config.MaxBatchSize))
	}

	category := mediawiki.NormalizeCategory(args.Category)
	key := category + "|" + strconv.Itoa(batchSize)

	if cached, ok := s.cache.Get(key); ok {
		metrics.RecordCacheAccess(true)
		cached.Cached = true
		return cached, nil
	}
	metrics.RecordCacheAccess(false)

	result, shared, err := s.dedup.Do(ctx, key, func(ctx context.Context) (ListMembersResult, error) {
		opts := s.opts
		opts.BatchSize = batchSize

		res, err := enumerate.New(s.fetcher, opts).Run(ctx, category)
		if err != nil {
			return ListMembersResult{}, err
		}

		out := ListMembersResult{
			Category: res.Category,
			Count:    len(res.Members),
			Fetches:  res.Fetches,
			Titles:   res.Titles(),
		}
		s.cache.Set(key, out, s.ttl)
		return out, nil
	})
	if err != nil {
		return ListMembersResult{}, err
	}
	if shared {
		s.logger.Debug("Shared in-flight enumeration", "category", category)
	}
	return result, nil
}

// Package enumerate walks every page of a category's member list.
//
// Enumeration is a fold over pages: a Fetcher returns one batch, Advance decides whether
// another page exists, and Run accumulates the members in the order the API returned them.
package enumerate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/olgasafonova/wikicat/internal/config"
	wikierrors "github.com/olgasafonova/wikicat/internal/errors"
	"github.com/olgasafonova/wikicat/internal/infra"
	"github.com/olgasafonova/wikicat/internal/mediawiki"
	"github.com/olgasafonova/wikicat/metrics"
	"github.com/olgasafonova/wikicat/tracing"
)

// ContinueSentinel is the only "continue" value that lets enumeration go on.
// MediaWiki sends "-||" for a plain list continuation; anything else means the
// response belongs to a different continuation scheme and is treated as the end.
const ContinueSentinel = "-||"

const (
	defaultInitialBackoff = 500 * time.Millisecond
	defaultMaxBackoff     = 30 * time.Second
)

// Fetcher returns one page of category members.
type Fetcher interface {
	FetchCategoryMembers(ctx context.Context, req mediawiki.MembersRequest) (mediawiki.MembersBatch, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req mediawiki.MembersRequest) (mediawiki.MembersBatch, error)

// FetchCategoryMembers calls f(ctx, req).
func (f FetcherFunc) FetchCategoryMembers(ctx context.Context, req mediawiki.MembersRequest) (mediawiki.MembersBatch, error) {
	return f(ctx, req)
}

// Options controls paging, pacing and retries.
type Options struct {
	// BatchSize is the cmlimit sent with every request.
	BatchSize int

	// Delay is the minimum spacing between consecutive requests, retries included.
	Delay time.Duration

	RetryMode  config.RetryMode
	MaxRetries int // extra attempts per page in bounded mode

	// Backoff bounds for bounded mode. Zero values use 500ms and 30s.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Progress receives one Step per request attempt. Nil disables progress output.
	Progress Progress
	Logger   *slog.Logger
}

// Result is the outcome of a complete enumeration.
type Result struct {
	Category string
	Members  []mediawiki.CategoryMember
	Fetches  int // pages fetched successfully
	Attempts int // requests issued, retries included
	Retries  int
}

// Titles returns the member titles in fetch order.
func (r Result) Titles() []string {
	titles := make([]string, len(r.Members))
	for i, m := range r.Members {
		titles[i] = m.Title
	}
	return titles
}

// Enumerator runs category enumerations against one Fetcher. It is not safe for
// concurrent use; create one per run.
type Enumerator struct {
	fetcher  Fetcher
	opts     Options
	limiter  *rate.Limiter
	progress Progress
	logger   *slog.Logger
}

// New creates an Enumerator. BatchSize defaults to config.DefaultBatchSize and is
// capped at config.MaxBatchSize; an empty RetryMode means bounded.
func New(fetcher Fetcher, opts Options) *Enumerator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = config.DefaultBatchSize
	}
	if opts.BatchSize > config.MaxBatchSize {
		opts.BatchSize = config.MaxBatchSize
	}
	if opts.RetryMode == "" {
		opts.RetryMode = config.RetryBounded
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}

	progress := opts.Progress
	if progress == nil {
		progress = NoProgress{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Enumerator{
		fetcher:  fetcher,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, 1),
		progress: progress,
		logger:   logger,
	}
}

// Advance applies the termination policy to a fetched batch. It returns the
// continuation for the next request and true, or false when enumeration is complete:
// the batch was shorter than batchSize, it had no continue block, its continue value
// was not ContinueSentinel, or its cmcontinue token was empty.
func Advance(batch mediawiki.MembersBatch, batchSize int) (mediawiki.Continuation, bool) {
	if len(batch.Members) < batchSize {
		return mediawiki.Continuation{}, false
	}
	next := batch.Continue
	if next == nil || next.Continue != ContinueSentinel || next.CMContinue == "" {
		return mediawiki.Continuation{}, false
	}
	return *next, true
}

// Run enumerates every member of category. Nothing is returned on failure: a run
// either yields the complete member list or an error.
func (e *Enumerator) Run(ctx context.Context, category string) (Result, error) {
	category = mediawiki.NormalizeCategory(category)

	ctx, span := tracing.StartSpan(ctx, "enumerate.category")
	defer span.End()
	tracing.AddCategoryAttributes(span, category, e.opts.BatchSize)

	start := time.Now()
	result := Result{Category: category}
	var cont *mediawiki.Continuation

	for {
		req := mediawiki.MembersRequest{
			Category: category,
			Limit:    e.opts.BatchSize,
			Continue: cont,
		}

		batch, err := e.fetchPage(ctx, req, &result)
		if err != nil {
			err = fmt.Errorf("page %d of %s: %w", result.Fetches+1, category, err)
			tracing.RecordError(span, err)
			return Result{}, err
		}

		result.Fetches++
		result.Members = append(result.Members, batch.Members...)
		metrics.RecordPage(len(batch.Members))
		e.logger.DebugContext(ctx, "fetched page",
			"category", category,
			"page", result.Fetches,
			"members", len(batch.Members),
			"total", len(result.Members),
		)

		next, ok := Advance(batch, e.opts.BatchSize)
		if !ok {
			break
		}
		cont = &next
	}

	metrics.EnumerationDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("enumerate.fetches", result.Fetches),
		attribute.Int("enumerate.members", len(result.Members)),
		attribute.Int("enumerate.retries", result.Retries),
	)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// fetchPage issues req until it succeeds or the retry policy gives up. The request is
// never modified between attempts, so a failed page is always re-requested verbatim.
func (e *Enumerator) fetchPage(ctx context.Context, req mediawiki.MembersRequest, res *Result) (mediawiki.MembersBatch, error) {
	forever := e.opts.RetryMode == config.RetryForever

	operation := func() (mediawiki.MembersBatch, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return mediawiki.MembersBatch{}, backoff.Permanent(err)
		}

		res.Attempts++
		batch, err := e.fetcher.FetchCategoryMembers(ctx, req)
		if err != nil && forever && wikierrors.IsStatus(err) {
			e.progress.Failed(err)
		}
		e.progress.Step()
		if err == nil {
			return batch, nil
		}

		if !e.retryable(ctx, err) {
			return mediawiki.MembersBatch{}, backoff.Permanent(err)
		}
		var statusErr *wikierrors.StatusError
		if !forever && errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
			return mediawiki.MembersBatch{}, fmt.Errorf("%w (%w)", err, backoff.RetryAfter(statusErr.RetryAfter))
		}
		return mediawiki.MembersBatch{}, err
	}

	notify := func(err error, wait time.Duration) {
		res.Retries++
		metrics.RecordRetry(string(e.opts.RetryMode))
		e.logger.WarnContext(ctx, "page request failed, retrying",
			"category", req.Category,
			"page", res.Fetches+1,
			"retry", res.Retries,
			"wait", wait,
			"error", err,
		)
	}

	return backoff.Retry(ctx, operation, e.retryOptions(notify)...)
}

func (e *Enumerator) retryOptions(notify backoff.Notify) []backoff.RetryOption {
	if e.opts.RetryMode == config.RetryForever {
		return []backoff.RetryOption{
			backoff.WithBackOff(&backoff.ConstantBackOff{Interval: e.opts.Delay}),
			backoff.WithMaxElapsedTime(0),
			backoff.WithNotify(notify),
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.opts.InitialBackoff
	bo.MaxInterval = e.opts.MaxBackoff
	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(e.opts.MaxRetries) + 1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	}
}

// retryable reports whether err may go away if the identical request is sent again.
// Forever mode repeats every non-200 status, as the exporter historically did.
func (e *Enumerator) retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if wikierrors.IsSchema(err) || wikierrors.IsAPI(err) {
		return false
	}
	var open *infra.ErrCircuitOpen
	if errors.As(err, &open) {
		return false
	}
	var statusErr *wikierrors.StatusError
	if errors.As(err, &statusErr) {
		return e.opts.RetryMode == config.RetryForever || statusErr.Retryable()
	}
	return true
}

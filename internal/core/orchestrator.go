package core

// orchestrator.go turns a raw list of codes into a complete verdict set.
//
// Every run follows the same pipeline:
//  1. Normalize, dedupe and sort the input (the unit of work from here on)
//  2. Bulk-lookup the cache; hits are recorded immediately
//  3. Validate misses through the provider pool in paced batches, codes
//     within a batch in parallel
//  4. Write every cacheable provider verdict back in one SetBulk
//  5. Aggregate run statistics and warnings
//
// ValidateCodes returns the aggregate directly. StreamCodes runs the same
// pipeline behind a stream.Stream, reporting progress after preprocessing,
// after each cache hit and after each provider verdict.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/cache"
	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/JonMunkholm/cdmmerge/internal/logging"
	"github.com/JonMunkholm/cdmmerge/internal/stream"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// ErrNoCodes is returned when the input holds no code after normalization.
var ErrNoCodes = errors.New("no codes to validate")

// Defaults for Options fields left zero.
const (
	DefaultBatchSize            = 50
	DefaultBatchDelay           = 200 * time.Millisecond
	DefaultInvalidRateThreshold = 0.30
	DefaultInvalidRateMinCodes  = 10
)

// VerdictCache is the part of the validation cache the orchestrator uses.
type VerdictCache interface {
	GetBulk(ctx context.Context, codes []string) cache.BulkResult
	SetBulk(ctx context.Context, entries map[string]hcpcs.Entry)
}

// CodeValidator resolves a single code. It never fails; an unresolvable code
// comes back as a fail-open verdict.
type CodeValidator interface {
	ValidateCode(ctx context.Context, code string) hcpcs.Result
}

// Options configures an Orchestrator.
type Options struct {
	BatchSize            int
	BatchDelay           time.Duration
	InvalidRateThreshold float64
	InvalidRateMinCodes  int
	Clock                clockwork.Clock
	Logger               *slog.Logger
	Metrics              *Metrics
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	if o.InvalidRateThreshold <= 0 {
		o.InvalidRateThreshold = DefaultInvalidRateThreshold
	}
	if o.InvalidRateMinCodes <= 0 {
		o.InvalidRateMinCodes = DefaultInvalidRateMinCodes
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// RunStats are the per-run counters returned to callers.
type RunStats struct {
	TotalCodes    int `json:"totalCodes"`
	CacheHits     int `json:"cacheHits"`
	AIValidations int `json:"aiValidations"`
	QuotaErrors   int `json:"quotaErrors"`
	ManualReviews int `json:"manualReviews"`
}

// Response is the aggregated result of one run. ValidationResults holds
// exactly one verdict per normalized input code.
type Response struct {
	RunID               string                  `json:"runId"`
	InvalidCodes        []string                `json:"invalidCodes"`
	ValidationResults   map[string]hcpcs.Result `json:"validationResults"`
	QuotaWarning        string                  `json:"quotaWarning,omitempty"`
	ManualReviewWarning string                  `json:"manualReviewWarning,omitempty"`
	CacheStats          RunStats                `json:"cacheStats"`
}

// Orchestrator coordinates the cache and the provider pool.
type Orchestrator struct {
	cache     VerdictCache
	validator CodeValidator
	opts      Options
}

// NewOrchestrator wires a cache and a validator together.
func NewOrchestrator(c VerdictCache, v CodeValidator, opts Options) *Orchestrator {
	return &Orchestrator{
		cache:     c,
		validator: v,
		opts:      opts.withDefaults(),
	}
}

// ValidateCodes validates codes and returns the aggregate.
//
// Returns ErrNoCodes for empty input. If ctx is cancelled, no further batch
// is dispatched; verdicts gathered so far are still written to the cache and
// the context error is returned.
func (o *Orchestrator) ValidateCodes(ctx context.Context, codes []string) (*Response, error) {
	r, err := o.begin(ctx, codes, "sync", nil)
	if err != nil {
		return nil, err
	}

	var runErr error
	for start := 0; start < len(r.missing); start += o.opts.BatchSize {
		if runErr = ctx.Err(); runErr != nil {
			break
		}
		if start > 0 && o.opts.BatchDelay > 0 {
			select {
			case <-o.opts.Clock.After(o.opts.BatchDelay):
			case <-ctx.Done():
				runErr = ctx.Err()
			}
		}
		if runErr != nil {
			break
		}

		end := min(start+o.opts.BatchSize, len(r.missing))

		var g errgroup.Group
		for _, code := range r.missing[start:end] {
			g.Go(func() error {
				r.recordProvider(code, o.validate(r.ctx, r.logger, code))
				return nil
			})
		}
		_ = g.Wait()
	}

	resp := r.finish(runErr)
	if runErr != nil {
		return nil, fmt.Errorf("validation run %s interrupted: %w", r.id, runErr)
	}
	return resp, nil
}

// StreamCodes runs the pipeline in the background and returns its stream.
// The terminal complete event carries the Response. The run is not
// cancelled when the consumer closes the stream; pass a context without a
// deadline tied to the consumer if the work should always finish.
func (o *Orchestrator) StreamCodes(ctx context.Context, codes []string) *stream.Stream[Response] {
	return stream.New(ctx, func(ctx context.Context, progress stream.ProgressFunc) (Response, error) {
		r, err := o.begin(ctx, codes, "stream", progress)
		if err != nil {
			return Response{}, err
		}

		stream.ProcessBatches(r.ctx, r.missing,
			stream.BatchOptions{Size: o.opts.BatchSize, Delay: o.opts.BatchDelay, Clock: o.opts.Clock},
			func(ctx context.Context, code string) (struct{}, error) {
				r.recordProvider(code, o.validate(ctx, r.logger, code))
				return struct{}{}, nil
			}, nil)

		// ProcessBatches only stops early when ctx is cancelled.
		var runErr error
		if r.incomplete() {
			if runErr = context.Cause(ctx); runErr == nil {
				runErr = errors.New("batches stopped early")
			}
		}
		resp := r.finish(runErr)
		if runErr != nil {
			return Response{}, fmt.Errorf("validation run %s interrupted: %w", r.id, runErr)
		}
		return *resp, nil
	})
}

// validate calls the validator, failing open on panic.
func (o *Orchestrator) validate(ctx context.Context, logger *slog.Logger, code string) (res hcpcs.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("validator panicked", "code", code, "panic", rec)
			res = hcpcs.FailOpen("")
		}
	}()
	return o.validator.ValidateCode(ctx, code)
}

// run is the mutable state of one validation run.
type run struct {
	o        *Orchestrator
	ctx      context.Context
	id       string
	mode     string
	logger   *slog.Logger
	started  time.Time
	progress stream.ProgressFunc

	codes   []string
	missing []string

	mu        sync.Mutex
	resp      Response
	writeBack map[string]hcpcs.Entry
	processed int
}

// begin preprocesses codes, consults the cache and records every hit.
func (o *Orchestrator) begin(ctx context.Context, raw []string, mode string, progress stream.ProgressFunc) (*run, error) {
	codes := hcpcs.NormalizeCodes(raw)
	if len(codes) == 0 {
		return nil, ErrNoCodes
	}

	id := uuid.NewString()
	ctx = logging.WithRunID(ctx, id)

	r := &run{
		o:        o,
		ctx:      ctx,
		id:       id,
		mode:     mode,
		logger:   logging.Enrich(ctx, o.opts.Logger).With("mode", mode),
		started:  o.opts.Clock.Now(),
		progress: progress,
		codes:    codes,
		resp: Response{
			RunID:             id,
			InvalidCodes:      []string{},
			ValidationResults: make(map[string]hcpcs.Result, len(codes)),
			CacheStats:        RunStats{TotalCodes: len(codes)},
		},
		writeBack: make(map[string]hcpcs.Entry),
	}

	o.opts.Metrics.runStarted()
	r.logger.Info("validation run started", "codes", len(codes))
	r.report(0)

	bulk := o.cache.GetBulk(ctx, codes)
	for _, code := range codes {
		entry, ok := bulk.Cached[code]
		if !ok {
			r.missing = append(r.missing, code)
			continue
		}
		r.recordCached(code, entry)
	}

	r.logger.Debug("cache lookup complete",
		"cache_hits", r.resp.CacheStats.CacheHits,
		"missing", len(r.missing),
	)
	return r, nil
}

// incomplete reports whether some code has no verdict yet.
func (r *run) incomplete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resp.ValidationResults) < len(r.codes)
}

// report sends progress, if anyone is listening. It is called without r.mu
// held; the stream drops values that arrive out of order.
func (r *run) report(processed int) {
	if r.progress != nil {
		r.progress(processed, len(r.codes))
	}
}

func (r *run) recordCached(code string, entry hcpcs.Entry) {
	r.mu.Lock()

	res := entry.Result()
	r.resp.ValidationResults[code] = res
	if !res.IsValid {
		r.resp.InvalidCodes = append(r.resp.InvalidCodes, code)
	}
	r.resp.CacheStats.CacheHits++
	r.processed++
	processed := r.processed
	r.mu.Unlock()

	r.report(processed)
}

func (r *run) recordProvider(code string, res hcpcs.Result) {
	r.mu.Lock()

	r.resp.ValidationResults[code] = res
	if !res.IsValid {
		r.resp.InvalidCodes = append(r.resp.InvalidCodes, code)
	}

	stats := &r.resp.CacheStats
	stats.AIValidations++
	switch res.Status {
	case hcpcs.StatusQuotaExceeded:
		stats.QuotaErrors++
		stats.ManualReviews++
	case hcpcs.StatusManualReview, hcpcs.StatusError:
		stats.ManualReviews++
	}

	if res.Cacheable() {
		r.writeBack[code] = res.Entry(code)
	}
	r.processed++
	processed := r.processed
	r.mu.Unlock()

	r.o.opts.Metrics.observeProvider(res.Status)
	r.report(processed)
}

// finish writes back provider verdicts and assembles the response.
func (r *run) finish(runErr error) *Response {
	o := r.o

	r.mu.Lock()
	writeBack := r.writeBack
	r.writeBack = nil
	r.mu.Unlock()

	if len(writeBack) > 0 {
		// The write-back must land even if the caller has gone away.
		o.cache.SetBulk(context.WithoutCancel(r.ctx), writeBack)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	resp := r.resp
	sort.Strings(resp.InvalidCodes)
	stats := resp.CacheStats

	if stats.QuotaErrors > 0 {
		resp.QuotaWarning = fmt.Sprintf(
			"%d code(s) could not be validated because provider quota is exhausted; they are marked valid pending manual review",
			stats.QuotaErrors)
	}
	if stats.ManualReviews > 0 {
		resp.ManualReviewWarning = fmt.Sprintf(
			"%d code(s) could not be validated and require manual review",
			stats.ManualReviews)
	}

	elapsed := o.opts.Clock.Since(r.started)
	o.opts.Metrics.observeRun(r.mode, stats, elapsed, runErr)
	o.opts.Metrics.runFinished()

	r.checkInvalidRate(len(resp.InvalidCodes), stats.TotalCodes)

	r.logger.Info("validation run finished",
		"codes", stats.TotalCodes,
		"cache_hits", stats.CacheHits,
		"ai_validations", stats.AIValidations,
		"invalid", len(resp.InvalidCodes),
		"quota_errors", stats.QuotaErrors,
		"manual_reviews", stats.ManualReviews,
		"written_back", len(writeBack),
		"duration_ms", elapsed.Milliseconds(),
	)
	return &resp
}

// checkInvalidRate warns when a run flags an unusually large share of codes.
// It only logs.
func (r *run) checkInvalidRate(invalid, total int) {
	if total <= r.o.opts.InvalidRateMinCodes {
		return
	}
	rate := float64(invalid) / float64(total)
	if rate > r.o.opts.InvalidRateThreshold {
		r.logger.Warn("high invalid rate, results may contain false positives",
			"invalid", invalid,
			"total", total,
			"invalid_rate", fmt.Sprintf("%.1f%%", rate*100),
		)
	}
}

package provider

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
)

// QuotaFailOpenReason is attached to fail-open verdicts when quota exhaustion
// kept at least one provider from answering.
const QuotaFailOpenReason = "All validation providers exceeded their quota; code requires manual review"

// ProgressFunc is called after each code of a batch is resolved.
type ProgressFunc func(processed, total int)

// ProviderStatus is a snapshot of one pooled provider.
type ProviderStatus struct {
	Name          string `json:"name"`
	Available     bool   `json:"available"`
	QuotaExceeded bool   `json:"quotaExceeded"`
	Current       bool   `json:"current"`
}

// Pool tries providers in rotation order and fails open when none can answer.
//
// The rotation pointer starts at the first provider. When a provider reports
// quota exhaustion the pointer moves past it, so later calls start with the
// next candidate. Other errors fall through to the next provider without
// moving the pointer.
type Pool struct {
	providers []Provider
	logger    *slog.Logger

	mu      sync.Mutex
	current int
}

// NewPool creates a pool over providers in priority order.
// A nil logger uses slog.Default().
func NewPool(logger *slog.Logger, providers ...Provider) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		providers: providers,
		logger:    logger.With("component", "provider_pool"),
	}
}

// Len returns the number of pooled providers.
func (p *Pool) Len() int {
	return len(p.providers)
}

func (p *Pool) start() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Pool) rotatePast(idx int) {
	p.mu.Lock()
	p.current = (idx + 1) % len(p.providers)
	p.mu.Unlock()
}

// ValidateCode returns the first provider verdict for code, or a fail-open
// verdict if every provider is unavailable or fails. The fail-open status is
// quota_exceeded when any provider was out of quota during the call.
func (p *Pool) ValidateCode(ctx context.Context, code string) hcpcs.Result {
	n := len(p.providers)
	if n == 0 {
		p.logger.Warn("no validation providers configured", "code", code)
		return hcpcs.FailOpen("")
	}

	start := p.start()
	quotaHit := false

	for i := range n {
		idx := (start + i) % n
		prov := p.providers[idx]

		if !prov.Available() {
			if qt, ok := prov.(QuotaTracker); ok && qt.QuotaExceeded() {
				quotaHit = true
			}
			continue
		}

		res, err := prov.ValidateCode(ctx, code)
		if err == nil {
			return withProvenance(res, prov)
		}

		if errors.Is(err, ErrQuotaExceeded) {
			quotaHit = true
			if qt, ok := prov.(QuotaTracker); ok {
				qt.MarkQuotaExceeded()
			}
			p.rotatePast(idx)
			p.logger.Warn("provider quota exceeded, rotating",
				"provider", prov.Name(),
				"code", code,
			)
			continue
		}

		p.logger.Warn("provider validation failed",
			"provider", prov.Name(),
			"code", code,
			"error", err,
		)
	}

	if quotaHit {
		res := hcpcs.FailOpen(QuotaFailOpenReason)
		res.Status = hcpcs.StatusQuotaExceeded
		return res
	}
	return hcpcs.FailOpen("")
}

// ValidateBatch validates codes one after another, calling onProgress after
// each. Every code gets a verdict; a failure never aborts the batch.
func (p *Pool) ValidateBatch(ctx context.Context, codes []string, onProgress ProgressFunc) map[string]hcpcs.Result {
	results := make(map[string]hcpcs.Result, len(codes))
	for i, code := range codes {
		results[code] = p.safeValidate(ctx, code)
		if onProgress != nil {
			onProgress(i+1, len(codes))
		}
	}
	return results
}

// safeValidate converts a provider panic into a fail-open verdict.
func (p *Pool) safeValidate(ctx context.Context, code string) (res hcpcs.Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("provider panicked", "code", code, "panic", r)
			res = hcpcs.FailOpen("")
		}
	}()
	return p.ValidateCode(ctx, code)
}

// Status reports the availability of every provider.
func (p *Pool) Status() []ProviderStatus {
	current := p.start()
	out := make([]ProviderStatus, len(p.providers))
	for i, prov := range p.providers {
		st := ProviderStatus{
			Name:      prov.Name(),
			Available: prov.Available(),
			Current:   i == current,
		}
		if qt, ok := prov.(QuotaTracker); ok {
			st.QuotaExceeded = qt.QuotaExceeded()
		}
		out[i] = st
	}
	return out
}

// ResetQuotas clears every quota flag and rewinds the rotation pointer.
func (p *Pool) ResetQuotas() {
	for _, prov := range p.providers {
		if qt, ok := prov.(QuotaTracker); ok {
			qt.ResetQuota()
		}
	}
	p.mu.Lock()
	p.current = 0
	p.mu.Unlock()
	p.logger.Info("provider quotas reset")
}

// withProvenance fills in fields a provider may leave empty. A verdict
// always leaves the pool with both ValidatedBy and Model set, so a cached
// copy is never mistaken for a pre-provenance entry when reloaded.
func withProvenance(res hcpcs.Result, prov Provider) hcpcs.Result {
	if res.ValidatedBy == "" {
		res.ValidatedBy = prov.Name()
	}
	if res.Model == "" {
		if mr, ok := prov.(ModelReporter); ok {
			res.Model = mr.Model()
		}
		if res.Model == "" {
			res.Model = prov.Name()
		}
	}
	if res.Status == "" {
		if res.IsValid {
			res.Status = hcpcs.StatusValid
		} else {
			res.Status = hcpcs.StatusInvalid
		}
	}
	return res
}

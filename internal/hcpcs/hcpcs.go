// Package hcpcs defines the verdict types shared by the validation cache,
// the provider pool and the orchestrator.
//
// Codes are opaque strings. The only transformation applied to them is
// normalization (trim + uppercase), which produces the cache key and the key
// used in every orchestrator output.
package hcpcs

import (
	"sort"
	"strings"
)

// Status is the structured outcome of a single validation.
// Control flow branches on Status, never on the free-text Reason.
type Status string

const (
	StatusValid         Status = "valid"
	StatusInvalid       Status = "invalid"
	StatusQuotaExceeded Status = "quota_exceeded"
	StatusManualReview  Status = "manual_review"
	StatusError         Status = "error"
)

// Provenance markers written into cache entries.
const (
	// ValidatedByFailed marks a fail-open verdict produced when no provider could answer.
	ValidatedByFailed = "failed"

	// LegacyValidatedBy and LegacyModel tag entries that predate provenance tracking.
	LegacyValidatedBy = "unknown"
	LegacyModel       = "legacy-unknown"
)

// FailOpenReason is the reason attached to verdicts that need a human to look at them.
const FailOpenReason = "All validation providers failed; code requires manual review"

// Result is a provider verdict for exactly one code.
type Result struct {
	IsValid       bool   `json:"isValid"`
	Status        Status `json:"status"`
	Reason        string `json:"reason,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	ValidatedBy   string `json:"validatedBy,omitempty"`
	Model         string `json:"model,omitempty"`
}

// Cacheable reports whether the verdict is a real provider answer that may be
// written back to the cache. Fail-open placeholders are never cached.
func (r Result) Cacheable() bool {
	if r.ValidatedBy == "" || r.ValidatedBy == ValidatedByFailed {
		return false
	}
	return r.Status == StatusValid || r.Status == StatusInvalid
}

// Entry converts a provider result into a cache entry for code.
// The timestamp is stamped by the cache on write.
func (r Result) Entry(code string) Entry {
	return Entry{
		Code:          code,
		IsValid:       r.IsValid,
		Reason:        r.Reason,
		InvalidReason: r.InvalidReason,
		ValidatedBy:   r.ValidatedBy,
		Model:         r.Model,
	}
}

// FailOpen returns the conservative verdict used when no provider produced an
// answer: the code is reported valid and flagged for manual review.
func FailOpen(reason string) Result {
	if reason == "" {
		reason = FailOpenReason
	}
	return Result{
		IsValid:     true,
		Status:      StatusManualReview,
		Reason:      reason,
		ValidatedBy: ValidatedByFailed,
	}
}

// Entry is a persisted validation verdict.
type Entry struct {
	Code          string `json:"code"`
	IsValid       bool   `json:"isValid"`
	Reason        string `json:"reason,omitempty"`
	InvalidReason string `json:"invalidReason,omitempty"`
	ValidatedBy   string `json:"validatedBy,omitempty"`
	Model         string `json:"model,omitempty"`
	Timestamp     int64  `json:"timestamp"` // epoch milliseconds
	Legacy        bool   `json:"legacy,omitempty"`
}

// MissingProvenance reports whether the entry was written before provenance
// tracking existed.
func (e Entry) MissingProvenance() bool {
	return e.ValidatedBy == "" || e.Model == ""
}

// IsLegacy reports whether the entry is subject to the legacy TTL rules.
// Only the tag applied by load-time migration counts; an entry written by a
// run is modern even if its verdict carried no model.
func (e Entry) IsLegacy() bool {
	return e.Legacy || e.Model == LegacyModel
}

// Result converts a cached entry back into a verdict.
func (e Entry) Result() Result {
	status := StatusValid
	if !e.IsValid {
		status = StatusInvalid
	}
	return Result{
		IsValid:       e.IsValid,
		Status:        status,
		Reason:        e.Reason,
		InvalidReason: e.InvalidReason,
		ValidatedBy:   e.ValidatedBy,
		Model:         e.Model,
	}
}

// NormalizeCode trims surrounding whitespace and uppercases the code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeCodes normalizes, drops empty values, deduplicates and sorts codes.
// The returned order is deterministic for a given input set.
func NormalizeCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, raw := range codes {
		code := NormalizeCode(raw)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// Package provider abstracts the external services that decide whether an
// HCPCS code is valid, and pools them behind a single fail-open entry point.
package provider

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
)

// ErrQuotaExceeded is returned by a provider whose call budget is exhausted.
// The pool treats it as a signal to rotate, not as a transient failure.
var ErrQuotaExceeded = errors.New("provider quota exceeded")

// Provider validates a single code against an external service.
//
//go:generate go run go.uber.org/mock/mockgen -source=provider.go -destination=mocks/mock_provider.go -package=mocks
type Provider interface {
	// Name is the stable identifier recorded as cache provenance.
	Name() string

	// Available is false when credentials are missing or quota is exhausted.
	Available() bool

	// ValidateCode returns the verdict for code, ErrQuotaExceeded (possibly
	// wrapped) when the budget is exhausted, or any other error for a
	// transient failure.
	ValidateCode(ctx context.Context, code string) (hcpcs.Result, error)
}

// ModelReporter is implemented by providers that know which model answered.
// The pool records it as cache provenance when a verdict leaves Model empty.
type ModelReporter interface {
	Model() string
}

// QuotaTracker is implemented by providers that remember quota exhaustion.
type QuotaTracker interface {
	MarkQuotaExceeded()
	ResetQuota()
	QuotaExceeded() bool
}

// Quota is an embeddable QuotaTracker. The zero value is not exceeded.
type Quota struct {
	exceeded atomic.Bool
}

// MarkQuotaExceeded flags the quota as exhausted.
func (q *Quota) MarkQuotaExceeded() { q.exceeded.Store(true) }

// ResetQuota clears the flag.
func (q *Quota) ResetQuota() { q.exceeded.Store(false) }

// QuotaExceeded reports whether the flag is set.
func (q *Quota) QuotaExceeded() bool { return q.exceeded.Load() }

var _ QuotaTracker = (*Quota)(nil)
var _ ModelReporter = (*ChatProvider)(nil)

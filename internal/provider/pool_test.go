package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/JonMunkholm/cdmmerge/internal/provider/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProvider is a QuotaTracker-aware provider driven by a function.
type stubProvider struct {
	Quota
	name  string
	noKey bool
	calls int
	fn    func(code string) (hcpcs.Result, error)
}

func (s *stubProvider) Name() string    { return s.name }
func (s *stubProvider) Available() bool { return !s.noKey && !s.QuotaExceeded() }
func (s *stubProvider) ValidateCode(_ context.Context, code string) (hcpcs.Result, error) {
	s.calls++
	return s.fn(code)
}

func TestPool_RotatesPastQuotaExceeded(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockProvider(ctrl)
	b := mocks.NewMockProvider(ctrl)

	a.EXPECT().Name().Return("a").AnyTimes()
	b.EXPECT().Name().Return("b").AnyTimes()

	a.EXPECT().Available().Return(true).Times(1)
	a.EXPECT().ValidateCode(gomock.Any(), "99213").Return(hcpcs.Result{}, ErrQuotaExceeded).Times(1)

	b.EXPECT().Available().Return(true).Times(10)
	b.EXPECT().ValidateCode(gomock.Any(), "99213").
		Return(hcpcs.Result{IsValid: true, Status: hcpcs.StatusValid, Model: "sonar"}, nil).
		Times(10)

	pool := NewPool(testLogger(), a, b)
	for i := range 10 {
		res := pool.ValidateCode(context.Background(), "99213")
		require.True(t, res.IsValid, "call %d", i)
		assert.Equal(t, "b", res.ValidatedBy, "call %d", i)
	}
}

func TestPool_TransientErrorDoesNotRotate(t *testing.T) {
	ctrl := gomock.NewController(t)
	a := mocks.NewMockProvider(ctrl)
	b := mocks.NewMockProvider(ctrl)

	a.EXPECT().Name().Return("a").AnyTimes()
	b.EXPECT().Name().Return("b").AnyTimes()
	a.EXPECT().Available().Return(true).Times(2)
	a.EXPECT().ValidateCode(gomock.Any(), gomock.Any()).Return(hcpcs.Result{}, errors.New("timeout")).Times(2)
	b.EXPECT().Available().Return(true).Times(2)
	b.EXPECT().ValidateCode(gomock.Any(), gomock.Any()).
		Return(hcpcs.Result{IsValid: false, Status: hcpcs.StatusInvalid}, nil).Times(2)

	pool := NewPool(testLogger(), a, b)
	for range 2 {
		res := pool.ValidateCode(context.Background(), "ABC12")
		assert.False(t, res.IsValid)
		assert.Equal(t, "b", res.ValidatedBy)
	}

	assert.True(t, pool.Status()[0].Current, "pointer should stay on the first provider")
}

func TestPool_FailOpen(t *testing.T) {
	tests := []struct {
		name       string
		providers  func() []Provider
		wantStatus hcpcs.Status
	}{
		{
			name:       "no providers",
			providers:  func() []Provider { return nil },
			wantStatus: hcpcs.StatusManualReview,
		},
		{
			name: "no credentials",
			providers: func() []Provider {
				return []Provider{&stubProvider{name: "a", noKey: true}, &stubProvider{name: "b", noKey: true}}
			},
			wantStatus: hcpcs.StatusManualReview,
		},
		{
			name: "all out of quota",
			providers: func() []Provider {
				p := &stubProvider{name: "a"}
				p.MarkQuotaExceeded()
				return []Provider{p}
			},
			wantStatus: hcpcs.StatusQuotaExceeded,
		},
		{
			name: "all transient failures",
			providers: func() []Provider {
				fail := func(string) (hcpcs.Result, error) { return hcpcs.Result{}, errors.New("502") }
				return []Provider{&stubProvider{name: "a", fn: fail}, &stubProvider{name: "b", fn: fail}}
			},
			wantStatus: hcpcs.StatusManualReview,
		},
		{
			name: "one transient one quota",
			providers: func() []Provider {
				fail := func(string) (hcpcs.Result, error) { return hcpcs.Result{}, errors.New("502") }
				quota := func(string) (hcpcs.Result, error) {
					return hcpcs.Result{}, fmt.Errorf("b: %w", ErrQuotaExceeded)
				}
				return []Provider{&stubProvider{name: "a", fn: fail}, &stubProvider{name: "b", fn: quota}}
			},
			wantStatus: hcpcs.StatusQuotaExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := NewPool(testLogger(), tt.providers()...)
			for _, code := range []string{"99213", "ABC12", "J1100"} {
				res := pool.ValidateCode(context.Background(), code)
				assert.True(t, res.IsValid, "fail-open verdict must be valid")
				assert.Equal(t, hcpcs.ValidatedByFailed, res.ValidatedBy)
				assert.Equal(t, tt.wantStatus, res.Status)
				assert.False(t, res.Cacheable())
			}
		})
	}
}

func TestPool_QuotaMarksTracker(t *testing.T) {
	a := &stubProvider{name: "a", fn: func(string) (hcpcs.Result, error) { return hcpcs.Result{}, ErrQuotaExceeded }}
	b := &stubProvider{name: "b", fn: func(string) (hcpcs.Result, error) {
		return hcpcs.Result{IsValid: true, Status: hcpcs.StatusValid}, nil
	}}
	pool := NewPool(testLogger(), a, b)

	pool.ValidateCode(context.Background(), "99213")

	status := pool.Status()
	require.Len(t, status, 2)
	assert.True(t, status[0].QuotaExceeded)
	assert.False(t, status[0].Available)
	assert.True(t, status[1].Current)

	pool.ResetQuotas()
	status = pool.Status()
	assert.False(t, status[0].QuotaExceeded)
	assert.True(t, status[0].Available)
	assert.True(t, status[0].Current)
}

func TestPool_ValidateBatch(t *testing.T) {
	p := &stubProvider{name: "a", fn: func(code string) (hcpcs.Result, error) {
		switch code {
		case "BOOM":
			panic("provider bug")
		case "ABC12":
			return hcpcs.Result{IsValid: false, Status: hcpcs.StatusInvalid, Model: "m"}, nil
		default:
			return hcpcs.Result{IsValid: true, Status: hcpcs.StatusValid, Model: "m"}, nil
		}
	}}
	pool := NewPool(testLogger(), p)

	var progress [][2]int
	results := pool.ValidateBatch(context.Background(), []string{"99213", "BOOM", "ABC12"}, func(processed, total int) {
		progress = append(progress, [2]int{processed, total})
	})

	require.Len(t, results, 3)
	assert.True(t, results["99213"].IsValid)
	assert.False(t, results["ABC12"].IsValid)
	assert.Equal(t, hcpcs.ValidatedByFailed, results["BOOM"].ValidatedBy, "a panicking code fails open")
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, progress)
}

// modelStub reports the model it runs, like ChatProvider.
type modelStub struct {
	stubProvider
	model string
}

func (m *modelStub) Model() string { return m.model }

func TestPool_FillsProvenance(t *testing.T) {
	bare := func(string) (hcpcs.Result, error) { return hcpcs.Result{IsValid: true}, nil }

	tests := []struct {
		name       string
		provider   Provider
		wantModel  string
		wantStatus hcpcs.Status
	}{
		{
			name: "invalid status derived",
			provider: &stubProvider{name: "perplexity", fn: func(string) (hcpcs.Result, error) {
				return hcpcs.Result{IsValid: false, Reason: "not a code"}, nil
			}},
			wantModel:  "perplexity",
			wantStatus: hcpcs.StatusInvalid,
		},
		{
			name:      "model from provider",
			provider:  &modelStub{stubProvider: stubProvider{name: "perplexity", fn: bare}, model: "sonar"},
			wantModel: "sonar",
		},
		{
			name:      "falls back to provider name",
			provider:  &stubProvider{name: "local", fn: bare},
			wantModel: "local",
		},
		{
			name: "verdict model wins",
			provider: &modelStub{stubProvider: stubProvider{name: "openai", fn: func(string) (hcpcs.Result, error) {
				return hcpcs.Result{IsValid: true, Model: "gpt-4o"}, nil
			}}, model: "gpt-4o-mini"},
			wantModel: "gpt-4o",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewPool(testLogger(), tt.provider).ValidateCode(context.Background(), "99213")
			assert.Equal(t, tt.provider.Name(), res.ValidatedBy)
			assert.Equal(t, tt.wantModel, res.Model)
			wantStatus := tt.wantStatus
			if wantStatus == "" {
				wantStatus = hcpcs.StatusValid
			}
			assert.Equal(t, wantStatus, res.Status)
			assert.True(t, res.Cacheable())
			assert.False(t, res.Entry("99213").IsLegacy())
		})
	}
}

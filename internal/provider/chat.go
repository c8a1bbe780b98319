package provider

// chat.go implements Provider against an OpenAI-compatible chat completions
// endpoint. Both OpenAI and Perplexity expose this API shape, so one client
// serves both provider slots.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/cdmmerge/internal/hcpcs"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

// Defaults for ChatConfig fields left zero.
const (
	DefaultRequestsPerMinute = 60
	DefaultRequestTimeout    = 30 * time.Second
	DefaultMaxRetries        = 2
	DefaultRetryBase         = 500 * time.Millisecond
)

// maxResponseBytes caps how much of a provider response is read.
const maxResponseBytes = 1 << 20

const systemPrompt = `You validate US healthcare billing codes (HCPCS Level I/CPT and Level II).
Respond with a single JSON object and nothing else:
{"valid": true|false, "reason": "<short description or why it is invalid>"}
A code is valid only if it exists in the current HCPCS/CPT code set.`

// ChatConfig configures a ChatProvider.
type ChatConfig struct {
	Name              string
	BaseURL           string
	APIKey            string
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
	MaxRetries        int
	RetryBase         time.Duration
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// ChatProvider validates codes by asking a chat model.
type ChatProvider struct {
	Quota

	cfg     ChatConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewChatProvider creates a provider from cfg. A provider without an API key
// is created but never Available.
func NewChatProvider(cfg ChatConfig) *ChatProvider {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultRequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRequestTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60)
	return &ChatProvider{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(perSecond, 1),
		logger:  logger.With("provider", cfg.Name),
	}
}

// Name returns the configured provider name.
func (p *ChatProvider) Name() string { return p.cfg.Name }

// Model returns the configured model.
func (p *ChatProvider) Model() string { return p.cfg.Model }

// Available is false without an API key or once quota is exhausted.
func (p *ChatProvider) Available() bool {
	return p.cfg.APIKey != "" && !p.QuotaExceeded()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type verdict struct {
	Valid         *bool  `json:"valid"`
	Reason        string `json:"reason"`
	InvalidReason string `json:"invalidReason"`
}

// ValidateCode asks the model about code.
func (p *ChatProvider) ValidateCode(ctx context.Context, code string) (hcpcs.Result, error) {
	if p.cfg.APIKey == "" {
		return hcpcs.Result{}, fmt.Errorf("%s: no API key configured", p.cfg.Name)
	}
	if p.QuotaExceeded() {
		return hcpcs.Result{}, fmt.Errorf("%s: %w", p.cfg.Name, ErrQuotaExceeded)
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Code: " + code},
		},
	})
	if err != nil {
		return hcpcs.Result{}, fmt.Errorf("encode request: %w", err)
	}

	var content string
	backoff := retry.WithMaxRetries(uint64(p.cfg.MaxRetries), retry.NewExponential(p.cfg.RetryBase))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		c, err := p.complete(ctx, body)
		if err != nil {
			var te *transientError
			if errors.As(err, &te) {
				p.logger.Debug("retrying provider call", "code", code, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			p.MarkQuotaExceeded()
		}
		return hcpcs.Result{}, fmt.Errorf("%s: %w", p.cfg.Name, err)
	}

	res, err := parseVerdict(content)
	if err != nil {
		return hcpcs.Result{}, fmt.Errorf("%s: %w", p.cfg.Name, err)
	}
	res.ValidatedBy = p.cfg.Name
	res.Model = p.cfg.Model
	return res, nil
}

// transientError marks failures worth retrying: network errors and 5xx.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func (p *ChatProvider) complete(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &transientError{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", &transientError{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusPaymentRequired,
		isQuotaBody(data):
		return "", ErrQuotaExceeded
	case resp.StatusCode >= 500:
		return "", &transientError{fmt.Errorf("server error: %s", resp.Status)}
	case resp.StatusCode != http.StatusOK:
		return "", fmt.Errorf("unexpected status %s: %s", resp.Status, errorMessage(data))
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// isQuotaBody detects quota errors reported with a non-429 status.
func isQuotaBody(data []byte) bool {
	var ce chatError
	if json.Unmarshal(data, &ce) != nil {
		return false
	}
	if ce.Error.Type == "insufficient_quota" {
		return true
	}
	code, _ := ce.Error.Code.(string)
	return code == "insufficient_quota" || code == "rate_limit_exceeded"
}

func errorMessage(data []byte) string {
	var ce chatError
	if json.Unmarshal(data, &ce) == nil && ce.Error.Message != "" {
		return ce.Error.Message
	}
	return strings.TrimSpace(string(data))
}

// parseVerdict extracts the JSON object from a model reply. Models sometimes
// wrap it in prose or code fences.
func parseVerdict(content string) (hcpcs.Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return hcpcs.Result{}, fmt.Errorf("no JSON object in reply %q", content)
	}

	var v verdict
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return hcpcs.Result{}, fmt.Errorf("parse verdict: %w", err)
	}
	if v.Valid == nil {
		return hcpcs.Result{}, errors.New("verdict is missing \"valid\"")
	}

	res := hcpcs.Result{IsValid: *v.Valid, Reason: v.Reason}
	if res.IsValid {
		res.Status = hcpcs.StatusValid
	} else {
		res.Status = hcpcs.StatusInvalid
		res.InvalidReason = v.InvalidReason
		if res.InvalidReason == "" {
			res.InvalidReason = v.Reason
		}
	}
	return res, nil
}

var _ Provider = (*ChatProvider)(nil)

package core

// error_messages.go maps technical errors to user-facing messages with codes
// for support reference.
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - No codes: The request contained no HCPCS codes
//	         Action: Provide at least one code
//	         Matches: ErrNoCodes, "no codes"
//
//	VAL002 - Too many codes: The request exceeds the per-run code limit
//	         Action: Split the list into smaller requests
//	         Matches: ErrTooManyCodes
//
//	VAL003 - Invalid request: The request body could not be parsed
//	         Action: Send a JSON body of the form {"codes": [...]}
//	         Matches: "invalid request"
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: File exceeds maximum size limit
//	FILE002 - Invalid CSV: File is not a valid CSV
//	FILE003 - Encoding error: File contains invalid characters
//	FILE004 - No file: No file was selected
//	FILE005 - Column not found: Requested code column is missing
//
// # Run Errors (RUN001-RUN099)
//
//	RUN001 - Request cancelled
//	RUN002 - Request timeout
//
// # Provider Errors (PROV001-PROV099)
//
//	PROV001 - Quota exceeded: Every validation provider is out of quota
//	          Matches: provider.ErrQuotaExceeded
//
// # Cache Errors (CACHE001-CACHE099)
//
//	CACHE001 - Storage unavailable: The cache database could not be reached
//	CACHE002 - Storage busy: Another process holds the cache file lock
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited: Too many requests or concurrent runs
//	          Matches: ErrTooManyRuns, "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check application logs
// for the original technical error.
//
// # Matching
//
// Sentinel errors are checked first with errors.Is. Remaining errors are
// matched case-insensitively with strings.Contains against the pattern table;
// the first match wins, so specific patterns come before general ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/cdmmerge/internal/provider"
)

// ErrTooManyCodes is returned when a request exceeds the configured code limit.
var ErrTooManyCodes = errors.New("too many codes in one request")

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

var (
	msgNoCodes = UserMessage{
		Message: "No HCPCS codes were provided",
		Action:  "Provide at least one code",
		Code:    "VAL001",
	}
	msgTooManyCodes = UserMessage{
		Message: "Too many codes in one request",
		Action:  "Split the list into smaller requests",
		Code:    "VAL002",
	}
	msgCancelled = UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "RUN001",
	}
	msgTimeout = UserMessage{
		Message: "Validation timed out",
		Action:  "Try a shorter list of codes or try again later",
		Code:    "RUN002",
	}
	msgQuota = UserMessage{
		Message: "All validation providers are out of quota",
		Action:  "Reset provider quotas or try again later",
		Code:    "PROV001",
	}
	msgRateLimited = UserMessage{
		Message: "Too many requests",
		Action:  "Please wait a moment before trying again",
		Code:    "RATE001",
	}
)

// sentinelMessages is checked in order with errors.Is.
var sentinelMessages = []struct {
	err error
	msg UserMessage
}{
	{ErrNoCodes, msgNoCodes},
	{ErrTooManyCodes, msgTooManyCodes},
	{ErrTooManyRuns, msgRateLimited},
	{provider.ErrQuotaExceeded, msgQuota},
	{context.DeadlineExceeded, msgTimeout},
	{context.Canceled, msgCancelled},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// The first matching pattern wins.
var errorPatterns = []errorPattern{
	{pattern: "no codes", msg: msgNoCodes},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request body could not be parsed",
			Action:  `Send a JSON body of the form {"codes": [...]}`,
			Code:    "VAL003",
		},
	},

	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller chunks",
			Code:    "FILE001",
		},
	},
	{
		pattern: "invalid csv",
		msg: UserMessage{
			Message: "File is not a valid CSV",
			Action:  "Ensure file is comma-separated with consistent columns",
			Code:    "FILE002",
		},
	},
	{
		pattern: "encoding error",
		msg: UserMessage{
			Message: "File contains invalid characters",
			Action:  "Save file as UTF-8 encoding",
			Code:    "FILE003",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "column not found",
		msg: UserMessage{
			Message: "Code column not found in file",
			Action:  "Name the column HCPCS, CPT or Code, or pass the column name",
			Code:    "FILE005",
		},
	},

	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Cache storage is unavailable",
			Action:  "Please try again in a few moments",
			Code:    "CACHE001",
		},
	},
	{
		pattern: "is busy",
		msg: UserMessage{
			Message: "Cache storage is busy",
			Action:  "Please try again",
			Code:    "CACHE002",
		},
	},

	// Errors that crossed a stream boundary as text.
	{pattern: "deadline exceeded", msg: msgTimeout},
	{pattern: "context canceled", msg: msgCancelled},

	{pattern: "rate limit", msg: msgRateLimited},
	{pattern: "too many", msg: msgRateLimited},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// If nothing matches, the ERR000 fallback is returned. A nil error maps to
// the zero UserMessage.
//
// Example:
//
//	msg := MapError(fmt.Errorf("handler: %w", ErrTooManyRuns))
//	// msg.Code == "RATE001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}

// Package core coordinates HCPCS code validation runs.
//
// This package holds the run-level logic, independent of any transport. It is
// used by the web handlers and the hcpcsctl command without modification.
//
// # Architecture
//
//   - Orchestrator: normalizes input, consults the cache, sends misses to the
//     provider pool in paced batches and writes verdicts back.
//   - RunLimiter: bounds how many runs execute at once.
//   - Sweep scheduler: periodically removes expired cache entries.
//   - Metrics: Prometheus collectors for runs, cache hits and provider verdicts.
//
// # Runs
//
// A run validates each normalized code exactly once:
//
//  1. Client calls [Orchestrator.ValidateCodes] or [Orchestrator.StreamCodes]
//  2. Codes are trimmed, upper-cased, deduplicated and sorted
//  3. Cache hits are recorded; misses go to the validator in batches of
//     [Options.BatchSize] with [Options.BatchDelay] between batches
//  4. Cacheable verdicts are written back with a single SetBulk
//
// A code that no provider could resolve fails open: it is reported valid,
// flagged for manual review and never cached.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - VAL001-VAL003: Request errors (no codes, too many codes, bad body)
//   - FILE001-FILE005: File errors (size, encoding, format, column)
//   - RUN001-RUN002: Run errors (cancelled, timeout)
//   - PROV001: Provider quota exhausted
//   - CACHE001-CACHE002: Cache storage errors
//   - RATE001: Rate limiting
package core

package models

import (
	"errors"
)

// Error taxonomy shared by all pipeline stages. Stage code wraps these
// sentinels with fmt.Errorf("...: %w", ...) so the orchestrator can classify
// a failure without knowing which stage produced it.
var (
	// ErrSourceUnavailable marks a transient connectivity failure of an
	// ingestion source. Retryable with backoff.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSourceFormat marks an unreadable source payload. Fatal for the
	// batch; other domains are unaffected.
	ErrSourceFormat = errors.New("source format error")

	// ErrContractNotFound is returned by the schema registry when no
	// contract exists for the requested domain and version.
	ErrContractNotFound = errors.New("schema contract not found")

	// ErrContractConflict is returned on an attempt to register a contract
	// version that already exists. Contracts are immutable once registered.
	ErrContractConflict = errors.New("schema contract version already registered")

	// ErrWatermarkConflict marks a lost compare-and-set race on a domain
	// watermark. Retryable: the loser re-reads and retries.
	ErrWatermarkConflict = errors.New("watermark was advanced concurrently")

	// ErrBelowThreshold marks a trained model whose evaluation did not meet
	// the configured minimum improvement. Non-fatal: the previously
	// published model stays active.
	ErrBelowThreshold = errors.New("model evaluation below promotion threshold")
)

// IsRetryable reports whether the error is worth retrying with backoff.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrWatermarkConflict)
}

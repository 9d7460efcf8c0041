package types

import (
	"errors"
	"fmt"
)

// Error kinds per the propagation policy: contract violations surface to the
// caller immediately, retryable failures stay inside the scheduler, and
// storage/parse faults degrade without aborting a build.
var (
	// ErrContractViolation covers invalid PRDs, unresolved dependency ids,
	// and other caller mistakes that make the operation meaningless.
	ErrContractViolation = errors.New("contract violation")

	// ErrNotFound is returned by lookups on unknown ids.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is returned when an embedding's length does not
	// equal the store's configured dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrChecksumMismatch is returned when a persisted document's checksum
	// does not match its canonicalized data.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrSchemaVersion is returned when a persisted document carries an
	// unknown schema version.
	ErrSchemaVersion = errors.New("unsupported schema version")

	// ErrTimeout marks a task or hook that exceeded its budget.
	ErrTimeout = errors.New("operation timed out")
)

// ContractViolationf wraps ErrContractViolation with a formatted detail.
func ContractViolationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContractViolation, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted detail.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether an executor failure may be retried. Contract
// violations are never retryable; timeouts and transient failures are.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContractViolation) {
		return false
	}
	return true
}

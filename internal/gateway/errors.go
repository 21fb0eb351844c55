// Package gateway is the single choke point for all requests to the
// generative content provider. It owns retry/backoff, rate limiting, and
// the transient/malformed/terminal error taxonomy.
package gateway

import "fmt"

// TransportError represents a transient provider failure: rate limiting,
// timeout, connectivity, or a 5xx-class response. The gateway retries these
// with backoff before giving up.
type TransportError struct {
	Code  int // HTTP status when known, 0 otherwise
	Cause error
}

func (e *TransportError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("transport failure (status %d): %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// SchemaError represents a response the provider did return but whose
// content does not match the expected structured schema. Distinguished from
// transport failures and retried on a separate, smaller budget with a
// stricter instruction.
type SchemaError struct {
	Attempts int
	Cause    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("malformed provider response after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// ProviderUnavailableError is terminal for a unit in this run: the retry
// budget is exhausted or the provider rejected the request permanently.
// Callers record the unit as failed and continue; the job never aborts on
// one unit.
type ProviderUnavailableError struct {
	Attempts int
	Cause    error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider unavailable after %d attempt(s): %v", e.Attempts, e.Cause)
}

func (e *ProviderUnavailableError) Unwrap() error {
	return e.Cause
}

package domain

import "errors"

// Error taxonomy. Components wrap these sentinels so callers can
// classify with errors.Is without parsing strings.
var (
	// ErrTransient marks upstream timeouts, disconnects and rate
	// limits. Retried with backoff inside the component that raised it.
	ErrTransient = errors.New("transient upstream failure")

	// ErrUpstream marks non-retriable upstream rejections (bad
	// credentials, schema rejection).
	ErrUpstream = errors.New("upstream rejected request")

	// ErrNotFound marks lookup misses. Surfaced as a user-facing
	// "couldn't find it" reply, never as an error page.
	ErrNotFound = errors.New("not found")

	// ErrInvariant marks internal invariant violations (embedding
	// dimension mismatch and the like). Fatal to the operation.
	ErrInvariant = errors.New("invariant violated")

	// ErrOverload marks bounded-queue or pool exhaustion.
	ErrOverload = errors.New("overloaded")

	// ErrStoreTimeout marks a store query that missed its deadline.
	ErrStoreTimeout = errors.New("store timeout")

	// ErrStoreBusy marks connection pool exhaustion.
	ErrStoreBusy = errors.New("store busy")

	// ErrEmbeddingUpstream marks embedding provider failure after the
	// final retry.
	ErrEmbeddingUpstream = errors.New("embedding upstream failure")

	// ErrLLMSchema marks repeated schema-validation failure of LLM
	// structured output.
	ErrLLMSchema = errors.New("llm output failed schema validation")
)

// Package errs centralizes the error taxonomy spec.md §7 defines so callers
// can branch on sentinel values with errors.Is regardless of which
// component produced the wrapped error.
package errs

import (
	"errors"
	"strconv"
)

var (
	// ErrMalformedTx is returned by the address extractor when raw
	// transaction bytes cannot be parsed.
	ErrMalformedTx = errors.New("malformed transaction")

	// ErrTxTooLarge is returned when a transaction's byte length exceeds
	// the configured MAX_TX_SIZE_BYTES.
	ErrTxTooLarge = errors.New("transaction exceeds maximum size")

	// ErrStoreUnavailable signals the persistent store could not be
	// reached; per spec.md §7 this is fatal for the process.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrStoreConflict signals a duplicate-key write; upsert and
	// unordered bulk-insert paths swallow this, callers that don't use
	// those paths should treat it as a non-fatal skip.
	ErrStoreConflict = errors.New("store conflict")

	// ErrRpcTimeout is returned when a node RPC call exceeds its per-call
	// deadline.
	ErrRpcTimeout = errors.New("rpc timeout")

	// ErrRpcUnavailable signals a transport-level failure talking to the
	// node's JSON-RPC endpoint.
	ErrRpcUnavailable = errors.New("rpc unavailable")

	// ErrRateLimited is returned by the explorer client on HTTP 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrUpstreamError is returned by the explorer client on a non-2xx,
	// non-404, non-429 response.
	ErrUpstreamError = errors.New("upstream error")

	// ErrWebhookDeliveryFailure wraps a failed HTTP delivery attempt.
	ErrWebhookDeliveryFailure = errors.New("webhook delivery failed")

	// ErrNotFound signals a missing record at the store or REST layer.
	ErrNotFound = errors.New("not found")
)

// RpcError is a JSON-RPC application-level error: the transport succeeded
// but the node returned a structured error object.
type RpcError struct {
	Code    int
	Message string
}

func (e *RpcError) Error() string {
	return "rpc error " + strconv.Itoa(e.Code) + ": " + e.Message
}

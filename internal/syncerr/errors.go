// Package syncerr is the sentinel error taxonomy shared across the
// Synchronizer's layers — wire decoding, adapter I/O, and the sync
// protocol itself all wrap one of these with errors.Wrap-style
// %w so callers can errors.Is against a stable set of failure kinds
// instead of string-matching.
package syncerr

import "errors"

var (
	// ErrDecode marks a frame or message that failed to parse.
	ErrDecode = errors.New("syncerr: decode error")

	// ErrUnauthorized marks an action a permission.Set rejected.
	ErrUnauthorized = errors.New("syncerr: unauthorized")

	// ErrUnavailable marks a channel or adapter that cannot currently
	// accept an operation (e.g. sending on a removed channel).
	ErrUnavailable = errors.New("syncerr: unavailable")

	// ErrStaleFragments marks a fragment arriving for a reassembly
	// group that has already timed out and been discarded.
	ErrStaleFragments = errors.New("syncerr: stale fragment group")

	// ErrAdapterFault wraps a failure surfaced by a network or storage
	// adapter implementation.
	ErrAdapterFault = errors.New("syncerr: adapter fault")

	// ErrStorageFault wraps a failure from a storage adapter
	// specifically — a narrower ErrAdapterFault for callers that only
	// care about persistence failures.
	ErrStorageFault = errors.New("syncerr: storage fault")

	// ErrCorruptPeerID marks a peer id read from an untrusted source
	// (an establish-request/response) that failed validation.
	ErrCorruptPeerID = errors.New("syncerr: corrupt peer id")
)

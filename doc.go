// Package apiguard is an API-key gatekeeper. It issues opaque keys of the form
// tag_env_payload, stores only a salted hash of each one, resolves presented
// keys through a short lookup prefix and enforces a per-key sliding-window
// request quota.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// apiguard is the public surface. It exposes [Engine], [Builder], [Config],
// the [KeyStore] contract and value types. Credential encoding, resolution
// and the limiter algorithm live under internal/ and are never exported. The
// HTTP surface is in the middleware package; storage implementations are in
// store/.
//
// # Failure behavior
//
// The engine fails closed. A key store or limiter error or timeout rejects the
// request with [ErrBackendUnavailable]; nothing is retried internally. The
// last-used update runs in the background and its failures never affect the
// request that triggered it.
package apiguard

// Package flows contains the pure orchestrators behind Engine operations.
//
// [RunResolve] implements prefix narrowing plus per-candidate verification.
// [RunAuthenticate] is the gatekeeper state machine:
//
//	extract → resolve → status → quota? → limiter → forward | reject
//
// Flows are generic over the host's record type and receive every collaborator
// through a dependency struct, so they can be exercised with plain fakes.
//
// # Architecture boundaries
//
// Flows coordinate the key store, hasher, limiter, throttle and last-used
// recorder. They do NOT own any of these resources; ownership stays with the
// Engine, which also maps [FailureKind] values to public errors.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import apiguard (to avoid import cycles).
//   - Retry collaborator calls. Every failure is final for the request.
package flows

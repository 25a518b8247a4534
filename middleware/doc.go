// Package middleware is the HTTP surface of the gatekeeper.
//
// # Guards
//
//   - [Guard] authenticates the API key header through the engine, enforces the
//     key's quota and annotates forwarded requests with trusted identity
//     headers.
//   - [RequireBearer] protects the key management API with a bearer token.
//
// [RequestLogger] writes one structured log line per request.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement resolution or limiting itself; every decision is delegated to
// Engine.Authenticate.
package middleware

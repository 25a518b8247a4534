// Package credential implements the API key wire format: generation of new
// secrets, strict structural parsing, and the prefix truncation rule shared by
// issuance and resolution.
//
// A credential has the shape <tag>_<environment>_<payload>, where payload is the
// unpadded base64url encoding of a fixed number of random bytes. The prefix is
// <tag>_<environment>_ followed by the first PrefixLength payload characters and
// a trailing "...". It is an index hint for candidate lookup and carries no
// security weight.
//
// # Architecture boundaries
//
// The codec is pure: it performs no I/O other than reading from the injected
// entropy source. Hashing is delegated to the keyhash package by the caller.
//
// # What this package must NOT do
//
//   - Hash or verify secrets.
//   - Access any store.
//   - Distinguish malformed input from other failures in errors surfaced to HTTP callers.
package credential

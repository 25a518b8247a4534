// Package keyhash implements the salted, slow one-way hashes used to store API
// key secrets.
//
// # Algorithms
//
//   - [Bcrypt]: golang.org/x/crypto/bcrypt, default cost 10. Secrets longer than
//     72 bytes are rejected rather than silently truncated.
//   - [Argon2]: argon2id in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Auto] hashes with a primary algorithm and verifies any supported encoding by
// inspecting the stored hash, so records written under a previous algorithm keep
// resolving after a configuration change.
//
// # What this package must NOT do
//
//   - Store or retrieve secrets.
//   - Log secrets or hashes.
//   - Import any other apiguard package.
package keyhash

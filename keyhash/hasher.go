package keyhash

import (
	"errors"
	"strings"
)

var (
	// ErrMalformedHash reports a stored hash that cannot be decoded.
	ErrMalformedHash = errors.New("malformed hash")
	// ErrUnsupportedHash reports an encoding produced by an unknown algorithm.
	ErrUnsupportedHash = errors.New("unsupported hash algorithm")
	// ErrSecretTooLong reports a secret exceeding the algorithm input limit.
	ErrSecretTooLong = errors.New("secret exceeds hash input limit")
)

// Hasher hashes secrets and verifies them against stored encodings.
//
// Verify returns (false, nil) for a well-formed hash that does not match and a
// non-nil error only when the encoding itself is unusable.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(secret, encoded string) (bool, error)
}

// Algorithm names a supported hash family.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// Detect reports the algorithm that produced encoded.
func Detect(encoded string) (Algorithm, bool) {
	switch {
	case strings.HasPrefix(encoded, "$2a$"),
		strings.HasPrefix(encoded, "$2b$"),
		strings.HasPrefix(encoded, "$2y$"):
		return AlgorithmBcrypt, true
	case strings.HasPrefix(encoded, "$"+argon2ID+"$"):
		return AlgorithmArgon2id, true
	default:
		return "", false
	}
}

// Auto hashes with Primary and verifies with whichever algorithm produced the
// stored encoding.
type Auto struct {
	primary Hasher
	bcrypt  *Bcrypt
	argon2  *Argon2
}

// NewAuto wraps primary. Verification of foreign encodings uses the parameters
// embedded in the hash itself.
func NewAuto(primary Hasher) *Auto {
	a := &Auto{
		primary: primary,
		bcrypt:  &Bcrypt{cost: DefaultBcryptCost},
		argon2:  &Argon2{},
	}
	switch p := primary.(type) {
	case *Bcrypt:
		a.bcrypt = p
	case *Argon2:
		a.argon2 = p
	}
	return a
}

func (a *Auto) Hash(secret string) (string, error) {
	return a.primary.Hash(secret)
}

func (a *Auto) Verify(secret, encoded string) (bool, error) {
	alg, ok := Detect(encoded)
	if !ok {
		return false, ErrUnsupportedHash
	}
	switch alg {
	case AlgorithmBcrypt:
		return a.bcrypt.Verify(secret, encoded)
	default:
		return a.argon2.Verify(secret, encoded)
	}
}

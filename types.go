package apiguard

import (
	"context"
	"regexp"
	"time"

	"github.com/apiguard/apiguard/internal/rate"
)

// Status is the lifecycle state of a stored key. The only permitted
// transition is StatusActive to StatusRevoked.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// Unlimited is the RateLimit value of keys that bypass the limiter.
const Unlimited = 0

// KeyRecord is the persisted representation of an API key. The secret itself
// is never stored; Hash is a salted one-way hash of it.
type KeyRecord struct {
	ID          string
	WorkspaceID string
	Name        string
	Prefix      string
	Hash        string
	Status      Status
	RateLimit   int
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

// IsUnlimited reports whether the key bypasses the limiter.
func (r KeyRecord) IsUnlimited() bool {
	return r.RateLimit <= Unlimited
}

// Redacted returns a copy of r without the hash.
func (r KeyRecord) Redacted() KeyRecord {
	r.Hash = ""
	return r
}

// KeyStore is the persistence collaborator of the engine.
//
// FindByPrefix must return every record with the given prefix; more than one
// is legal. UpdateStatus must reject any transition other than active to
// revoked with ErrInvalidStatusTransition and report unknown ids with
// ErrKeyNotFound. UpdateLastUsed is best effort.
type KeyStore interface {
	FindByPrefix(ctx context.Context, prefix string) ([]KeyRecord, error)
	Insert(ctx context.Context, record KeyRecord) (KeyRecord, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	UpdateLastUsed(ctx context.Context, id string, at time.Time) error
}

// Quota is the limiter state reported to callers through rate headers.
type Quota struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ResetUnix returns ResetAt in whole Unix seconds, rounded up.
func (q Quota) ResetUnix() int64 {
	return rate.CeilUnix(q.ResetAt)
}

// AuthResult is the outcome of a successful Authenticate. Quota is nil for
// unlimited keys.
type AuthResult struct {
	Key   KeyRecord
	Quota *Quota
}

// IssueRequest describes a key to create.
type IssueRequest struct {
	WorkspaceID string
	Name        string
	Environment string
	RateLimit   int
}

// IssuedKey carries the only copy of the plaintext secret the engine will ever
// return, together with the stored record.
type IssuedKey struct {
	Secret string
	Key    KeyRecord
}

// GeneratedCredential is the output of Engine.GenerateCredential.
type GeneratedCredential struct {
	Secret string
	Prefix string
	Hash   string
}

// Workspace groups keys under one owner.
type Workspace struct {
	ID        string
	OwnerID   string
	Name      string
	Slug      string
	CreatedAt time.Time
}

var slugPattern = regexp.MustCompile(`^[a-z0-9-]{3,50}$`)

// ValidSlug reports whether slug is 3 to 50 lowercase letters, digits or
// hyphens.
func ValidSlug(slug string) bool {
	return slugPattern.MatchString(slug)
}

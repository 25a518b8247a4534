// Package memstore is an in-process key store and workspace directory for
// tests, demos and single-instance deployments.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/google/uuid"
)

// Store keeps records in maps guarded by one RWMutex. Records are copied in
// and out so callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	keys       map[string]apiguard.KeyRecord
	byPrefix   map[string][]string
	workspaces map[string]apiguard.Workspace
	now        func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		keys:       map[string]apiguard.KeyRecord{},
		byPrefix:   map[string][]string{},
		workspaces: map[string]apiguard.Workspace{},
		now:        time.Now,
	}
}

// CreateWorkspace registers a workspace owned by ownerID. Slugs are unique.
func (s *Store) CreateWorkspace(_ context.Context, ownerID, name, slug string) (apiguard.Workspace, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" || len(name) > 100 || !apiguard.ValidSlug(slug) {
		return apiguard.Workspace{}, apiguard.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.workspaces {
		if ws.Slug == slug {
			return apiguard.Workspace{}, apiguard.ErrSlugTaken
		}
	}
	ws := apiguard.Workspace{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Slug:      slug,
		CreatedAt: s.now().UTC(),
	}
	s.workspaces[ws.ID] = ws
	return ws, nil
}

// ListWorkspaces returns the workspaces of ownerID, oldest first.
func (s *Store) ListWorkspaces(_ context.Context, ownerID string) ([]apiguard.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []apiguard.Workspace
	for _, ws := range s.workspaces {
		if ws.OwnerID == ownerID {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) OwnsWorkspace(_ context.Context, userID, workspaceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[workspaceID]
	return ok && ws.OwnerID == userID, nil
}

func (s *Store) FindByPrefix(ctx context.Context, prefix string) ([]apiguard.KeyRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byPrefix[prefix]
	out := make([]apiguard.KeyRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(s.keys[id]))
	}
	return out, nil
}

func (s *Store) Insert(_ context.Context, record apiguard.KeyRecord) (apiguard.KeyRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = apiguard.StatusActive
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.keys[record.ID]; exists {
		return apiguard.KeyRecord{}, errors.New("duplicate key id")
	}
	s.keys[record.ID] = copyRecord(record)
	s.byPrefix[record.Prefix] = append(s.byPrefix[record.Prefix], record.ID)
	return copyRecord(record), nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status apiguard.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return apiguard.ErrKeyNotFound
	}
	if rec.Status != apiguard.StatusActive || status != apiguard.StatusRevoked {
		return apiguard.ErrInvalidStatusTransition
	}
	rec.Status = status
	s.keys[id] = rec
	return nil
}

// UpdateLastUsed moves the timestamp forward only.
func (s *Store) UpdateLastUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[id]
	if !ok {
		return apiguard.ErrKeyNotFound
	}
	if rec.LastUsedAt != nil && !at.After(*rec.LastUsedAt) {
		return nil
	}
	at = at.UTC()
	rec.LastUsedAt = &at
	s.keys[id] = rec
	return nil
}

func (s *Store) GetKey(_ context.Context, id string) (apiguard.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.keys[id]
	if !ok {
		return apiguard.KeyRecord{}, apiguard.ErrKeyNotFound
	}
	return copyRecord(rec), nil
}

// ListKeys returns the keys in workspaces owned by ownerID, newest first. A
// non-empty workspaceID narrows the result to that workspace.
func (s *Store) ListKeys(_ context.Context, ownerID, workspaceID string) ([]apiguard.KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []apiguard.KeyRecord
	for _, rec := range s.keys {
		ws, ok := s.workspaces[rec.WorkspaceID]
		if !ok || ws.OwnerID != ownerID {
			continue
		}
		if workspaceID != "" && rec.WorkspaceID != workspaceID {
			continue
		}
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func copyRecord(r apiguard.KeyRecord) apiguard.KeyRecord {
	if r.LastUsedAt != nil {
		t := *r.LastUsedAt
		r.LastUsedAt = &t
	}
	return r
}

package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore opens a named shared in-memory database so parallel tests
// stay isolated.
func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(ON)", url.PathEscape(t.Name()))
	s, err := Open(context.Background(), Config{Dialect: DialectSQLite, DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newKey(wsID, id, prefix string) apiguard.KeyRecord {
	return apiguard.KeyRecord{
		ID:          id,
		WorkspaceID: wsID,
		Name:        "key " + id,
		Prefix:      prefix,
		Hash:        "hash-" + id,
		Status:      apiguard.StatusActive,
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	_, err := Open(context.Background(), Config{Dialect: "mysql", DSN: "x"})
	assert.Error(t, err)

	_, err = Open(context.Background(), Config{Dialect: DialectSQLite})
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, RunMigrations(s.db, DialectSQLite))
	require.NoError(t, s.Ping(context.Background()))
}

func TestRebind(t *testing.T) {
	pg := New(nil, DialectPostgres)
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	lite := New(nil, DialectSQLite)
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

func TestWorkspaces(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	ws, err := s.CreateWorkspace(ctx, "user-1", "Acme", "acme")
	require.NoError(t, err)
	assert.NotEmpty(t, ws.ID)

	_, err = s.CreateWorkspace(ctx, "user-2", "Other", "acme")
	assert.ErrorIs(t, err, apiguard.ErrSlugTaken)

	_, err = s.CreateWorkspace(ctx, "user-1", "Bad", "BAD SLUG")
	assert.ErrorIs(t, err, apiguard.ErrInvalidRequest)

	list, err := s.ListWorkspaces(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ws, list[0])

	owns, err := s.OwnsWorkspace(ctx, "user-1", ws.ID)
	require.NoError(t, err)
	assert.True(t, owns)

	owns, err = s.OwnsWorkspace(ctx, "user-2", ws.ID)
	require.NoError(t, err)
	assert.False(t, owns)
}

func TestKeyRoundTripAndPrefixCollision(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, "user-1", "Acme", "acme")
	require.NoError(t, err)

	a := newKey(ws.ID, "a", "ag_live_AAAAAAAA...")
	a.RateLimit = 100
	a.CreatedAt = time.Date(2026, 1, 2, 3, 4, 5, 123456000, time.UTC)
	stored, err := s.Insert(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, a, stored)

	_, err = s.Insert(ctx, newKey(ws.ID, "b", "ag_live_AAAAAAAA..."))
	require.NoError(t, err)
	_, err = s.Insert(ctx, newKey(ws.ID, "c", "ag_live_BBBBBBBB..."))
	require.NoError(t, err)

	found, err := s.FindByPrefix(ctx, "ag_live_AAAAAAAA...")
	require.NoError(t, err)
	assert.Len(t, found, 2)

	got, err := s.GetKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, a, got)

	unlimited, err := s.GetKey(ctx, "b")
	require.NoError(t, err)
	assert.True(t, unlimited.IsUnlimited())

	_, err = s.GetKey(ctx, "missing")
	assert.ErrorIs(t, err, apiguard.ErrKeyNotFound)

	_, err = s.Insert(ctx, newKey("no-such-workspace", "d", "ag_live_CCCCCCCC..."))
	assert.Error(t, err)
}

func TestUpdateStatusIsMonotonic(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, "user-1", "Acme", "acme")
	require.NoError(t, err)
	_, err = s.Insert(ctx, newKey(ws.ID, "a", "p"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, "a", apiguard.StatusRevoked))
	assert.ErrorIs(t, s.UpdateStatus(ctx, "a", apiguard.StatusRevoked), apiguard.ErrInvalidStatusTransition)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "a", apiguard.StatusActive), apiguard.ErrInvalidStatusTransition)
	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", apiguard.StatusRevoked), apiguard.ErrKeyNotFound)

	got, err := s.GetKey(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, apiguard.StatusRevoked, got.Status)
}

func TestUpdateLastUsedMovesForwardOnly(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, "user-1", "Acme", "acme")
	require.NoError(t, err)
	_, err = s.Insert(ctx, newKey(ws.ID, "a", "p"))
	require.NoError(t, err)

	later := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateLastUsed(ctx, "a", later))
	require.NoError(t, s.UpdateLastUsed(ctx, "a", later.Add(-time.Hour)))

	got, err := s.GetKey(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.True(t, later.Equal(*got.LastUsedAt))

	assert.ErrorIs(t, s.UpdateLastUsed(ctx, "missing", later), apiguard.ErrKeyNotFound)
}

func TestListKeysScopedToOwner(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	mine, err := s.CreateWorkspace(ctx, "user-1", "Mine", "mine")
	require.NoError(t, err)
	other, err := s.CreateWorkspace(ctx, "user-1", "Other", "other")
	require.NoError(t, err)
	theirs, err := s.CreateWorkspace(ctx, "user-2", "Theirs", "theirs")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, wsID := range []string{mine.ID, other.ID, theirs.ID} {
		rec := newKey(wsID, fmt.Sprintf("k%d", i), "p")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_, err := s.Insert(ctx, rec)
		require.NoError(t, err)
	}

	all, err := s.ListKeys(ctx, "user-1", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "k1", all[0].ID)
	assert.Equal(t, "k0", all[1].ID)

	narrowed, err := s.ListKeys(ctx, "user-1", mine.ID)
	require.NoError(t, err)
	require.Len(t, narrowed, 1)
	assert.Equal(t, "k0", narrowed[0].ID)

	foreign, err := s.ListKeys(ctx, "user-1", theirs.ID)
	require.NoError(t, err)
	assert.Empty(t, foreign)
}

func TestEngineOverSQLStore(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	ws, err := s.CreateWorkspace(ctx, "user-1", "Acme", "acme")
	require.NoError(t, err)

	cfg := apiguard.DefaultConfig()
	cfg.Hashing.BcryptCost = 4
	cfg.RateLimit.Backend = apiguard.BackendMemory
	engine, err := apiguard.New().WithConfig(cfg).WithKeyStore(s).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	issued, err := engine.Issue(ctx, apiguard.IssueRequest{WorkspaceID: ws.ID, Name: "prod", RateLimit: 2})
	require.NoError(t, err)

	res, err := engine.Authenticate(ctx, issued.Secret)
	require.NoError(t, err)
	assert.Equal(t, issued.Key.ID, res.Key.ID)
	require.NotNil(t, res.Quota)
	assert.Equal(t, 1, res.Quota.Remaining)

	require.NoError(t, engine.Revoke(ctx, issued.Key.ID))
	_, err = engine.Authenticate(ctx, issued.Secret)
	assert.ErrorIs(t, err, apiguard.ErrCredentialRevoked)
}

// Package sqlstore persists workspaces and API keys in SQLite or PostgreSQL.
// The schema is embedded and applied with golang-migrate on Open.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

type Config struct {
	Dialect Dialect
	DSN     string
	// MaxOpenConns applies to PostgreSQL only. SQLite always uses one
	// connection.
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Store implements apiguard.KeyStore and the workspace directory.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

var _ apiguard.KeyStore = (*Store)(nil)

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Dialect != DialectSQLite && cfg.Dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	if cfg.DSN == "" {
		return nil, errors.New("sqlstore: empty DSN")
	}

	db, err := sql.Open(string(cfg.Dialect), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if cfg.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := RunMigrations(db, cfg.Dialect); err != nil {
		_ = db.Close()
		return nil, err
	}

	return New(db, cfg.Dialect), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func (s *Store) CreateWorkspace(ctx context.Context, ownerID, name, slug string) (apiguard.Workspace, error) {
	name = strings.TrimSpace(name)
	if ownerID == "" || name == "" || len(name) > 100 || !apiguard.ValidSlug(slug) {
		return apiguard.Workspace{}, apiguard.ErrInvalidRequest
	}

	ws := apiguard.Workspace{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Slug:      slug,
		CreatedAt: fromMicros(toMicros(s.now())),
	}

	const query = `INSERT INTO workspaces (id, user_id, name, slug, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(query), ws.ID, ws.OwnerID, ws.Name, ws.Slug, toMicros(ws.CreatedAt))
	if err != nil {
		if taken, lookupErr := s.slugExists(ctx, slug); lookupErr == nil && taken {
			return apiguard.Workspace{}, apiguard.ErrSlugTaken
		}
		return apiguard.Workspace{}, fmt.Errorf("create workspace %q: %w", slug, err)
	}

	return ws, nil
}

func (s *Store) slugExists(ctx context.Context, slug string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM workspaces WHERE slug = ?`), slug).Scan(&n)
	return n > 0, err
}

// ListWorkspaces returns the workspaces of ownerID, oldest first.
func (s *Store) ListWorkspaces(ctx context.Context, ownerID string) ([]apiguard.Workspace, error) {
	const query = `SELECT id, user_id, name, slug, created_at FROM workspaces WHERE user_id = ? ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), ownerID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []apiguard.Workspace
	for rows.Next() {
		var ws apiguard.Workspace
		var createdAt int64
		if err := rows.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &ws.Slug, &createdAt); err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		ws.CreatedAt = fromMicros(createdAt)
		out = append(out, ws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}
	return out, nil
}

func (s *Store) OwnsWorkspace(ctx context.Context, userID, workspaceID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM workspaces WHERE id = ? AND user_id = ?`),
		workspaceID, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check workspace owner: %w", err)
	}
	return n > 0, nil
}

const keyColumns = `k.id, k.workspace_id, k.name, k.key_prefix, k.key_hash, k.rate_limit, k.status, k.last_used_at, k.created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (apiguard.KeyRecord, error) {
	var (
		rec       apiguard.KeyRecord
		status    string
		rateLimit sql.NullInt64
		lastUsed  sql.NullInt64
		createdAt int64
	)
	if err := row.Scan(&rec.ID, &rec.WorkspaceID, &rec.Name, &rec.Prefix, &rec.Hash, &rateLimit, &status, &lastUsed, &createdAt); err != nil {
		return apiguard.KeyRecord{}, err
	}
	rec.Status = apiguard.Status(status)
	if rateLimit.Valid {
		rec.RateLimit = int(rateLimit.Int64)
	}
	if lastUsed.Valid {
		t := fromMicros(lastUsed.Int64)
		rec.LastUsedAt = &t
	}
	rec.CreatedAt = fromMicros(createdAt)
	return rec, nil
}

func (s *Store) FindByPrefix(ctx context.Context, prefix string) ([]apiguard.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys k WHERE k.key_prefix = ?`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), prefix)
	if err != nil {
		return nil, fmt.Errorf("find keys by prefix: %w", err)
	}
	defer rows.Close()

	var out []apiguard.KeyRecord
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return out, nil
}

func (s *Store) Insert(ctx context.Context, record apiguard.KeyRecord) (apiguard.KeyRecord, error) {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = apiguard.StatusActive
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}
	record.CreatedAt = fromMicros(toMicros(record.CreatedAt))

	var rateLimit sql.NullInt64
	if !record.IsUnlimited() {
		rateLimit = sql.NullInt64{Int64: int64(record.RateLimit), Valid: true}
	}
	var lastUsed sql.NullInt64
	if record.LastUsedAt != nil {
		lastUsed = sql.NullInt64{Int64: toMicros(*record.LastUsedAt), Valid: true}
	}

	const query = `INSERT INTO api_keys (id, workspace_id, name, key_prefix, key_hash, rate_limit, status, last_used_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		record.ID, record.WorkspaceID, record.Name, record.Prefix, record.Hash,
		rateLimit, string(record.Status), lastUsed, toMicros(record.CreatedAt),
	)
	if err != nil {
		return apiguard.KeyRecord{}, fmt.Errorf("insert key %q: %w", record.ID, err)
	}

	if !rateLimit.Valid {
		record.RateLimit = apiguard.Unlimited
	}
	return record, nil
}

// UpdateStatus allows only active to revoked.
func (s *Store) UpdateStatus(ctx context.Context, id string, status apiguard.Status) error {
	if status == apiguard.StatusRevoked {
		const query = `UPDATE api_keys SET status = ? WHERE id = ? AND status = ?`
		res, err := s.db.ExecContext(ctx, s.rebind(query), string(apiguard.StatusRevoked), id, string(apiguard.StatusActive))
		if err != nil {
			return fmt.Errorf("update key status %q: %w", id, err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check rows affected: %w", err)
		}
		if rows == 1 {
			return nil
		}
	}

	if _, err := s.GetKey(ctx, id); err != nil {
		return err
	}
	return apiguard.ErrInvalidStatusTransition
}

// UpdateLastUsed moves the timestamp forward only.
func (s *Store) UpdateLastUsed(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE api_keys SET last_used_at = ? WHERE id = ? AND (last_used_at IS NULL OR last_used_at < ?)`

	micros := toMicros(at)
	res, err := s.db.ExecContext(ctx, s.rebind(query), micros, id, micros)
	if err != nil {
		return fmt.Errorf("update last used %q: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		_, err := s.GetKey(ctx, id)
		return err
	}
	return nil
}

func (s *Store) GetKey(ctx context.Context, id string) (apiguard.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys k WHERE k.id = ?`

	rec, err := scanKey(s.db.QueryRowContext(ctx, s.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return apiguard.KeyRecord{}, apiguard.ErrKeyNotFound
	}
	if err != nil {
		return apiguard.KeyRecord{}, fmt.Errorf("get key %q: %w", id, err)
	}
	return rec, nil
}

// ListKeys returns the keys in workspaces owned by ownerID, newest first. A
// non-empty workspaceID narrows the result to that workspace.
func (s *Store) ListKeys(ctx context.Context, ownerID, workspaceID string) ([]apiguard.KeyRecord, error) {
	query := `SELECT ` + keyColumns + ` FROM api_keys k
JOIN workspaces w ON w.id = k.workspace_id
WHERE w.user_id = ?`
	args := []any{ownerID}
	if workspaceID != "" {
		query += ` AND k.workspace_id = ?`
		args = append(args, workspaceID)
	}
	query += ` ORDER BY k.created_at DESC, k.id`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var out []apiguard.KeyRecord
	for rows.Next() {
		rec, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return out, nil
}

package adminapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/apiguard/apiguard/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// KeyManager is the engine surface the API needs.
type KeyManager interface {
	Issue(ctx context.Context, req apiguard.IssueRequest) (*apiguard.IssuedKey, error)
	Revoke(ctx context.Context, id string) error
	Validate(ctx context.Context, secret string) (*apiguard.KeyRecord, error)
	Authenticate(ctx context.Context, secret string) (*apiguard.AuthResult, error)
}

// Directory answers ownership questions and lists workspaces and keys.
// memstore.Store and sqlstore.Store implement it.
type Directory interface {
	CreateWorkspace(ctx context.Context, ownerID, name, slug string) (apiguard.Workspace, error)
	ListWorkspaces(ctx context.Context, ownerID string) ([]apiguard.Workspace, error)
	OwnsWorkspace(ctx context.Context, userID, workspaceID string) (bool, error)
	GetKey(ctx context.Context, id string) (apiguard.KeyRecord, error)
	ListKeys(ctx context.Context, ownerID, workspaceID string) ([]apiguard.KeyRecord, error)
}

// Options configures the router.
type Options struct {
	// CredentialTag is the leading tag of well-formed secrets, "ag" by default.
	CredentialTag string
	Guard         middleware.Options
	// Protected serves /api/v1/* behind the guard. Nil mounts the example
	// echo handler.
	Protected http.Handler
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
	// RequestTimeout bounds every handler; a handler still running at the
	// deadline yields 504. Zero disables it.
	RequestTimeout time.Duration
}

// Server serves the management API, the validate endpoint and the guarded
// /api/v1 routes.
type Server struct {
	keys   KeyManager
	dir    Directory
	tokens middleware.TokenParser
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewServer wires keys, dir and tokens into a Server. A nil logger falls back
// to slog.Default.
func NewServer(keys KeyManager, dir Directory, tokens middleware.TokenParser, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CredentialTag == "" {
		opts.CredentialTag = "ag"
	}
	return &Server{
		keys:   keys,
		dir:    dir,
		tokens: tokens,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Routes returns the complete HTTP surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(chimw.Recoverer)
	if s.opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(s.opts.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.opts.Metrics != nil {
		r.Get("/metrics", s.opts.Metrics.ServeHTTP)
	}

	r.Post("/api/keys/validate", s.handleValidate)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireBearer(s.tokens))

		r.Post("/api/workspaces", s.handleCreateWorkspace)
		r.Get("/api/workspaces", s.handleListWorkspaces)

		r.Post("/api/keys", s.handleCreateKey)
		r.Get("/api/keys", s.handleListKeys)
		r.Delete("/api/keys/{id}", s.handleRevokeKey)
	})

	protected := s.opts.Protected
	if protected == nil {
		protected = http.HandlerFunc(s.handleExample)
	}
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Guard(s.keys, s.opts.Guard))
		r.Handle("/*", protected)
	})

	return r
}

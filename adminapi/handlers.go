package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/apiguard/apiguard/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

var errInvalidInput = errors.New("invalid input")

type workspaceJSON struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"createdAt"`
}

func toWorkspaceJSON(ws apiguard.Workspace) workspaceJSON {
	return workspaceJSON{
		ID:        ws.ID,
		UserID:    ws.OwnerID,
		Name:      ws.Name,
		Slug:      ws.Slug,
		CreatedAt: ws.CreatedAt,
	}
}

// keyJSON never carries the hash. A null rateLimit means unlimited.
type keyJSON struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspaceId"`
	Name        string     `json:"name"`
	KeyPrefix   string     `json:"keyPrefix"`
	RateLimit   *int       `json:"rateLimit"`
	Status      string     `json:"status"`
	LastUsedAt  *time.Time `json:"lastUsedAt"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toKeyJSON(rec apiguard.KeyRecord) keyJSON {
	return keyJSON{
		ID:          rec.ID,
		WorkspaceID: rec.WorkspaceID,
		Name:        rec.Name,
		KeyPrefix:   rec.Prefix,
		RateLimit:   rateLimitJSON(rec),
		Status:      string(rec.Status),
		LastUsedAt:  rec.LastUsedAt,
		CreatedAt:   rec.CreatedAt,
	}
}

func rateLimitJSON(rec apiguard.KeyRecord) *int {
	if rec.IsUnlimited() {
		return nil
	}
	limit := rec.RateLimit
	return &limit
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.OwnerFromContext(r.Context())

	var body struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeInvalidInput(w)
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" || len(name) > 100 || !apiguard.ValidSlug(body.Slug) {
		writeInvalidInput(w)
		return
	}

	ws, err := s.dir.CreateWorkspace(r.Context(), owner, name, body.Slug)
	if err != nil {
		s.writeError(w, r, "create workspace", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"workspace": toWorkspaceJSON(ws)})
}

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.OwnerFromContext(r.Context())

	list, err := s.dir.ListWorkspaces(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, "list workspaces", err)
		return
	}

	out := make([]workspaceJSON, 0, len(list))
	for _, ws := range list {
		out = append(out, toWorkspaceJSON(ws))
	}
	writeJSON(w, http.StatusOK, map[string]any{"workspaces": out})
}

func (s *Server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.OwnerFromContext(r.Context())

	var body struct {
		WorkspaceID string `json:"workspaceId"`
		Name        string `json:"name"`
		RateLimit   *int   `json:"rateLimit"`
		Environment string `json:"environment"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeInvalidInput(w)
		return
	}
	name := strings.TrimSpace(body.Name)
	if _, err := uuid.Parse(body.WorkspaceID); err != nil || name == "" || len(name) > 100 {
		writeInvalidInput(w)
		return
	}
	limit := apiguard.Unlimited
	if body.RateLimit != nil {
		if *body.RateLimit <= 0 {
			writeInvalidInput(w)
			return
		}
		limit = *body.RateLimit
	}

	owns, err := s.dir.OwnsWorkspace(r.Context(), owner, body.WorkspaceID)
	if err != nil {
		s.writeError(w, r, "check workspace owner", err)
		return
	}
	if !owns {
		s.writeError(w, r, "create key", apiguard.ErrWorkspaceNotFound)
		return
	}

	issued, err := s.keys.Issue(r.Context(), apiguard.IssueRequest{
		WorkspaceID: body.WorkspaceID,
		Name:        name,
		Environment: body.Environment,
		RateLimit:   limit,
	})
	if err != nil {
		s.writeError(w, r, "create key", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"key":     toKeyJSON(issued.Key),
		"fullKey": issued.Secret,
	})
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.OwnerFromContext(r.Context())

	list, err := s.dir.ListKeys(r.Context(), owner, r.URL.Query().Get("workspaceId"))
	if err != nil {
		s.writeError(w, r, "list keys", err)
		return
	}

	out := make([]keyJSON, 0, len(list))
	for _, rec := range list {
		out = append(out, toKeyJSON(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (s *Server) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	owner, _ := middleware.OwnerFromContext(r.Context())
	id := chi.URLParam(r, "id")

	rec, err := s.dir.GetKey(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "revoke key", err)
		return
	}
	owns, err := s.dir.OwnsWorkspace(r.Context(), owner, rec.WorkspaceID)
	if err != nil {
		s.writeError(w, r, "check workspace owner", err)
		return
	}
	if !owns {
		s.writeError(w, r, "revoke key", apiguard.ErrKeyNotFound)
		return
	}

	if err := s.keys.Revoke(r.Context(), id); err != nil {
		s.writeError(w, r, "revoke key", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleValidate is unauthenticated. It checks the key without consuming
// quota.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Key string `json:"key"`
	}
	if err := decodeBody(w, r, &body); err != nil || !strings.HasPrefix(body.Key, s.opts.CredentialTag+"_") {
		writeJSON(w, http.StatusBadRequest, map[string]any{"valid": false, "error": "Invalid API key format"})
		return
	}

	ctx := apiguard.WithClientIP(r.Context(), remoteHost(r))
	rec, err := s.keys.Validate(ctx, body.Key)
	if err != nil {
		status := apiguard.StatusCode(err, s.opts.Guard.UnavailableStatus)
		if status >= http.StatusInternalServerError {
			s.logger.ErrorContext(r.Context(), "validate key", slog.Any("error", err))
		}
		writeJSON(w, status, map[string]any{"valid": false, "error": apiguard.PublicMessage(err)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
		"key": map[string]any{
			"id":          rec.ID,
			"workspaceId": rec.WorkspaceID,
			"rateLimit":   rateLimitJSON(*rec),
		},
	})
}

func (s *Server) handleExample(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "Hello from ApiGuard!",
		"authenticated": true,
		"keyId":         r.Header.Get(keyIDHeader(s.opts.Guard)),
		"workspaceId":   r.Header.Get(workspaceIDHeader(s.opts.Guard)),
		"timestamp":     s.now().UTC().Format(time.RFC3339Nano),
	})
}

func keyIDHeader(o middleware.Options) string {
	if o.KeyIDHeader != "" {
		return o.KeyIDHeader
	}
	return middleware.DefaultKeyIDHeader
}

func workspaceIDHeader(o middleware.Options) string {
	if o.WorkspaceIDHeader != "" {
		return o.WorkspaceIDHeader
	}
	return middleware.DefaultWorkspaceIDHeader
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := apiguard.StatusCode(err, s.opts.Guard.UnavailableStatus)
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), op, slog.Any("error", err))
	}
	writeJSON(w, status, map[string]any{"error": apiguard.PublicMessage(err)})
}

func writeInvalidInput(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid input"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return errors.Join(errInvalidInput, err)
	}
	return nil
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

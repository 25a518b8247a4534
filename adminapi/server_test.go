package adminapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/apiguard/apiguard"
	"github.com/apiguard/apiguard/jwt"
	"github.com/apiguard/apiguard/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	handler http.Handler
	engine  *apiguard.Engine
	store   *memstore.Store
	tokens  *jwt.Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cfg := apiguard.DefaultConfig()
	cfg.Hashing.BcryptCost = bcrypt.MinCost
	cfg.RateLimit.Backend = apiguard.BackendMemory
	cfg.RateLimit.Window = time.Minute

	store := memstore.New()
	engine, err := apiguard.New().WithConfig(cfg).WithKeyStore(store).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(engine, store, tokens, logger, Options{})

	return &fixture{handler: srv.Routes(), engine: engine, store: store, tokens: tokens}
}

func (f *fixture) token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := f.tokens.CreateToken(uid)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, map[string]any, http.Header) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out, rec.Header()
}

func (f *fixture) workspace(t *testing.T, owner, slug string) string {
	t.Helper()
	ws, err := f.store.CreateWorkspace(context.Background(), owner, "Workspace "+slug, slug)
	require.NoError(t, err)
	return ws.ID
}

func TestManagementRequiresBearer(t *testing.T) {
	f := newFixture(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/workspaces"},
		{http.MethodPost, "/api/workspaces"},
		{http.MethodGet, "/api/keys"},
		{http.MethodPost, "/api/keys"},
		{http.MethodDelete, "/api/keys/abc"},
	} {
		code, body, _ := f.do(t, tc.method, tc.path, "", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, code, tc.path)
		assert.Equal(t, "Unauthorized", body["error"])
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "user-1")

	code, body, _ := f.do(t, http.MethodPost, "/api/workspaces", tok, map[string]any{"name": "Acme", "slug": "acme"}, nil)
	require.Equal(t, http.StatusCreated, code)
	ws := body["workspace"].(map[string]any)
	assert.Equal(t, "acme", ws["slug"])
	assert.Equal(t, "user-1", ws["userId"])

	code, body, _ = f.do(t, http.MethodPost, "/api/workspaces", f.token(t, "user-2"), map[string]any{"name": "Other", "slug": "acme"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Slug already taken", body["error"])

	code, body, _ = f.do(t, http.MethodPost, "/api/workspaces", tok, map[string]any{"name": "Bad", "slug": "Not Valid"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Invalid input", body["error"])

	code, body, _ = f.do(t, http.MethodGet, "/api/workspaces", tok, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["workspaces"], 1)

	code, body, _ = f.do(t, http.MethodGet, "/api/workspaces", f.token(t, "user-2"), nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["workspaces"])
}

func TestCreateKeyReturnsSecretOnce(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "user-1")
	wsID := f.workspace(t, "user-1", "acme")

	code, body, _ := f.do(t, http.MethodPost, "/api/keys", tok, map[string]any{"workspaceId": wsID, "name": "prod", "rateLimit": 5}, nil)
	require.Equal(t, http.StatusCreated, code)

	secret := body["fullKey"].(string)
	key := body["key"].(map[string]any)
	assert.Regexp(t, `^ag_live_[A-Za-z0-9_-]{43}$`, secret)
	assert.Equal(t, secret[:16]+"...", key["keyPrefix"])
	assert.Equal(t, float64(5), key["rateLimit"])
	assert.Equal(t, "active", key["status"])
	assert.NotContains(t, key, "hash")

	code, body, _ = f.do(t, http.MethodGet, "/api/keys?workspaceId="+wsID, tok, nil, nil)
	require.Equal(t, http.StatusOK, code)
	keys := body["keys"].([]any)
	require.Len(t, keys, 1)
	listed := keys[0].(map[string]any)
	assert.Equal(t, key["id"], listed["id"])
	assert.NotContains(t, listed, "fullKey")
}

func TestCreateKeyValidation(t *testing.T) {
	f := newFixture(t)
	tok := f.token(t, "user-1")
	wsID := f.workspace(t, "user-1", "acme")
	foreign := f.workspace(t, "user-2", "other")

	for name, body := range map[string]map[string]any{
		"not a uuid":  {"workspaceId": "ws", "name": "prod"},
		"empty name":  {"workspaceId": wsID, "name": "  "},
		"zero limit":  {"workspaceId": wsID, "name": "prod", "rateLimit": 0},
		"negative":    {"workspaceId": wsID, "name": "prod", "rateLimit": -1},
		"unknown env": {"workspaceId": wsID, "name": "prod", "environment": "staging"},
	} {
		code, _, _ := f.do(t, http.MethodPost, "/api/keys", tok, body, nil)
		assert.Equal(t, http.StatusBadRequest, code, name)
	}

	code, body, _ := f.do(t, http.MethodPost, "/api/keys", tok, map[string]any{"workspaceId": foreign, "name": "prod"}, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "Workspace not found or access denied", body["error"])
}

func TestListKeysScopedToOwner(t *testing.T) {
	f := newFixture(t)
	mine := f.workspace(t, "user-1", "mine")
	theirs := f.workspace(t, "user-2", "theirs")

	_, err := f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: mine, Name: "a"})
	require.NoError(t, err)
	_, err = f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: theirs, Name: "b"})
	require.NoError(t, err)

	tok := f.token(t, "user-1")
	_, body, _ := f.do(t, http.MethodGet, "/api/keys", tok, nil, nil)
	require.Len(t, body["keys"], 1)
	assert.Nil(t, body["keys"].([]any)[0].(map[string]any)["rateLimit"])

	_, body, _ = f.do(t, http.MethodGet, "/api/keys?workspaceId="+theirs, tok, nil, nil)
	assert.Empty(t, body["keys"])
}

func TestRevokeKey(t *testing.T) {
	f := newFixture(t)
	wsID := f.workspace(t, "user-1", "acme")
	issued, err := f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: wsID, Name: "prod"})
	require.NoError(t, err)

	code, body, _ := f.do(t, http.MethodDelete, "/api/keys/"+issued.Key.ID, f.token(t, "user-2"), nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "API key not found or access denied", body["error"])

	code, _, _ = f.do(t, http.MethodDelete, "/api/keys/missing", f.token(t, "user-1"), nil, nil)
	assert.Equal(t, http.StatusNotFound, code)

	tok := f.token(t, "user-1")
	code, body, _ = f.do(t, http.MethodDelete, "/api/keys/"+issued.Key.ID, tok, nil, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, _, _ = f.do(t, http.MethodDelete, "/api/keys/"+issued.Key.ID, tok, nil, nil)
	assert.Equal(t, http.StatusOK, code)

	rec, err := f.store.GetKey(context.Background(), issued.Key.ID)
	require.NoError(t, err)
	assert.Equal(t, apiguard.StatusRevoked, rec.Status)
}

func TestValidateEndpoint(t *testing.T) {
	f := newFixture(t)
	wsID := f.workspace(t, "user-1", "acme")
	issued, err := f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: wsID, Name: "prod", RateLimit: 1})
	require.NoError(t, err)

	code, body, _ := f.do(t, http.MethodPost, "/api/keys/validate", "", map[string]any{"key": "sk_live_abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["valid"])
	assert.Equal(t, "Invalid API key format", body["error"])

	code, body, _ = f.do(t, http.MethodPost, "/api/keys/validate", "", map[string]any{"key": "ag_live_unknown"}, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Invalid API key", body["error"])

	for range 3 {
		code, body, _ = f.do(t, http.MethodPost, "/api/keys/validate", "", map[string]any{"key": issued.Secret}, nil)
		require.Equal(t, http.StatusOK, code)
	}
	assert.Equal(t, true, body["valid"])
	key := body["key"].(map[string]any)
	assert.Equal(t, issued.Key.ID, key["id"])
	assert.Equal(t, wsID, key["workspaceId"])
	assert.Equal(t, float64(1), key["rateLimit"])

	require.NoError(t, f.engine.Revoke(context.Background(), issued.Key.ID))
	code, body, _ = f.do(t, http.MethodPost, "/api/keys/validate", "", map[string]any{"key": issued.Secret}, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "API key has been revoked", body["error"])
}

func TestGuardedExampleRoute(t *testing.T) {
	f := newFixture(t)
	wsID := f.workspace(t, "user-1", "acme")
	issued, err := f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: wsID, Name: "prod", RateLimit: 1})
	require.NoError(t, err)

	code, body, _ := f.do(t, http.MethodGet, "/api/v1/example", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "Missing API key", body["error"])

	code, body, hdr := f.do(t, http.MethodGet, "/api/v1/example", "", nil, map[string]string{"x-api-key": issued.Secret})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, issued.Key.ID, body["keyId"])
	assert.Equal(t, wsID, body["workspaceId"])
	assert.Equal(t, true, body["authenticated"])
	assert.Equal(t, "1", hdr.Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", hdr.Get("X-RateLimit-Remaining"))

	code, body, _ = f.do(t, http.MethodGet, "/api/v1/example", "", nil, map[string]string{"x-api-key": issued.Secret})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.NotNil(t, body["reset"])
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	code, body, _ := f.do(t, http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _, _ = f.do(t, http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRequestTimeoutAnswersGatewayTimeout(t *testing.T) {
	f := newFixture(t)
	wsID := f.workspace(t, "user-1", "slow-ws")
	issued, err := f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: wsID, Name: "slow"})
	require.NoError(t, err)

	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewServer(f.engine, f.store, f.tokens, logger, Options{
		Protected:      slow,
		RequestTimeout: 20 * time.Millisecond,
	}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/report", nil)
	req.Header.Set("X-Api-Key", issued.Secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestPanickingHandlerAnswersInternalError(t *testing.T) {
	f := newFixture(t)
	wsID := f.workspace(t, "user-1", "panic-ws")
	issued, err := f.engine.Issue(context.Background(), apiguard.IssueRequest{WorkspaceID: wsID, Name: "boom"})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewServer(f.engine, f.store, f.tokens, logger, Options{
		Protected: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	}).Routes()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/report", nil)
	req.Header.Set("X-Api-Key", issued.Secret)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/tenant-accounts/internal/config"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	cfg := config.Config{
		Port:              8080,
		DBPath:            filepath.Join(t.TempDir(), "accounts.db"),
		JWTSecret:         "test-secret-that-is-long-enough",
		TokenTTL:          time.Minute,
		PasswordMinLength: 8,
		BcryptCost:        4,
		ServerName:        "test",
	}
	s, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.Handler()
}

// do sends a JSON request, authenticated with token when it is not empty.
func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type session struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	Token string `json:"token"`
}

func register(t *testing.T, h http.Handler, email, name string) session {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": "correct horse",
		"name":     name,
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var s session
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&s))
	require.NotEmpty(t, s.Token)
	return s
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), rr.Body.String())
	return v
}

func TestNew_RequiresJWTSecret(t *testing.T) {
	_, err := New(context.Background(), config.Config{DBPath: ":memory:"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodGet, "/api/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRegisterLoginAndMe(t *testing.T) {
	h := newTestServer(t)
	alice := register(t, h, "Alice@Example.com", "Alice")

	me := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/me", alice.Token, nil))
	assert.Equal(t, "alice@example.com", me["email"])
	assert.Equal(t, "server:admin", me["role"])
	assert.NotContains(t, me, "passwordDigest")

	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "alice@example.com", "password": "another one",
	})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "conflict", decode[map[string]any](t, rr)["error"])

	rr = do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "correct horse",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, "token", cookies[0].Name)

	rr = do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "wrong password",
	})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRegister_ShortPasswordIsRejected(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@example.com", "password": "short",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := decode[map[string]any](t, rr)
	assert.Equal(t, "validation_error", body["error"])
	assert.Equal(t, "password", body["field"])
}

func TestRegister_UnknownFieldsAreRejected(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/auth/register", "", map[string]string{
		"email": "a@example.com", "password": "long enough", "role": "server:admin",
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestProfileAndPassword(t *testing.T) {
	h := newTestServer(t)
	alice := register(t, h, "alice@example.com", "Alice")

	rr := do(t, h, http.MethodPut, "/api/me", alice.Token, map[string]string{"company": "Acme"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Acme", decode[map[string]any](t, rr)["company"])

	rr = do(t, h, http.MethodPut, "/api/me/password", alice.Token, map[string]string{"password": "2short"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPut, "/api/me/password", alice.Token, map[string]string{"password": "brand new secret"})
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(t, h, http.MethodPost, "/auth/login", "", map[string]string{
		"email": "alice@example.com", "password": "brand new secret",
	})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminRoutes_QuorumScenario(t *testing.T) {
	h := newTestServer(t)
	alice := register(t, h, "alice@example.com", "Alice")
	bob := register(t, h, "bob@example.com", "Bob")

	// Bob is a standard user.
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/api/admin/users", bob.Token, nil).Code)

	list := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/admin/users", alice.Token, nil))
	assert.EqualValues(t, 2, list["total"])

	// Alice is the only administrator.
	rr := do(t, h, http.MethodPut, "/api/admin/users/"+alice.User.ID+"/role", alice.Token,
		map[string]string{"role": "server:user"})
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "invariant_violation", decode[map[string]any](t, rr)["error"])

	rr = do(t, h, http.MethodDelete, "/api/admin/users/"+alice.User.ID, alice.Token, nil)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPut, "/api/admin/users/"+bob.User.ID+"/role", alice.Token,
		map[string]string{"role": "server:admin"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPut, "/api/admin/users/"+alice.User.ID+"/role", alice.Token,
		map[string]string{"role": "server:user"})
	require.Equal(t, http.StatusOK, rr.Code)

	// The role is checked per request, so the demotion bites immediately.
	assert.Equal(t, http.StatusForbidden, do(t, h, http.MethodGet, "/api/admin/users", alice.Token, nil).Code)

	rr = do(t, h, http.MethodDelete, "/api/admin/users/"+alice.User.ID, bob.Token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = do(t, h, http.MethodDelete, "/api/admin/users/"+alice.User.ID, bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, h, http.MethodGet, "/api/admin/users/"+alice.User.ID, bob.Token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminRoutes_GuestModeGate(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin@example.com", "Admin")
	user := register(t, h, "user@example.com", "User")
	rolePath := "/api/admin/users/" + user.User.ID + "/role"

	rr := do(t, h, http.MethodPut, rolePath, admin.Token, map[string]string{"role": "server:guest"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(t, h, http.MethodPut, rolePath, admin.Token, map[string]string{"role": "server:root"})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPut, "/api/admin/server-info", admin.Token,
		map[string]any{"name": "test", "guestModeEnabled": true})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodPut, rolePath, admin.Token, map[string]string{"role": "server:guest"})
	require.Equal(t, http.StatusOK, rr.Code)

	got := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/admin/users/"+user.User.ID, admin.Token, nil))
	assert.Equal(t, "server:guest", got["role"])

	info := decode[map[string]any](t, do(t, h, http.MethodGet, "/api/admin/server-info", admin.Token, nil))
	assert.Equal(t, true, info["guestModeEnabled"])
}

func TestAdminCreate_HonoursRequestedRole(t *testing.T) {
	h := newTestServer(t)
	admin := register(t, h, "admin@example.com", "Admin")

	rr := do(t, h, http.MethodPost, "/api/admin/users", admin.Token, map[string]any{
		"email": "second@example.com", "password": "long enough", "role": "server:admin",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[map[string]any](t, rr)
	assert.Equal(t, "server:admin", created["role"])
	assert.Equal(t, "second@example.com", created["email"])
}

func TestSearch_HidesEmailsAndPages(t *testing.T) {
	h := newTestServer(t)
	alice := register(t, h, "alice@example.com", "Alice")
	register(t, h, "bob1@example.com", "Bob One")
	register(t, h, "bob2@example.com", "Bob Two")

	type page struct {
		Items  []map[string]any `json:"items"`
		Cursor string           `json:"cursor"`
		Total  int              `json:"total"`
	}

	first := decode[page](t, do(t, h, http.MethodGet, "/api/users/search?q=bob&limit=1", alice.Token, nil))
	require.Len(t, first.Items, 1)
	assert.Equal(t, "Bob Two", first.Items[0]["name"])
	assert.NotContains(t, first.Items[0], "email")
	assert.Equal(t, 2, first.Total)
	require.NotEmpty(t, first.Cursor)

	second := decode[page](t, do(t, h, http.MethodGet,
		"/api/users/search?q=bob&limit=1&cursor="+first.Cursor, alice.Token, nil))
	require.Len(t, second.Items, 1)
	assert.Equal(t, "Bob One", second.Items[0]["name"])

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/users/search?q=", alice.Token, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/users/search?q=bob&limit=x", alice.Token, nil).Code)
}

func TestLogout_ClearsCookie(t *testing.T) {
	h := newTestServer(t)

	rr := do(t, h, http.MethodPost, "/auth/logout", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}

func TestGitHubRoutes_AbsentWhenNotConfigured(t *testing.T) {
	h := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/auth/github/login", "", nil).Code)
}

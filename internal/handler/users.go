package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/tenant-accounts/internal/apperror"
	"github.com/sakif/tenant-accounts/internal/auth"
	"github.com/sakif/tenant-accounts/internal/model"
)

// Accounts is the account lifecycle as the HTTP layer sees it.
type Accounts interface {
	Create(ctx context.Context, in model.CreateUserInput, opts model.CreateOptions) (string, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetRole(ctx context.Context, userID string) (model.Role, error)
	Search(ctx context.Context, p model.SearchParams) (*model.SearchPage, error)
	CountSearchUsers(ctx context.Context, p model.SearchParams) (int, error)
	List(ctx context.Context, limit, offset int, query string) ([]model.User, error)
	CountUsers(ctx context.Context, query string) (int, error)
	ChangePassword(ctx context.Context, userID, newPassword string) error
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.User, error)
	ChangeRole(ctx context.Context, userID string, role model.Role, guestModeEnabled bool) error
	Delete(ctx context.Context, userID string) (int64, error)
}

// ServerSettings reads and edits server-wide settings.
type ServerSettings interface {
	Get(ctx context.Context) (model.ServerInfo, error)
	Update(ctx context.Context, info model.ServerInfo) (model.ServerInfo, error)
}

// userWithRole is a full user record plus their server role.
type userWithRole struct {
	*model.User
	Role model.Role `json:"role"`
}

// UserHandler serves the signed-in user's own account and the restricted
// search. Every route sits behind RequireAuth.
type UserHandler struct {
	accounts Accounts
	logger   *slog.Logger
}

func NewUserHandler(accounts Accounts, logger *slog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, logger: logger}
}

// currentUserID reads the id RequireAuth stored. A missing id means the
// route was mounted without the middleware.
func currentUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "authentication required"})
	}
	return id, ok
}

// HandleMe returns the caller's profile and role.
//
// HTTP: GET /api/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	user, err := h.accounts.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		// Valid token for an account deleted since it was issued.
		writeError(w, apperror.NotFound("user", userID))
		return
	}

	role, err := h.accounts.GetRole(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userWithRole{User: user, Role: role})
}

// HandleUpdateMe edits the caller's profile. Omitted fields are unchanged.
//
// HTTP: PUT /api/me
// REQUEST BODY: {"name": "Ada", "company": "...", "bio": "...", "avatar": "..."}
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var update model.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	Password string `json:"password"`
}

// HandleChangePassword replaces the caller's password.
//
// HTTP: PUT /api/me/password
// REQUEST BODY: {"password": "new secret"}
func (h *UserHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUserID(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), userID, req.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type searchResponse struct {
	*model.SearchPage
	Total int `json:"total"`
}

// HandleSearch is the restricted search: exact email or partial name, no
// emails in the results.
//
// HTTP: GET /api/users/search?q=bob&limit=10&cursor=...&archived=true&emailOnly=true
func (h *UserHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	archived, err := boolParam(q.Get("archived"), "archived")
	if err != nil {
		writeError(w, err)
		return
	}
	emailOnly, err := boolParam(q.Get("emailOnly"), "emailOnly")
	if err != nil {
		writeError(w, err)
		return
	}

	params := model.SearchParams{
		Query:     q.Get("q"),
		Limit:     limit,
		Cursor:    q.Get("cursor"),
		Archived:  archived,
		EmailOnly: emailOnly,
	}

	page, err := h.accounts.Search(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := h.accounts.CountSearchUsers(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{SearchPage: page, Total: total})
}

// intParam parses an optional non-negative integer query parameter.
func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperror.ValidationFailed(name, name+" must be a non-negative integer")
	}
	return n, nil
}

func boolParam(raw, name string) (bool, error) {
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperror.ValidationFailed(name, name+" must be true or false")
	}
	return b, nil
}

// =========================================================================
// ADMIN
// =========================================================================

// AdminHandler serves the administrator routes. The router wraps them in
// RequireRole(RoleAdmin).
type AdminHandler struct {
	accounts Accounts
	settings ServerSettings
	logger   *slog.Logger
}

func NewAdminHandler(accounts Accounts, settings ServerSettings, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{accounts: accounts, settings: settings, logger: logger}
}

type listResponse struct {
	Items []model.User `json:"items"`
	Total int          `json:"total"`
}

// HandleList pages through all users in storage order.
//
// HTTP: GET /api/admin/users?limit=10&offset=0&q=acme
func (h *AdminHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		writeError(w, err)
		return
	}
	offset, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		writeError(w, err)
		return
	}

	users, err := h.accounts.List(r.Context(), limit, offset, q.Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	total, err := h.accounts.CountUsers(r.Context(), q.Get("q"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse{Items: users, Total: total})
}

// HandleCreate creates an account on someone's behalf. Unlike
// self-registration the administrator may request a role.
//
// HTTP: POST /api/admin/users
// REQUEST BODY: {"email": "...", "password": "...", "name": "...", "role": "server:user"}
func (h *AdminHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in model.CreateUserInput
	if !decodeJSON(w, r, &in) {
		return
	}

	id, err := h.accounts.Create(r.Context(), in, model.CreateOptions{})
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeUser(w, r, http.StatusCreated, id)
}

// HandleGet returns one user with their role.
//
// HTTP: GET /api/admin/users/{id}
func (h *AdminHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	h.writeUser(w, r, http.StatusOK, chi.URLParam(r, "id"))
}

func (h *AdminHandler) writeUser(w http.ResponseWriter, r *http.Request, status int, id string) {
	user, err := h.accounts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if user == nil {
		writeError(w, apperror.NotFound("user", id))
		return
	}
	role, err := h.accounts.GetRole(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, userWithRole{User: user, Role: role})
}

type changeRoleRequest struct {
	Role model.Role `json:"role"`
}

// HandleChangeRole sets a user's server role. Guest is only accepted while
// guest mode is on; demoting the last administrator is refused with 409.
//
// HTTP: PUT /api/admin/users/{id}/role
// REQUEST BODY: {"role": "server:user"}
func (h *AdminHandler) HandleChangeRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req changeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	info, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ChangeRole(r.Context(), id, req.Role, info.GuestModeEnabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "role": string(req.Role)})
}

// HandleDelete removes a user with everything only they owned.
//
// HTTP: DELETE /api/admin/users/{id}
func (h *AdminHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	removed, err := h.accounts.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if removed == 0 {
		writeError(w, apperror.NotFound("user", id))
		return
	}

	actor, _ := auth.UserIDFromContext(r.Context())
	h.logger.Info("user deleted by administrator",
		slog.String("userID", id),
		slog.String("actor", actor),
	)
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetServerInfo returns the server settings.
//
// HTTP: GET /api/admin/server-info
func (h *AdminHandler) HandleGetServerInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.settings.Get(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleUpdateServerInfo replaces the server settings.
//
// HTTP: PUT /api/admin/server-info
// REQUEST BODY: {"name": "Acme", "guestModeEnabled": true}
func (h *AdminHandler) HandleUpdateServerInfo(w http.ResponseWriter, r *http.Request) {
	var info model.ServerInfo
	if !decodeJSON(w, r, &info) {
		return
	}

	updated, err := h.settings.Update(r.Context(), info)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

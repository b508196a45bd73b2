package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/service"
)

// AdminHandler exposes the credential directory and the access journal to
// administrators.
type AdminHandler struct {
	directory  *service.Directory
	journal    *service.Journal
	authSvc    *service.AuthService
	publicURL  string
	sessionTTL time.Duration
}

// NewAdminHandler creates a new AdminHandler. publicURL is used to build
// shareable playlist URLs; when empty the request's own host is used.
func NewAdminHandler(directory *service.Directory, journal *service.Journal, authSvc *service.AuthService, publicURL string, sessionTTL time.Duration) *AdminHandler {
	if sessionTTL <= 0 {
		sessionTTL = 24 * time.Hour
	}
	return &AdminHandler{
		directory:  directory,
		journal:    journal,
		authSvc:    authSvc,
		publicURL:  publicURL,
		sessionTTL: sessionTTL,
	}
}

// userResponse is a user plus the URL a client should be given.
type userResponse struct {
	model.User
	PlaylistURL string `json:"playlist_url"`
}

func (h *AdminHandler) present(r *http.Request, u *model.User) userResponse {
	return userResponse{
		User:        *u,
		PlaylistURL: baseURL(r, h.publicURL) + "/playlist.m3u?token=" + url.QueryEscape(u.Token),
	}
}

// ---------------------------------------------------------------------------
// Authentication
// ---------------------------------------------------------------------------

// sessionRequest is the expected payload for the CreateSession endpoint.
type sessionRequest struct {
	AdminKey string `json:"admin_key"`
}

// sessionResponse is the response payload for a successful session exchange.
type sessionResponse struct {
	Token     string    `json:"session_token"`
	TokenType string    `json:"token_type"`
	ExpiresIn int       `json:"expires_in"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateSession exchanges the admin key for a JWT session token.
// POST /admin/session
func (h *AdminHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.AdminKey == "" {
		writeError(w, http.StatusBadRequest, "admin_key is required")
		return
	}

	token, expiresAt, err := h.authSvc.IssueJWT(r.Context(), req.AdminKey, h.sessionTTL)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrAdminDisabled):
			writeError(w, http.StatusServiceUnavailable, "Admin API is disabled")
		case errors.Is(err, service.ErrInvalidCredentials):
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(h.sessionTTL.Seconds()),
		ExpiresAt: expiresAt.UTC(),
	})
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// ListUsers returns all users, newest first.
// GET /admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.directory.List(r.Context())
	if err != nil {
		writeServiceError(w, err, "Failed to list users")
		return
	}

	resources := make([]userResponse, 0, len(users))
	for i := range users {
		resources = append(resources, h.present(r, &users[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

type createUserRequest struct {
	Username string `json:"username"`
}

// CreateUser registers a new user.
// POST /admin/users
func (h *AdminHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	u, err := h.directory.Create(r.Context(), req.Username)
	if err != nil {
		writeServiceError(w, err, "Failed to create user")
		return
	}
	writeJSON(w, http.StatusCreated, h.present(r, u))
}

// GetUser returns one user.
// GET /admin/users/{username}
func (h *AdminHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.directory.Get(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err, "Failed to get user")
		return
	}
	writeJSON(w, http.StatusOK, h.present(r, u))
}

// UpdateUser changes max_devices, strict_ip_mode and/or expires_at. Any
// other key in the body is ignored.
// PUT /admin/users/{username}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var settings model.UserSettings
	if err := readJSON(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	u, err := h.directory.UpdateSettings(r.Context(), chi.URLParam(r, "username"), settings)
	if err != nil {
		writeServiceError(w, err, "Failed to update user")
		return
	}
	writeJSON(w, http.StatusOK, h.present(r, u))
}

// DeleteUser removes a user and its devices.
// DELETE /admin/users/{username}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.directory.Delete(r.Context(), username); err != nil {
		writeServiceError(w, err, "Failed to delete user")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "User deleted",
		"username": username,
	})
}

type statusRequest struct {
	IsActive *bool `json:"is_active"`
}

// SetStatus enables or disables a user.
// PUT /admin/users/{username}/status
func (h *AdminHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "is_active must be a boolean")
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, "is_active is required")
		return
	}

	u, err := h.directory.SetActive(r.Context(), chi.URLParam(r, "username"), *req.IsActive)
	if err != nil {
		writeServiceError(w, err, "Failed to update status")
		return
	}
	writeJSON(w, http.StatusOK, h.present(r, u))
}

// RenewUser issues a new 30 day token and reactivates the user.
// POST /admin/users/{username}/renew
func (h *AdminHandler) RenewUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.directory.Renew(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err, "Failed to renew user")
		return
	}
	writeJSON(w, http.StatusOK, h.present(r, u))
}

// RegenerateToken replaces the user's token without touching anything else.
// POST /admin/users/{username}/regenerate
func (h *AdminHandler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	u, err := h.directory.RotateToken(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err, "Failed to regenerate token")
		return
	}
	writeJSON(w, http.StatusOK, h.present(r, u))
}

// ---------------------------------------------------------------------------
// Devices
// ---------------------------------------------------------------------------

// ListDevices returns the user's devices, oldest first.
// GET /admin/users/{username}/devices
func (h *AdminHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := h.directory.Devices(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err, "Failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: devices,
		Meta:     &model.ResponseMeta{Count: len(devices)},
	})
}

// ResetDevices forgets every device of the user.
// POST /admin/users/{username}/reset-devices
func (h *AdminHandler) ResetDevices(w http.ResponseWriter, r *http.Request) {
	n, err := h.directory.ResetDevices(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeServiceError(w, err, "Failed to reset devices")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Devices reset",
		"count":   n,
	})
}

// ---------------------------------------------------------------------------
// Journal
// ---------------------------------------------------------------------------

// ListLogs returns access journal entries, most recent first.
// GET /admin/logs?limit=&offset=&status=&username=
func (h *AdminHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := model.JournalQuery{
		Limit:    clampInt(queryInt(r, "limit", model.DefaultJournalLimit), 1, model.MaxJournalLimit),
		Offset:   queryInt(r, "offset", 0),
		Status:   model.Outcome(strings.ToUpper(queryString(r, "status"))),
		Username: queryString(r, "username"),
	}

	entries, err := h.journal.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, err, "Failed to list logs")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: entries,
		Meta: &model.ResponseMeta{
			Count:  len(entries),
			Limit:  q.Limit,
			Offset: q.Offset,
		},
	})
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/m3ugate/m3ugate/internal/admission"
	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/service"
	"github.com/m3ugate/m3ugate/internal/store"
)

const (
	testAdminKey  = "test-admin-key"
	testJWTSecret = "test-secret-for-handler-tests"
	testPlaylist  = "#EXTM3U\n#EXTINF:-1,Channel One\nhttp://example.com/one.ts\n"
)

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store        *store.Store
	directory    *service.Directory
	journal      *service.Journal
	authSvc      *service.AuthService
	admin        *AdminHandler
	playlistPath string
	router       chi.Router
}

// newTestEnv creates a fresh test environment with an in-memory store, a
// playlist file on disk, and a Chi router with routes mounted (no auth
// middleware).
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	s, err := store.NewStore(store.Options{}) // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	playlistPath := filepath.Join(t.TempDir(), "exported.m3u")
	if err := os.WriteFile(playlistPath, []byte(testPlaylist), 0644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := service.NewDirectory(s, logger)
	journal := service.NewJournal(s, logger)
	gateway := service.NewGateway(directory, admission.NewAdmitter(s), journal, logger)
	authSvc := service.NewAuthService(testAdminKey, testJWTSecret)

	adminHandler := NewAdminHandler(directory, journal, authSvc, "", time.Hour)
	playlistHandler := NewPlaylistHandler(gateway, playlistPath, logger)

	// Mount routes without auth middleware for direct handler testing.
	r := chi.NewRouter()
	r.Get("/playlist.m3u", playlistHandler.ServePlaylist)
	r.Get("/openapi.json", NewOpenAPIHandler("", "test").ServeSpec)
	r.Route("/admin", func(r chi.Router) {
		r.Post("/session", adminHandler.CreateSession)

		r.Get("/users", adminHandler.ListUsers)
		r.Post("/users", adminHandler.CreateUser)
		r.Get("/users/{username}", adminHandler.GetUser)
		r.Put("/users/{username}", adminHandler.UpdateUser)
		r.Delete("/users/{username}", adminHandler.DeleteUser)
		r.Put("/users/{username}/status", adminHandler.SetStatus)
		r.Post("/users/{username}/renew", adminHandler.RenewUser)
		r.Post("/users/{username}/regenerate", adminHandler.RegenerateToken)
		r.Post("/users/{username}/reset-devices", adminHandler.ResetDevices)
		r.Get("/users/{username}/devices", adminHandler.ListDevices)

		r.Get("/logs", adminHandler.ListLogs)
	})

	return &testEnv{
		store:        s,
		directory:    directory,
		journal:      journal,
		authSvc:      authSvc,
		admin:        adminHandler,
		playlistPath: playlistPath,
		router:       r,
	}
}

// seedUser creates a user and returns it.
func (e *testEnv) seedUser(t *testing.T, username string) *model.User {
	t.Helper()
	u, err := e.directory.Create(context.Background(), username)
	if err != nil {
		t.Fatalf("seedUser: %v", err)
	}
	return u
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

// fetch requests the playlist as a client at addr with the given User-Agent.
func (e *testEnv) fetch(t *testing.T, token, addr, userAgent string) *httptest.ResponseRecorder {
	t.Helper()
	path := "/playlist.m3u"
	if token != "" {
		path += "?token=" + token
	}
	req := httptest.NewRequest("GET", path, nil)
	req.RemoteAddr = addr + ":40000"
	req.Header.Set("User-Agent", userAgent)
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/m3ugate/m3ugate/internal/admission"
	gatemcp "github.com/m3ugate/m3ugate/internal/mcp"
	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/service"
	"github.com/m3ugate/m3ugate/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testAdminKey  = "server-test-admin-key"
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPlaylist  = "#EXTM3U\n#EXTINF:-1,News\nhttp://example.com/news.ts\n"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server    *Server
	store     *store.Store
	directory *service.Directory
	authSvc   *service.AuthService
}

// newTestEnv creates a fully wired Server over an in-memory store. Rate
// limiting is disabled unless cfgFn turns it on.
func newTestEnv(t *testing.T, cfgFns ...func(*Config)) *testEnv {
	t.Helper()

	st, err := store.NewStore(store.Options{}) // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	playlistPath := filepath.Join(t.TempDir(), "exported.m3u")
	if err := os.WriteFile(playlistPath, []byte(testPlaylist), 0644); err != nil {
		t.Fatalf("write playlist: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := service.NewDirectory(st, logger)
	journal := service.NewJournal(st, logger)
	gateway := service.NewGateway(directory, admission.NewAdmitter(st), journal, logger)
	authSvc := service.NewAuthService(testAdminKey, testJWTSecret)

	cfg := DefaultConfig()
	cfg.PlaylistPath = playlistPath
	cfg.RateLimit = 0
	cfg.PublicURL = "https://tv.example.net"
	for _, fn := range cfgFns {
		fn(&cfg)
	}

	srv := New(cfg, Deps{
		Store:     st,
		Directory: directory,
		Journal:   journal,
		Gateway:   gateway,
		Auth:      authSvc,
		MCP:       gatemcp.NewMCPServer(directory, journal, logger).HTTPHandler(),
	}, logger)

	return &testEnv{
		server:    srv,
		store:     st,
		directory: directory,
		authSvc:   authSvc,
	}
}

// do executes an HTTP request against the test server and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAdmin executes a request authenticated with the admin key.
func (e *testEnv) doAdmin(t *testing.T, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"X-Admin-Key": testAdminKey})
}

// doAuth executes a request with a Bearer token.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{"Authorization": "Bearer " + token})
}

// sessionToken exchanges the admin key for a JWT via the HTTP API.
func (e *testEnv) sessionToken(t *testing.T) string {
	t.Helper()
	rr := e.do(t, "POST", "/admin/session", jsonBody(t, map[string]string{"admin_key": testAdminKey}), nil)
	assertStatus(t, rr, http.StatusOK)
	var resp struct {
		SessionToken string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.SessionToken == "" {
		t.Fatal("empty session token")
	}
	return resp.SessionToken
}

// fetch requests the playlist from addr with the given User-Agent.
func (e *testEnv) fetch(t *testing.T, token, addr, ua string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", "/playlist.m3u?token="+token, nil)
	req.RemoteAddr = addr
	req.Header.Set("User-Agent", ua)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, want) {
		t.Errorf("Content-Type = %q, want prefix %q", ct, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Probes
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	env.store.Close()
	rr = env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.directory.Create(context.Background(), "metrics")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	env.fetch(t, u.Token, "203.0.113.1:1000", "VLC/3.0", nil)

	rr := env.do(t, "GET", "/metrics", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	body := rr.Body.String()
	for _, want := range []string{"m3ugate_admissions_total", `route="/playlist.m3u"`} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var doc struct {
		Servers []struct {
			URL string `json:"url"`
		} `json:"servers"`
	}
	decodeJSON(t, rr, &doc)
	if len(doc.Servers) == 0 || doc.Servers[0].URL != "https://tv.example.net" {
		t.Errorf("servers = %+v", doc.Servers)
	}
}

// ---------------------------------------------------------------------------
// Admin authentication
// ---------------------------------------------------------------------------

func TestAdminEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	endpoints := []struct{ method, path string }{
		{"GET", "/admin/users"},
		{"POST", "/admin/users"},
		{"GET", "/admin/users/alice"},
		{"PUT", "/admin/users/alice"},
		{"DELETE", "/admin/users/alice"},
		{"PUT", "/admin/users/alice/status"},
		{"POST", "/admin/users/alice/renew"},
		{"POST", "/admin/users/alice/regenerate"},
		{"POST", "/admin/users/alice/reset-devices"},
		{"GET", "/admin/users/alice/devices"},
		{"GET", "/admin/logs"},
	}
	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			rr := env.do(t, ep.method, ep.path, nil, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestAdminEndpoints_WrongKey(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/admin/users", nil, map[string]string{"X-Admin-Key": "guess"})
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminEndpoints_InvalidJWT(t *testing.T) {
	env := newTestEnv(t)
	rr := env.doAuth(t, "GET", "/admin/users", nil, "invalid.jwt.token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminEndpoints_ForeignJWT(t *testing.T) {
	env := newTestEnv(t)
	other := service.NewAuthService(testAdminKey, "a-different-secret")
	token, _, err := other.IssueJWT(context.Background(), testAdminKey, time.Minute)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}
	rr := env.doAuth(t, "GET", "/admin/users", nil, token)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t)

	rr := env.doAuth(t, "GET", "/admin/users", nil, token)
	assertStatus(t, rr, http.StatusOK)
}

func TestAdminDisabledWithoutKey(t *testing.T) {
	st, err := store.NewStore(store.Options{})
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := service.NewDirectory(st, logger)
	journal := service.NewJournal(st, logger)

	srv := New(DefaultConfig(), Deps{
		Store:     st,
		Directory: directory,
		Journal:   journal,
		Gateway:   service.NewGateway(directory, admission.NewAdmitter(st), journal, logger),
		Auth:      service.NewAuthService("", "secret"),
	}, logger)

	req := httptest.NewRequest("GET", "/admin/users", nil)
	req.Header.Set("X-Admin-Key", "anything")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	assertStatus(t, rr, http.StatusServiceUnavailable)

	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest("POST", "/admin/session", strings.NewReader(`{"admin_key":"x"}`)))
	assertStatus(t, rr, http.StatusServiceUnavailable)
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/admin/users", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "X-Admin-Key,Content-Type",
	})

	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

// ---------------------------------------------------------------------------
// Gateway through the full router
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	token := env.sessionToken(t)

	// Create alice through the admin API.
	rr := env.doAuth(t, "POST", "/admin/users", jsonBody(t, map[string]string{"username": "alice"}), token)
	assertStatus(t, rr, http.StatusCreated)
	var alice struct {
		Token       string `json:"token"`
		PlaylistURL string `json:"playlist_url"`
	}
	decodeJSON(t, rr, &alice)
	if alice.PlaylistURL != "https://tv.example.net/playlist.m3u?token="+alice.Token {
		t.Errorf("playlist_url = %q", alice.PlaylistURL)
	}

	// The alice scenario: three devices from one address, a fourth is refused,
	// a known device from elsewhere is refused in strict mode.
	for _, ua := range []string{"Kodi/20.2", "VLC/3.0.20", "TiviMate/4.7"} {
		rr = env.fetch(t, alice.Token, "203.0.113.1:5000", ua, nil)
		assertStatus(t, rr, http.StatusOK)
		if rr.Body.String() != testPlaylist {
			t.Errorf("body = %q", rr.Body.String())
		}
	}
	assertStatus(t, env.fetch(t, alice.Token, "203.0.113.1:5000", "Roku/9", nil), http.StatusForbidden)
	assertStatus(t, env.fetch(t, alice.Token, "198.51.100.2:5000", "Kodi/20.2", nil), http.StatusForbidden)

	// Relax to flexible mode: the roaming device is admitted.
	rr = env.doAuth(t, "PUT", "/admin/users/alice", jsonBody(t, map[string]bool{"strict_ip_mode": false}), token)
	assertStatus(t, rr, http.StatusOK)
	assertStatus(t, env.fetch(t, alice.Token, "198.51.100.2:5000", "Kodi/20.2", nil), http.StatusOK)

	// Devices reflect the last address.
	rr = env.doAuth(t, "GET", "/admin/users/alice/devices", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var devices struct {
		Resource []model.Device `json:"resource"`
	}
	decodeJSON(t, rr, &devices)
	if len(devices.Resource) != 3 {
		t.Fatalf("devices = %d, want 3", len(devices.Resource))
	}
	if d := devices.Resource[0]; d.Identity != "Kodi/20.2" || d.FirstAddress != "203.0.113.1" || d.LastAddress != "198.51.100.2" {
		t.Errorf("first device = %+v", d)
	}

	// Journal: three admits, two refusals, one admit; newest first.
	rr = env.doAuth(t, "GET", "/admin/logs?username=alice", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var logs struct {
		Resource []model.JournalEntry `json:"resource"`
	}
	decodeJSON(t, rr, &logs)
	if len(logs.Resource) != 6 {
		t.Fatalf("journal entries = %d, want 6", len(logs.Resource))
	}
	if logs.Resource[0].Status != model.OutcomeAllowed || logs.Resource[1].Reason != "IP mismatch in strict mode" {
		t.Errorf("unexpected journal head: %+v", logs.Resource[:2])
	}

	// Rotation invalidates the old link.
	rr = env.doAuth(t, "POST", "/admin/users/alice/regenerate", nil, token)
	assertStatus(t, rr, http.StatusOK)
	assertStatus(t, env.fetch(t, alice.Token, "203.0.113.1:5000", "Kodi/20.2", nil), http.StatusForbidden)
}

func TestGatewayTrustsForwardedFor(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.directory.Create(context.Background(), "proxied")

	headers := map[string]string{"X-Forwarded-For": "192.0.2.44"}
	assertStatus(t, env.fetch(t, u.Token, "10.0.0.2:1234", "Kodi/20", headers), http.StatusOK)

	devices, _ := env.directory.Devices(context.Background(), "proxied")
	if len(devices) != 1 || devices[0].FirstAddress != "192.0.2.44" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestGatewayIgnoresForwardedForWhenUntrusted(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.TrustProxy = false })
	u, _ := env.directory.Create(context.Background(), "direct")

	headers := map[string]string{"X-Forwarded-For": "192.0.2.44"}
	assertStatus(t, env.fetch(t, u.Token, "10.0.0.2:1234", "Kodi/20", headers), http.StatusOK)

	devices, _ := env.directory.Devices(context.Background(), "direct")
	if len(devices) != 1 || devices[0].FirstAddress != "10.0.0.2" {
		t.Errorf("devices = %+v", devices)
	}
}

func TestGatewayRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.RateLimit = 2 })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, env.fetch(t, "nope", "203.0.113.9:1", "x", nil).Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want third request limited", codes)
	}
}

func TestGatewayConcurrentFirstUse(t *testing.T) {
	env := newTestEnv(t)
	u, _ := env.directory.Create(context.Background(), "crowd")

	const n = 15
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rr := env.fetch(t, u.Token, "203.0.113.50:1", fmt.Sprintf("client-%d", i), nil)
			if rr.Code == http.StatusOK {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if allowed != model.DefaultMaxDevices {
		t.Errorf("allowed = %d, want %d", allowed, model.DefaultMaxDevices)
	}
	devices, _ := env.directory.Devices(context.Background(), "crowd")
	if len(devices) != model.DefaultMaxDevices {
		t.Errorf("devices = %d, want %d", len(devices), model.DefaultMaxDevices)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/playlist.m3u", nil, nil)
	assertStatus(t, rr, http.StatusMethodNotAllowed)
}

// ---------------------------------------------------------------------------
// MCP HTTP endpoint tests
// ---------------------------------------------------------------------------

func initializeBody(t *testing.T) *bytes.Buffer {
	return jsonBody(t, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "initialize",
		"params": map[string]interface{}{
			"protocolVersion": "2025-03-26",
			"capabilities":    map[string]interface{}{},
			"clientInfo": map[string]interface{}{
				"name":    "test",
				"version": "1.0",
			},
		},
	})
}

func TestMCPEndpoint_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "POST", "/mcp", initializeBody(t), nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestMCPEndpoint_WithAdminKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/mcp", initializeBody(t), map[string]string{
		"X-Admin-Key": testAdminKey,
		"Accept":      "application/json, text/event-stream",
	})
	if rr.Code == http.StatusUnauthorized || rr.Code == http.StatusForbidden {
		t.Fatalf("MCP endpoint returned %d with valid admin key", rr.Code)
	}

	var resp map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v; body = %s", err, rr.Body.String())
	}
	result, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected result in JSON-RPC response: %v", resp)
	}
	if info, ok := result["serverInfo"].(map[string]interface{}); ok {
		if info["name"] != "m3ugate admin" {
			t.Errorf("serverInfo.name = %v, want m3ugate admin", info["name"])
		}
	}
}

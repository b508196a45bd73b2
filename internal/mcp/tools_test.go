package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/m3ugate/m3ugate/internal/admission"
	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/service"
	"github.com/m3ugate/m3ugate/internal/store"
)

type toolEnv struct {
	srv     *MCPServer
	gateway *service.Gateway
}

func newToolEnv(t *testing.T) *toolEnv {
	t.Helper()
	st, err := store.NewStore(store.Options{})
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	directory := service.NewDirectory(st, logger)
	journal := service.NewJournal(st, logger)
	return &toolEnv{
		srv:     NewMCPServer(directory, journal, logger),
		gateway: service.NewGateway(directory, admission.NewAdmitter(st), journal, logger),
	}
}

type toolHandler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

// call runs a tool handler and decodes its JSON payload into out. It fails
// the test when the tool reports an error.
func call(t *testing.T, h toolHandler, args map[string]interface{}, out interface{}) {
	t.Helper()
	res, err := h(context.Background(), toolRequest(args))
	if err != nil {
		t.Fatalf("protocol error: %v", err)
	}
	text := res.Content[0].(mcp.TextContent).Text
	if res.IsError {
		t.Fatalf("tool error: %s", text)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(text), out); err != nil {
			t.Fatalf("decode %q: %v", text, err)
		}
	}
}

// callErr runs a tool handler that is expected to report a tool error and
// returns the message.
func callErr(t *testing.T, h toolHandler, args map[string]interface{}) string {
	t.Helper()
	res, err := h(context.Background(), toolRequest(args))
	if err != nil {
		t.Fatalf("protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected tool error, got %v", res.Content)
	}
	return res.Content[0].(mcp.TextContent).Text
}

func TestTools_UserLifecycle(t *testing.T) {
	env := newToolEnv(t)
	s := env.srv

	var created model.User
	call(t, s.handleCreateUser, map[string]interface{}{"username": "alice"}, &created)
	if created.Token == "" || created.MaxDevices != model.DefaultMaxDevices {
		t.Fatalf("created = %+v", created)
	}

	msg := callErr(t, s.handleCreateUser, map[string]interface{}{"username": "alice"})
	if !strings.Contains(msg, "Create user") {
		t.Errorf("duplicate message = %q", msg)
	}

	var list struct {
		Users []model.User `json:"users"`
		Count int          `json:"count"`
	}
	call(t, s.handleListUsers, nil, &list)
	if list.Count != 1 || list.Users[0].Username != "alice" {
		t.Errorf("list = %+v", list)
	}

	var rotated model.User
	call(t, s.handleRotateToken, map[string]interface{}{"username": "alice"}, &rotated)
	if rotated.Token == created.Token {
		t.Error("rotate kept the token")
	}

	var disabled model.User
	call(t, s.handleSetActive, map[string]interface{}{"username": "alice", "is_active": false}, &disabled)
	if disabled.IsActive {
		t.Error("set_active did not disable")
	}

	var renewed model.User
	call(t, s.handleRenewUser, map[string]interface{}{"username": "alice"}, &renewed)
	if !renewed.IsActive {
		t.Error("renew did not reactivate")
	}

	var updated model.User
	call(t, s.handleUpdateSettings, map[string]interface{}{
		"username":    "alice",
		"max_devices": float64(1),
	}, &updated)
	if updated.MaxDevices != 1 || !updated.StrictIPMode {
		t.Errorf("updated = %+v", updated)
	}

	var got model.User
	call(t, s.handleGetUser, map[string]interface{}{"username": "alice"}, &got)
	if got.Token != renewed.Token {
		t.Errorf("get returned stale token")
	}
}

func TestTools_Errors(t *testing.T) {
	env := newToolEnv(t)
	s := env.srv

	if msg := callErr(t, s.handleGetUser, map[string]interface{}{"username": "ghost"}); !strings.Contains(msg, "not found") {
		t.Errorf("message = %q", msg)
	}
	callErr(t, s.handleGetUser, nil)
	callErr(t, s.handleCreateUser, map[string]interface{}{"username": "   "})

	call(t, s.handleCreateUser, map[string]interface{}{"username": "bob"}, nil)
	callErr(t, s.handleSetActive, map[string]interface{}{"username": "bob"})
	callErr(t, s.handleUpdateSettings, map[string]interface{}{"username": "bob", "max_devices": float64(-1)})
	callErr(t, s.handleListLogs, map[string]interface{}{"status": "maybe"})
}

func TestTools_DevicesAndLogs(t *testing.T) {
	env := newToolEnv(t)
	s := env.srv
	ctx := context.Background()

	var u model.User
	call(t, s.handleCreateUser, map[string]interface{}{"username": "carol"}, &u)
	for _, ua := range []string{"Kodi/20", "VLC/3"} {
		res := env.gateway.Admit(ctx, service.AccessRequest{Token: u.Token, Address: "203.0.113.4", Identity: ua})
		if !res.Allowed() {
			t.Fatalf("admit %s: %+v", ua, res)
		}
	}
	env.gateway.Admit(ctx, service.AccessRequest{Token: "wrong", Address: "203.0.113.4", Identity: "x"})

	var devices struct {
		Devices []model.Device `json:"devices"`
		Count   int            `json:"count"`
	}
	call(t, s.handleListDevices, map[string]interface{}{"username": "carol"}, &devices)
	if devices.Count != 2 || devices.Devices[0].Identity != "Kodi/20" {
		t.Errorf("devices = %+v", devices)
	}

	var logs struct {
		Entries []model.JournalEntry `json:"entries"`
		Count   int                  `json:"count"`
		Limit   int                  `json:"limit"`
	}
	call(t, s.handleListLogs, map[string]interface{}{"status": "blocked"}, &logs)
	if logs.Count != 1 || logs.Entries[0].Reason != "Invalid token" {
		t.Errorf("blocked logs = %+v", logs)
	}
	call(t, s.handleListLogs, map[string]interface{}{"username": "carol", "limit": float64(1000)}, &logs)
	if logs.Count != 2 || logs.Limit != model.MaxJournalLimit {
		t.Errorf("carol logs = %+v", logs)
	}

	var reset struct {
		Removed int `json:"removed"`
	}
	call(t, s.handleResetDevices, map[string]interface{}{"username": "carol"}, &reset)
	if reset.Removed != 2 {
		t.Errorf("removed = %d, want 2", reset.Removed)
	}
}

func TestResources(t *testing.T) {
	env := newToolEnv(t)
	s := env.srv
	call(t, s.handleCreateUser, map[string]interface{}{"username": "dave"}, nil)

	var req mcp.ReadResourceRequest
	req.Params.URI = usersResourceURI
	contents, err := s.handleUsersResource(context.Background(), req)
	if err != nil {
		t.Fatalf("users resource: %v", err)
	}
	if text := contents[0].(mcp.TextResourceContents).Text; !strings.Contains(text, `"dave"`) {
		t.Errorf("users resource = %s", text)
	}

	req.Params.URI = devicesResourceBase + "dave"
	if _, err := s.handleDevicesResource(context.Background(), req); err != nil {
		t.Errorf("devices resource: %v", err)
	}
	req.Params.URI = devicesResourceBase + "nobody"
	if _, err := s.handleDevicesResource(context.Background(), req); err == nil {
		t.Error("expected error for unknown user")
	}
	req.Params.URI = "m3ugate://other"
	if _, err := s.handleDevicesResource(context.Background(), req); err == nil {
		t.Error("expected error for malformed URI")
	}
}

package mcp

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/m3ugate/m3ugate/internal/model"
)

// registerTools registers every admin tool on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {
	usernameArg := mcp.WithString("username",
		mcp.Required(),
		mcp.Description("Username of the subscriber"),
	)

	// ----- Read-only tools -----

	srv.AddTool(
		mcp.NewTool("m3ugate_list_users",
			mcp.WithDescription(
				"List all subscribers, newest first. Returns each user's token, expiry, "+
					"active flag, device limit and strict IP mode. Use this first to discover "+
					"usernames before calling other tools.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListUsers,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_get_user",
			mcp.WithDescription("Get a single subscriber by username."),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			usernameArg,
		),
		s.handleGetUser,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_list_devices",
			mcp.WithDescription(
				"List the devices registered to a subscriber, oldest first. Each device is "+
					"a distinct client identity (User-Agent) with its first and last address.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			usernameArg,
		),
		s.handleListDevices,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_list_logs",
			mcp.WithDescription(
				"Read the access journal, most recent first. Every playlist request is "+
					"recorded with its outcome (ALLOWED, BLOCKED, EXPIRED, ERROR) and reason.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("username",
				mcp.Description("Only entries for this subscriber"),
			),
			mcp.WithString("status",
				mcp.Description("Only entries with this outcome"),
				mcp.Enum(string(model.OutcomeAllowed), string(model.OutcomeBlocked),
					string(model.OutcomeExpired), string(model.OutcomeError)),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of entries to return (default 100, max 500)"),
			),
			mcp.WithNumber("offset",
				mcp.Description("Number of entries to skip for pagination"),
			),
		),
		s.handleListLogs,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("m3ugate_create_user",
			mcp.WithDescription(
				"Create a subscriber with a fresh token valid for 30 days, up to 3 devices "+
					"and strict IP mode. Returns the new user including its token.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			usernameArg,
		),
		s.handleCreateUser,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_renew_user",
			mcp.WithDescription(
				"Renew a subscriber: issue a new token valid for 30 days from now and "+
					"reactivate the account. The old token stops working. Devices are kept.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			usernameArg,
		),
		s.handleRenewUser,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_rotate_token",
			mcp.WithDescription(
				"Replace a subscriber's token without changing expiry or active status. "+
					"Use this when a playlist link has leaked.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			usernameArg,
		),
		s.handleRotateToken,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_set_active",
			mcp.WithDescription("Enable or disable a subscriber."),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			usernameArg,
			mcp.WithBoolean("is_active",
				mcp.Required(),
				mcp.Description("true to enable, false to disable"),
			),
		),
		s.handleSetActive,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_update_settings",
			mcp.WithDescription(
				"Change a subscriber's device limit, strict IP mode or expiry. Omitted "+
					"fields are left unchanged.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			usernameArg,
			mcp.WithNumber("max_devices",
				mcp.Description("Maximum number of distinct devices (0 blocks new devices)"),
			),
			mcp.WithBoolean("strict_ip_mode",
				mcp.Description("Require known devices to return from their first address"),
			),
			mcp.WithString("expires_at",
				mcp.Description("New expiry as an RFC 3339 timestamp"),
			),
		),
		s.handleUpdateSettings,
	)

	srv.AddTool(
		mcp.NewTool("m3ugate_reset_devices",
			mcp.WithDescription(
				"Forget every device registered to a subscriber so the full device limit "+
					"is available again. Returns how many devices were removed.",
			),
			mcp.WithToolAnnotation(destructiveAnnotation()),
			usernameArg,
		),
		s.handleResetDevices,
	)
}

// --------------------------------------------------------------------------
// Tool handlers
// --------------------------------------------------------------------------

func (s *MCPServer) handleListUsers(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	users, err := s.directory.List(ctx)
	if err != nil {
		return toolError("Failed to list users: %v", err)
	}
	return successJSON(map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

func (s *MCPServer) handleGetUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	u, err := s.directory.Get(ctx, username)
	if err != nil {
		return serviceError("Get user", username, err)
	}
	return successJSON(u)
}

func (s *MCPServer) handleListDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	devices, err := s.directory.Devices(ctx, username)
	if err != nil {
		return serviceError("List devices", username, err)
	}
	return successJSON(map[string]interface{}{
		"username": username,
		"devices":  devices,
		"count":    len(devices),
	})
}

func (s *MCPServer) handleListLogs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := model.JournalQuery{
		Limit:    clamp(optionalInt(request, "limit", model.DefaultJournalLimit), 1, model.MaxJournalLimit),
		Offset:   optionalInt(request, "offset", 0),
		Status:   model.Outcome(strings.ToUpper(optionalString(request, "status"))),
		Username: optionalString(request, "username"),
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	entries, err := s.journal.List(ctx, q)
	if err != nil {
		return toolError("Failed to list logs: %v", err)
	}
	return successJSON(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
		"limit":   q.Limit,
		"offset":  q.Offset,
	})
}

func (s *MCPServer) handleCreateUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	u, err := s.directory.Create(ctx, username)
	if err != nil {
		return serviceError("Create user", username, err)
	}
	return successJSON(u)
}

func (s *MCPServer) handleRenewUser(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	u, err := s.directory.Renew(ctx, username)
	if err != nil {
		return serviceError("Renew user", username, err)
	}
	return successJSON(u)
}

func (s *MCPServer) handleRotateToken(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	u, err := s.directory.RotateToken(ctx, username)
	if err != nil {
		return serviceError("Rotate token", username, err)
	}
	return successJSON(u)
}

func (s *MCPServer) handleSetActive(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	active, ok, err := optionalBool(request, "is_active")
	if err != nil {
		return toolError("%v", err)
	}
	if !ok {
		return toolError("missing required parameter %q", "is_active")
	}
	u, err := s.directory.SetActive(ctx, username, active)
	if err != nil {
		return serviceError("Set active", username, err)
	}
	return successJSON(u)
}

func (s *MCPServer) handleUpdateSettings(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	settings, err := settingsArg(request)
	if err != nil {
		return toolError("%v", err)
	}
	u, err := s.directory.UpdateSettings(ctx, username, settings)
	if err != nil {
		return serviceError("Update settings", username, err)
	}
	return successJSON(u)
}

func (s *MCPServer) handleResetDevices(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, err := requireString(request, "username")
	if err != nil {
		return toolError("%v", err)
	}
	n, err := s.directory.ResetDevices(ctx, username)
	if err != nil {
		return serviceError("Reset devices", username, err)
	}
	return successJSON(map[string]interface{}{
		"username": username,
		"removed":  n,
	})
}

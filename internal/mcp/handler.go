package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/service"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required, non-empty string argument.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", fmt.Errorf("missing required parameter %q", key)
	}
	return val, nil
}

func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

func optionalInt(request mcp.CallToolRequest, key string, defaultVal int) int {
	return request.GetInt(key, defaultVal)
}

// optionalBool returns the boolean argument and whether it was supplied.
func optionalBool(request mcp.CallToolRequest, key string) (bool, bool, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return false, false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, false, fmt.Errorf("parameter %q must be a boolean", key)
	}
	return b, true, nil
}

// settingsArg builds a UserSettings from whichever of max_devices,
// strict_ip_mode and expires_at the caller supplied.
func settingsArg(request mcp.CallToolRequest) (model.UserSettings, error) {
	var settings model.UserSettings
	args := request.GetArguments()

	if raw, ok := args["max_devices"]; ok && raw != nil {
		f, ok := raw.(float64)
		if !ok || f != float64(int(f)) {
			return settings, fmt.Errorf("parameter %q must be an integer", "max_devices")
		}
		n := int(f)
		settings.MaxDevices = &n
	}

	strict, ok, err := optionalBool(request, "strict_ip_mode")
	if err != nil {
		return settings, err
	}
	if ok {
		settings.StrictIPMode = &strict
	}

	if raw := optionalString(request, "expires_at"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return settings, fmt.Errorf("parameter %q must be an RFC 3339 timestamp", "expires_at")
		}
		settings.ExpiresAt = &ts
	}
	return settings, nil
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. The agent sees it and can
// correct itself; the MCP session continues.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a directory or journal error into a tool result.
func serviceError(action, username string, err error) (*mcp.CallToolResult, error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return toolError("User %q not found. Use m3ugate_list_users to see existing users.", username)
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidInput):
		return toolError("%s: %v", action, err)
	default:
		return toolError("%s failed: %v", action, err)
	}
}

// clamp constrains val to [min, max].
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

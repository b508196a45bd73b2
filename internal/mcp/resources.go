package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

const (
	usersResourceURI    = "m3ugate://users"
	devicesResourceBase = "m3ugate://devices/"
)

// registerResources adds read-only resources an agent can load into its
// context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {
	srv.AddResource(
		mcp.NewResource(
			usersResourceURI,
			"Subscribers",
			mcp.WithResourceDescription("All subscribers with their quota settings and expiry."),
			mcp.WithMIMEType("application/json"),
		),
		s.handleUsersResource,
	)

	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			devicesResourceBase+"{username}",
			"Subscriber Devices",
			mcp.WithTemplateDescription("Device records registered to one subscriber."),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleDevicesResource,
	)
}

func (s *MCPServer) handleUsersResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	users, err := s.directory.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return jsonResource(usersResourceURI, users)
}

func (s *MCPServer) handleDevicesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := request.Params.URI
	username := strings.TrimPrefix(uri, devicesResourceBase)
	if username == "" || username == uri {
		return nil, fmt.Errorf("invalid devices URI %q: expected %s{username}", uri, devicesResourceBase)
	}

	devices, err := s.directory.Devices(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("devices of %q: %w", username, err)
	}
	return jsonResource(uri, devices)
}

func jsonResource(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

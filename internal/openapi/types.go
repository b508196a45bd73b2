package openapi

import "github.com/getkin/kin-openapi/openapi3"

// field describes one property of a JSON object schema.
type field struct {
	Name        string
	Type        string // OpenAPI type: string, integer, boolean, object, array
	Format      string // int32, int64, date-time, uuid, ...
	Description string
	Nullable    bool
	Required    bool
}

func objectSchema(description string, fields ...field) *openapi3.SchemaRef {
	s := &openapi3.Schema{
		Type:        &openapi3.Types{"object"},
		Description: description,
		Properties:  openapi3.Schemas{},
	}
	for _, f := range fields {
		prop := &openapi3.Schema{
			Type:        &openapi3.Types{f.Type},
			Format:      f.Format,
			Description: f.Description,
			Nullable:    f.Nullable,
		}
		s.Properties[f.Name] = &openapi3.SchemaRef{Value: prop}
		if f.Required {
			s.Required = append(s.Required, f.Name)
		}
	}
	return &openapi3.SchemaRef{Value: s}
}

var userFields = []field{
	{Name: "id", Type: "integer", Format: "int64"},
	{Name: "username", Type: "string", Description: "Unique, immutable user name."},
	{Name: "token", Type: "string", Format: "uuid", Description: "Current access token."},
	{Name: "created_at", Type: "string", Format: "date-time"},
	{Name: "expires_at", Type: "string", Format: "date-time", Description: "Token is rejected after this instant."},
	{Name: "is_active", Type: "boolean"},
	{Name: "max_devices", Type: "integer", Format: "int32", Description: "Maximum number of distinct client identities."},
	{Name: "strict_ip_mode", Type: "boolean", Description: "Pin each device to the address it was first seen from."},
	{Name: "playlist_url", Type: "string", Description: "Ready-to-share playlist URL carrying the token."},
}

var deviceFields = []field{
	{Name: "id", Type: "integer", Format: "int64"},
	{Name: "user_id", Type: "integer", Format: "int64"},
	{Name: "identity", Type: "string", Description: "Client identity (User-Agent) that keys the slot."},
	{Name: "label", Type: "string", Description: "Human readable client description."},
	{Name: "first_address", Type: "string"},
	{Name: "last_address", Type: "string"},
	{Name: "first_seen", Type: "string", Format: "date-time"},
	{Name: "last_seen", Type: "string", Format: "date-time"},
}

var journalFields = []field{
	{Name: "id", Type: "integer", Format: "int64"},
	{Name: "user_id", Type: "integer", Format: "int64", Nullable: true, Description: "Null when the token did not resolve or the user was deleted."},
	{Name: "timestamp", Type: "string", Format: "date-time"},
	{Name: "ip_address", Type: "string"},
	{Name: "user_agent", Type: "string"},
	{Name: "token_used", Type: "string", Description: "Presented token, or NONE."},
	{Name: "status", Type: "string", Description: "ALLOWED, BLOCKED, EXPIRED or ERROR."},
	{Name: "reason", Type: "string"},
}

var settingsFields = []field{
	{Name: "max_devices", Type: "integer", Format: "int32", Description: "Must not be negative."},
	{Name: "strict_ip_mode", Type: "boolean"},
	{Name: "expires_at", Type: "string", Format: "date-time"},
}

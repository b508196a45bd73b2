// Package openapi describes the admin HTTP API as an OpenAPI document.
package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"
)

const (
	tagUsers   = "users"
	tagJournal = "journal"
	tagSession = "session"
	tagGateway = "gateway"
)

// GenerateAdminSpec builds the OpenAPI document for the admin API and the
// playlist endpoint served at baseURL.
func GenerateAdminSpec(baseURL, version string) *openapi3.T {
	if version == "" {
		version = "dev"
	}
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "m3ugate API",
			Description: "Token-gated playlist access with per-user device limits, and its admin API.",
			Version:     version,
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["adminKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-Admin-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}
	doc.Security = openapi3.SecurityRequirements{
		{"adminKey": {}},
		{"bearerAuth": {}},
	}

	doc.Components.Schemas["ErrorResponse"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
	doc.Components.Schemas["User"] = objectSchema("A credential holder.", userFields...)
	doc.Components.Schemas["Device"] = objectSchema("One admitted client slot of a user.", deviceFields...)
	doc.Components.Schemas["JournalEntry"] = objectSchema("Audit record of one access attempt.", journalFields...)
	doc.Components.Schemas["UserSettings"] = objectSchema(
		"Partial update. Unrecognised keys are ignored.", settingsFields...)

	userRef := openapi3.NewSchemaRef("#/components/schemas/User", nil)
	deviceRef := openapi3.NewSchemaRef("#/components/schemas/Device", nil)
	journalRef := openapi3.NewSchemaRef("#/components/schemas/JournalEntry", nil)
	settingsRef := openapi3.NewSchemaRef("#/components/schemas/UserSettings", nil)

	doc.Paths = openapi3.NewPaths()
	usernameParam := &openapi3.ParameterRef{
		Value: openapi3.NewPathParameter("username").
			WithDescription("User name.").
			WithSchema(openapi3.NewStringSchema()),
	}

	doc.Paths.Set("/playlist.m3u", &openapi3.PathItem{
		Get: playlistOperation(),
	})

	doc.Paths.Set("/admin/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{tagSession},
			Summary:     "Exchange the admin key for a session token",
			OperationID: "create_session",
			Security:    &openapi3.SecurityRequirements{},
			RequestBody: jsonBody("Admin key", objectSchema("",
				field{Name: "admin_key", Type: "string", Required: true})),
			Responses: newResponses("200", "Session token", objectSchema("",
				field{Name: "session_token", Type: "string"},
				field{Name: "token_type", Type: "string"},
				field{Name: "expires_in", Type: "integer", Format: "int32"},
				field{Name: "expires_at", Type: "string", Format: "date-time"},
			)),
		},
	})

	doc.Paths.Set("/admin/users", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "List users, newest first",
			OperationID: "list_users",
			Responses:   newResponses("200", "Users", listSchema(userRef)),
		},
		Post: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Create a user with a fresh 30 day token",
			OperationID: "create_user",
			RequestBody: jsonBody("New user", objectSchema("",
				field{Name: "username", Type: "string", Required: true})),
			Responses: withConflict(newResponses("201", "Created user", userRef)),
		},
	})

	doc.Paths.Set("/admin/users/{username}", &openapi3.PathItem{
		Parameters: openapi3.Parameters{usernameParam},
		Get: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Get a user",
			OperationID: "get_user",
			Responses:   newResponses("200", "User", userRef),
		},
		Put: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Update device policy or expiry",
			OperationID: "update_user",
			RequestBody: jsonBody("Fields to change", settingsRef),
			Responses:   newResponses("200", "Updated user", userRef),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Delete a user and its devices; journal entries are kept",
			OperationID: "delete_user",
			Responses:   newResponses("200", "Deleted", messageSchema()),
		},
	})

	doc.Paths.Set("/admin/users/{username}/status", &openapi3.PathItem{
		Parameters: openapi3.Parameters{usernameParam},
		Put: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Enable or disable a user",
			OperationID: "set_user_status",
			RequestBody: jsonBody("New status", objectSchema("",
				field{Name: "is_active", Type: "boolean", Required: true})),
			Responses: newResponses("200", "Updated user", userRef),
		},
	})

	doc.Paths.Set("/admin/users/{username}/renew", &openapi3.PathItem{
		Parameters: openapi3.Parameters{usernameParam},
		Post: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Issue a new token valid for 30 days and reactivate the user",
			OperationID: "renew_user",
			Responses:   newResponses("200", "Renewed user", userRef),
		},
	})

	doc.Paths.Set("/admin/users/{username}/regenerate", &openapi3.PathItem{
		Parameters: openapi3.Parameters{usernameParam},
		Post: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Replace the user's token; expiry and devices are unchanged",
			OperationID: "rotate_token",
			Responses:   newResponses("200", "User with new token", userRef),
		},
	})

	doc.Paths.Set("/admin/users/{username}/reset-devices", &openapi3.PathItem{
		Parameters: openapi3.Parameters{usernameParam},
		Post: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "Forget all of the user's devices",
			OperationID: "reset_devices",
			Responses: newResponses("200", "Devices removed", objectSchema("",
				field{Name: "message", Type: "string"},
				field{Name: "count", Type: "integer", Format: "int64"},
			)),
		},
	})

	doc.Paths.Set("/admin/users/{username}/devices", &openapi3.PathItem{
		Parameters: openapi3.Parameters{usernameParam},
		Get: &openapi3.Operation{
			Tags:        []string{tagUsers},
			Summary:     "List the user's devices, oldest first",
			OperationID: "list_devices",
			Responses:   newResponses("200", "Devices", listSchema(deviceRef)),
		},
	})

	doc.Paths.Set("/admin/logs", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{tagJournal},
			Summary:     "List access journal entries, most recent first",
			OperationID: "list_logs",
			Parameters:  journalQueryParameters(),
			Responses:   newResponses("200", "Journal entries", listSchema(journalRef)),
		},
	})

	return doc
}

func playlistOperation() *openapi3.Operation {
	responses := openapi3.NewResponses()
	okDesc := "Playlist manifest"
	responses.Set("200", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &okDesc,
			Content: openapi3.Content{
				"audio/x-mpegurl": &openapi3.MediaType{Schema: openapi3.NewStringSchema().NewRef()},
			},
		},
	})
	for code, desc := range map[string]string{
		"403": "Access Denied",
		"404": "Playlist not found",
		"429": "Too many requests",
		"500": "Server Error",
	} {
		d := desc
		responses.Set(code, &openapi3.ResponseRef{
			Value: &openapi3.Response{
				Description: &d,
				Content: openapi3.Content{
					"text/plain": &openapi3.MediaType{Schema: openapi3.NewStringSchema().NewRef()},
				},
			},
		})
	}

	return &openapi3.Operation{
		Tags:        []string{tagGateway},
		Summary:     "Fetch the playlist",
		Description: "Admits the calling client as one of the token owner's devices. Denials never disclose a reason.",
		OperationID: "get_playlist",
		Security:    &openapi3.SecurityRequirements{},
		Parameters: openapi3.Parameters{
			&openapi3.ParameterRef{
				Value: openapi3.NewQueryParameter("token").
					WithDescription("Access token.").
					WithSchema(openapi3.NewStringSchema()),
			},
		},
		Responses: responses,
	}
}

// ─── Parameter Builders ─────────────────────────────────────────────────────

func journalQueryParameters() openapi3.Parameters {
	return openapi3.Parameters{
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("limit").
				WithDescription("Maximum number of entries to return (default 100, max 500).").
				WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("offset").
				WithDescription("Number of entries to skip.").
				WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("status").
				WithDescription("Only entries with this outcome.").
				WithSchema(openapi3.NewStringSchema().WithEnum("ALLOWED", "BLOCKED", "EXPIRED", "ERROR")),
		},
		&openapi3.ParameterRef{
			Value: openapi3.NewQueryParameter("username").
				WithDescription("Only entries of this user.").
				WithSchema(openapi3.NewStringSchema()),
		},
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

func jsonBody(description string, schema *openapi3.SchemaRef) *openapi3.RequestBodyRef {
	return &openapi3.RequestBodyRef{
		Value: &openapi3.RequestBody{
			Description: description,
			Required:    true,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	}
}

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	for code, desc := range map[string]string{
		"400": "Bad request",
		"401": "Unauthorized",
		"404": "Not found",
		"500": "Internal server error",
	} {
		setError(responses, code, desc)
	}
	return responses
}

func withConflict(responses *openapi3.Responses) *openapi3.Responses {
	setError(responses, "409", "Conflict")
	return responses
}

func setError(responses *openapi3.Responses, code, description string) {
	d := description
	responses.Set(code, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &d,
			Content:     openapi3.NewContentWithJSONSchemaRef(openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)),
		},
	})
}

// listSchema wraps items in the {"resource": [...], "meta": {...}} envelope.
func listSchema(items *openapi3.SchemaRef) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: items,
					},
				},
				"meta": metaSchema(),
			},
		},
	}
}

func messageSchema() *openapi3.SchemaRef {
	return objectSchema("", field{Name: "message", Type: "string"})
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return objectSchema("",
		field{Name: "count", Type: "integer", Format: "int64", Description: "Number of records returned."},
		field{Name: "limit", Type: "integer", Format: "int32", Description: "Maximum records returned per page."},
		field{Name: "offset", Type: "integer", Format: "int32", Description: "Number of records skipped."},
	)
}

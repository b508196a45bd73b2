package handler

import (
	"net/http"
	"strings"

	"github.com/m3ugate/m3ugate/internal/openapi"
)

// OpenAPIHandler serves the OpenAPI document of the admin API.
type OpenAPIHandler struct {
	publicURL string
	version   string
}

// NewOpenAPIHandler creates a new OpenAPIHandler. An empty publicURL makes
// the document point at whatever host the request came in on.
func NewOpenAPIHandler(publicURL, version string) *OpenAPIHandler {
	return &OpenAPIHandler{
		publicURL: publicURL,
		version:   version,
	}
}

// ServeSpec returns the OpenAPI document.
// GET /openapi.json
func (h *OpenAPIHandler) ServeSpec(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, openapi.GenerateAdminSpec(baseURL(r, h.publicURL), h.version))
}

// baseURL is publicURL, or the scheme and host the request was addressed to.
func baseURL(r *http.Request, publicURL string) string {
	if publicURL != "" {
		return strings.TrimRight(publicURL, "/")
	}
	scheme := "http"
	if r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

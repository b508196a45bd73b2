package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"github.com/m3ugate/m3ugate/internal/model"
	"github.com/m3ugate/m3ugate/internal/service"
)

// PlaylistHandler serves the protected playlist manifest to admitted clients.
type PlaylistHandler struct {
	gateway *service.Gateway
	path    string
	logger  *slog.Logger
}

// NewPlaylistHandler creates a PlaylistHandler serving the file at path.
func NewPlaylistHandler(gateway *service.Gateway, path string, logger *slog.Logger) *PlaylistHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlaylistHandler{
		gateway: gateway,
		path:    path,
		logger:  logger,
	}
}

// ServePlaylist admits the caller and streams the manifest. Every refusal
// looks the same to the client; the reason only goes to the journal.
// GET /playlist.m3u?token=...
func (h *PlaylistHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	res := h.gateway.Admit(r.Context(), service.AccessRequest{
		Token:    queryString(r, "token"),
		Address:  clientAddress(r),
		Identity: r.UserAgent(),
	})

	switch res.Outcome {
	case model.OutcomeAllowed:
	case model.OutcomeError:
		http.Error(w, "Server Error", http.StatusInternalServerError)
		return
	default:
		http.Error(w, "Access Denied", http.StatusForbidden)
		return
	}

	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			h.logger.Warn("playlist file missing", "path", h.path)
			http.Error(w, "Playlist not found", http.StatusNotFound)
			return
		}
		h.logger.Error("open playlist", "path", h.path, "error", err)
		http.Error(w, "Server Error", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		h.logger.Error("stat playlist", "path", h.path, "error", err)
		http.Error(w, "Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	w.Header().Set("Content-Disposition", `attachment; filename="playlist.m3u"`)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, "playlist.m3u", stat.ModTime(), f)
}

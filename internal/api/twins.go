package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/browniz421/twinsync/internal/hub"
	"github.com/browniz421/twinsync/internal/twin"
)

// defaultHistoryLimit is used when the history request has no limit.
const defaultHistoryLimit = 50

// handleListTwins returns every twin ordered by device ID.
func (s *Server) handleListTwins(w http.ResponseWriter, r *http.Request) {
	twins, err := s.twins.Twins(r.Context())
	if err != nil {
		s.logger.Error("failed to list twins", "error", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list twins")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"twins": twins,
		"count": len(twins),
	})
}

// handleGetTwin returns one twin. The ETag carries the desired version so
// clients can make conditional patches.
func (s *Server) handleGetTwin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.twins.Twin(r.Context(), id)
	if err != nil {
		s.writeTwinError(w, err)
		return
	}

	etag := formatETag(t.DesiredVersion)
	if r.Header.Get("If-None-Match") == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, t)
}

// handleRegisterTwin creates an empty twin. Registering an existing device
// returns its twin unchanged.
func (s *Server) handleRegisterTwin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	t, err := s.twins.Register(r.Context(), id)
	status := http.StatusCreated
	if errors.Is(err, twin.ErrTwinExists) {
		t, err = s.twins.Twin(r.Context(), id)
		status = http.StatusOK
	}
	if err != nil {
		s.writeTwinError(w, err)
		return
	}

	w.Header().Set("ETag", formatETag(t.DesiredVersion))
	writeJSON(w, status, t)
}

// handleUpdateTwin applies a desired patch:
//
//	{"properties": {"desired": {...} | null}}
//
// An If-Match header makes the patch conditional on the current desired
// version; a mismatch returns 412.
func (s *Server) handleUpdateTwin(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ifVersion, conditional, err := parseIfMatch(r.Header.Get("If-Match"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "failed to read request body")
		return
	}
	patch, err := twin.ParsePatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	t, err := s.twins.UpdateDesired(r.Context(), id, patch.Properties.Desired, ifVersion)
	switch {
	case err == nil:
	case errors.Is(err, twin.ErrVersionConflict) && conditional:
		writeError(w, http.StatusPreconditionFailed, ErrCodePreconditionFailed, err.Error())
		return
	default:
		if errors.Is(err, hub.ErrDeltaNotDelivered) {
			s.logger.Warn("desired patch saved but not delivered", "device_id", id, "error", err)
		}
		s.writeTwinError(w, err)
		return
	}

	w.Header().Set("ETag", formatETag(t.DesiredVersion))
	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTwin removes a twin and its history.
func (s *Server) handleDeleteTwin(w http.ResponseWriter, r *http.Request) {
	if err := s.twins.Deregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeTwinError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleTwinHistory returns the most recent patches applied to a twin.
func (s *Server) handleTwinHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.twins.History(r.Context(), id, limit)
	if err != nil {
		s.writeTwinError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// formatETag renders a desired version as a strong entity tag.
func formatETag(version int64) string {
	return `"` + strconv.FormatInt(version, 10) + `"`
}

// parseIfMatch reads an If-Match header. An empty header or "*" matches any
// version; otherwise the value is a (quoted) desired version.
func parseIfMatch(header string) (version int64, conditional bool, err error) {
	header = strings.TrimSpace(header)
	if header == "" || header == "*" {
		return twin.AnyVersion, false, nil
	}
	header = strings.TrimPrefix(header, "W/")
	v, err := strconv.ParseInt(strings.Trim(header, `"`), 10, 64)
	if err != nil || v < 0 {
		return 0, false, fmt.Errorf("If-Match must be a desired version, got %q", header)
	}
	return v, true, nil
}

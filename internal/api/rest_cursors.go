package api

import (
	"net/http"
	"strings"

	"vigil/internal/view"
)

type createCursorRequest struct {
	Name string  `json:"name"`
	Tick *uint64 `json:"tick,omitempty"`
}

type cursorsResponse struct {
	Root    string            `json:"root"`
	Cursors map[string]uint64 `json:"cursors"`
}

type sinceResponse struct {
	Root    string          `json:"root"`
	Cursor  string          `json:"cursor"`
	Tick    uint64          `json:"tick"`
	Changes []changeSummary `json:"changes"`
}

func (h *RestHandler) handleCursors(w http.ResponseWriter, r *http.Request) *apiError {
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	switch r.Method {
	case http.MethodGet:
		snapshot := resolved.CursorSnapshot()
		cursors := make(map[string]uint64, len(snapshot))
		for name, tick := range snapshot {
			cursors[name] = uint64(tick)
		}
		writeJSON(w, http.StatusOK, cursorsResponse{Root: resolved.Path(), Cursors: cursors})
		return nil
	case http.MethodPost:
		var request createCursorRequest
		if err := decodeJSON(r, &request); err != nil {
			return err
		}
		name := strings.TrimSpace(request.Name)
		if name == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing cursor name"}
		}
		var tick view.Tick
		if request.Tick != nil {
			tick = view.Tick(*request.Tick)
			resolved.CreateCursorAt(name, tick)
		} else {
			tick = resolved.CreateOrGetCursor(name)
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"root": resolved.Path(),
			"name": name,
			"tick": uint64(tick),
		})
		return nil
	case http.MethodDelete:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing cursor name"}
		}
		if !resolved.RemoveCursor(name) {
			return &apiError{Status: http.StatusNotFound, Message: "unknown cursor " + name}
		}
		writeJSON(w, http.StatusOK, map[string]string{"removed": name})
		return nil
	default:
		return methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *RestHandler) handleSince(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
	if cursor == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing cursor parameter"}
	}

	entries, tick, err := resolved.SinceCursor(cursor)
	if err != nil {
		return mapRootError(err)
	}

	changes := make([]changeSummary, 0, len(entries))
	for _, entry := range entries {
		changes = append(changes, changeSummaryOf(entry))
	}
	writeJSON(w, http.StatusOK, sinceResponse{
		Root:    resolved.Path(),
		Cursor:  cursor,
		Tick:    uint64(tick),
		Changes: changes,
	})
	return nil
}

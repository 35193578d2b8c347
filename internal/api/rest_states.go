package api

import (
	"errors"
	"net/http"
	"strings"

	"vigil/internal/state"
)

type assertStateRequest struct {
	Name string `json:"name"`
}

type assertedResponse struct {
	Root   string   `json:"root"`
	States []string `json:"states"`
}

func (h *RestHandler) handleStates(w http.ResponseWriter, r *http.Request) *apiError {
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, assertedResponse{
			Root:   resolved.Path(),
			States: h.States.List(resolved.Path()),
		})
		return nil
	case http.MethodPost:
		var request assertStateRequest
		if err := decodeJSON(r, &request); err != nil {
			return err
		}
		name := strings.TrimSpace(request.Name)
		if name == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing state name"}
		}
		h.States.Assert(resolved.Path(), name)
		writeJSON(w, http.StatusOK, assertedResponse{
			Root:   resolved.Path(),
			States: h.States.List(resolved.Path()),
		})
		return nil
	case http.MethodDelete:
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing state name"}
		}
		if err := h.States.Remove(resolved.Path(), name); err != nil {
			if errors.Is(err, state.ErrNotAsserted) {
				return &apiError{Status: http.StatusNotFound, Message: err.Error()}
			}
			return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
		}
		writeJSON(w, http.StatusOK, assertedResponse{
			Root:   resolved.Path(),
			States: h.States.List(resolved.Path()),
		})
		return nil
	default:
		return methodNotAllowed(w, "GET, POST, DELETE")
	}
}

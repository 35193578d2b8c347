package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"vigil/internal/notify"
)

type subscribeRequest struct {
	ClientID uint64 `json:"client_id"`
	Name     string `json:"name"`
}

type subscribeResponse struct {
	Root     string `json:"root"`
	ClientID uint64 `json:"client_id"`
	Name     string `json:"name"`
}

type pauseRequest struct {
	ClientID uint64 `json:"client_id"`
	Name     string `json:"name"`
	Paused   bool   `json:"paused"`
}

type pauseResponse struct {
	Old     bool `json:"old"`
	Current bool `json:"current"`
}

func (h *RestHandler) handleSubscriptions(w http.ResponseWriter, r *http.Request) *apiError {
	switch r.Method {
	case http.MethodGet:
		resolved, apiErr := h.resolveRoot(r)
		if apiErr != nil {
			return apiErr
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"root":          resolved.Path(),
			"subscriptions": h.Subscriptions.DebugInfo(resolved.Path()),
		})
		return nil
	case http.MethodPost:
		resolved, apiErr := h.resolveRoot(r)
		if apiErr != nil {
			return apiErr
		}
		var request subscribeRequest
		if err := decodeJSON(r, &request); err != nil {
			return err
		}
		name := strings.TrimSpace(request.Name)
		if name == "" {
			return &apiError{Status: http.StatusBadRequest, Message: "missing subscription name"}
		}
		h.Subscriptions.Add(request.ClientID, name, resolved.Path())
		writeJSON(w, http.StatusOK, subscribeResponse{
			Root:     resolved.Path(),
			ClientID: request.ClientID,
			Name:     name,
		})
		return nil
	case http.MethodDelete:
		clientID, apiErr := queryClientID(r)
		if apiErr != nil {
			return apiErr
		}
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			// No name drops the whole client, the connection-teardown path.
			h.Subscriptions.DropClient(clientID)
			writeJSON(w, http.StatusOK, map[string]any{"client_id": clientID, "dropped": true})
			return nil
		}
		if err := h.Subscriptions.Remove(clientID, name); err != nil {
			if errors.Is(err, notify.ErrNotSubscribed) {
				return &apiError{Status: http.StatusNotFound, Message: err.Error()}
			}
			return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
		}
		writeJSON(w, http.StatusOK, map[string]any{"client_id": clientID, "unsubscribed": name})
		return nil
	default:
		return methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *RestHandler) handleSubscriptionPause(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	var request pauseRequest
	if err := decodeJSON(r, &request); err != nil {
		return err
	}
	name := strings.TrimSpace(request.Name)
	if name == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing subscription name"}
	}
	old, current, err := h.Subscriptions.SetPaused(request.ClientID, name, request.Paused)
	if err != nil {
		if errors.Is(err, notify.ErrNotSubscribed) {
			return &apiError{Status: http.StatusNotFound, Message: err.Error()}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, pauseResponse{Old: old, Current: current})
	return nil
}

func queryClientID(r *http.Request) (uint64, *apiError) {
	raw := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if raw == "" {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "missing client_id"}
	}
	clientID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, &apiError{Status: http.StatusBadRequest, Message: "invalid client_id"}
	}
	return clientID, nil
}

package api

import (
	"net/http"
	"strings"
	"time"

	"vigil/internal/root"
)

type addRootRequest struct {
	Path string `json:"path"`
}

type recrawlRequest struct {
	Reason string `json:"reason"`
}

type recrawlResponse struct {
	Root    string `json:"root"`
	Recrawl uint64 `json:"recrawl"`
}

type ageOutRequest struct {
	MinAge string `json:"min_age"`
}

type ageOutResponse struct {
	Root      string `json:"root"`
	Examined  int    `json:"examined"`
	Collected int    `json:"collected"`
}

type poisonRequest struct {
	Reason string `json:"reason"`
	Code   int    `json:"code"`
}

func (h *RestHandler) handleRoots(w http.ResponseWriter, r *http.Request) *apiError {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Roots.StatusAll())
		return nil
	case http.MethodPost:
		return h.addRoot(w, r)
	case http.MethodDelete:
		return h.removeRoot(w, r)
	default:
		return methodNotAllowed(w, "GET, POST, DELETE")
	}
}

func (h *RestHandler) addRoot(w http.ResponseWriter, r *http.Request) *apiError {
	var request addRootRequest
	if err := decodeJSON(r, &request); err != nil {
		return err
	}
	path := strings.TrimSpace(request.Path)
	if path == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing path"}
	}

	added, err := h.Roots.Add(path)
	if err != nil {
		return mapRootError(err)
	}
	if h.Watch != nil {
		if _, err := h.Watch.WatchTree(added.Path(), added); err != nil {
			if h.Logger != nil {
				h.Logger.Warn("watch tree failed", map[string]string{
					"root":  added.Path(),
					"error": err.Error(),
				})
			}
		}
	}

	writeJSON(w, http.StatusCreated, added.DebugStatus())
	return nil
}

func (h *RestHandler) removeRoot(w http.ResponseWriter, r *http.Request) *apiError {
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	if err := h.Roots.Remove(resolved.Path()); err != nil {
		return mapRootError(err)
	}
	if h.States != nil {
		h.States.DropRoot(resolved.Path())
	}

	writeJSON(w, http.StatusOK, map[string]string{"removed": resolved.Path()})
	return nil
}

func (h *RestHandler) handleRecrawl(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	request := recrawlRequest{Reason: "api"}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &request); err != nil {
			return err
		}
	}
	if strings.TrimSpace(request.Reason) == "" {
		request.Reason = "api"
	}

	id, err := resolved.ScheduleRecrawl(request.Reason)
	if err != nil {
		return mapRootError(err)
	}

	writeJSON(w, http.StatusAccepted, recrawlResponse{Root: resolved.Path(), Recrawl: id})
	return nil
}

func (h *RestHandler) handleAgeOut(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	var request ageOutRequest
	if err := decodeJSON(r, &request); err != nil {
		return err
	}
	minAge, err := time.ParseDuration(strings.TrimSpace(request.MinAge))
	if err != nil || minAge < 0 {
		return &apiError{Status: http.StatusBadRequest, Message: "invalid min_age"}
	}

	result, err := resolved.PerformAgeOut(minAge)
	if err != nil {
		return mapRootError(err)
	}

	writeJSON(w, http.StatusOK, ageOutResponse{
		Root:      resolved.Path(),
		Examined:  result.Examined,
		Collected: result.Collected,
	})
	return nil
}

func (h *RestHandler) handlePoison(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodPost {
		return methodNotAllowed(w, "POST")
	}
	resolved, apiErr := h.resolveRoot(r)
	if apiErr != nil {
		return apiErr
	}

	request := poisonRequest{Reason: "poisoned via api"}
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &request); err != nil {
			return err
		}
	}

	resolved.Poison(request.Reason, request.Code)
	status, _ := resolved.Poisoned()
	writeJSON(w, http.StatusOK, poisonSummaryOf(status))
	return nil
}

type poisonSummary struct {
	Root   string    `json:"root"`
	Reason string    `json:"reason"`
	Code   int       `json:"errno,omitempty"`
	At     time.Time `json:"timestamp"`
}

func poisonSummaryOf(status root.PoisonState) poisonSummary {
	return poisonSummary{
		Root:   status.RootPath,
		Reason: status.Reason,
		Code:   status.Code,
		At:     status.At,
	}
}

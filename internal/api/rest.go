package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/root"
	"vigil/internal/state"
	"vigil/internal/view"
	"vigil/internal/watcher"
)

// RestHandler serves the administrative API over the daemon's registries.
type RestHandler struct {
	Roots         *root.Registry
	States        *state.Registry
	Subscriptions *notify.Subscriptions
	Watch         *watcher.Watcher
	Metrics       *metrics.Registry
	LogBuffer     *logging.Buffer
	Logger        *logging.Logger
	Started       time.Time
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type watcherSummary struct {
	ActiveWatches   int    `json:"active_watches"`
	TreeCount       int    `json:"tree_count"`
	EventsDelivered uint64 `json:"events_delivered"`
	EventsDropped   uint64 `json:"events_dropped"`
	Errors          uint64 `json:"errors"`
}

type statusResponse struct {
	ServerTime    time.Time          `json:"server_time"`
	UptimeSeconds int64              `json:"uptime"`
	RootCount     int                `json:"root_count"`
	Watcher       watcherSummary     `json:"watcher"`
	Roots         []root.DebugStatus `json:"roots"`
}

type changeSummary struct {
	Path         string `json:"path"`
	Exists       bool   `json:"exists"`
	Size         int64  `json:"size,omitempty"`
	Mode         uint32 `json:"mode,omitempty"`
	MTimeNanos   int64  `json:"mtime_ns,omitempty"`
	ObservedTick uint64 `json:"observed_tick"`
	ChangedTick  uint64 `json:"changed_tick"`
	CreatedTick  uint64 `json:"created_tick"`
}

type cacheStats struct {
	Hit    uint64 `json:"cacheHit"`
	Share  uint64 `json:"cacheShare"`
	Miss   uint64 `json:"cacheMiss"`
	Evict  uint64 `json:"cacheEvict"`
	Store  uint64 `json:"cacheStore"`
	Load   uint64 `json:"cacheLoad"`
	Erase  uint64 `json:"cacheErase"`
	Clears uint64 `json:"clearCount"`
	Size   uint64 `json:"size"`
}

func changeSummaryOf(entry view.Entry) changeSummary {
	summary := changeSummary{
		Path:         entry.Path,
		Exists:       entry.Exists,
		ObservedTick: uint64(entry.ObservedTick),
		ChangedTick:  uint64(entry.ChangedTick),
		CreatedTick:  uint64(entry.CreatedTick),
	}
	if entry.Exists {
		summary.Size = entry.Signature.Size
		summary.Mode = uint32(entry.Signature.Mode)
		summary.MTimeNanos = entry.Signature.ModTime
	}
	return summary
}

func (h *RestHandler) resolveRoot(r *http.Request) (*root.Root, *apiError) {
	path := strings.TrimSpace(r.URL.Query().Get("root"))
	if path == "" {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "missing root parameter"}
	}
	resolved, err := h.Roots.Resolve(path)
	if err != nil {
		return nil, mapRootError(err)
	}
	return resolved, nil
}

func mapRootError(err error) *apiError {
	if err == nil {
		return nil
	}
	var poisoned *root.PoisonedError
	switch {
	case errors.As(err, &poisoned):
		return &apiError{Status: http.StatusGone, Message: poisoned.Error(), Code: "root_poisoned"}
	case errors.Is(err, root.ErrUnknownRoot):
		return &apiError{Status: http.StatusNotFound, Message: err.Error()}
	case errors.Is(err, root.ErrCancelled):
		return &apiError{Status: http.StatusConflict, Message: err.Error()}
	default:
		return &apiError{Status: http.StatusInternalServerError, Message: err.Error()}
	}
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	watcherMetrics := h.Watch.Metrics()
	response := statusResponse{
		ServerTime:    time.Now().UTC(),
		UptimeSeconds: int64(time.Since(h.Started).Seconds()),
		Watcher: watcherSummary{
			ActiveWatches:   watcherMetrics.ActiveWatches,
			TreeCount:       watcherMetrics.TreeCount,
			EventsDelivered: watcherMetrics.EventsDelivered,
			EventsDropped:   watcherMetrics.EventsDropped,
			Errors:          watcherMetrics.Errors,
		},
		Roots: h.Roots.StatusAll(),
	}
	response.RootCount = len(response.Roots)

	writeJSON(w, http.StatusOK, response)
	return nil
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}
	if h.LogBuffer == nil {
		writeJSON(w, http.StatusOK, []logging.Entry{})
		return nil
	}

	entries := h.LogBuffer.List()
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		if limit < len(entries) {
			entries = entries[len(entries)-limit:]
		}
	}

	writeJSON(w, http.StatusOK, entries)
	return nil
}

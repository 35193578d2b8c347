package api

import (
	"net/http"
	"time"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/root"
	"vigil/internal/state"
	"vigil/internal/watcher"
)

// Deps carries the daemon registries the API serves.
type Deps struct {
	Roots         *root.Registry
	States        *state.Registry
	Subscriptions *notify.Subscriptions
	Watch         *watcher.Watcher
	Metrics       *metrics.Registry
	LogBuffer     *logging.Buffer
	Logger        *logging.Logger
	AuthToken     string
}

func RegisterRoutes(mux *http.ServeMux, deps Deps) {
	rest := &RestHandler{
		Roots:         deps.Roots,
		States:        deps.States,
		Subscriptions: deps.Subscriptions,
		Watch:         deps.Watch,
		Metrics:       deps.Metrics,
		LogBuffer:     deps.LogBuffer,
		Logger:        deps.Logger,
		Started:       time.Now(),
	}
	wrap := func(handler apiHandler) http.Handler {
		return loggingMiddleware(deps.Logger, restHandler(deps.AuthToken, handler))
	}

	mux.Handle("/api/status", wrap(rest.handleStatus))
	mux.Handle("/api/roots", wrap(rest.handleRoots))
	mux.Handle("/api/recrawl", wrap(rest.handleRecrawl))
	mux.Handle("/api/ageout", wrap(rest.handleAgeOut))
	mux.Handle("/api/poison", wrap(rest.handlePoison))
	mux.Handle("/api/cursors", wrap(rest.handleCursors))
	mux.Handle("/api/since", wrap(rest.handleSince))
	mux.Handle("/api/caches", wrap(rest.handleCaches))
	mux.Handle("/api/states", wrap(rest.handleStates))
	mux.Handle("/api/subscriptions", wrap(rest.handleSubscriptions))
	mux.Handle("/api/subscriptions/pause", wrap(rest.handleSubscriptionPause))
	mux.Handle("/api/logs", wrap(rest.handleLogs))
	mux.Handle("/api/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoStore)
		writeJSONError(w, &apiError{Status: http.StatusNotFound, Message: "not found"})
	}))

	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = deps.Metrics.WritePrometheus(w)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w, cacheControlNoCache)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("vigil ok\n"))
	})
}

package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/notify"
	"vigil/internal/root"
	"vigil/internal/state"
)

type testServer struct {
	mux   *http.ServeMux
	roots *root.Registry
}

func newTestServer(t *testing.T, token string) *testServer {
	t.Helper()
	buffer := logging.NewBuffer(64)
	logger := logging.NewLoggerWithOutput(buffer, logging.LevelDebug, nil)
	registry := root.NewRegistry(root.RegistryOptions{Logger: logger, Metrics: &metrics.Registry{}})

	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{
		Roots:         registry,
		States:        state.NewRegistry(),
		Subscriptions: notify.NewSubscriptions(notify.SubscriptionsOptions{}),
		Metrics:       &metrics.Registry{},
		LogBuffer:     buffer,
		Logger:        logger,
		AuthToken:     token,
	})
	return &testServer{mux: mux, roots: registry}
}

func (server *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, target, reader)
	recorder := httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, request)
	return recorder
}

func (server *testServer) addSettledRoot(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("seed"), 0o600); err != nil {
		t.Fatalf("seed root: %v", err)
	}
	recorder := server.do(t, http.MethodPost, "/api/roots", addRootRequest{Path: dir})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("add root: status %d body %s", recorder.Code, recorder.Body.String())
	}
	resolved, err := server.roots.Resolve(dir)
	if err != nil {
		t.Fatalf("resolve root: %v", err)
	}
	if err := resolved.WaitSettled(3 * time.Second); err != nil {
		t.Fatalf("wait settled: %v", err)
	}
	return dir
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var decoded T
	if err := json.Unmarshal(recorder.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return decoded
}

func TestStatusReportsRoots(t *testing.T) {
	server := newTestServer(t, "")
	server.addSettledRoot(t)

	recorder := server.do(t, http.MethodGet, "/api/status", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status: %d", recorder.Code)
	}
	response := decodeBody[statusResponse](t, recorder)
	if response.RootCount != 1 {
		t.Fatalf("expected 1 root, got %d", response.RootCount)
	}
	if len(response.Roots) != 1 || !response.Roots[0].DoneInitial {
		t.Fatalf("expected settled root, got %+v", response.Roots)
	}
}

func TestAuthTokenRejected(t *testing.T) {
	server := newTestServer(t, "secret")

	recorder := server.do(t, http.MethodGet, "/api/status", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}

	request := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	request.Header.Set("X-Vigil-Token", "secret")
	recorder = httptest.NewRecorder()
	server.mux.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", recorder.Code)
	}
}

func TestUnknownRootReturnsNotFound(t *testing.T) {
	server := newTestServer(t, "")

	recorder := server.do(t, http.MethodGet, "/api/caches?root=/nowhere", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
	response := decodeBody[errorResponse](t, recorder)
	if response.Code != "not_found" {
		t.Fatalf("expected not_found code, got %q", response.Code)
	}
}

func TestCursorSinceRoundTrip(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	recorder := server.do(t, http.MethodPost, "/api/cursors?root="+dir, createCursorRequest{Name: "sync", Tick: new(uint64)})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create cursor: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodGet, "/api/since?root="+dir+"&cursor=sync", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("since: %d %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[sinceResponse](t, recorder)
	if len(response.Changes) == 0 {
		t.Fatal("expected initial crawl changes for cursor at zero")
	}
	if response.Tick == 0 {
		t.Fatal("expected cursor to advance past zero")
	}

	recorder = server.do(t, http.MethodGet, "/api/since?root="+dir+"&cursor=sync", nil)
	response = decodeBody[sinceResponse](t, recorder)
	if len(response.Changes) != 0 {
		t.Fatalf("expected empty delta on second read, got %d changes", len(response.Changes))
	}

	recorder = server.do(t, http.MethodDelete, "/api/cursors?root="+dir+"&name=sync", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("delete cursor: %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodDelete, "/api/cursors?root="+dir+"&name=sync", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown cursor, got %d", recorder.Code)
	}
}

func TestRecrawlAccepted(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	recorder := server.do(t, http.MethodPost, "/api/recrawl?root="+dir, recrawlRequest{Reason: "operator"})
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("recrawl: %d %s", recorder.Code, recorder.Body.String())
	}
	response := decodeBody[recrawlResponse](t, recorder)
	if response.Recrawl == 0 {
		t.Fatal("expected a crawl id")
	}
}

func TestPoisonBlocksMutations(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	recorder := server.do(t, http.MethodPost, "/api/poison?root="+dir, poisonRequest{Reason: "inotify limit", Code: 28})
	if recorder.Code != http.StatusOK {
		t.Fatalf("poison: %d %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodPost, "/api/recrawl?root="+dir, nil)
	if recorder.Code != http.StatusGone {
		t.Fatalf("expected 410 after poison, got %d", recorder.Code)
	}
	response := decodeBody[errorResponse](t, recorder)
	if response.Code != "root_poisoned" {
		t.Fatalf("expected root_poisoned code, got %q", response.Code)
	}

	// Reads still answer.
	recorder = server.do(t, http.MethodGet, "/api/caches?root="+dir, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected reads to survive poison, got %d", recorder.Code)
	}
}

func TestStatesLifecycle(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	recorder := server.do(t, http.MethodPost, "/api/states?root="+dir, assertStateRequest{Name: "build"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("assert: %d", recorder.Code)
	}
	response := decodeBody[assertedResponse](t, recorder)
	if len(response.States) != 1 || response.States[0] != "build" {
		t.Fatalf("unexpected states: %v", response.States)
	}

	recorder = server.do(t, http.MethodDelete, "/api/states?root="+dir+"&name=build", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("remove: %d", recorder.Code)
	}
	recorder = server.do(t, http.MethodDelete, "/api/states?root="+dir+"&name=build", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unasserted state, got %d", recorder.Code)
	}
}

func TestCacheStatsShape(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	resolved, err := server.roots.Resolve(dir)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	seed := filepath.Join(dir, "seed.txt")
	if _, err := resolved.View().ContentHash(seed); err != nil {
		t.Fatalf("content hash: %v", err)
	}

	recorder := server.do(t, http.MethodGet, "/api/caches?root="+dir, nil)
	response := decodeBody[cacheStatsResponse](t, recorder)
	if response.ContentHash.Miss != 1 || response.ContentHash.Store != 1 {
		t.Fatalf("unexpected content hash stats: %+v", response.ContentHash)
	}

	recorder = server.do(t, http.MethodDelete, "/api/caches?root="+dir, nil)
	response = decodeBody[cacheStatsResponse](t, recorder)
	if response.ContentHash.Size != 0 || response.ContentHash.Clears != 1 {
		t.Fatalf("expected cleared cache, got %+v", response.ContentHash)
	}
}

func TestMetricsEndpointServesText(t *testing.T) {
	server := newTestServer(t, "")

	recorder := server.do(t, http.MethodGet, "/metrics", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("metrics: %d", recorder.Code)
	}
	if !bytes.Contains(recorder.Body.Bytes(), []byte("vigil_crawls_started_total")) {
		t.Fatalf("expected prometheus exposition, got %q", recorder.Body.String())
	}
}

func TestSubscriptionLifecycleEndpoints(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	type debugResponse struct {
		Root          string                         `json:"root"`
		Subscriptions []notify.SubscriptionDebugInfo `json:"subscriptions"`
	}

	recorder := server.do(t, http.MethodPost, "/api/subscriptions?root="+dir, subscribeRequest{ClientID: 7, Name: "build"})
	if recorder.Code != http.StatusOK {
		t.Fatalf("subscribe: %d body %s", recorder.Code, recorder.Body.String())
	}
	created := decodeBody[subscribeResponse](t, recorder)
	if created.Root != dir || created.ClientID != 7 || created.Name != "build" {
		t.Fatalf("unexpected subscribe response: %+v", created)
	}

	recorder = server.do(t, http.MethodGet, "/api/subscriptions?root="+dir, nil)
	debug := decodeBody[debugResponse](t, recorder)
	if len(debug.Subscriptions) != 1 || debug.Subscriptions[0].Name != "build" || debug.Subscriptions[0].Paused {
		t.Fatalf("unexpected debug view: %+v", debug.Subscriptions)
	}

	recorder = server.do(t, http.MethodPost, "/api/subscriptions/pause", pauseRequest{ClientID: 7, Name: "build", Paused: true})
	if recorder.Code != http.StatusOK {
		t.Fatalf("pause: %d body %s", recorder.Code, recorder.Body.String())
	}
	paused := decodeBody[pauseResponse](t, recorder)
	if paused.Old || !paused.Current {
		t.Fatalf("expected old=false current=true, got %+v", paused)
	}

	recorder = server.do(t, http.MethodPost, "/api/subscriptions/pause", pauseRequest{ClientID: 7, Name: "missing", Paused: true})
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown subscription, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodDelete, "/api/subscriptions?client_id=7&name=build", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("unsubscribe: %d body %s", recorder.Code, recorder.Body.String())
	}
	recorder = server.do(t, http.MethodDelete, "/api/subscriptions?client_id=7&name=build", nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for repeated unsubscribe, got %d", recorder.Code)
	}

	recorder = server.do(t, http.MethodGet, "/api/subscriptions?root="+dir, nil)
	debug = decodeBody[debugResponse](t, recorder)
	if len(debug.Subscriptions) != 0 {
		t.Fatalf("expected no subscriptions left, got %+v", debug.Subscriptions)
	}
}

func TestSubscriptionDeleteWithoutNameDropsClient(t *testing.T) {
	server := newTestServer(t, "")
	dir := server.addSettledRoot(t)

	for _, name := range []string{"build", "lint"} {
		recorder := server.do(t, http.MethodPost, "/api/subscriptions?root="+dir, subscribeRequest{ClientID: 9, Name: name})
		if recorder.Code != http.StatusOK {
			t.Fatalf("subscribe %s: %d", name, recorder.Code)
		}
	}

	recorder := server.do(t, http.MethodDelete, "/api/subscriptions?client_id=9", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("drop client: %d body %s", recorder.Code, recorder.Body.String())
	}

	recorder = server.do(t, http.MethodGet, "/api/subscriptions?root="+dir, nil)
	response := decodeBody[map[string]any](t, recorder)
	if subs, ok := response["subscriptions"].([]any); !ok || len(subs) != 0 {
		t.Fatalf("expected every client subscription dropped, got %v", response["subscriptions"])
	}

	recorder = server.do(t, http.MethodDelete, "/api/subscriptions?name=build", nil)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing client_id, got %d", recorder.Code)
	}
}

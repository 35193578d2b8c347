// Package root drives the lifecycle of a watched tree: the crawl state
// machine, recrawl and ageout triggers, the poison latch, and the per-root
// cursor registry layered over the tree model.
package root

import (
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"vigil/internal/logging"
	"vigil/internal/metrics"
	"vigil/internal/view"
)

const defaultCrawlConcurrency = 8

// CrawlStatus is the lifecycle state of a root.
type CrawlStatus int

const (
	StatusInitial CrawlStatus = iota
	StatusCrawling
	StatusSettled
	StatusCancelled
)

func (s CrawlStatus) String() string {
	switch s {
	case StatusInitial:
		return "initial"
	case StatusCrawling:
		return "crawling"
	case StatusSettled:
		return "settled"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Options configures a Root.
type Options struct {
	Path             string
	Latch            *PoisonLatch
	Logger           *logging.Logger
	Metrics          *metrics.Registry
	View             view.Options
	CrawlConcurrency int
}

// Root owns the tree model for one watched directory. The poison latch is
// shared daemon-wide and consulted before every mutating operation.
type Root struct {
	path             string
	view             *view.View
	latch            *PoisonLatch
	logger           *logging.Logger
	metrics          *metrics.Registry
	createdAt        time.Time
	crawlConcurrency int

	mu           sync.Mutex
	status       CrawlStatus
	crawlSeq     uint64
	current      *crawlRun
	doneInitial  bool
	recrawlCount int
	lastCrawlErr error

	cursorMu sync.Mutex
	cursors  map[string]view.Tick
}

type crawlRun struct {
	id     uint64
	reason string
	done   chan struct{}
}

func New(options Options) *Root {
	latch := options.Latch
	if latch == nil {
		latch = NewPoisonLatch()
	}
	registry := options.Metrics
	if registry == nil {
		registry = metrics.Default
	}
	concurrency := options.CrawlConcurrency
	if concurrency <= 0 {
		concurrency = defaultCrawlConcurrency
	}
	return &Root{
		path:             options.Path,
		view:             view.NewWithOptions(options.View),
		latch:            latch,
		logger:           options.Logger,
		metrics:          registry,
		createdAt:        time.Now(),
		crawlConcurrency: concurrency,
		cursors:          make(map[string]view.Tick),
	}
}

func (r *Root) Path() string {
	if r == nil {
		return ""
	}
	return r.path
}

// View exposes the tree model, including its derived-attribute cache
// operations, as a typed handle.
func (r *Root) View() *view.View {
	if r == nil {
		return nil
	}
	return r.view
}

func (r *Root) Status() CrawlStatus {
	if r == nil {
		return StatusCancelled
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Poisoned reports the sticky poison record for this root, if set.
func (r *Root) Poisoned() (PoisonState, bool) {
	if r == nil {
		return PoisonState{}, false
	}
	return r.latch.Get(r.path)
}

func (r *Root) poisonedErr() error {
	state, ok := r.latch.Get(r.path)
	if !ok {
		return nil
	}
	return &PoisonedError{State: state}
}

// Poison latches this root into the failed state. Mutations fail from this
// point on; read-only queries keep answering from pre-poison data.
func (r *Root) Poison(reason string, code int) {
	if r == nil {
		return
	}
	r.latch.Set(PoisonState{
		RootPath: r.path,
		Reason:   reason,
		Code:     code,
		At:       time.Now(),
	})
	r.metrics.IncPoisonSet()
	if r.logger != nil {
		r.logger.Error("root poisoned", map[string]string{
			"root":   r.path,
			"reason": reason,
		})
	}
}

// Observe stamps path as existing with sig. Fails once the root is poisoned
// or cancelled.
func (r *Root) Observe(path string, sig view.Signature) (view.Tick, error) {
	if err := r.mutableErr(); err != nil {
		return 0, err
	}
	return r.view.Observe(path, sig), nil
}

// MarkRemoved tombstones path.
func (r *Root) MarkRemoved(path string) (view.Tick, error) {
	if err := r.mutableErr(); err != nil {
		return 0, err
	}
	return r.view.MarkRemoved(path), nil
}

// Ingest applies one watcher-reported path: stat it and record the result as
// an observation or a removal.
func (r *Root) Ingest(path string) error {
	if err := r.mutableErr(); err != nil {
		return err
	}

	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.view.MarkRemoved(path)
			r.metrics.AddEventsIngested(1)
			return nil
		}
		return err
	}
	r.view.Observe(path, view.SignatureOf(info))
	r.metrics.AddEventsIngested(1)
	return nil
}

// ChangesSince is the read-side delta query; permitted after poison.
func (r *Root) ChangesSince(since view.Tick) []view.Entry {
	if r == nil {
		return nil
	}
	return r.view.ChangesSince(since)
}

// PerformAgeOut reclaims tombstoned entries older than minAge, floored at the
// oldest live cursor watermark so no consumer observes a gap.
func (r *Root) PerformAgeOut(minAge time.Duration) (view.AgeOutResult, error) {
	if err := r.mutableErr(); err != nil {
		return view.AgeOutResult{}, err
	}

	// The floor and the reclaim run under cursorMu as one step, so a cursor
	// registered at a low watermark mid-pass cannot be handed a gapped delta.
	r.cursorMu.Lock()
	floor := r.oldestCursorLocked()
	result := r.view.AgeOut(minAge, floor)
	r.cursorMu.Unlock()
	r.metrics.AddEntriesAgedOut(result.Collected)
	if r.logger != nil && result.Collected > 0 {
		r.logger.Info("ageout pass", map[string]string{
			"root":      r.path,
			"examined":  itoa(result.Examined),
			"collected": itoa(result.Collected),
		})
	}
	return result, nil
}

// Cancel marks the root as terminal. An in-flight crawl notices and bails.
func (r *Root) Cancel() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.status = StatusCancelled
	r.mu.Unlock()
}

func (r *Root) mutableErr() error {
	if r == nil {
		return ErrCancelled
	}
	if err := r.poisonedErr(); err != nil {
		return err
	}
	r.mu.Lock()
	cancelled := r.status == StatusCancelled
	r.mu.Unlock()
	if cancelled {
		return ErrCancelled
	}
	return nil
}

// LastCrawlError reports the failure of the most recent crawl, nil after a
// successful one.
func (r *Root) LastCrawlError() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastCrawlErr
}

// WaitSettled blocks until no crawl is in flight, or the timeout elapses.
func (r *Root) WaitSettled(timeout time.Duration) error {
	if r == nil {
		return ErrCancelled
	}
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		current := r.current
		r.mu.Unlock()
		if current == nil {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return errors.New("root: timed out waiting for crawl to settle")
		}
		timer := time.NewTimer(remaining)
		select {
		case <-current.done:
			timer.Stop()
		case <-timer.C:
			return errors.New("root: timed out waiting for crawl to settle")
		}
	}
}

// DebugStatus is the administrative snapshot of one root.
type DebugStatus struct {
	Path          string `json:"path"`
	UptimeSeconds int64  `json:"uptime"`
	CrawlStatus   string `json:"crawl_status"`
	DoneInitial   bool   `json:"done_initial"`
	Cancelled     bool   `json:"cancelled"`
	RecrawlCount  int    `json:"recrawl_count"`
	EntryCount    int    `json:"entry_count"`
	CurrentTick   uint64 `json:"current_tick"`
	Poisoned      string `json:"poisoned,omitempty"`
}

func (r *Root) DebugStatus() DebugStatus {
	if r == nil {
		return DebugStatus{}
	}
	r.mu.Lock()
	status := r.status.String()
	if r.current != nil {
		status = "crawling (" + r.current.reason + ")"
	} else if r.lastCrawlErr != nil {
		status = "settled (last crawl failed)"
	}
	doneInitial := r.doneInitial
	cancelled := r.status == StatusCancelled
	recrawls := r.recrawlCount
	r.mu.Unlock()

	poisonReason := ""
	if state, ok := r.Poisoned(); ok {
		poisonReason = state.Reason
	}

	return DebugStatus{
		Path:          r.path,
		UptimeSeconds: int64(time.Since(r.createdAt).Seconds()),
		CrawlStatus:   status,
		DoneInitial:   doneInitial,
		Cancelled:     cancelled,
		RecrawlCount:  recrawls,
		EntryCount:    r.view.EntryCount(),
		CurrentTick:   uint64(r.view.CurrentTick()),
		Poisoned:      poisonReason,
	}
}

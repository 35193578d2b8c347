package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"vigil/internal/logging"
	"vigil/internal/notify"
)

// Event represents a single debounced filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Sink receives changes for one watched tree. Ingest is called once per
// settled path. ScheduleRecrawl is called when the kernel event stream can
// no longer be trusted, such as after an overflow or a watcher restart.
type Sink interface {
	Ingest(path string) error
	ScheduleRecrawl(reason string) (uint64, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger          *logging.Logger
	Debounce        time.Duration
	MaxWatches      int
	CleanupInterval time.Duration
	ErrorHandler    func(error)
}

type treeWatch struct {
	root string
	sink Sink
}

// Watcher is the concrete fsnotify-backed implementation. A single Watcher
// serves any number of registered trees over one kernel watch set.
type Watcher struct {
	watcher *fsnotify.Watcher

	mutex     sync.Mutex
	closed    bool
	trees     map[string]*treeWatch
	dirs      map[string]string
	debouncer *debouncer

	events chan fsnotify.Event
	errors chan error
	done   chan struct{}

	logger          *logging.Logger
	publisher       *notify.Publisher[Event]
	maxWatches      int
	cleanupInterval time.Duration
	errorHandler    func(error)

	restartMutex    sync.Mutex
	restartAttempts int
	restartTimer    *time.Timer

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	TreeCount       int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}

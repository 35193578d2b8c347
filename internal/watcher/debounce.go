package watcher

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type debounceEntry struct {
	timer *time.Timer
	event Event
}

type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

func (debouncer *debouncer) schedule(path string, event Event, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	entry := debouncer.entries[path]
	coalesced := entry.timer != nil
	entry.event.Path = event.Path
	entry.event.Op |= event.Op
	entry.event.Timestamp = event.Timestamp
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return coalesced
}

func (debouncer *debouncer) pop(path string) (Event, bool) {
	if debouncer == nil {
		return Event{}, false
	}
	entry, ok := debouncer.entries[path]
	if !ok {
		return Event{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	watcher.mutex.Lock()
	if watcher.closed || watcher.debouncer == nil {
		watcher.mutex.Unlock()
		return
	}
	watcher.mutex.Unlock()

	if watcher.treeFor(event.Name) == nil {
		return
	}

	entry := Event{
		Path:      event.Name,
		Op:        event.Op,
		Timestamp: time.Now().UTC(),
	}

	watcher.mutex.Lock()
	if watcher.closed || watcher.debouncer == nil {
		watcher.mutex.Unlock()
		return
	}
	coalesced := watcher.debouncer.schedule(event.Name, entry, watcher.flush)
	watcher.mutex.Unlock()

	if coalesced {
		atomic.AddUint64(&watcher.eventsDropped, 1)
	}
}

func (watcher *Watcher) flush(path string) {
	watcher.mutex.Lock()
	if watcher.closed || watcher.debouncer == nil {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.debouncer.pop(path)
	watcher.mutex.Unlock()
	if !ok {
		return
	}

	tree := watcher.treeFor(path)
	if tree == nil {
		return
	}

	atomic.AddUint64(&watcher.eventsDelivered, 1)
	watcher.publisher.Publish(event)

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Lstat(path); err == nil && info.IsDir() {
			// A directory appeared; its contents may have landed before the
			// watch did, so walk it and ingest everything found.
			if err := watcher.addSubtree(tree, path, true); err != nil {
				watcher.logWarn("subtree watch failed", map[string]string{
					"path":  path,
					"error": err.Error(),
				})
			}
			return
		}
	}

	if err := tree.sink.Ingest(path); err != nil {
		watcher.logWarn("ingest failed", map[string]string{
			"path":  path,
			"error": err.Error(),
		})
	}
}

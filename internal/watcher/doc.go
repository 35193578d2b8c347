// Package watcher provides the fsnotify-backed change source for watched
// roots.
//
// A Watcher is safe for concurrent use and delivers best-effort events:
// changes are debounced per path and can be coalesced under load, and a lost
// kernel queue (overflow, restart) is repaired by asking the owning tree's
// sink for a recrawl rather than by replaying events.
package watcher

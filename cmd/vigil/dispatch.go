package main

import (
	"os"
	"strings"

	"vigil/internal/root"
)

// startDispatch fans settled watcher events out to the subscription registry.
// Each event becomes one saved response on every subscription against the
// owning root. Returns a stop function that drains the loop.
func (d *daemon) startDispatch() func() {
	events, cancel := d.watch.Subscribe()
	done := make(chan struct{})

	go func() {
		defer close(done)
		for event := range events {
			owner := owningRoot(d.roots.List(), event.Path)
			if owner == nil {
				continue
			}
			d.subscriptions.Dispatch(owner.Path(), map[string]any{
				"root":  owner.Path(),
				"path":  event.Path,
				"op":    event.Op.String(),
				"tick":  uint64(owner.View().CurrentTick()),
				"since": event.Timestamp.UTC(),
			})
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// owningRoot picks the root whose path is the longest prefix of path.
func owningRoot(roots []*root.Root, path string) *root.Root {
	var best *root.Root
	for _, candidate := range roots {
		base := candidate.Path()
		if path != base && !strings.HasPrefix(path, base+string(os.PathSeparator)) {
			continue
		}
		if best == nil || len(base) > len(best.Path()) {
			best = candidate
		}
	}
	return best
}

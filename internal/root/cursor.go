package root

import "vigil/internal/view"

// CreateOrGetCursor returns the named cursor's watermark, creating it at the
// current tick on first use. A consumer that wants history from the
// beginning creates the cursor with CreateCursorAt(name, 0) instead.
func (r *Root) CreateOrGetCursor(name string) view.Tick {
	if r == nil || name == "" {
		return 0
	}
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	if tick, ok := r.cursors[name]; ok {
		return tick
	}
	tick := r.view.CurrentTick()
	r.cursors[name] = tick
	return tick
}

// CreateCursorAt pins the named cursor at an explicit watermark.
func (r *Root) CreateCursorAt(name string, tick view.Tick) {
	if r == nil || name == "" {
		return
	}
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	r.cursors[name] = tick
}

// SinceCursor reads the delta past the named cursor and advances the cursor
// to the tick the read observed, as one step. An unknown name is created at 0
// so the first read returns the full tree. Concurrent reads on the same name
// do not corrupt the watermark: the last advance wins.
func (r *Root) SinceCursor(name string) ([]view.Entry, view.Tick, error) {
	if r == nil || name == "" {
		return nil, 0, ErrUnknownRoot
	}

	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	since := r.cursors[name]
	entries, now := r.view.ChangesSinceWithTick(since)
	r.cursors[name] = now

	r.metrics.IncCursorRead()
	return entries, now, nil
}

// RemoveCursor drops the named cursor, reporting whether it existed.
func (r *Root) RemoveCursor(name string) bool {
	if r == nil {
		return false
	}
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()
	_, ok := r.cursors[name]
	delete(r.cursors, name)
	return ok
}

// CursorSnapshot copies the cursor table for diagnostics.
func (r *Root) CursorSnapshot() map[string]view.Tick {
	if r == nil {
		return nil
	}
	r.cursorMu.Lock()
	defer r.cursorMu.Unlock()

	snapshot := make(map[string]view.Tick, len(r.cursors))
	for name, tick := range r.cursors {
		snapshot[name] = tick
	}
	return snapshot
}

// oldestCursorLocked is the ageout floor: the smallest live watermark, or one
// past the current tick when no cursor is outstanding. Callers hold cursorMu.
func (r *Root) oldestCursorLocked() view.Tick {
	if len(r.cursors) == 0 {
		return r.view.CurrentTick() + 1
	}
	oldest := view.Tick(^uint64(0))
	for _, tick := range r.cursors {
		if tick < oldest {
			oldest = tick
		}
	}
	return oldest
}

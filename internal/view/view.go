// Package view holds the in-memory model of a watched tree: tick-stamped
// entries, delta queries against a tick watermark, ageout of tombstoned
// entries, and the derived-attribute caches keyed by (path, signature).
package view

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"vigil/internal/cache"
)

const (
	DefaultContentHashCacheSize   = 4096
	DefaultSymlinkTargetCacheSize = 1024
)

// Options configures a View.
type Options struct {
	ContentHashCacheSize   int
	SymlinkTargetCacheSize int
}

// View is the tree model for one root. Reads proceed concurrently; mutations
// are serialized against reads and each other. The tick clock lives here: the
// first mutation is stamped 1.
type View struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ticks   atomic.Uint64

	contentHashes  *cache.Cache[attrKey, string]
	symlinkTargets *cache.Cache[attrKey, string]
}

func New() *View {
	return NewWithOptions(Options{})
}

func NewWithOptions(options Options) *View {
	contentSize := options.ContentHashCacheSize
	if contentSize <= 0 {
		contentSize = DefaultContentHashCacheSize
	}
	symlinkSize := options.SymlinkTargetCacheSize
	if symlinkSize <= 0 {
		symlinkSize = DefaultSymlinkTargetCacheSize
	}
	return &View{
		entries: make(map[string]*Entry),
		contentHashes: cache.NewWithOptions[attrKey, string](cache.Options[attrKey]{
			Capacity:  contentSize,
			KeyString: attrKeyString,
		}),
		symlinkTargets: cache.NewWithOptions[attrKey, string](cache.Options[attrKey]{
			Capacity:  symlinkSize,
			KeyString: attrKeyString,
		}),
	}
}

// CurrentTick reports the most recently assigned tick, or 0 before the first
// mutation.
func (v *View) CurrentTick() Tick {
	if v == nil {
		return 0
	}
	return Tick(v.ticks.Load())
}

func (v *View) nextTick() Tick {
	return Tick(v.ticks.Add(1))
}

// Observe records that path exists with the given signature. An unchanged
// re-observation advances only the observed tick; a signature change also
// advances the changed tick. Derived-cache entries keyed on the old signature
// go stale naturally because the key embeds the signature.
func (v *View) Observe(path string, sig Signature) Tick {
	if v == nil || path == "" {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tick := v.nextTick()
	entry, ok := v.entries[path]
	if !ok {
		v.entries[path] = &Entry{
			Path:         path,
			Exists:       true,
			Signature:    sig,
			ObservedTick: tick,
			ChangedTick:  tick,
			CreatedTick:  tick,
			ChangedAt:    time.Now(),
		}
		return tick
	}

	changed := !entry.Exists || entry.Signature != sig
	entry.Exists = true
	entry.Signature = sig
	entry.ObservedTick = tick
	if changed {
		entry.ChangedTick = tick
		entry.ChangedAt = time.Now()
	}
	return tick
}

// MarkRemoved flags path as no longer existing. The entry stays resident as a
// tombstone until ageout reclaims it so that cursor deltas can still surface
// the removal.
func (v *View) MarkRemoved(path string) Tick {
	if v == nil || path == "" {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	tick := v.nextTick()
	entry, ok := v.entries[path]
	if !ok {
		// Removal of a never-observed path still needs a tombstone so the
		// delta reflects it.
		v.entries[path] = &Entry{
			Path:        path,
			ChangedTick: tick,
			CreatedTick: tick,
			ChangedAt:   time.Now(),
		}
		return tick
	}
	if entry.Exists {
		entry.Exists = false
		entry.ChangedTick = tick
		entry.ChangedAt = time.Now()
	}
	return tick
}

// Lookup returns a copy of the entry for path.
func (v *View) Lookup(path string) (Entry, bool) {
	if v == nil {
		return Entry{}, false
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	entry, ok := v.entries[path]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// ChangesSince returns every entry whose observed or changed tick exceeds
// since, ordered by tick then path. Each path appears at most once and
// reflects its final state, so a remove/re-add between two reads surfaces as
// a single entry.
func (v *View) ChangesSince(since Tick) []Entry {
	entries, _ := v.ChangesSinceWithTick(since)
	return entries
}

// ChangesSinceWithTick additionally reports the tick the delta was read at.
// The tick is captured inside the same lock hold as the entry snapshot, so a
// mutation is either stamped past the returned tick or present in the delta —
// never neither. Cursor advancement must use this tick, not a CurrentTick
// read taken afterwards.
func (v *View) ChangesSinceWithTick(since Tick) ([]Entry, Tick) {
	if v == nil {
		return nil, 0
	}
	v.mu.RLock()
	now := Tick(v.ticks.Load())
	changed := make([]Entry, 0)
	for _, entry := range v.entries {
		if entry.ObservedTick > since || entry.ChangedTick > since {
			changed = append(changed, *entry)
		}
	}
	v.mu.RUnlock()

	sort.Slice(changed, func(i, j int) bool {
		left, right := changed[i].LatestTick(), changed[j].LatestTick()
		if left != right {
			return left < right
		}
		return changed[i].Path < changed[j].Path
	})
	return changed, now
}

// EntryCount reports resident entries, tombstones included.
func (v *View) EntryCount() int {
	if v == nil {
		return 0
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// SweepUnobserved tombstones every live entry whose observed tick predates
// since. A completed crawl uses it to turn unconfirmed entries into removals
// as of the crawl's completion ticks.
func (v *View) SweepUnobserved(since Tick) int {
	if v == nil {
		return 0
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	swept := 0
	for _, entry := range v.entries {
		if !entry.Exists || entry.ObservedTick >= since {
			continue
		}
		entry.Exists = false
		entry.ChangedTick = v.nextTick()
		entry.ChangedAt = time.Now()
		swept++
	}
	return swept
}

// AgeOutResult reports one ageout pass.
type AgeOutResult struct {
	Examined  int
	Collected int
}

// AgeOut physically deletes tombstoned entries whose last change is older
// than minAge and strictly below floor. The floor is the oldest live cursor
// watermark; entries at or above it are still owed to a consumer and are
// never reclaimed.
func (v *View) AgeOut(minAge time.Duration, floor Tick) AgeOutResult {
	if v == nil {
		return AgeOutResult{}
	}
	cutoff := time.Now().Add(-minAge)

	v.mu.Lock()
	defer v.mu.Unlock()

	result := AgeOutResult{}
	for path, entry := range v.entries {
		result.Examined++
		if entry.Exists {
			continue
		}
		if entry.ChangedTick >= floor {
			continue
		}
		if entry.ChangedAt.After(cutoff) {
			continue
		}
		delete(v.entries, path)
		result.Collected++
	}
	return result
}

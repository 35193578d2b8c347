package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry accumulates daemon-wide counters and renders them in Prometheus
// text exposition format.
type Registry struct {
	crawlsStarted   atomic.Int64
	crawlsCompleted atomic.Int64
	crawlsFailed    atomic.Int64
	eventsIngested  atomic.Int64
	entriesAgedOut  atomic.Int64
	poisonsSet      atomic.Int64
	cursorReads     atomic.Int64
	crawlNanos      atomic.Int64

	mu     sync.Mutex
	caches map[string]func() CacheSnapshot
}

// CacheSnapshot is a point-in-time copy of one cache's counters.
type CacheSnapshot struct {
	Hit   uint64
	Share uint64
	Miss  uint64
	Evict uint64
	Store uint64
	Load  uint64
	Erase uint64
	Clear uint64
	Size  uint64
}

var Default = &Registry{}

func (r *Registry) IncCrawlStarted() {
	if r == nil {
		return
	}
	r.crawlsStarted.Add(1)
}

func (r *Registry) RecordCrawlCompleted(duration time.Duration) {
	if r == nil {
		return
	}
	r.crawlsCompleted.Add(1)
	r.crawlNanos.Add(duration.Nanoseconds())
}

func (r *Registry) IncCrawlFailed() {
	if r == nil {
		return
	}
	r.crawlsFailed.Add(1)
}

func (r *Registry) AddEventsIngested(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.eventsIngested.Add(int64(count))
}

func (r *Registry) AddEntriesAgedOut(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.entriesAgedOut.Add(int64(count))
}

func (r *Registry) IncPoisonSet() {
	if r == nil {
		return
	}
	r.poisonsSet.Add(1)
}

func (r *Registry) IncCursorRead() {
	if r == nil {
		return
	}
	r.cursorReads.Add(1)
}

// RegisterCache registers a stats source sampled at scrape time. Re-registering
// a name replaces the previous source.
func (r *Registry) RegisterCache(name string, source func() CacheSnapshot) {
	if r == nil || name == "" || source == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.caches == nil {
		r.caches = make(map[string]func() CacheSnapshot)
	}
	r.caches[name] = source
}

func (r *Registry) WritePrometheus(writer io.Writer) error {
	if r == nil {
		return nil
	}

	writeCounter(writer, "vigil_crawls_started_total", "Total crawls started", r.crawlsStarted.Load())
	writeCounter(writer, "vigil_crawls_completed_total", "Total crawls completed", r.crawlsCompleted.Load())
	writeCounter(writer, "vigil_crawls_failed_total", "Total crawls failed", r.crawlsFailed.Load())
	writeCounter(writer, "vigil_events_ingested_total", "Total watcher events applied to the tree", r.eventsIngested.Load())
	writeCounter(writer, "vigil_entries_aged_out_total", "Total tombstoned entries reclaimed", r.entriesAgedOut.Load())
	writeCounter(writer, "vigil_poisons_total", "Total roots poisoned", r.poisonsSet.Load())
	writeCounter(writer, "vigil_cursor_reads_total", "Total cursor delta reads", r.cursorReads.Load())

	writeHelp(writer, "vigil_crawl_duration_seconds", "Cumulative crawl duration in seconds")
	fmt.Fprintln(writer, "# TYPE vigil_crawl_duration_seconds counter")
	fmt.Fprintf(writer, "vigil_crawl_duration_seconds %.6f\n", float64(r.crawlNanos.Load())/float64(time.Second))

	names, sources := r.cacheSources()
	if len(names) == 0 {
		return nil
	}

	fields := []struct {
		metric string
		help   string
		value  func(CacheSnapshot) uint64
	}{
		{"vigil_cache_hits_total", "Cache hits", func(s CacheSnapshot) uint64 { return s.Hit }},
		{"vigil_cache_shares_total", "Cache lookups coalesced onto an in-flight compute", func(s CacheSnapshot) uint64 { return s.Share }},
		{"vigil_cache_misses_total", "Cache misses", func(s CacheSnapshot) uint64 { return s.Miss }},
		{"vigil_cache_evictions_total", "Cache evictions", func(s CacheSnapshot) uint64 { return s.Evict }},
		{"vigil_cache_stores_total", "Cache stores", func(s CacheSnapshot) uint64 { return s.Store }},
		{"vigil_cache_size", "Current cache entry count", func(s CacheSnapshot) uint64 { return s.Size }},
	}

	snapshots := make(map[string]CacheSnapshot, len(names))
	for _, name := range names {
		snapshots[name] = sources[name]()
	}

	for _, field := range fields {
		writeHelp(writer, field.metric, field.help)
		kind := "counter"
		if field.metric == "vigil_cache_size" {
			kind = "gauge"
		}
		fmt.Fprintf(writer, "# TYPE %s %s\n", field.metric, kind)
		for _, name := range names {
			fmt.Fprintf(writer, "%s{cache=%s} %d\n", field.metric, formatLabel(name), field.value(snapshots[name]))
		}
	}

	return nil
}

func (r *Registry) cacheSources() ([]string, map[string]func() CacheSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.caches))
	sources := make(map[string]func() CacheSnapshot, len(r.caches))
	for name, source := range r.caches {
		names = append(names, name)
		sources[name] = source
	}
	sort.Strings(names)
	return names, sources
}

func writeHelp(writer io.Writer, metric, help string) {
	fmt.Fprintf(writer, "# HELP %s %s\n", metric, help)
}

func writeCounter(writer io.Writer, metric, help string, value int64) {
	writeHelp(writer, metric, help)
	fmt.Fprintf(writer, "# TYPE %s counter\n", metric)
	fmt.Fprintf(writer, "%s %d\n", metric, value)
}

func formatLabel(value string) string {
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
	return fmt.Sprintf("\"%s\"", escaped)
}

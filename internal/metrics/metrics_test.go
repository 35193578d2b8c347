package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestWritePrometheusCounters(t *testing.T) {
	registry := &Registry{}
	registry.IncCrawlStarted()
	registry.RecordCrawlCompleted(1500 * time.Millisecond)
	registry.AddEventsIngested(3)
	registry.IncPoisonSet()

	out := &strings.Builder{}
	if err := registry.WritePrometheus(out); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}

	body := out.String()
	for _, want := range []string{
		"vigil_crawls_started_total 1",
		"vigil_crawls_completed_total 1",
		"vigil_events_ingested_total 3",
		"vigil_poisons_total 1",
		"vigil_crawl_duration_seconds 1.500000",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestWritePrometheusCacheSources(t *testing.T) {
	registry := &Registry{}
	registry.RegisterCache("content_hash", func() CacheSnapshot {
		return CacheSnapshot{Hit: 10, Miss: 2, Share: 1, Store: 2, Size: 2}
	})

	out := &strings.Builder{}
	if err := registry.WritePrometheus(out); err != nil {
		t.Fatalf("WritePrometheus: %v", err)
	}

	body := out.String()
	for _, want := range []string{
		`vigil_cache_hits_total{cache="content_hash"} 10`,
		`vigil_cache_shares_total{cache="content_hash"} 1`,
		`vigil_cache_size{cache="content_hash"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncCrawlStarted()
	registry.RegisterCache("x", func() CacheSnapshot { return CacheSnapshot{} })
	if err := registry.WritePrometheus(&strings.Builder{}); err != nil {
		t.Fatalf("nil registry write: %v", err)
	}
}

package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestGetOrComputeStoresAndHits(t *testing.T) {
	engine := New[string, int](4)

	calls := 0
	compute := func() (int, error) {
		calls++
		return 42, nil
	}

	value, err := engine.GetOrCompute("key", compute)
	if err != nil || value != 42 {
		t.Fatalf("first lookup: value=%d err=%v", value, err)
	}
	value, err = engine.GetOrCompute("key", compute)
	if err != nil || value != 42 {
		t.Fatalf("second lookup: value=%d err=%v", value, err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 compute call, got %d", calls)
	}

	stats := engine.Stats()
	if stats.Miss != 1 || stats.Hit != 1 || stats.Store != 1 || stats.Size != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestConcurrentMissesCoalesce(t *testing.T) {
	engine := New[string, string](4)

	const callers = 8
	var computes int
	release := make(chan struct{})
	var wg sync.WaitGroup
	results := make(chan string, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, err := engine.GetOrCompute("slow", func() (string, error) {
				computes++
				<-release
				return "shared-value", nil
			})
			if err != nil {
				t.Errorf("lookup failed: %v", err)
				return
			}
			results <- value
		}()
	}

	// Give every caller time to join the in-flight computation.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for value := range results {
		if value != "shared-value" {
			t.Fatalf("unexpected value %q", value)
		}
	}
	if computes != 1 {
		t.Fatalf("expected exactly 1 compute, got %d", computes)
	}

	stats := engine.Stats()
	if stats.Miss != 1 {
		t.Fatalf("expected 1 miss, got %d", stats.Miss)
	}
	if stats.Share != callers-1 {
		t.Fatalf("expected %d shares, got %d", callers-1, stats.Share)
	}
}

func TestEvictionIsLeastRecentlyUsed(t *testing.T) {
	const capacity = 3
	engine := New[string, int](capacity)

	for i := 0; i < capacity; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := engine.GetOrCompute(key, func() (int, error) { return i, nil }); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}

	// Touch key-0 so key-1 becomes the eviction candidate.
	if _, err := engine.GetOrCompute("key-0", func() (int, error) { return -1, nil }); err != nil {
		t.Fatalf("refresh key-0: %v", err)
	}

	if _, err := engine.GetOrCompute("overflow", func() (int, error) { return 99, nil }); err != nil {
		t.Fatalf("store overflow: %v", err)
	}

	if _, ok := engine.Peek("key-1"); ok {
		t.Fatalf("expected key-1 to be evicted")
	}
	for _, key := range []string{"key-0", "key-2", "overflow"} {
		if _, ok := engine.Peek(key); !ok {
			t.Fatalf("expected %s to survive", key)
		}
	}

	stats := engine.Stats()
	if stats.Store != capacity+1 || stats.Evict != 1 || stats.Size != capacity {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestFailedComputeStoresNothing(t *testing.T) {
	engine := New[string, int](2)
	boom := errors.New("boom")

	if _, err := engine.GetOrCompute("key", func() (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected compute error, got %v", err)
	}
	if engine.Len() != 0 {
		t.Fatalf("failed compute must not store an entry")
	}

	// The key is immediately retryable.
	value, err := engine.GetOrCompute("key", func() (int, error) { return 7, nil })
	if err != nil || value != 7 {
		t.Fatalf("retry: value=%d err=%v", value, err)
	}

	stats := engine.Stats()
	if stats.Miss != 2 || stats.Load != 2 || stats.Store != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestClearResetsCountersKeepsCapacity(t *testing.T) {
	const capacity = 2
	engine := New[string, int](capacity)

	for i := 0; i < capacity+1; i++ {
		key := fmt.Sprintf("key-%d", i)
		if _, err := engine.GetOrCompute(key, func() (int, error) { return i, nil }); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}
	engine.Erase("key-2")
	engine.Clear()

	stats := engine.Stats()
	if stats.Hit != 0 || stats.Miss != 0 || stats.Store != 0 || stats.Evict != 0 || stats.Erase != 0 || stats.Size != 0 {
		t.Fatalf("expected zeroed counters after clear, got %+v", stats)
	}
	if stats.Clear != 1 {
		t.Fatalf("expected clear count 1, got %d", stats.Clear)
	}
	if engine.Capacity() != capacity {
		t.Fatalf("capacity changed across clear: %d", engine.Capacity())
	}

	// Inserts still succeed up to the original capacity.
	for i := 0; i < capacity; i++ {
		key := fmt.Sprintf("fresh-%d", i)
		if _, err := engine.GetOrCompute(key, func() (int, error) { return i, nil }); err != nil {
			t.Fatalf("store %s: %v", key, err)
		}
	}
	if engine.Len() != capacity {
		t.Fatalf("expected %d entries after refill, got %d", capacity, engine.Len())
	}
	if evicts := engine.Stats().Evict; evicts != 0 {
		t.Fatalf("refill within capacity must not evict, got %d", evicts)
	}
}

func TestEraseCountsOnlyRemovals(t *testing.T) {
	engine := New[string, int](2)
	if _, err := engine.GetOrCompute("present", func() (int, error) { return 1, nil }); err != nil {
		t.Fatalf("store: %v", err)
	}

	engine.Erase("present")
	engine.Erase("absent")

	stats := engine.Stats()
	if stats.Erase != 1 {
		t.Fatalf("expected 1 erase, got %d", stats.Erase)
	}
	if stats.Size != 0 {
		t.Fatalf("expected empty cache, got size %d", stats.Size)
	}
}

func TestDistinctKeysDoNotBlockEachOther(t *testing.T) {
	engine := New[string, string](4)

	slowStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})

	go func() {
		_, _ = engine.GetOrCompute("slow", func() (string, error) {
			close(slowStarted)
			<-release
			return "slow", nil
		})
		close(done)
	}()

	<-slowStarted
	value, err := engine.GetOrCompute("fast", func() (string, error) { return "fast", nil })
	if err != nil || value != "fast" {
		t.Fatalf("fast lookup blocked or failed: value=%q err=%v", value, err)
	}
	close(release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("slow lookup never completed")
	}
}

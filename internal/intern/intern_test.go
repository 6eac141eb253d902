package intern

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGetCachesResolvedValue(t *testing.T) {
	var calls int32
	resolve := func(ctx context.Context, key string) (int64, error) {
		atomic.AddInt32(&calls, 1)
		return int64(len(key)), nil
	}
	c, err := New("test", 10, resolve, nil)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		v, err := c.Get(context.Background(), "cpu")
		if err != nil {
			t.Fatal(err)
		}
		if v != 3 {
			t.Fatalf("got %d, want 3", v)
		}
	}
	if calls != 1 {
		t.Fatalf("resolver called %d times, want 1", calls)
	}
}

func TestGetSingleFlightsConcurrentMisses(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	resolve := func(ctx context.Context, key string) (int64, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}
	c, err := New("test", 10, resolve, nil)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	results := make([]int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Get(context.Background(), "shared-key")
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = v
		}(i)
	}
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("resolver called %d times under concurrency, want 1", calls)
	}
	for i, v := range results {
		if v != 42 {
			t.Fatalf("results[%d] = %d, want 42", i, v)
		}
	}
}

func TestPutSeedsCacheWithoutResolving(t *testing.T) {
	resolve := func(ctx context.Context, key string) (int64, error) {
		t.Fatal("resolver should not be called for a seeded key")
		return 0, nil
	}
	c, err := New("test", 10, resolve, nil)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("cpu", 7)

	v, err := c.Get(context.Background(), "cpu")
	if err != nil {
		t.Fatal(err)
	}
	if v != 7 {
		t.Fatalf("got %d, want 7", v)
	}
}

func TestNewRejectsNonPositiveCapacity(t *testing.T) {
	resolve := func(ctx context.Context, key string) (int64, error) { return 0, nil }
	if _, err := New("test", 0, resolve, nil); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}

func TestDictionariesResolveUnitEmptyShortCircuits(t *testing.T) {
	called := false
	units := func(ctx context.Context, key string) (int64, error) {
		called = true
		return 1, nil
	}
	noop := func(ctx context.Context, key string) (int64, error) { return 0, nil }
	d, err := NewDictionaries(DictionaryCapacities{}, units, noop, noop, noop)
	if err != nil {
		t.Fatal(err)
	}
	id, err := d.ResolveUnit(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 || called {
		t.Fatalf("ResolveUnit(\"\") should short-circuit, got id=%d called=%v", id, called)
	}
}

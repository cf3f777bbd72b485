package id

import (
	"sync"
	"testing"
)

func TestNeverInvalid(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		if got := r.Next(); got == Invalid {
			t.Fatalf("Next() returned the Invalid sentinel")
		}
	}
}

func TestMonotonicNoReuse(t *testing.T) {
	r := NewRegistry()
	seen := make(map[ID]bool)
	prev := Invalid
	for i := 0; i < 1000; i++ {
		got := r.Next()
		if got <= prev {
			t.Fatalf("id went backwards or stalled: prev=%d got=%d", prev, got)
		}
		if seen[got] {
			t.Fatalf("id %d was reused", got)
		}
		seen[got] = true
		prev = got
	}
}

func TestConcurrentNextIsUnique(t *testing.T) {
	r := NewRegistry()
	const n = 500
	ids := make([]ID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = r.Next()
		}(i)
	}
	wg.Wait()

	seen := make(map[ID]bool, n)
	for _, got := range ids {
		if got == Invalid {
			t.Fatalf("Next() returned Invalid under concurrency")
		}
		if seen[got] {
			t.Fatalf("id %d allocated twice under concurrency", got)
		}
		seen[got] = true
	}
}

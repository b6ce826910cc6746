package parallel

import (
	"errors"
	"sync/atomic"
	"testing"
)

func TestFor(t *testing.T) {
	cfg := DefaultConfig()

	var counter int64
	n := 1000

	For(n, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != int64(n) {
		t.Errorf("Expected %d, got %d", n, counter)
	}
}

func TestFor_Sequential(t *testing.T) {
	cfg := Config{Enabled: false}

	var counter int64
	For(100, func(_ int) {
		atomic.AddInt64(&counter, 1)
	}, cfg)

	if counter != 100 {
		t.Errorf("Expected 100, got %d", counter)
	}
}

func TestFor_EveryIndexOnce(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinChunkSize = 1

	n := 500
	seen := make([]int64, n)
	For(n, func(i int) {
		atomic.AddInt64(&seen[i], 1)
	}, cfg)

	for i, c := range seen {
		if c != 1 {
			t.Errorf("Index %d visited %d times", i, c)
		}
	}
}

func TestJobs(t *testing.T) {
	n := 20
	var counter int64
	errs := Jobs(n, 4, func(i int) error {
		atomic.AddInt64(&counter, 1)
		if i%5 == 0 {
			return errors.New("boom")
		}
		return nil
	})

	if counter != int64(n) {
		t.Errorf("Expected %d calls, got %d", n, counter)
	}
	if len(errs) != n {
		t.Fatalf("Expected %d results, got %d", n, len(errs))
	}
	for i, err := range errs {
		if i%5 == 0 && err == nil {
			t.Errorf("Job %d should have failed", i)
		}
		if i%5 != 0 && err != nil {
			t.Errorf("Job %d unexpectedly failed: %v", i, err)
		}
	}
}

func TestJobs_SingleWorker(t *testing.T) {
	order := make([]int, 0, 5)
	Jobs(5, 1, func(i int) error {
		order = append(order, i)
		return nil
	})

	for i, got := range order {
		if got != i {
			t.Errorf("Sequential fallback visited %d at position %d", got, i)
		}
	}
}

func TestJobs_Empty(t *testing.T) {
	errs := Jobs(0, 8, func(int) error { return nil })
	if len(errs) != 0 {
		t.Errorf("Expected no results, got %d", len(errs))
	}
}

package frontier_test

import (
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/webants/webants/internal/frontier"
	"github.com/webants/webants/internal/request"
)

// mustURL parses raw into a url.URL, failing the test on error.
func mustURL(t *testing.T, raw string) url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	return *u
}

// fakeSleeper records requested durations instead of actually sleeping,
// so pacing tests run instantly.
type fakeSleeper struct {
	mu    sync.Mutex
	sleeps []time.Duration
}

func (f *fakeSleeper) Sleep(d time.Duration) {
	f.mu.Lock()
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
}

func TestFrontier_DedupFiltersSecondAdmission(t *testing.T) {
	// GIVEN a frontier and two URLs that are identical once the query is sorted
	f := frontier.New(frontier.Config{MaxHostConcurrency: 4}, &fakeSleeper{}, nil)

	first := request.New(mustURL(t, "http://example.com/a?b=1&a=2"), request.MethodGet)
	second := request.New(mustURL(t, "http://example.com/a?a=2&b=1"), request.MethodGet)

	// WHEN both are admitted
	r1 := f.Admit(first)
	r2 := f.Admit(second)

	// THEN the second is filtered, not admitted
	if r1 != frontier.Admitted {
		t.Fatalf("first admission = %v, want Admitted", r1)
	}
	if r2 != frontier.Filtered {
		t.Fatalf("second admission = %v, want Filtered", r2)
	}

	stats := f.Stats()
	if stats.TotalAdmitted != 1 {
		t.Errorf("TotalAdmitted = %d, want 1", stats.TotalAdmitted)
	}
	if stats.TotalFiltered != 1 {
		t.Errorf("TotalFiltered = %d, want 1", stats.TotalFiltered)
	}
}

func TestFrontier_DontFilterBypassesDedup(t *testing.T) {
	f := frontier.New(frontier.Config{MaxHostConcurrency: 4}, &fakeSleeper{}, nil)

	req := request.New(mustURL(t, "http://example.com/a"), request.MethodGet)
	req2 := request.New(mustURL(t, "http://example.com/a"), request.MethodGet).WithDontFilter(true)

	if got := f.Admit(req); got != frontier.Admitted {
		t.Fatalf("first admission = %v, want Admitted", got)
	}
	if got := f.Admit(req2); got != frontier.Admitted {
		t.Fatalf("dont_filter admission = %v, want Admitted", got)
	}
}

func TestFrontier_MaxRequestsCap(t *testing.T) {
	f := frontier.New(frontier.Config{MaxHostConcurrency: 4, MaxRequests: 1}, &fakeSleeper{}, nil)

	a := request.New(mustURL(t, "http://example.com/a"), request.MethodGet)
	b := request.New(mustURL(t, "http://example.com/b"), request.MethodGet)

	if got := f.Admit(a); got != frontier.Admitted {
		t.Fatalf("first admission = %v, want Admitted", got)
	}
	if got := f.Admit(b); got != frontier.Rejected {
		t.Fatalf("second admission over cap = %v, want Rejected", got)
	}
}

func TestFrontier_PriorityOrderingTiesFIFO(t *testing.T) {
	// GIVEN requests admitted with priorities [5, 1, 3, 1]
	f := frontier.New(frontier.Config{MaxHostConcurrency: 4}, &fakeSleeper{}, nil)

	priorities := []int{5, 1, 3, 1}
	for i, p := range priorities {
		req := request.New(mustURL(t, "http://example.com/p"), request.MethodGet).
			WithDontFilter(true).
			WithPriority(p)
		_ = i
		if got := f.Admit(req); got != frontier.Admitted {
			t.Fatalf("admission of priority %d = %v, want Admitted", p, got)
		}
	}

	// WHEN dequeued
	var got []int
	for i := 0; i < len(priorities); i++ {
		req, ok := f.Next()
		if !ok {
			t.Fatalf("Next() returned no request at index %d", i)
		}
		got = append(got, req.Priority())
	}

	// THEN dequeue order is 1, 1, 3, 5 (FIFO within ties)
	want := []int{1, 1, 3, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dequeue order = %v, want %v", got, want)
		}
	}
}

func TestFrontier_PerHostConcurrencyBound(t *testing.T) {
	// GIVEN max_host_concurrency=2
	f := frontier.New(frontier.Config{MaxHostConcurrency: 2}, &fakeSleeper{}, nil)

	var wg sync.WaitGroup
	results := make([]frontier.AdmitResult, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			req := request.New(mustURL(t, "http://example.com/x"), request.MethodGet).
				WithDontFilter(true)
			results[idx] = f.Admit(req)
		}(i)
	}

	// Drain two dispatches to free semaphore slots for the remaining two.
	for i := 0; i < 2; i++ {
		req, ok := f.Next()
		if ok {
			f.Complete(req)
		}
	}

	wg.Wait()

	for i, r := range results {
		if r != frontier.Admitted {
			t.Errorf("admission %d = %v, want Admitted", i, r)
		}
	}
}

func TestFrontier_AdmitCompleteRestoresInflight(t *testing.T) {
	f := frontier.New(frontier.Config{MaxHostConcurrency: 2}, &fakeSleeper{}, nil)

	req := request.New(mustURL(t, "http://example.com/a"), request.MethodGet)
	if got := f.Admit(req); got != frontier.Admitted {
		t.Fatalf("admission = %v, want Admitted", got)
	}

	dequeued, ok := f.Next()
	if !ok {
		t.Fatal("Next() returned nothing")
	}
	f.Complete(dequeued)

	// Admitting again should not block: the semaphore slot was released.
	req2 := request.New(mustURL(t, "http://example.com/a2"), request.MethodGet)
	done := make(chan frontier.AdmitResult, 1)
	go func() { done <- f.Admit(req2) }()

	select {
	case got := <-done:
		if got != frontier.Admitted {
			t.Errorf("second admission = %v, want Admitted", got)
		}
	case <-time.After(time.Second):
		t.Fatal("Admit blocked after Complete released the host slot")
	}
}

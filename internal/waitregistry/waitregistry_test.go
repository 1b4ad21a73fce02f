package waitregistry

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestWaitDedupesConcurrentCallersForSameSubject(t *testing.T) {
	r := New()
	var builds int32
	release := make(chan struct{})

	build := func() (any, error) {
		atomic.AddInt32(&builds, 1)
		<-release
		return "result", nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, ok := r.Wait("subject", build)
			if !ok {
				t.Errorf("caller %d: unexpected ok=false", i)
			}
			results[i] = res
		}(i)
	}

	// Hold the build open until every caller has joined the in-flight
	// entry, so all of them really are concurrent with it.
	for {
		r.mu.Lock()
		joined := 0
		if e, ok := r.pending["subject"]; ok {
			joined = e.waiters
		}
		r.mu.Unlock()
		if joined == callers {
			break
		}
		runtime.Gosched()
	}
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&builds); got != 1 {
		t.Fatalf("expected exactly one build, got %d", got)
	}
	for i, res := range results {
		if res.Value != "result" {
			t.Fatalf("caller %d got unexpected value %v", i, res.Value)
		}
	}
}

func TestWaitEvictsEntryAfterCompletion(t *testing.T) {
	r := New()
	if _, ok := r.Wait("s", func() (any, error) { return 1, nil }); !ok {
		t.Fatalf("expected ok=true")
	}
	if len(r.pending) != 0 {
		t.Fatalf("expected entry to be evicted after completion, pending=%v", r.pending)
	}
}

func TestShutdownRejectsNewSubjects(t *testing.T) {
	r := New()
	r.Shutdown()
	_, ok := r.Wait("new-subject", func() (any, error) { return nil, nil })
	if ok {
		t.Fatalf("expected ok=false after shutdown")
	}
}

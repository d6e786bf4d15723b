package shm

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestSem(t *testing.T, initial uint32) *Semaphore {
	t.Helper()
	name := "/qads_f_" + uniqueName("sem")
	s, err := CreateSemaphore(name, initial)
	skipUnsupported(t, err)
	if err != nil {
		t.Fatalf("CreateSemaphore: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		UnlinkSemaphore(name)
	})
	return s
}

func TestSemaphoreInitialValue(t *testing.T) {
	s := newTestSem(t, 3)
	for i := 0; i < 3; i++ {
		if err := s.TryWait(); err != nil {
			t.Fatalf("TryWait %d: %v", i, err)
		}
	}
	if err := s.TryWait(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("TryWait on drained semaphore: got %v, want ErrTimeout", err)
	}
}

func TestSemaphorePostWait(t *testing.T) {
	s := newTestSem(t, 0)
	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := s.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := s.TryWait(); !errors.Is(err, ErrTimeout) {
		t.Fatalf("token not consumed: %v", err)
	}
}

func TestSemaphoreTimedWaitTimeout(t *testing.T) {
	s := newTestSem(t, 0)
	start := time.Now()
	err := s.TimedWait(100 * time.Millisecond)
	elapsed := time.Since(start)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Fatalf("returned after %v, before the timeout", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("returned after %v, way past the timeout", elapsed)
	}
}

func TestSemaphorePostWakesWaiter(t *testing.T) {
	s := newTestSem(t, 0)

	done := make(chan error, 1)
	go func() {
		done <- s.TimedWait(5 * time.Second)
	}()

	// Give the waiter time to park on the futex.
	time.Sleep(50 * time.Millisecond)
	if err := s.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("woken waiter got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by post")
	}
}

func TestSemaphoreCounting(t *testing.T) {
	s := newTestSem(t, 0)

	const tokens = 100
	const workers = 4

	var wg sync.WaitGroup
	acquired := make([]int, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for {
				if err := s.TimedWait(500 * time.Millisecond); err != nil {
					return
				}
				acquired[w]++
			}
		}(w)
	}

	for i := 0; i < tokens; i++ {
		if err := s.Post(); err != nil {
			t.Fatalf("Post %d: %v", i, err)
		}
	}
	wg.Wait()

	total := 0
	for _, n := range acquired {
		total += n
	}
	if total != tokens {
		t.Fatalf("workers acquired %d tokens, posted %d", total, tokens)
	}
}

func TestSemaphoreOpenSharesState(t *testing.T) {
	name := "/qads_r_" + uniqueName("sem-shared")
	s1, err := CreateSemaphore(name, 0)
	skipUnsupported(t, err)
	if err != nil {
		t.Fatalf("CreateSemaphore: %v", err)
	}
	defer func() {
		s1.Close()
		UnlinkSemaphore(name)
	}()

	s2, err := OpenSemaphore(name)
	if err != nil {
		t.Fatalf("OpenSemaphore: %v", err)
	}
	defer s2.Close()

	if err := s1.Post(); err != nil {
		t.Fatalf("Post: %v", err)
	}
	if err := s2.TryWait(); err != nil {
		t.Fatalf("token posted on one handle not visible on the other: %v", err)
	}
}

func TestSemaphoreCreateExclusive(t *testing.T) {
	name := "/qads_f_" + uniqueName("sem-excl")
	s, err := CreateSemaphore(name, 1)
	skipUnsupported(t, err)
	if err != nil {
		t.Fatalf("CreateSemaphore: %v", err)
	}
	defer func() {
		s.Close()
		UnlinkSemaphore(name)
	}()

	if _, err := CreateSemaphore(name, 1); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second create: got %v, want ErrAlreadyExists", err)
	}
}

func TestSemaphoreOpenMissing(t *testing.T) {
	_, err := OpenSemaphore("/qads_f_" + uniqueName("sem-missing"))
	skipUnsupported(t, err)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

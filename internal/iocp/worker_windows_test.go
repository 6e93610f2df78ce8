//go:build windows

package iocp

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestWorkerPool_DispatchCount(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	var count atomic.Int32
	var pool WorkerPool
	if err := pool.Start(&core, func(CompletionResult) { count.Add(1) }, 2); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if pool.WorkerCount() != 2 {
		t.Errorf("Expected 2 workers, got %d", pool.WorkerCount())
	}

	for _, key := range []uint64{1, 2, 3} {
		if err := core.PostCompletion(key, nil); err != nil {
			t.Fatalf("PostCompletion(%d) failed: %v", key, err)
		}
	}

	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 3 {
		t.Errorf("Expected 3 handled completions, got %d", got)
	}

	for i := 0; i < pool.WorkerCount(); i++ {
		if err := core.PostCompletion(ShutdownKey, nil); err != nil {
			t.Fatalf("Posting shutdown packet failed: %v", err)
		}
	}

	start := time.Now()
	pool.Stop()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop took %v with shutdown packets posted", elapsed)
	}

	if got := count.Load(); got != 3 {
		t.Errorf("Handler ran after stop: count %d", got)
	}
}

func TestWorkerPool_StopWithoutPackets(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	var pool WorkerPool
	if err := pool.Start(&core, func(CompletionResult) {}, 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Without shutdown packets the worker exits on its next dispatch
	// timeout, so Stop joins within roughly one timeout period.
	start := time.Now()
	pool.Stop()
	if elapsed := time.Since(start); elapsed > dispatchTimeout+500*time.Millisecond {
		t.Errorf("Stop took %v, expected at most ~%v", elapsed, dispatchTimeout)
	}
}

func TestWorkerPool_AlreadyRunning(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	var pool WorkerPool
	if err := pool.Start(&core, func(CompletionResult) {}, 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer pool.Stop()

	if err := pool.Start(&core, func(CompletionResult) {}, 1); err != ErrAlreadyRunning {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestWorkerPool_RequiresInitializedCore(t *testing.T) {
	var core Core
	var pool WorkerPool

	if err := pool.Start(&core, func(CompletionResult) {}, 1); err != ErrNotInitialized {
		t.Errorf("Expected ErrNotInitialized, got %v", err)
	}
	if err := pool.Start(nil, func(CompletionResult) {}, 1); err != ErrNotInitialized {
		t.Errorf("Expected ErrNotInitialized for nil core, got %v", err)
	}
}

func TestWorkerPool_StopIdempotent(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	var pool WorkerPool
	if err := pool.Start(&core, func(CompletionResult) {}, 1); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pool.Stop()
	pool.Stop() // must be a no-op

	if pool.WorkerCount() != 0 {
		t.Errorf("Expected 0 workers after stop, got %d", pool.WorkerCount())
	}
}

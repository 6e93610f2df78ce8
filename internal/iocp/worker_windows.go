//go:build windows

package iocp

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/iocpnet/internal/logger"
)

// dispatchTimeout bounds how long a worker blocks before re-checking the
// running flag. Stop relies on it as a fallback when no shutdown packets
// were posted, so joining can take up to this long per worker.
const dispatchTimeout = time.Second

// CompletionHandler consumes one dequeued completion. Handlers run on
// whichever worker picked the completion up; the pool provides no
// serialization, so handlers must tolerate concurrent invocation.
type CompletionHandler func(CompletionResult)

// WorkerPool drains a Core from a fixed set of workers. The zero value is
// ready for Start.
type WorkerPool struct {
	running atomic.Bool
	workers atomic.Int32
	wg      sync.WaitGroup
}

// Start spawns workers goroutines draining core into handler. A count of 0
// means one worker per CPU, minimum 1. Fails with ErrAlreadyRunning if the
// pool is live and ErrNotInitialized if core has no port.
func (p *WorkerPool) Start(core *Core, handler CompletionHandler, workers int) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	if core == nil || !core.IsValid() {
		p.running.Store(false)
		return ErrNotInitialized
	}

	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 1 {
			workers = 1
		}
	}
	p.workers.Store(int32(workers))

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.workerLoop(i, core, handler)
	}

	logger.Debug("Worker pool started with %d worker(s)", workers)
	return nil
}

// Stop clears the running flag and joins all workers. Workers exit on their
// next dispatch timeout; callers that need bounded shutdown latency should
// first post WorkerCount() completions with ShutdownKey. Stop is idempotent.
func (p *WorkerPool) Stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	p.wg.Wait()
	p.workers.Store(0)
	logger.Debug("Worker pool stopped")
}

// WorkerCount reports the number of live workers, so a caller can post
// exactly that many shutdown packets.
func (p *WorkerPool) WorkerCount() int {
	return int(p.workers.Load())
}

func (p *WorkerPool) workerLoop(id int, core *Core, handler CompletionHandler) {
	defer p.wg.Done()

	for p.running.Load() {
		res, ok := core.Dispatch(dispatchTimeout)
		if !ok {
			continue
		}
		if res.Key == ShutdownKey {
			logger.Debug("Worker %d received shutdown signal", id)
			return
		}
		handler(res)
	}
}

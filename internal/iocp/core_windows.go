//go:build windows

package iocp

import (
	"fmt"
	"syscall"
	"time"

	"github.com/marmos91/iocpnet/internal/logger"
	"golang.org/x/sys/windows"
)

// ShutdownKey is the reserved completion key that tells a worker to exit its
// dispatch loop. It collides with neither the acceptor key (0) nor session
// identifiers (monotonic from 1).
const ShutdownKey uint64 = ^uint64(0)

// CompletionResult carries one dequeued completion notification to the
// dispatcher.
type CompletionResult struct {
	// Key is the completion key the descriptor was registered with, or a
	// caller-chosen value for synthetic completions.
	Key uint64

	// Op is the Operation recovered from the overlapped address, nil for
	// synthetic completions posted without a record.
	Op *Operation

	// Bytes is the number of bytes transferred.
	Bytes uint32

	// Success is false when the operation completed with an error; ErrorCode
	// then holds the platform error.
	Success bool

	// ErrorCode is the platform error code, 0 on success.
	ErrorCode syscall.Errno
}

// Core owns one I/O completion port. The zero value is ready for Init.
//
// A Core must not be copied after Init; hand pointers around instead. All
// methods on an initialized Core are safe for concurrent use because the
// underlying kernel calls are.
type Core struct {
	handle windows.Handle
}

// IsValid reports whether the port exists.
func (c *Core) IsValid() bool {
	return c.handle != 0 && c.handle != windows.InvalidHandle
}

// Init creates the completion port. concurrency is the hint passed to the
// kernel for the number of runnable workers; 0 means the CPU count. Fails
// with ErrAlreadyInitialized if the port already exists.
func (c *Core) Init(concurrency uint32) error {
	if c.IsValid() {
		return ErrAlreadyInitialized
	}

	h, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, concurrency)
	if err != nil {
		return fmt.Errorf("iocp: CreateIoCompletionPort: %w", err)
	}

	c.handle = h
	logger.Debug("Completion port initialized (concurrency hint %d)", concurrency)
	return nil
}

// Register associates a socket or file handle with the port. Every
// completion for the handle is delivered together with key.
func (c *Core) Register(handle windows.Handle, key uint64) error {
	if !c.IsValid() {
		return ErrNotInitialized
	}

	if _, err := windows.CreateIoCompletionPort(handle, c.handle, uintptr(key), 0); err != nil {
		return fmt.Errorf("iocp: register handle: %w", err)
	}
	return nil
}

// Dispatch blocks up to timeout for the next completion. The second return
// value is false on timeout or spurious wakeup; a completion that carries an
// error is still delivered, with Success false and ErrorCode set. A negative
// timeout waits forever.
func (c *Core) Dispatch(timeout time.Duration) (CompletionResult, bool) {
	if !c.IsValid() {
		return CompletionResult{}, false
	}

	ms := uint32(windows.INFINITE)
	if timeout >= 0 {
		ms = uint32(timeout / time.Millisecond)
	}

	var (
		bytes      uint32
		key        uintptr
		overlapped *windows.Overlapped
	)
	err := windows.GetQueuedCompletionStatus(c.handle, &bytes, &key, &overlapped, ms)

	if overlapped == nil {
		if err == nil {
			// Synthetic completion posted without an operation record
			// (e.g. a worker shutdown packet).
			return CompletionResult{Key: uint64(key), Success: true}, true
		}
		// No completion was dequeued: timeout, or the wait itself failed.
		if err != syscall.Errno(windows.WAIT_TIMEOUT) {
			logger.Warn("GetQueuedCompletionStatus: %v", err)
		}
		return CompletionResult{}, false
	}

	op := FromOverlapped(overlapped)
	Untrack(op)

	res := CompletionResult{
		Key:     uint64(key),
		Op:      op,
		Bytes:   bytes,
		Success: err == nil,
	}
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok {
			res.ErrorCode = errno
		}
	}
	return res, true
}

// PostCompletion injects a synthetic completion: zero bytes, success, the
// given key and optional operation record. Used for worker shutdown and by
// tests.
func (c *Core) PostCompletion(key uint64, op *Operation) error {
	if !c.IsValid() {
		return ErrNotInitialized
	}

	var overlapped *windows.Overlapped
	if op != nil {
		overlapped = op.Overlapped()
		Track(op)
	}

	if err := windows.PostQueuedCompletionStatus(c.handle, 0, uintptr(key), overlapped); err != nil {
		if op != nil {
			Untrack(op)
		}
		return fmt.Errorf("iocp: post completion: %w", err)
	}
	return nil
}

// Close releases the port. Workers must have exited before the port is
// closed; closing it out from under a blocked Dispatch is undefined.
func (c *Core) Close() {
	if !c.IsValid() {
		return
	}
	logger.Debug("Closing completion port")
	if err := windows.CloseHandle(c.handle); err != nil {
		logger.Warn("CloseHandle: %v", err)
	}
	c.handle = windows.InvalidHandle
}

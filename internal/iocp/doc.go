// Package iocp wraps the Windows I/O completion port primitive behind a
// small completion engine: an extended overlapped record (Operation), a
// port wrapper (Core), and a pool of workers that drain completion
// notifications (WorkerPool).
//
// The engine is proactor-style: callers launch overlapped operations and a
// worker observes the completion later. The Operation address handed to the
// kernel is the cookie that identifies the completion, so an Operation must
// stay reachable and unmoved for as long as the kernel holds it. The
// package keeps a strong reference to every in-flight Operation in an
// internal registry; issuers call Track before handing an Operation to the
// kernel and the registry releases it when the completion is dispatched.
package iocp

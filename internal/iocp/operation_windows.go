//go:build windows

package iocp

import (
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// Kind identifies the overlapped operation an Operation describes.
type Kind uint8

const (
	KindRecv Kind = iota + 1
	KindSend
	KindAccept
	KindDisconnect
)

func (k Kind) String() string {
	switch k {
	case KindRecv:
		return "recv"
	case KindSend:
		return "send"
	case KindAccept:
		return "accept"
	case KindDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Operation is the extended completion record attached to every overlapped
// call. The kernel is given the address of the embedded Overlapped, which is
// the first field, so the Operation is recovered from a completion by an
// address-preserving cast (see FromOverlapped).
//
// While an operation is in flight the Operation must not be freed, reused or
// moved: ownership is loaned to the kernel until the completion is observed.
// Callers pin it with Track before issuing.
type Operation struct {
	overlapped windows.Overlapped // must stay the first field

	// Kind tells the dispatcher which completion path owns this record.
	Kind Kind

	// SessionID is the stable identifier of the owning session, or 0 for
	// acceptor-owned records.
	SessionID uint64

	// Owner is a non-owning back-reference to the component that should
	// observe the completion.
	Owner any
}

// Overlapped returns the OS completion record to pass to overlapped calls.
func (op *Operation) Overlapped() *windows.Overlapped {
	return &op.overlapped
}

// Reset clears the OS record and re-stamps the routing fields. Must only be
// called while no operation is in flight on this record.
func (op *Operation) Reset(kind Kind, sessionID uint64, owner any) {
	op.overlapped = windows.Overlapped{}
	op.Kind = kind
	op.SessionID = sessionID
	op.Owner = owner
}

// FromOverlapped recovers the Operation from the overlapped pointer the
// kernel returned. Valid only for overlapped records embedded in an
// Operation.
func FromOverlapped(ov *windows.Overlapped) *Operation {
	return (*Operation)(unsafe.Pointer(ov))
}

// inflight pins every Operation the kernel currently holds so the collector
// cannot reclaim kernel-loaned memory, and doubles as the leak check used by
// the stress tests.
var inflight = struct {
	mu  sync.Mutex
	ops map[*Operation]struct{}
}{ops: make(map[*Operation]struct{})}

// Track pins op for the duration of an overlapped operation. Call it
// immediately before handing op to the kernel; Dispatch releases the pin
// when the completion is delivered. If the overlapped call fails without
// going pending the issuer must call Untrack itself.
func Track(op *Operation) {
	inflight.mu.Lock()
	inflight.ops[op] = struct{}{}
	inflight.mu.Unlock()
}

// Untrack releases the pin for an operation whose completion will never be
// delivered. Safe to call for an untracked operation.
func Untrack(op *Operation) {
	inflight.mu.Lock()
	delete(inflight.ops, op)
	inflight.mu.Unlock()
}

// InFlight reports the number of operations currently loaned to the kernel.
func InFlight() int {
	inflight.mu.Lock()
	n := len(inflight.ops)
	inflight.mu.Unlock()
	return n
}

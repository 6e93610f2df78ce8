//go:build windows

package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/marmos91/iocpnet/internal/iocp"
	"github.com/marmos91/iocpnet/internal/logger"
	"golang.org/x/sys/windows"
)

// DefaultBufferSize is the receive buffer capacity used when the
// configuration does not override it. Send records hold a copy of the
// payload at its own length.
const DefaultBufferSize = 1024

// nextSessionID allocates session identifiers. Monotonic, never reused
// within a process; the first session gets id 1 so that 0 stays reserved
// for the acceptor.
var nextSessionID atomic.Uint64

// SessionState tracks a session through its lifetime.
type SessionState int32

const (
	SessionConnected SessionState = iota
	SessionClosing
	SessionClosed
)

// recvContext is the single reusable receive record of a session. The
// counters live here rather than on the stack because the kernel writes
// them when the operation completes.
type recvContext struct {
	op     iocp.Operation // must stay the first field
	buf    []byte
	wsabuf windows.WSABuf
	qty    uint32
	flags  uint32
}

// sendContext carries one queued or in-flight send. off tracks how much of
// buf the kernel has already taken, so short sends resume where they left
// off.
type sendContext struct {
	op     iocp.Operation // must stay the first field
	buf    []byte
	off    int
	wsabuf windows.WSABuf
	qty    uint32
}

func sendContextFromOp(op *iocp.Operation) *sendContext {
	return (*sendContext)(unsafe.Pointer(op))
}

// Session is the server-side state of one connected client: the socket,
// exactly one outstanding receive, and a FIFO send queue with at most one
// send outstanding.
//
// Receive completions are serialized by construction (the next receive is
// only issued from the completion handler of the previous one), so the
// receive buffer never sees two workers at once. Send completions take the
// per-session send mutex.
type Session struct {
	id      uint64
	sock    windows.Handle
	core    *iocp.Core
	handler Handler
	remote  string

	recv *recvContext

	state       atomic.Int32
	outstanding atomic.Int32

	errMu    sync.Mutex
	closeErr error

	sendMu          sync.Mutex
	sendQueue       []*sendContext
	sendInflight    bool
	maxPendingSends int

	onClosed func(*Session)
}

// newSession registers sock with the completion core using a fresh session
// id as the completion key. The caller still has to issue the first receive
// once it is ready for data.
func newSession(core *iocp.Core, sock windows.Handle, handler Handler, bufSize, maxPendingSends int, onClosed func(*Session)) (*Session, error) {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}

	s := &Session{
		id:              nextSessionID.Add(1),
		sock:            sock,
		core:            core,
		handler:         handler,
		remote:          peerAddr(sock),
		recv:            &recvContext{buf: make([]byte, bufSize)},
		maxPendingSends: maxPendingSends,
		onClosed:        onClosed,
	}

	if err := core.Register(sock, s.id); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session identifier, which is also its completion key.
func (s *Session) ID() uint64 { return s.id }

// RemoteAddr returns the peer address captured at accept time.
func (s *Session) RemoteAddr() string { return s.remote }

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) connected() bool {
	return s.State() == SessionConnected
}

// PendingSends reports how many sends are not yet complete: the queued ones
// plus the in-flight one, if any.
func (s *Session) PendingSends() int {
	s.sendMu.Lock()
	n := len(s.sendQueue)
	if s.sendInflight {
		n++
	}
	s.sendMu.Unlock()
	return n
}

// Send queues p for transmission. Bytes are copied, so the caller may reuse
// p immediately. Sends complete in FIFO order per session; when the queue
// bound is reached the send is rejected with ErrSendQueueFull.
func (s *Session) Send(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if !s.connected() {
		return ErrSessionClosed
	}

	ctx := &sendContext{buf: append([]byte(nil), p...)}

	s.sendMu.Lock()
	if s.sendInflight {
		if s.maxPendingSends > 0 && len(s.sendQueue) >= s.maxPendingSends {
			s.sendMu.Unlock()
			return ErrSendQueueFull
		}
		s.sendQueue = append(s.sendQueue, ctx)
		s.sendMu.Unlock()
		return nil
	}
	s.sendInflight = true
	s.sendMu.Unlock()

	return s.issueSend(ctx)
}

// issueRecv posts the overlapped receive. Exactly one receive is
// outstanding while the session is connected; callers only invoke this at
// session start and from the receive completion handler.
func (s *Session) issueRecv() error {
	if !s.connected() {
		return ErrSessionClosed
	}

	ctx := s.recv
	ctx.op.Reset(iocp.KindRecv, s.id, s)
	ctx.wsabuf = windows.WSABuf{Len: uint32(len(ctx.buf)), Buf: &ctx.buf[0]}
	ctx.qty = 0
	ctx.flags = 0

	s.outstanding.Add(1)
	iocp.Track(&ctx.op)

	err := windows.WSARecv(s.sock, &ctx.wsabuf, 1, &ctx.qty, &ctx.flags, ctx.op.Overlapped(), nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		iocp.Untrack(&ctx.op)
		s.outstanding.Add(-1)
		s.close(fmt.Errorf("server: WSARecv: %w", err))
		return err
	}
	return nil
}

func (s *Session) issueSend(ctx *sendContext) error {
	ctx.op.Reset(iocp.KindSend, s.id, s)
	ctx.wsabuf = windows.WSABuf{
		Len: uint32(len(ctx.buf) - ctx.off),
		Buf: &ctx.buf[ctx.off],
	}
	ctx.qty = 0

	s.outstanding.Add(1)
	iocp.Track(&ctx.op)

	err := windows.WSASend(s.sock, &ctx.wsabuf, 1, &ctx.qty, 0, ctx.op.Overlapped(), nil)
	if err != nil && err != windows.ERROR_IO_PENDING {
		iocp.Untrack(&ctx.op)
		s.outstanding.Add(-1)
		s.close(fmt.Errorf("server: WSASend: %w", err))
		return err
	}
	return nil
}

// onRecvComplete routes the completion of the outstanding receive: data is
// handed to the handler and the receive reissued; a zero-byte transfer or
// an error starts teardown.
func (s *Session) onRecvComplete(res iocp.CompletionResult) {
	if !res.Success || res.Bytes == 0 {
		switch {
		case !res.Success && res.ErrorCode != windows.ERROR_OPERATION_ABORTED &&
			res.ErrorCode != windows.WSAECONNRESET:
			s.close(fmt.Errorf("server: recv failed: %w", res.ErrorCode))
		default:
			logger.Debug("Session %d: peer closed", s.id)
			s.close(nil)
		}
		s.opDone()
		return
	}

	s.handler.OnData(s, s.recv.buf[:res.Bytes])

	if s.connected() {
		_ = s.issueRecv()
	}
	s.opDone()
}

// onSendComplete finishes one send: short transfers are resumed, completed
// ones make room for the next queued send.
func (s *Session) onSendComplete(res iocp.CompletionResult) {
	ctx := sendContextFromOp(res.Op)

	if !res.Success {
		s.close(fmt.Errorf("server: send failed: %w", res.ErrorCode))
		s.opDone()
		return
	}

	ctx.off += int(res.Bytes)
	if ctx.off < len(ctx.buf) {
		// Kernel took only part of the buffer; push the remainder before
		// anything queued to preserve byte order.
		_ = s.issueSend(ctx)
		s.opDone()
		return
	}

	s.sendMu.Lock()
	var next *sendContext
	if len(s.sendQueue) > 0 {
		next = s.sendQueue[0]
		s.sendQueue = s.sendQueue[1:]
	} else {
		s.sendInflight = false
	}
	s.sendMu.Unlock()

	if next != nil {
		_ = s.issueSend(next)
	}
	s.opDone()
}

// close moves the session to Closing and closes the socket, which aborts
// any outstanding operations. The session is finalized once every
// outstanding operation has been accounted for. The first error wins.
func (s *Session) close(err error) {
	if err != nil {
		s.errMu.Lock()
		if s.closeErr == nil {
			s.closeErr = err
		}
		s.errMu.Unlock()
	}

	if s.state.CompareAndSwap(int32(SessionConnected), int32(SessionClosing)) {
		closesocket(s.sock)
	}
	s.maybeFinalize()
}

// opDone accounts for one consumed completion.
func (s *Session) opDone() {
	if s.outstanding.Add(-1) == 0 {
		s.maybeFinalize()
	}
}

func (s *Session) maybeFinalize() {
	if s.outstanding.Load() != 0 {
		return
	}
	if !s.state.CompareAndSwap(int32(SessionClosing), int32(SessionClosed)) {
		return
	}

	s.errMu.Lock()
	err := s.closeErr
	s.errMu.Unlock()

	logger.Debug("Session %d closed (%s)", s.id, s.remote)
	s.handler.OnDisconnect(s, err)
	if s.onClosed != nil {
		s.onClosed(s)
	}
}

//go:build windows

package server

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/marmos91/iocpnet/internal/iocp"
	"github.com/marmos91/iocpnet/internal/logger"
	"golang.org/x/sys/windows"
)

// acceptorKey is the completion key the listening socket is registered
// with. Session keys start at 1, so 0 is free for the acceptor.
const acceptorKey uint64 = 0

// AcceptEx writes two socket addresses, each padded by 16 bytes, into the
// address buffer of the pending accept.
const acceptAddrBufLen = 2 * (unsafe.Sizeof(windows.RawSockaddrInet4{}) + 16)

// AcceptHandler receives ownership of a freshly accepted socket. The
// handler is responsible for constructing a session, registering it with
// the completion core and issuing its first receive.
type AcceptHandler func(sock windows.Handle)

type acceptorState int32

const (
	acceptorIdle acceptorState = iota
	acceptorListening
	acceptorStopping
)

// acceptContext is the operation record for one outstanding AcceptEx,
// together with the socket that will receive the connection and the address
// buffer the kernel fills in.
type acceptContext struct {
	op      iocp.Operation // must stay the first field
	addrBuf [acceptAddrBufLen]byte
	sock    windows.Handle
}

func newAcceptContext(owner *Acceptor) (*acceptContext, error) {
	sock, err := newOverlappedSocket()
	if err != nil {
		return nil, err
	}
	ctx := &acceptContext{sock: sock}
	ctx.op.Reset(iocp.KindAccept, 0, owner)
	return ctx, nil
}

// release closes the accept socket unless it was captured by a completion.
func (ctx *acceptContext) release() {
	if ctx.sock != windows.InvalidHandle {
		closesocket(ctx.sock)
		ctx.sock = windows.InvalidHandle
	}
}

// Acceptor keeps exactly one overlapped accept outstanding on a listening
// socket while it is in the listening state, transferring each accepted
// socket to the registered AcceptHandler and reissuing.
type Acceptor struct {
	core     *iocp.Core
	onAccept AcceptHandler
	state    atomic.Int32

	mu         sync.Mutex
	listenSock windows.Handle
	pending    *acceptContext
}

// Start binds an overlapped listening socket to INADDR_ANY:port, registers
// it with core under the acceptor key and issues the first accept.
func (a *Acceptor) Start(core *iocp.Core, port uint16, onAccept AcceptHandler) error {
	if !a.state.CompareAndSwap(int32(acceptorIdle), int32(acceptorListening)) {
		return ErrAlreadyListening
	}

	a.core = core
	a.onAccept = onAccept

	sock, err := newOverlappedSocket()
	if err != nil {
		a.state.Store(int32(acceptorIdle))
		return err
	}
	if err := bindAndListen(sock, port); err != nil {
		closesocket(sock)
		a.state.Store(int32(acceptorIdle))
		return err
	}
	if err := core.Register(sock, acceptorKey); err != nil {
		closesocket(sock)
		a.state.Store(int32(acceptorIdle))
		return err
	}

	a.mu.Lock()
	a.listenSock = sock
	a.mu.Unlock()

	if err := a.issueAccept(); err != nil {
		a.mu.Lock()
		closesocket(a.listenSock)
		a.listenSock = windows.InvalidHandle
		a.mu.Unlock()
		a.state.Store(int32(acceptorIdle))
		return err
	}

	logger.Info("Acceptor listening on port %d", port)
	return nil
}

// Stop closes the listening socket. The kernel completes the outstanding
// accept with ERROR_OPERATION_ABORTED and OnAcceptComplete finishes the
// transition back to idle; the pending context stays alive until then.
// Stop is idempotent.
func (a *Acceptor) Stop() {
	if !a.state.CompareAndSwap(int32(acceptorListening), int32(acceptorStopping)) {
		return
	}

	a.mu.Lock()
	closesocket(a.listenSock)
	a.listenSock = windows.InvalidHandle
	a.mu.Unlock()

	logger.Info("Acceptor stopped")
}

// listening reports whether new accepts should still be issued.
func (a *Acceptor) listening() bool {
	return acceptorState(a.state.Load()) == acceptorListening
}

// issueAccept allocates a fresh accept context and posts an overlapped
// accept on the listening socket.
func (a *Acceptor) issueAccept() error {
	ctx, err := newAcceptContext(a)
	if err != nil {
		return err
	}

	a.mu.Lock()
	listen := a.listenSock
	a.pending = ctx
	a.mu.Unlock()

	if listen == windows.InvalidHandle {
		ctx.release()
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		return ErrAcceptorStopped
	}

	addrLen := uint32(acceptAddrBufLen / 2)
	var received uint32

	iocp.Track(&ctx.op)
	err = windows.AcceptEx(
		listen, ctx.sock,
		&ctx.addrBuf[0], 0,
		addrLen, addrLen,
		&received, ctx.op.Overlapped(),
	)
	if err != nil && err != windows.ERROR_IO_PENDING {
		iocp.Untrack(&ctx.op)
		ctx.release()
		a.mu.Lock()
		a.pending = nil
		a.mu.Unlock()
		logger.Error("AcceptEx failed: %v", err)
		return err
	}

	return nil
}

// OnAcceptComplete consumes the completion of the outstanding accept: on
// cancellation it finishes the stop transition, on failure it reissues, and
// on success it hands the connected socket to the accept handler and
// reissues.
func (a *Acceptor) OnAcceptComplete(res iocp.CompletionResult) {
	owner, ok := res.Op.Owner.(*Acceptor)
	if !ok || owner != a {
		logger.Warn("Accept completion with foreign owner; dropping")
		return
	}

	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	if pending == nil || &pending.op != res.Op {
		logger.Warn("Accept completion without matching pending context")
		return
	}

	if !res.Success {
		pending.release()

		if res.ErrorCode == windows.ERROR_OPERATION_ABORTED {
			// Normal cancellation from Stop closing the listen socket.
			logger.Debug("Outstanding accept cancelled")
			a.state.CompareAndSwap(int32(acceptorStopping), int32(acceptorIdle))
			return
		}

		logger.Warn("Accept failed: %v", res.ErrorCode)
		if !a.listening() || a.issueAccept() != nil {
			a.state.CompareAndSwap(int32(acceptorStopping), int32(acceptorIdle))
		}
		return
	}

	// Capture the connected socket before releasing the context so release
	// does not close it.
	sock := pending.sock
	pending.sock = windows.InvalidHandle

	a.mu.Lock()
	listen := a.listenSock
	a.mu.Unlock()

	if listen == windows.InvalidHandle {
		// Stopped between completion and handoff.
		closesocket(sock)
		a.state.CompareAndSwap(int32(acceptorStopping), int32(acceptorIdle))
		return
	}

	if err := inheritListenContext(sock, listen); err != nil {
		logger.Warn("SO_UPDATE_ACCEPT_CONTEXT: %v", err)
	}

	a.onAccept(sock)

	if !a.listening() || a.issueAccept() != nil {
		a.state.CompareAndSwap(int32(acceptorStopping), int32(acceptorIdle))
	}
}

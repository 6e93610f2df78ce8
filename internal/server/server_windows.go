//go:build windows

package server

import (
	"sync/atomic"
	"time"

	"github.com/marmos91/iocpnet/internal/iocp"
	"github.com/marmos91/iocpnet/internal/logger"
	"github.com/marmos91/iocpnet/internal/ratelimiter"
	"github.com/marmos91/iocpnet/pkg/metrics"
	"golang.org/x/sys/windows"
)

// Config holds the facade settings. Zero values fall back to the defaults
// below.
type Config struct {
	// Port is the TCP listening port.
	Port uint16

	// Workers is the completion worker count; 0 means one per CPU.
	Workers int

	// BufferSize is the per-session receive buffer capacity in bytes.
	BufferSize int

	// MaxPendingSends bounds the per-session send queue; 0 means unbounded.
	MaxPendingSends int
}

// DefaultPort is used when Config.Port is zero.
const DefaultPort uint16 = 9000

// drainTimeout bounds each dispatch call of the post-shutdown drain that
// consumes completions the kernel still owes for cancelled operations.
const drainTimeout = 100 * time.Millisecond

// Server composes the completion core, the worker pool and the acceptor
// into a running TCP server. Completions are routed by operation kind:
// accepts to the acceptor, receives and sends to the session identified by
// the completion key.
type Server struct {
	cfg     Config
	handler Handler

	core     iocp.Core
	pool     iocp.WorkerPool
	acceptor Acceptor
	registry *sessionRegistry

	limiter *ratelimiter.RateLimiter
	metrics metrics.ServerMetrics

	running atomic.Bool
}

// New builds a stopped server. handler nil selects the echo handler.
func New(cfg Config, handler Handler) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if handler == nil {
		handler = NewEchoHandler(EchoConfig{})
	}
	return &Server{
		cfg:      cfg,
		handler:  handler,
		registry: newSessionRegistry(),
		metrics:  metrics.Noop(),
	}
}

// SetRateLimiter installs an admission limiter consulted on every accepted
// connection. Must be called before Start.
func (s *Server) SetRateLimiter(l *ratelimiter.RateLimiter) {
	s.limiter = l
}

// SetMetrics installs the metrics sink. Must be called before Start.
func (s *Server) SetMetrics(m metrics.ServerMetrics) {
	if m != nil {
		s.metrics = m
	}
}

// ActiveSessions reports the number of registered sessions.
func (s *Server) ActiveSessions() int {
	return s.registry.len()
}

// Start initializes networking, brings up the completion core, the worker
// pool and the acceptor. On any failure the components already started are
// torn down in reverse and the error is returned.
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	var wsaData windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &wsaData); err != nil {
		s.running.Store(false)
		return err
	}

	if err := s.core.Init(0); err != nil {
		_ = windows.WSACleanup()
		s.running.Store(false)
		return err
	}

	if err := s.pool.Start(&s.core, s.dispatch, s.cfg.Workers); err != nil {
		s.core.Close()
		_ = windows.WSACleanup()
		s.running.Store(false)
		return err
	}

	if err := s.acceptor.Start(&s.core, s.cfg.Port, s.handleAccept); err != nil {
		s.shutdownPool()
		s.core.Close()
		_ = windows.WSACleanup()
		s.running.Store(false)
		return err
	}

	logger.Info("Server started on port %d (%d worker(s))", s.cfg.Port, s.pool.WorkerCount())
	return nil
}

// Stop tears the server down in reverse order: stop accepting, cancel the
// sessions, signal and join the workers, drain whatever the kernel still
// owes, then close the port. Idempotent.
func (s *Server) Stop() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	s.acceptor.Stop()

	// Cancel live sessions so their aborted operations complete while the
	// workers are still draining.
	s.registry.mu.RLock()
	sessions := make([]*Session, 0, len(s.registry.sessions))
	for _, sess := range s.registry.sessions {
		sessions = append(sessions, sess)
	}
	s.registry.mu.RUnlock()
	for _, sess := range sessions {
		sess.close(nil)
	}

	s.shutdownPool()

	// Workers are gone; consume any completions still queued (aborted
	// accepts and session operations) so no context outlives its delivery.
	for {
		res, ok := s.core.Dispatch(drainTimeout)
		if !ok {
			break
		}
		if res.Key == iocp.ShutdownKey {
			continue
		}
		s.dispatch(res)
	}

	s.core.Close()
	_ = windows.WSACleanup()
	logger.Info("Server stopped")
}

// shutdownPool posts one shutdown packet per worker and joins the pool.
func (s *Server) shutdownPool() {
	for i := 0; i < s.pool.WorkerCount(); i++ {
		if err := s.core.PostCompletion(iocp.ShutdownKey, nil); err != nil {
			logger.Warn("Posting shutdown packet: %v", err)
		}
	}
	s.pool.Stop()
}

// dispatch routes one completion by operation kind. It runs concurrently on
// every worker.
func (s *Server) dispatch(res iocp.CompletionResult) {
	if res.Op == nil {
		// Synthetic completion without a record; nothing to route.
		return
	}

	switch res.Op.Kind {
	case iocp.KindAccept:
		s.acceptor.OnAcceptComplete(res)

	case iocp.KindRecv:
		sess := s.registry.get(res.Key)
		if sess == nil {
			logger.Debug("Recv completion for unknown session %d", res.Key)
			return
		}
		if res.Success {
			s.metrics.RecordBytesReceived(int64(res.Bytes))
		} else if res.ErrorCode != windows.ERROR_OPERATION_ABORTED {
			s.metrics.RecordOperationError(res.Op.Kind.String())
		}
		sess.onRecvComplete(res)

	case iocp.KindSend:
		sess := s.registry.get(res.Key)
		if sess == nil {
			logger.Debug("Send completion for unknown session %d", res.Key)
			return
		}
		if res.Success {
			s.metrics.RecordBytesSent(int64(res.Bytes))
		} else if res.ErrorCode != windows.ERROR_OPERATION_ABORTED {
			s.metrics.RecordOperationError(res.Op.Kind.String())
		}
		sess.onSendComplete(res)

	case iocp.KindDisconnect:
		if sess := s.registry.get(res.Key); sess != nil {
			sess.close(nil)
		}

	default:
		logger.Warn("Completion with unknown operation kind %d", res.Op.Kind)
	}
}

// handleAccept admits one accepted socket: rate limit, session
// construction, registration, first receive.
func (s *Server) handleAccept(sock windows.Handle) {
	if !s.running.Load() {
		// Accept completed during shutdown drain; no workers are left to
		// serve a session.
		closesocket(sock)
		return
	}

	if s.limiter != nil && !s.limiter.Allow() {
		logger.Warn("Connection rejected: accept rate exceeded")
		s.metrics.RecordConnectionRejected()
		closesocket(sock)
		return
	}

	sess, err := newSession(&s.core, sock, s.handler, s.cfg.BufferSize, s.cfg.MaxPendingSends, s.onSessionClosed)
	if err != nil {
		logger.Error("Session setup failed: %v", err)
		closesocket(sock)
		return
	}

	s.registry.add(sess)
	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveSessions(s.registry.len())

	s.handler.OnConnect(sess)

	if err := sess.issueRecv(); err != nil {
		logger.Warn("Session %d: first receive failed: %v", sess.ID(), err)
	}
}

func (s *Server) onSessionClosed(sess *Session) {
	s.registry.remove(sess.ID())
	s.metrics.RecordConnectionClosed()
	s.metrics.SetActiveSessions(s.registry.len())
}

package server

import "errors"

var (
	// ErrAlreadyListening is returned by Acceptor.Start when it is live.
	ErrAlreadyListening = errors.New("server: acceptor already listening")

	// ErrAlreadyRunning is returned by Server.Start when the facade is live.
	ErrAlreadyRunning = errors.New("server: already running")

	// ErrAcceptorStopped is returned when an accept cannot be issued because
	// the listening socket is gone.
	ErrAcceptorStopped = errors.New("server: acceptor stopped")

	// ErrSessionClosed is returned by Session.Send after the session left
	// the connected state.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSendQueueFull is returned by Session.Send when the pending send
	// queue reached its configured bound.
	ErrSendQueueFull = errors.New("server: send queue full")
)

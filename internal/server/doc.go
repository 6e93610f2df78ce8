// Package server builds the TCP server on top of the completion engine in
// internal/iocp: an Acceptor that keeps the listening socket saturated with
// an outstanding overlapped accept, per-connection Sessions that own their
// receive and send contexts, a registry resolving completion keys back to
// sessions, and the Server facade composing acceptor, worker pool and
// completion core.
//
// The byte stream is handed to a pluggable Handler; the default handler
// echoes received bytes back to the peer.
package server

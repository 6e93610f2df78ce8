//go:build windows

package server

import (
	"fmt"

	"github.com/marmos91/iocpnet/internal/logger"
	"github.com/mitchellh/mapstructure"
)

// Handler consumes session events. Callbacks run on whichever worker
// drained the completion; the pool provides no serialization across
// sessions, and OnData for one session is serialized only because a single
// receive is outstanding at a time.
type Handler interface {
	// OnConnect runs after the session is registered, before its first
	// receive is issued.
	OnConnect(s *Session)

	// OnData receives the bytes of one completed read. The slice aliases
	// the session's receive buffer and is only valid for the duration of
	// the call.
	OnData(s *Session, p []byte)

	// OnDisconnect runs once, after every outstanding operation of the
	// session has been accounted for. err is nil on a clean peer close.
	OnDisconnect(s *Session, err error)
}

// EchoConfig tunes the echo handler.
type EchoConfig struct {
	// LogTraffic emits a debug line per echoed payload.
	LogTraffic bool `mapstructure:"log_traffic"`
}

// EchoHandler replies to every received payload with the same bytes. This
// is the default handler of the framework.
type EchoHandler struct {
	cfg EchoConfig
}

func NewEchoHandler(cfg EchoConfig) *EchoHandler {
	return &EchoHandler{cfg: cfg}
}

func (h *EchoHandler) OnConnect(s *Session) {
	logger.Debug("Session %d connected from %s", s.ID(), s.RemoteAddr())
}

func (h *EchoHandler) OnData(s *Session, p []byte) {
	if h.cfg.LogTraffic {
		logger.Debug("Session %d: echoing %d byte(s)", s.ID(), len(p))
	}
	if err := s.Send(p); err != nil {
		logger.Warn("Session %d: echo send: %v", s.ID(), err)
	}
}

func (h *EchoHandler) OnDisconnect(s *Session, err error) {
	if err != nil {
		logger.Debug("Session %d disconnected: %v", s.ID(), err)
	}
}

// DiscardHandler reads and drops everything, useful for ingest benchmarks.
type DiscardHandler struct{}

func (DiscardHandler) OnConnect(*Session)           {}
func (DiscardHandler) OnData(*Session, []byte)      {}
func (DiscardHandler) OnDisconnect(*Session, error) {}

// NewHandler builds a handler from its configured type and the matching
// options section. Only the section for the selected type is consulted.
func NewHandler(typ string, options map[string]any) (Handler, error) {
	switch typ {
	case "", "echo":
		var cfg EchoConfig
		if err := mapstructure.Decode(options, &cfg); err != nil {
			return nil, fmt.Errorf("server: invalid echo handler config: %w", err)
		}
		return NewEchoHandler(cfg), nil
	case "discard":
		return DiscardHandler{}, nil
	default:
		return nil, fmt.Errorf("server: unknown handler type %q", typ)
	}
}

//go:build windows

package server

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/marmos91/iocpnet/internal/iocp"
	"github.com/marmos91/iocpnet/internal/ratelimiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestServer_Echo(t *testing.T) {
	srv := New(Config{Port: 9000}, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", "127.0.0.1:9000")
	require.NoError(t, err)

	msg := []byte("Hello Server")
	_, err = conn.Write(msg)
	require.NoError(t, err)

	reply := make([]byte, len(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, msg, reply)

	// Closing the client completes the outstanding receive with zero bytes
	// and tears the session down.
	conn.Close()
	waitFor(t, time.Second, func() bool { return srv.ActiveSessions() == 0 },
		"session was not torn down after the peer closed")
}

func TestServer_EchoOrder(t *testing.T) {
	srv := New(Config{Port: 9001}, nil)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	conn, err := net.Dial("tcp", "127.0.0.1:9001")
	require.NoError(t, err)
	defer conn.Close()

	// Burst many writes without reading; the echoed stream must come back
	// byte-identical, proving per-session FIFO sends.
	var sent bytes.Buffer
	for i := 0; i < 50; i++ {
		msg := []byte(fmt.Sprintf("message-%03d|", i))
		sent.Write(msg)
		_, err := conn.Write(msg)
		require.NoError(t, err)
	}

	reply := make([]byte, sent.Len())
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, sent.Bytes(), reply)
}

func TestServer_SessionIDsMonotonic(t *testing.T) {
	ids := make(chan uint64, 8)
	handler := &recordingHandler{onConnect: func(s *Session) { ids <- s.ID() }}

	srv := New(Config{Port: 9002}, handler)
	require.NoError(t, srv.Start())
	defer srv.Stop()

	var last uint64
	for i := 0; i < 5; i++ {
		conn, err := net.Dial("tcp", "127.0.0.1:9002")
		require.NoError(t, err)

		select {
		case id := <-ids:
			require.Greater(t, id, last, "session ids must be strictly monotonic")
			last = id
		case <-time.After(time.Second):
			t.Fatal("session was not created")
		}
		conn.Close()
	}
}

func TestServer_RateLimiter(t *testing.T) {
	srv := New(Config{Port: 9003}, nil)
	srv.SetRateLimiter(ratelimiter.New(1, 1))
	require.NoError(t, srv.Start())
	defer srv.Stop()

	// First connection consumes the only token.
	first, err := net.Dial("tcp", "127.0.0.1:9003")
	require.NoError(t, err)
	defer first.Close()

	waitFor(t, time.Second, func() bool { return srv.ActiveSessions() == 1 },
		"first connection should be admitted")

	// An immediate second connection is accepted by the kernel but closed
	// by the admission path; the client sees EOF.
	second, err := net.Dial("tcp", "127.0.0.1:9003")
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = second.Read(make([]byte, 1))
	assert.Error(t, err, "rejected connection should be closed by the server")
	assert.Equal(t, 1, srv.ActiveSessions())
}

func TestServer_StartStopRestart(t *testing.T) {
	srv := New(Config{Port: 9004}, nil)
	require.NoError(t, srv.Start())
	require.ErrorIs(t, srv.Start(), ErrAlreadyRunning)

	srv.Stop()
	srv.Stop() // idempotent

	// The same facade can be brought back up: the completion core re-inits
	// and the acceptor returned to idle when its abort was consumed.
	require.NoError(t, srv.Start())

	conn, err := net.Dial("tcp", "127.0.0.1:9004")
	require.NoError(t, err)
	msg := []byte("after restart")
	_, err = conn.Write(msg)
	require.NoError(t, err)
	reply := make([]byte, len(msg))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, msg, reply)
	conn.Close()

	srv.Stop()
}

func TestServer_Stress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}

	const (
		clients = 100
		rounds  = 10
		size    = 32
	)

	srv := New(Config{Port: 9005}, nil)
	require.NoError(t, srv.Start())

	var wg sync.WaitGroup
	errs := make(chan error, clients)

	wg.Add(clients)
	for c := 0; c < clients; c++ {
		go func(id int) {
			defer wg.Done()

			conn, err := net.Dial("tcp", "127.0.0.1:9005")
			if err != nil {
				errs <- fmt.Errorf("client %d: connect: %w", id, err)
				return
			}
			defer conn.Close()

			rng := rand.New(rand.NewSource(int64(id)))
			payload := make([]byte, size)
			reply := make([]byte, size)

			for r := 0; r < rounds; r++ {
				rng.Read(payload)
				if _, err := conn.Write(payload); err != nil {
					errs <- fmt.Errorf("client %d round %d: write: %w", id, r, err)
					return
				}
				_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				if _, err := io.ReadFull(conn, reply); err != nil {
					errs <- fmt.Errorf("client %d round %d: read: %w", id, r, err)
					return
				}
				if !bytes.Equal(payload, reply) {
					errs <- fmt.Errorf("client %d round %d: echo mismatch", id, r)
					return
				}
			}
		}(c)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	// All clients disconnected: every session drains and no operation
	// context may outlive its completion.
	waitFor(t, 3*time.Second, func() bool { return srv.ActiveSessions() == 0 },
		"sessions leaked after all clients disconnected")

	srv.Stop()
	assert.Equal(t, 0, iocp.InFlight(), "operation contexts leaked")
}

// recordingHandler wraps the echo behavior with an OnConnect hook.
type recordingHandler struct {
	onConnect func(*Session)
}

func (h *recordingHandler) OnConnect(s *Session) {
	if h.onConnect != nil {
		h.onConnect(s)
	}
}

func (h *recordingHandler) OnData(s *Session, p []byte) {
	_ = s.Send(p)
}

func (h *recordingHandler) OnDisconnect(*Session, error) {}

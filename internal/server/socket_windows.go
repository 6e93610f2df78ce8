//go:build windows

package server

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// newOverlappedSocket creates a TCP socket capable of overlapped I/O.
func newOverlappedSocket() (windows.Handle, error) {
	sock, err := windows.WSASocket(
		windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP,
		nil, 0, windows.WSA_FLAG_OVERLAPPED,
	)
	if err != nil {
		return windows.InvalidHandle, fmt.Errorf("server: WSASocket: %w", err)
	}
	return sock, nil
}

// bindAndListen binds sock to INADDR_ANY:port and starts listening with the
// maximum backlog.
func bindAndListen(sock windows.Handle, port uint16) error {
	sa := &windows.SockaddrInet4{Port: int(port)}
	if err := windows.Bind(sock, sa); err != nil {
		return fmt.Errorf("server: bind port %d: %w", port, err)
	}
	if err := windows.Listen(sock, windows.SOMAXCONN); err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// inheritListenContext applies the listening socket's context to a freshly
// accepted socket so local-address queries and shutdown semantics work on
// it. Required after AcceptEx.
func inheritListenContext(accepted, listen windows.Handle) error {
	return windows.Setsockopt(
		accepted,
		windows.SOL_SOCKET, windows.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&listen)),
		int32(unsafe.Sizeof(listen)),
	)
}

// peerAddr formats the remote endpoint of a connected socket, or "unknown"
// when the query fails.
func peerAddr(sock windows.Handle) string {
	sa, err := windows.Getpeername(sock)
	if err != nil {
		return "unknown"
	}
	switch a := sa.(type) {
	case *windows.SockaddrInet4:
		return fmt.Sprintf("%d.%d.%d.%d:%d", a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3], a.Port)
	case *windows.SockaddrInet6:
		return fmt.Sprintf("[%x]:%d", a.Addr, a.Port)
	default:
		return "unknown"
	}
}

// closesocket closes a socket handle, tolerating an already-invalid handle.
func closesocket(sock windows.Handle) {
	if sock != windows.InvalidHandle && sock != 0 {
		_ = windows.Closesocket(sock)
	}
}

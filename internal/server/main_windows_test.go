//go:build windows

package server

import (
	"os"
	"testing"

	"golang.org/x/sys/windows"
)

func TestMain(m *testing.M) {
	var wsaData windows.WSAData
	if err := windows.WSAStartup(uint32(0x202), &wsaData); err != nil {
		os.Exit(1)
	}
	code := m.Run()
	_ = windows.WSACleanup()
	os.Exit(code)
}

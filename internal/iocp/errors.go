package iocp

import "errors"

var (
	// ErrAlreadyInitialized is returned by Core.Init when the port already exists.
	ErrAlreadyInitialized = errors.New("iocp: completion port already initialized")

	// ErrNotInitialized is returned when an operation requires an initialized port.
	ErrNotInitialized = errors.New("iocp: completion port not initialized")

	// ErrAlreadyRunning is returned by WorkerPool.Start when the pool is live.
	ErrAlreadyRunning = errors.New("iocp: worker pool already running")
)

//go:build windows

package iocp

import (
	"testing"
	"time"
)

func TestCore_PostDispatchRoundTrip(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	op := &Operation{}
	op.Reset(KindRecv, 42, nil)

	if err := core.PostCompletion(100, op); err != nil {
		t.Fatalf("PostCompletion failed: %v", err)
	}

	res, ok := core.Dispatch(time.Second)
	if !ok {
		t.Fatal("Dispatch returned no completion")
	}
	if res.Key != 100 {
		t.Errorf("Expected key 100, got %d", res.Key)
	}
	if res.Op != op {
		t.Errorf("Expected the posted operation back, got %p", res.Op)
	}
	if res.Op.SessionID != 42 || res.Op.Kind != KindRecv {
		t.Errorf("Operation fields lost: kind=%v sessionID=%d", res.Op.Kind, res.Op.SessionID)
	}
	if res.Bytes != 0 {
		t.Errorf("Expected 0 bytes, got %d", res.Bytes)
	}
	if !res.Success || res.ErrorCode != 0 {
		t.Errorf("Expected success, got success=%v error=%v", res.Success, res.ErrorCode)
	}
}

func TestCore_SyntheticWithoutRecord(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	if err := core.PostCompletion(7, nil); err != nil {
		t.Fatalf("PostCompletion failed: %v", err)
	}

	res, ok := core.Dispatch(time.Second)
	if !ok {
		t.Fatal("Dispatch dropped a synthetic completion without a record")
	}
	if res.Key != 7 || res.Op != nil || !res.Success {
		t.Errorf("Unexpected result: %+v", res)
	}
}

func TestCore_DispatchTimeout(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	if _, ok := core.Dispatch(0); ok {
		t.Error("Dispatch on an empty port should time out")
	}
}

func TestCore_DoubleInit(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	if err := core.Init(0); err != ErrAlreadyInitialized {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestCore_ReinitAfterClose(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	core.Close()

	if core.IsValid() {
		t.Fatal("Core should be invalid after Close")
	}

	if err := core.Init(0); err != nil {
		t.Fatalf("Re-init after close failed: %v", err)
	}
	defer core.Close()

	if !core.IsValid() {
		t.Error("Core should be valid after re-init")
	}
}

func TestCore_NotInitialized(t *testing.T) {
	var core Core

	if err := core.Register(0, 1); err != ErrNotInitialized {
		t.Errorf("Register: expected ErrNotInitialized, got %v", err)
	}
	if err := core.PostCompletion(1, nil); err != ErrNotInitialized {
		t.Errorf("PostCompletion: expected ErrNotInitialized, got %v", err)
	}
	if _, ok := core.Dispatch(0); ok {
		t.Error("Dispatch on an uninitialized core should return nothing")
	}
}

func TestCore_InFlightAccounting(t *testing.T) {
	var core Core
	if err := core.Init(0); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	defer core.Close()

	before := InFlight()

	op := &Operation{}
	op.Reset(KindSend, 1, nil)
	if err := core.PostCompletion(1, op); err != nil {
		t.Fatalf("PostCompletion failed: %v", err)
	}

	if got := InFlight(); got != before+1 {
		t.Errorf("Expected %d in-flight after post, got %d", before+1, got)
	}

	if _, ok := core.Dispatch(time.Second); !ok {
		t.Fatal("Dispatch returned no completion")
	}

	if got := InFlight(); got != before {
		t.Errorf("Expected %d in-flight after dispatch, got %d", before, got)
	}
}

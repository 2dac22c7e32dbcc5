package agent

import (
	"os"
	"testing"
	"time"
)

func TestPIDRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())

	if _, err := m.ReadPID(); err == nil {
		t.Fatal("ReadPID should fail before WritePID")
	}

	if err := m.WritePID(); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	pid, err := m.ReadPID()
	if err != nil {
		t.Fatalf("ReadPID: %v", err)
	}
	if pid != os.Getpid() {
		t.Fatalf("pid: got %d, want %d", pid, os.Getpid())
	}

	// The PID file points at this test process, which is alive.
	if !m.IsRunning() {
		t.Fatal("IsRunning should be true for own pid")
	}

	if err := m.RemovePID(); err != nil {
		t.Fatalf("RemovePID: %v", err)
	}
	if m.IsRunning() {
		t.Fatal("IsRunning should be false after RemovePID")
	}
}

func TestStateRoundTrip(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.WritePID(); err != nil {
		t.Fatalf("WritePID: %v", err)
	}

	started := time.Now().Add(-time.Minute).Truncate(time.Second)
	if err := m.WriteState(&State{PID: os.Getpid(), StartedAt: started, Version: "1.2.3"}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	state, err := m.ReadState()
	if err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if state.PID != os.Getpid() || state.Version != "1.2.3" {
		t.Fatalf("state mismatch: %+v", state)
	}

	status, err := m.CurrentStatus()
	if err != nil {
		t.Fatalf("CurrentStatus: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() || status.Version != "1.2.3" {
		t.Fatalf("status mismatch: %+v", status)
	}
	if status.Uptime < time.Minute-time.Second {
		t.Fatalf("uptime too small: %v", status.Uptime)
	}
}

func TestCleanup(t *testing.T) {
	m := NewManager(t.TempDir())
	if err := m.WritePID(); err != nil {
		t.Fatalf("WritePID: %v", err)
	}
	if err := m.WriteState(&State{PID: os.Getpid()}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	m.Cleanup()
	if _, err := m.ReadPID(); err == nil {
		t.Fatal("PID file should be gone after Cleanup")
	}
	if _, err := m.ReadState(); err == nil {
		t.Fatal("state file should be gone after Cleanup")
	}
}

// Package agent manages the slotd process lifecycle: PID file, state file,
// and stop signalling used by the command-line front end.
package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// State is the persisted record of a running agent.
type State struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// Manager handles agent lifecycle operations.
type Manager struct {
	dir       string
	pidFile   string
	stateFile string
}

// DefaultDir returns the per-user runtime directory for agent bookkeeping.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	switch {
	case fileExists(filepath.Join(home, "Library", "Application Support")):
		return filepath.Join(home, "Library", "Application Support", "slotd")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "slotd")
		}
		return filepath.Join(home, ".local", "state", "slotd")
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// NewManager creates a lifecycle manager rooted at dir.
func NewManager(dir string) *Manager {
	return &Manager{
		dir:       dir,
		pidFile:   filepath.Join(dir, "agent.pid"),
		stateFile: filepath.Join(dir, "agent.state"),
	}
}

// IsRunning checks whether an agent process is alive.
func (m *Manager) IsRunning() bool {
	pid, err := m.ReadPID()
	if err != nil {
		return false
	}
	return isProcessRunning(pid)
}

// ReadPID reads the agent's PID from the PID file.
func (m *Manager) ReadPID() (int, error) {
	data, err := os.ReadFile(m.pidFile)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file: %w", err)
	}
	return pid, nil
}

// WritePID writes the current process PID to the PID file.
func (m *Manager) WritePID() error {
	if err := os.MkdirAll(filepath.Dir(m.pidFile), 0700); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(m.pidFile, []byte(strconv.Itoa(os.Getpid())), 0600)
}

// RemovePID removes the PID file.
func (m *Manager) RemovePID() error {
	return os.Remove(m.pidFile)
}

// WriteState writes the agent state file.
func (m *Manager) WriteState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return os.WriteFile(m.stateFile, data, 0600)
}

// ReadState reads the agent state file.
func (m *Manager) ReadState() (*State, error) {
	data, err := os.ReadFile(m.stateFile)
	if err != nil {
		return nil, err
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// SignalStop sends SIGTERM to the agent.
func (m *Manager) SignalStop() error {
	pid, err := m.ReadPID()
	if err != nil {
		return fmt.Errorf("read PID: %w", err)
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	return process.Signal(syscall.SIGTERM)
}

// WaitForStop waits for the agent to stop.
func (m *Manager) WaitForStop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !m.IsRunning() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("agent did not stop within %v", timeout)
}

// Cleanup removes PID and state files.
func (m *Manager) Cleanup() {
	os.Remove(m.pidFile)
	os.Remove(m.stateFile)
}

// Status is the agent status for display.
type Status struct {
	Running   bool
	PID       int
	StartedAt time.Time
	Uptime    time.Duration
	Version   string
}

// CurrentStatus returns the current agent status.
func (m *Manager) CurrentStatus() (*Status, error) {
	status := &Status{}

	pid, pidErr := m.ReadPID()
	if pidErr == nil && isProcessRunning(pid) {
		status.Running = true
		status.PID = pid
	}

	if state, err := m.ReadState(); err == nil {
		status.StartedAt = state.StartedAt
		status.Version = state.Version
		if status.Running {
			status.Uptime = time.Since(state.StartedAt)
		}
	}

	return status, nil
}

// isProcessRunning checks if a process with the given PID is alive.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds. Send signal 0 to check if process exists.
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

package process

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lu-zhengda/portman/internal/port"
	"golang.org/x/sys/unix"
)

// protectedPIDs lists PIDs that should never be killed.
var protectedPIDs = map[int]bool{
	0: true,
	1: true,
}

// ErrNotRunning is returned when the target process no longer exists.
var ErrNotRunning = errors.New("process is not running")

// RealManager signals and inspects processes using real system calls.
type RealManager struct {
	runner  port.CmdRunner
	fetcher *InfoFetcher

	// sendSignal is unix.Kill outside of tests.
	sendSignal   func(pid int, sig unix.Signal) error
	pollInterval time.Duration
}

// NewRealManager creates a new process manager.
func NewRealManager(runner port.CmdRunner) *RealManager {
	return &RealManager{
		runner:       runner,
		fetcher:      NewInfoFetcher(runner),
		sendSignal:   unix.Kill,
		pollInterval: 100 * time.Millisecond,
	}
}

// Kill sends a signal to a process. It refuses to kill protected PIDs.
func (m *RealManager) Kill(pid int, signal unix.Signal) error {
	if protectedPIDs[pid] {
		return fmt.Errorf("refusing to kill protected PID %d", pid)
	}

	if !m.IsRunning(pid) {
		return fmt.Errorf("PID %d: %w", pid, ErrNotRunning)
	}

	if err := m.sendSignal(pid, signal); err != nil {
		return fmt.Errorf("failed to send %s to PID %d: %w", SignalName(signal), pid, err)
	}

	return nil
}

// KillAndWait sends signal and polls until the process exits, the grace
// period elapses, or ctx is cancelled. It reports whether the process exited.
func (m *RealManager) KillAndWait(ctx context.Context, pid int, signal unix.Signal, grace time.Duration) (exited bool, err error) {
	if err := m.Kill(pid, signal); err != nil {
		return false, err
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(grace)
	defer deadline.Stop()

	for {
		if !m.IsRunning(pid) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return !m.IsRunning(pid), ctx.Err()
		case <-deadline.C:
			return !m.IsRunning(pid), nil
		case <-ticker.C:
		}
	}
}

// Info retrieves detailed process information.
func (m *RealManager) Info(ctx context.Context, pid int) (*ProcessInfo, error) {
	return m.fetcher.GetInfo(ctx, pid)
}

// IsRunning checks if a process with the given PID exists. A process owned
// by another user answers signal 0 with EPERM, which still means it exists.
func (m *RealManager) IsRunning(pid int) bool {
	err := m.sendSignal(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// lsofNameWidth is the width lsof truncates command names to by default.
const lsofNameWidth = 9

// VerifyProcess checks if a PID still corresponds to the expected process
// by comparing the command name. A name exactly lsofNameWidth long matches
// any command it is a prefix of.
func (m *RealManager) VerifyProcess(ctx context.Context, pid int, expectedName string) bool {
	out, err := m.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if err != nil {
		return false
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return false
	}
	actual, expected := strings.ToLower(baseName(name)), strings.ToLower(expectedName)
	if len(expected) == lsofNameWidth {
		return strings.HasPrefix(actual, expected)
	}
	return actual == expected
}

// ParseSignal resolves names like "TERM", "SIGTERM", "sigkill" or a decimal
// signal number.
func ParseSignal(s string) (unix.Signal, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return unix.SIGTERM, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 || unix.SignalName(unix.Signal(n)) == "" {
			return 0, fmt.Errorf("unknown signal %d", n)
		}
		return unix.Signal(n), nil
	}
	if !strings.HasPrefix(s, "SIG") {
		s = "SIG" + s
	}
	sig := unix.SignalNum(s)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}

// SignalName returns the human-readable name for a signal.
func SignalName(sig unix.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal(%d)", sig)
}

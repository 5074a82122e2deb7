package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"firestige.xyz/frameguard/internal/core"
)

// ReadPIDFile returns the PID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: no PID file at %s", core.ErrDaemonNotRunning, path)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("malformed PID file %s", path)
	}
	return pid, nil
}

// Running returns the PID from path when that process is alive.
func Running(path string) (int, error) {
	pid, err := ReadPIDFile(path)
	if err != nil {
		return 0, err
	}
	if !alive(pid) {
		return pid, fmt.Errorf("%w: stale PID file %s (pid %d)", core.ErrDaemonNotRunning, path, pid)
	}
	return pid, nil
}

// SignalReload sends SIGHUP to the daemon recorded in path.
func SignalReload(path string) (int, error) {
	pid, err := Running(path)
	if err != nil {
		return 0, err
	}
	if err := signalPID(pid, syscall.SIGHUP); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}
	return pid, nil
}

// StopDaemon sends SIGTERM to the daemon recorded in path and waits up to
// timeout for it to exit.
func StopDaemon(path string, timeout time.Duration) (int, error) {
	pid, err := Running(path)
	if err != nil {
		return 0, err
	}
	if err := signalPID(pid, syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !alive(pid) {
			return pid, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return pid, fmt.Errorf("daemon pid %d did not exit within %s", pid, timeout)
}

func signalPID(pid int, sig os.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(sig)
}

// alive probes pid with signal 0.
func alive(pid int) bool {
	err := signalPID(pid, syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

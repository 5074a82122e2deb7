package daemon

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/frameguard/internal/core"
)

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPIDFile(filepath.Join(dir, "missing.pid"))
	assert.ErrorIs(t, err, core.ErrDaemonNotRunning)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("not-a-pid\n"), 0644))
	_, err = ReadPIDFile(bad)
	assert.ErrorContains(t, err, "malformed")

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte(" 1234\n"), 0644))
	pid, err := ReadPIDFile(good)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestRunning(t *testing.T) {
	dir := t.TempDir()

	self := filepath.Join(dir, "self.pid")
	require.NoError(t, os.WriteFile(self, []byte(strconv.Itoa(os.Getpid())), 0644))
	pid, err := Running(self)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	stale := filepath.Join(dir, "stale.pid")
	require.NoError(t, os.WriteFile(stale, []byte("99999999"), 0644))
	_, err = Running(stale)
	assert.ErrorIs(t, err, core.ErrDaemonNotRunning)
}

func TestSignalReload(t *testing.T) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	path := filepath.Join(t.TempDir(), "self.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0644))

	pid, err := SignalReload(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	select {
	case <-hup:
	case <-time.After(2 * time.Second):
		t.Fatal("SIGHUP not delivered")
	}
}

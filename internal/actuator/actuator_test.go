package actuator

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/fixtures"
	"firestige.xyz/frameguard/internal/source"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WritePacketData(frame []byte) error {
	args := m.Called(frame)
	return args.Error(0)
}

func TestTransmitter(t *testing.T) {
	frame := core.Frame(fixtures.TCP4(nil))
	w := new(mockWriter)
	w.On("WritePacketData", []byte(frame)).Return(nil).Once()

	tx := NewTransmitter(w)
	require.NoError(t, tx.Apply(core.Redirect, core.RawPacket{Data: frame}))
	require.NoError(t, tx.Apply(core.Pass, core.RawPacket{Data: frame}))
	require.NoError(t, tx.Apply(core.Drop, core.RawPacket{Data: frame}))
	require.NoError(t, tx.Close())

	w.AssertExpectations(t)
}

func TestTransmitterError(t *testing.T) {
	w := new(mockWriter)
	w.On("WritePacketData", mock.Anything).Return(errors.New("ENOBUFS"))

	err := NewTransmitter(w).Apply(core.Redirect, core.RawPacket{Data: core.Frame(fixtures.TCP4(nil))})
	assert.EqualError(t, err, "ENOBUFS")
}

func TestDiscard(t *testing.T) {
	var a Actuator = Discard{}
	assert.NoError(t, a.Apply(core.Drop, core.RawPacket{}))
	assert.NoError(t, a.Close())
}

func TestRecorder(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	rec, err := NewRecorder(dir)
	require.NoError(t, err)

	tcp := fixtures.TCP4([]byte("x"))
	arp := fixtures.ARP()
	now := time.Unix(1700000000, 0)

	require.NoError(t, rec.Apply(core.Redirect, core.RawPacket{Data: tcp, Timestamp: now}))
	require.NoError(t, rec.Apply(core.Redirect, core.RawPacket{Data: tcp, Timestamp: now}))
	require.NoError(t, rec.Apply(core.Drop, core.RawPacket{Data: arp, Timestamp: now}))
	require.NoError(t, rec.Apply(core.Pass, core.RawPacket{Data: arp, Timestamp: now}))
	require.NoError(t, rec.Close())

	assert.Equal(t, 2, countFrames(t, rec.Path(core.Redirect)))
	assert.Equal(t, 1, countFrames(t, rec.Path(core.Drop)))
	_, err = os.Stat(rec.Path(core.Pass))
	assert.True(t, os.IsNotExist(err))
}

func TestRecorderSelectedVerdicts(t *testing.T) {
	rec, err := NewRecorder(t.TempDir(), core.Pass)
	require.NoError(t, err)
	require.NoError(t, rec.Apply(core.Pass, core.RawPacket{Data: fixtures.UDP4(nil)}))
	require.NoError(t, rec.Apply(core.Drop, core.RawPacket{Data: fixtures.UDP4(nil)}))
	require.NoError(t, rec.Close())

	assert.Equal(t, 1, countFrames(t, rec.Path(core.Pass)))

	_, err = NewRecorder(t.TempDir(), core.Verdict(9))
	assert.Error(t, err)
}

func countFrames(t *testing.T, path string) int {
	t.Helper()
	src, err := source.NewPcapFile(path)
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	n := 0
	for {
		_, err := src.ReadFrame()
		if errors.Is(err, io.EOF) {
			return n
		}
		require.NoError(t, err)
		n++
	}
}

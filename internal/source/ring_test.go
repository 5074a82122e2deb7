package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/frameguard/internal/core"
)

func TestRingGeometry(t *testing.T) {
	tests := []struct {
		name     string
		bufferMB int
		snapLen  int
		pageSize int
	}{
		{"Jumbo", 64, 65535, 4096},
		{"Standard", 8, 1514, 4096},
		{"Tiny", 1, 96, 4096},
		{"LargePages", 128, 9000, 65536},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frameSize, blockSize, numBlocks, err := ringGeometry(tt.bufferMB, tt.snapLen, tt.pageSize)
			require.NoError(t, err)

			assert.GreaterOrEqual(t, frameSize, tpacketHdrLen+tt.snapLen)
			assert.Zero(t, frameSize%tpacketAlignment)
			assert.Zero(t, blockSize%tt.pageSize)
			assert.Zero(t, blockSize%frameSize)
			assert.GreaterOrEqual(t, numBlocks, 1)
			assert.LessOrEqual(t, blockSize*numBlocks, max(tt.bufferMB*1024*1024, blockSize))
		})
	}
}

func TestRingGeometryInvalid(t *testing.T) {
	_, _, _, err := ringGeometry(0, 1500, 4096)
	assert.Error(t, err)
	_, _, _, err = ringGeometry(8, 0, 4096)
	assert.Error(t, err)
	_, _, _, err = ringGeometry(8, 1500, 100)
	assert.Error(t, err)
}

func TestAFPacketConfigResolve(t *testing.T) {
	cfg := AFPacketConfig{Interface: "eth0"}
	require.NoError(t, cfg.resolve())
	assert.Equal(t, defaultSnapLen, cfg.SnapLen)
	assert.Equal(t, uint16(defaultFanoutID), cfg.FanoutID)
	assert.Positive(t, cfg.BlockSize)
	assert.Positive(t, cfg.NumBlocks)
	assert.Zero(t, cfg.BlockSize%cfg.frameSize)

	bad := AFPacketConfig{Interface: "eth0", SnapLen: 1500, BlockSize: 3000, NumBlocks: 4}
	assert.ErrorIs(t, bad.resolve(), core.ErrConfigInvalid)

	missing := AFPacketConfig{}
	assert.ErrorIs(t, missing.resolve(), core.ErrConfigInvalid)
}

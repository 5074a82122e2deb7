package source

import (
	"fmt"

	"golang.org/x/net/bpf"

	"firestige.xyz/frameguard/internal/core"
)

const (
	defaultSnapLen  = 65535
	defaultBufferMB = 64
	defaultFanoutID = 42
)

// AFPacketConfig configures an AF_PACKET source.
type AFPacketConfig struct {
	Interface string
	SnapLen   int
	// BufferMB sizes the ring when BlockSize and NumBlocks are zero.
	BufferMB  int
	BlockSize int
	NumBlocks int
	// Fanout joins PACKET_FANOUT hash group FanoutID, so several sources on
	// the same interface share its traffic.
	Fanout   bool
	FanoutID uint16
	// Prefilter is attached with SO_ATTACH_FILTER when non-empty.
	Prefilter []bpf.RawInstruction

	frameSize int
}

// resolve fills defaults and computes the ring geometry.
func (c *AFPacketConfig) resolve() error {
	if c.Interface == "" {
		return fmt.Errorf("%w: afpacket: interface is required", core.ErrConfigInvalid)
	}
	if c.SnapLen <= 0 {
		c.SnapLen = defaultSnapLen
	}
	if c.FanoutID == 0 {
		c.FanoutID = defaultFanoutID
	}

	if c.BlockSize > 0 && c.NumBlocks > 0 {
		frameSize, err := ringFrameSize(c.SnapLen)
		if err != nil {
			return fmt.Errorf("%w: afpacket: %v", core.ErrConfigInvalid, err)
		}
		if c.BlockSize%frameSize != 0 || c.BlockSize%pageSize() != 0 {
			return fmt.Errorf("%w: afpacket: block size %d must be a multiple of frame size %d and page size %d",
				core.ErrConfigInvalid, c.BlockSize, frameSize, pageSize())
		}
		c.frameSize = frameSize
		return nil
	}

	if c.BufferMB <= 0 {
		c.BufferMB = defaultBufferMB
	}
	frameSize, blockSize, numBlocks, err := ringGeometry(c.BufferMB, c.SnapLen, pageSize())
	if err != nil {
		return fmt.Errorf("%w: afpacket: %v", core.ErrConfigInvalid, err)
	}
	c.frameSize, c.BlockSize, c.NumBlocks = frameSize, blockSize, numBlocks
	return nil
}

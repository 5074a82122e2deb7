//go:build !linux

package source

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/net/bpf"

	"firestige.xyz/frameguard/internal/core"
)

func pageSize() int { return os.Getpagesize() }

// AFPacket is only available on linux.
type AFPacket struct {
	config AFPacketConfig
}

// NewAFPacket always fails on this platform.
func NewAFPacket(cfg AFPacketConfig) (*AFPacket, error) {
	return nil, fmt.Errorf("afpacket on %s: %w", cfg.Interface, core.ErrUnsupportedPlatform)
}

func (s *AFPacket) Name() string                    { return s.config.Interface }
func (s *AFPacket) Start(ctx context.Context) error { return core.ErrUnsupportedPlatform }
func (s *AFPacket) ReadFrame() (core.RawPacket, error) {
	return core.RawPacket{}, core.ErrUnsupportedPlatform
}
func (s *AFPacket) WritePacketData(frame []byte) error { return core.ErrUnsupportedPlatform }
func (s *AFPacket) Stats() Stats                       { return Stats{} }
func (s *AFPacket) Stop() error                        { return nil }

func (s *AFPacket) SetPrefilter(raw []bpf.RawInstruction) error {
	return core.ErrUnsupportedPlatform
}

//go:build linux

package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/net/bpf"

	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/filter"
)

const pollTimeout = 100 * time.Millisecond

func pageSize() int { return os.Getpagesize() }

// AFPacket captures from a network interface through a TPACKET_V3 ring.
// Frames returned by ReadFrame point into the ring and are valid only until
// the next call. Frames the host transmits on the interface are never
// delivered.
type AFPacket struct {
	config AFPacketConfig
	ctx    context.Context

	// mu guards handle against SetPrefilter and Stats running while the
	// reading goroutine stops the source.
	mu     sync.Mutex
	handle *afpacket.TPacket

	received atomic.Uint64
	dropped  atomic.Uint64
}

// NewAFPacket returns an AF_PACKET source for cfg.Interface.
func NewAFPacket(cfg AFPacketConfig) (*AFPacket, error) {
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &AFPacket{config: cfg}, nil
}

// Name returns the interface name.
func (s *AFPacket) Name() string { return s.config.Interface }

// Start opens the ring, joins the fanout group and attaches the prefilter,
// or an ingress-only filter when there is none.
func (s *AFPacket) Start(ctx context.Context) error {
	prog := s.config.Prefilter
	if len(prog) == 0 {
		raw, err := filter.IngressAll(uint32(s.config.SnapLen))
		if err != nil {
			return err
		}
		prog = raw
	}

	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.config.Interface),
		afpacket.OptFrameSize(s.config.frameSize),
		afpacket.OptBlockSize(s.config.BlockSize),
		afpacket.OptNumBlocks(s.config.NumBlocks),
		afpacket.OptPollTimeout(pollTimeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to create TPacket handle on %s: %w", s.config.Interface, err)
	}

	if s.config.Fanout {
		if err := handle.SetFanout(afpacket.FanoutHash, s.config.FanoutID); err != nil {
			handle.Close()
			return fmt.Errorf("failed to set fanout: %w", err)
		}
		slog.Info("afpacket fanout configured",
			"interface", s.config.Interface,
			"fanout_id", s.config.FanoutID)
	}

	if err := handle.SetBPF(prog); err != nil {
		handle.Close()
		return fmt.Errorf("failed to set BPF: %w", err)
	}
	slog.Debug("socket filter attached",
		"interface", s.config.Interface,
		"prefilter", len(s.config.Prefilter) > 0,
		"instructions", len(prog))

	if err := handle.InitSocketStats(); err != nil {
		slog.Warn("failed to init socket stats", "error", err)
	}

	s.mu.Lock()
	s.handle, s.ctx = handle, ctx
	s.mu.Unlock()
	slog.Info("afpacket capture started",
		"interface", s.config.Interface,
		"frame_size", s.config.frameSize,
		"block_size", s.config.BlockSize,
		"num_blocks", s.config.NumBlocks)
	return nil
}

// ReadFrame blocks until a frame arrives or the context is cancelled.
func (s *AFPacket) ReadFrame() (core.RawPacket, error) {
	s.mu.Lock()
	handle, ctx := s.handle, s.ctx
	s.mu.Unlock()
	if handle == nil {
		return core.RawPacket{}, core.ErrSourceNotStarted
	}
	for {
		if err := ctx.Err(); err != nil {
			return core.RawPacket{}, err
		}

		data, ci, err := handle.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, afpacket.ErrTimeout) || errors.Is(err, afpacket.ErrPoll) {
				continue
			}
			if ctx.Err() != nil {
				return core.RawPacket{}, ctx.Err()
			}
			return core.RawPacket{}, fmt.Errorf("afpacket read on %s: %w", s.config.Interface, err)
		}

		s.received.Add(1)
		return core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, nil
	}
}

// WritePacketData transmits frame out the interface.
func (s *AFPacket) WritePacketData(frame []byte) error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()
	if handle == nil {
		return core.ErrSourceNotStarted
	}
	return handle.WritePacketData(frame)
}

// SetPrefilter replaces the socket filter on a started source. raw must
// reject outgoing frames, as programs from filter.Assemble do. An empty
// program detaches nothing and is rejected.
func (s *AFPacket) SetPrefilter(raw []bpf.RawInstruction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return core.ErrSourceNotStarted
	}
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty prefilter", core.ErrConfigInvalid)
	}
	if err := s.handle.SetBPF(raw); err != nil {
		return fmt.Errorf("failed to set BPF on %s: %w", s.config.Interface, err)
	}
	slog.Debug("prefilter replaced", "interface", s.config.Interface, "instructions", len(raw))
	return nil
}

// Stats returns received frames and kernel drops.
func (s *AFPacket) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		if _, v3, err := s.handle.SocketStats(); err == nil {
			s.dropped.Store(uint64(v3.Drops()))
		}
	}
	return Stats{Received: s.received.Load(), Dropped: s.dropped.Load()}
}

// Stop closes the ring. It must be called from the goroutine that calls
// ReadFrame, after ReadFrame has returned, because the ring is unmapped.
func (s *AFPacket) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	s.handle.Close()
	s.handle = nil
	slog.Info("afpacket capture stopped", "interface", s.config.Interface)
	return nil
}

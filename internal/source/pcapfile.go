package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/frameguard/internal/core"
)

// pcapng section header block type, also its first four bytes on disk.
var ngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// PcapFile reads frames from a pcap or pcapng file. Frames it returns are
// freshly allocated and may be retained.
type PcapFile struct {
	path     string
	file     *os.File
	reader   packetReader
	ctx      context.Context
	received atomic.Uint64
}

// NewPcapFile returns a source reading path.
func NewPcapFile(path string) (*PcapFile, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: pcap path is required", core.ErrConfigInvalid)
	}
	return &PcapFile{path: path}, nil
}

// Name returns the file path.
func (s *PcapFile) Name() string { return s.path }

// Start opens the file and detects its format.
func (s *PcapFile) Start(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open pcap file %s: %w", s.path, err)
	}

	br := bufio.NewReader(f)
	magic, err := br.Peek(len(ngMagic))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read pcap header %s: %w", s.path, err)
	}

	var r packetReader
	if bytes.Equal(magic, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to parse pcap file %s: %w", s.path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("%w: link type %s in %s", core.ErrUnsupportedProto, lt, s.path)
	}

	s.file, s.reader, s.ctx = f, r, ctx
	return nil
}

// ReadFrame returns the next frame or io.EOF.
func (s *PcapFile) ReadFrame() (core.RawPacket, error) {
	if s.reader == nil {
		return core.RawPacket{}, core.ErrSourceNotStarted
	}
	if err := s.ctx.Err(); err != nil {
		return core.RawPacket{}, err
	}

	data, ci, err := s.reader.ReadPacketData()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return core.RawPacket{}, io.EOF
		}
		return core.RawPacket{}, fmt.Errorf("failed to read packet: %w", err)
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

// Stats returns the number of frames read so far.
func (s *PcapFile) Stats() Stats {
	return Stats{Received: s.received.Load()}
}

// Stop closes the file.
func (s *PcapFile) Stop() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.reader = nil, nil
	return err
}

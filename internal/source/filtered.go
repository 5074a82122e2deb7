package source

import (
	"context"
	"sync/atomic"

	"firestige.xyz/frameguard/internal/core"
)

// Filtered wraps a Source and skips frames match rejects.
type Filtered struct {
	src     Source
	match   func([]byte) bool
	skipped atomic.Uint64
}

// NewFiltered returns src restricted to the frames match accepts.
func NewFiltered(src Source, match func([]byte) bool) *Filtered {
	return &Filtered{src: src, match: match}
}

func (f *Filtered) Name() string                    { return f.src.Name() }
func (f *Filtered) Start(ctx context.Context) error { return f.src.Start(ctx) }
func (f *Filtered) Stop() error                     { return f.src.Stop() }

// ReadFrame returns the next accepted frame.
func (f *Filtered) ReadFrame() (core.RawPacket, error) {
	for {
		pkt, err := f.src.ReadFrame()
		if err != nil {
			return pkt, err
		}
		if f.match(pkt.Data) {
			return pkt, nil
		}
		f.skipped.Add(1)
	}
}

// Skipped returns the number of frames rejected so far.
func (f *Filtered) Skipped() uint64 { return f.skipped.Load() }

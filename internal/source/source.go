// Package source provides frame sources for the classification pipeline.
package source

import (
	"context"

	"firestige.xyz/frameguard/internal/core"
)

// Source delivers raw frames to one pipeline. A Source is used by a single
// goroutine.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string
	// Start opens the underlying handle.
	Start(ctx context.Context) error
	// ReadFrame blocks until the next frame is available. It returns io.EOF
	// when a finite source is exhausted and ctx.Err() once the context passed
	// to Start is cancelled. The returned frame may be valid only until the
	// next call.
	ReadFrame() (core.RawPacket, error)
	// Stop releases the handle.
	Stop() error
}

// Stats is a snapshot of source counters.
type Stats struct {
	Received uint64
	// Dropped counts frames the kernel dropped before they were read.
	Dropped uint64
}

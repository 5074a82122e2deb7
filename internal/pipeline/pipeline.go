// Package pipeline runs the classification loop for one frame source.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"firestige.xyz/frameguard/internal/actuator"
	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/source"
)

// Pipeline is a single-threaded read, classify, actuate chain. Several
// pipelines may share one Classifier.
type Pipeline struct {
	id         int
	source     source.Source
	classifier *classifier.Classifier
	actuator   actuator.Actuator
	metrics    *Metrics
	observe    func(core.RawPacket, classifier.Decision)

	// Runtime state
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Config contains pipeline configuration.
type Config struct {
	ID         int
	Source     source.Source
	Classifier *classifier.Classifier
	// Actuator defaults to actuator.Discard.
	Actuator actuator.Actuator
	// Observe, when set, is called with every decision after it is applied.
	Observe func(core.RawPacket, classifier.Decision)
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("%w: pipeline %d: source is required", core.ErrConfigInvalid, cfg.ID)
	}
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("%w: pipeline %d: classifier is required", core.ErrConfigInvalid, cfg.ID)
	}
	if cfg.Actuator == nil {
		cfg.Actuator = actuator.Discard{}
	}
	return &Pipeline{
		id:         cfg.ID,
		source:     cfg.Source,
		classifier: cfg.Classifier,
		actuator:   cfg.Actuator,
		metrics:    NewMetrics(cfg.Source.Name(), cfg.ID),
		observe:    cfg.Observe,
	}, nil
}

// ID returns the pipeline ID.
func (p *Pipeline) ID() int { return p.id }

// SourceName returns the name of the pipeline's source.
func (p *Pipeline) SourceName() string { return p.source.Name() }

// Run starts the source and classifies frames until the source is exhausted
// or ctx is cancelled, both of which return nil. The source is stopped before
// Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("pipeline %d: start source %s: %w", p.id, p.source.Name(), err)
	}
	slog.Info("pipeline started", "pipeline_id", p.id, "source", p.source.Name())

	err := p.loop(ctx)

	if stopErr := p.source.Stop(); stopErr != nil {
		slog.Warn("source stop failed", "pipeline_id", p.id, "error", stopErr)
	}
	s := p.Stats()
	slog.Info("pipeline stopped",
		"pipeline_id", p.id,
		"source", p.source.Name(),
		"received", s.Received,
		"redirect", s.Redirect,
		"drop", s.Drop,
		"truncated", s.Truncated)
	return err
}

func (p *Pipeline) loop(ctx context.Context) error {
	for {
		pkt, err := p.source.ReadFrame()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				p.metrics.ReadErrors.Add(1)
				return fmt.Errorf("pipeline %d: %w", p.id, err)
			}
		}
		p.process(pkt)
	}
}

// process classifies one frame and applies its verdict. Actuation errors are
// counted and the loop carries on with the next frame.
func (p *Pipeline) process(pkt core.RawPacket) {
	d := p.classifier.Explain(pkt.Data)
	p.metrics.record(d)

	if err := p.actuator.Apply(d.Verdict, pkt); err != nil {
		p.metrics.recordActuateError()
		slog.Debug("actuate failed", "pipeline_id", p.id, "verdict", d.Verdict, "error", err)
	}
	if p.observe != nil {
		p.observe(pkt, d)
	}
}

// Start runs the pipeline in a background goroutine.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done != nil {
		return fmt.Errorf("pipeline %d already started", p.id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		if err := p.Run(ctx); err != nil {
			slog.Error("pipeline failed", "pipeline_id", p.id, "error", err)
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
		}
	}()
	return nil
}

// Done is closed when a pipeline launched with Start has finished.
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Stop cancels a pipeline launched with Start, waits for it and closes the
// actuator. It returns the error the pipeline failed with, if any.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	if done == nil {
		return core.ErrPipelineStopped
	}

	cancel()
	<-done

	if err := p.actuator.Close(); err != nil {
		slog.Error("actuator close failed", "pipeline_id", p.id, "error", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type sourceStatser interface {
	Stats() source.Stats
}

// SourceStats returns the source's own counters when it keeps any.
func (p *Pipeline) SourceStats() (source.Stats, bool) {
	if s, ok := p.source.(sourceStatser); ok {
		return s.Stats(), true
	}
	return source.Stats{}, false
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}

package pipeline

import (
	"firestige.xyz/frameguard/internal/actuator"
	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/source"
)

// Builder provides a fluent interface for building pipelines.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithID sets the pipeline ID.
func (b *Builder) WithID(id int) *Builder {
	b.config.ID = id
	return b
}

// WithSource sets the frame source.
func (b *Builder) WithSource(s source.Source) *Builder {
	b.config.Source = s
	return b
}

// WithClassifier sets the shared classifier.
func (b *Builder) WithClassifier(c *classifier.Classifier) *Builder {
	b.config.Classifier = c
	return b
}

// WithActuator sets the actuator.
func (b *Builder) WithActuator(a actuator.Actuator) *Builder {
	b.config.Actuator = a
	return b
}

// WithObserver sets a callback invoked with every decision.
func (b *Builder) WithObserver(fn func(core.RawPacket, classifier.Decision)) *Builder {
	b.config.Observe = fn
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}

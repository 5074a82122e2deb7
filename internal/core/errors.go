// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	// Packet decoding errors
	ErrPacketTooShort   = errors.New("frameguard: packet too short")
	ErrBadHeaderLength  = errors.New("frameguard: bad header length field")
	ErrUnsupportedProto = errors.New("frameguard: unsupported protocol")

	// Rule table errors
	ErrRuleInvalid          = errors.New("frameguard: invalid rule")
	ErrPrefilterUnsupported = errors.New("frameguard: rule table cannot be expressed as a socket prefilter")

	// Pipeline errors
	ErrPipelineStopped  = errors.New("frameguard: pipeline stopped")
	ErrSourceNotStarted = errors.New("frameguard: source not started")

	// Platform errors
	ErrUnsupportedPlatform = errors.New("frameguard: unsupported on this platform")

	// Configuration errors
	ErrConfigInvalid = errors.New("frameguard: invalid configuration")

	// Daemon errors
	ErrDaemonNotRunning = errors.New("frameguard: daemon not running")
)

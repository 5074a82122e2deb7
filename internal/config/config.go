// Package config loads the frameguard configuration using viper.
package config

import (
	"fmt"
	"log/slog"
	"strings"

	"firestige.xyz/frameguard/internal/core"
	"firestige.xyz/frameguard/internal/xdp"
)

// Config represents the top-level configuration.
// Maps to the `frameguard:` root key in YAML.
type Config struct {
	PIDFile string        `mapstructure:"pid_file"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Control ControlConfig `mapstructure:"control"`
	Hook    HookConfig    `mapstructure:"hook"`
	Rules   RulesConfig   `mapstructure:"rules"`
}

// ControlConfig configures the local control socket.
type ControlConfig struct {
	// Socket is the unix socket path. Empty disables the control channel.
	Socket string `mapstructure:"socket"`
}

// ─── Hook ───

// Hook modes.
const (
	ModeAFPacket = "afpacket"
	ModeXDP      = "xdp"
)

// HookConfig selects where frames are classified.
type HookConfig struct {
	Mode       string   `mapstructure:"mode"` // afpacket | xdp
	Interfaces []string `mapstructure:"interfaces"`
	XDPMode    string   `mapstructure:"xdp_mode"` // generic | driver | offload
	// Workers is the number of AF_PACKET pipelines per interface. More than
	// one joins them into a fanout group.
	Workers      int    `mapstructure:"workers"`
	SnapLen      int    `mapstructure:"snap_len"`
	BufferSizeMB int    `mapstructure:"buffer_size_mb"`
	BlockSize    int    `mapstructure:"block_size"`
	NumBlocks    int    `mapstructure:"num_blocks"`
	FanoutID     uint16 `mapstructure:"fanout_id"`
	// Prefilter attaches the compiled table to the socket so only frames
	// with a non-Pass verdict reach userspace.
	Prefilter bool `mapstructure:"prefilter"`
	// Transmit sends Redirect frames back out the ingress interface.
	Transmit bool `mapstructure:"transmit"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	CollectInterval string `mapstructure:"collect_interval"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`  // debug / info / warn / error
	Format  string           `mapstructure:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations. Stdout is
// always written.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// ValidateAndApplyDefaults validates the configuration, fills runtime
// defaults and checks that the rule table builds.
func (cfg *Config) ValidateAndApplyDefaults() error {
	// ── Log ──
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: invalid log level: %s (must be debug/info/warn/error)", core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: invalid log format: %s (must be json/text)", core.ErrConfigInvalid, cfg.Log.Format)
	}

	// ── Hook ──
	switch cfg.Hook.Mode = strings.ToLower(cfg.Hook.Mode); cfg.Hook.Mode {
	case "":
		cfg.Hook.Mode = ModeAFPacket
	case ModeAFPacket, ModeXDP:
	default:
		return fmt.Errorf("%w: unsupported hook.mode: %s (must be afpacket/xdp)", core.ErrConfigInvalid, cfg.Hook.Mode)
	}
	if _, err := xdp.ParseMode(cfg.Hook.XDPMode); err != nil {
		return fmt.Errorf("%w: hook.xdp_mode: %v", core.ErrConfigInvalid, err)
	}
	if cfg.Hook.Workers <= 0 {
		cfg.Hook.Workers = 1
	}
	if cfg.Hook.SnapLen < 0 || cfg.Hook.BufferSizeMB < 0 || cfg.Hook.BlockSize < 0 || cfg.Hook.NumBlocks < 0 {
		return fmt.Errorf("%w: hook sizes must not be negative", core.ErrConfigInvalid)
	}
	seen := make(map[string]bool, len(cfg.Hook.Interfaces))
	for _, iface := range cfg.Hook.Interfaces {
		if iface == "" || seen[iface] {
			return fmt.Errorf("%w: hook.interfaces: empty or duplicate interface %q", core.ErrConfigInvalid, iface)
		}
		seen[iface] = true
	}

	// ── Rules ──
	if _, err := cfg.Rules.BuildTable(); err != nil {
		return err
	}
	if cfg.Rules.Truncated != core.Pass {
		slog.Warn("rules.truncated is not pass: frames with unreadable headers will not be passed",
			"truncated", cfg.Rules.Truncated)
		if cfg.Hook.Prefilter && cfg.Hook.Mode == ModeAFPacket {
			return fmt.Errorf("%w: hook.prefilter requires rules.truncated: pass", core.ErrConfigInvalid)
		}
	}

	return nil
}

// ValidateForRun checks the settings only the daemon needs.
func (cfg *Config) ValidateForRun() error {
	if len(cfg.Hook.Interfaces) == 0 {
		return fmt.Errorf("%w: hook.interfaces is required", core.ErrConfigInvalid)
	}
	return nil
}

// Package daemon implements the frameguard daemon lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cilium/ebpf"
	"golang.org/x/net/bpf"

	"firestige.xyz/frameguard/internal/actuator"
	"firestige.xyz/frameguard/internal/classifier"
	"firestige.xyz/frameguard/internal/command"
	"firestige.xyz/frameguard/internal/config"
	"firestige.xyz/frameguard/internal/filter"
	logpkg "firestige.xyz/frameguard/internal/log"
	"firestige.xyz/frameguard/internal/metrics"
	"firestige.xyz/frameguard/internal/pipeline"
	"firestige.xyz/frameguard/internal/source"
	"firestige.xyz/frameguard/internal/xdp"
)

// Version is reported by the control channel and the CLI.
const Version = "0.1.0"

// kernelHook is an attached XDP program. *xdp.Hook implements it.
type kernelHook interface {
	Interface() string
	Update(spec *ebpf.ProgramSpec) error
	Close() error
}

type prefilterSetter interface {
	SetPrefilter(raw []bpf.RawInstruction) error
}

type watchEvent struct {
	cfg *config.Config
	err error
}

// Daemon manages the frameguard process lifecycle.
type Daemon struct {
	// Configuration
	loader     *config.Loader
	config     *config.Config
	configPath string
	pidFile    string

	// Core components
	classifier    *classifier.Classifier
	pipelines     []*pipeline.Pipeline
	sources       []source.Source
	hooks         []kernelHook
	metricsServer *metrics.Server    // nil if metrics disabled
	controlServer *command.UDSServer // nil if control.socket is empty
	logCloser     io.Closer

	// Replaced in tests.
	newSource func(source.AFPacketConfig) (source.Source, error)
	attach    func(iface string, spec *ebpf.ProgramSpec, mode xdp.Mode) (kernelHook, error)

	// Lifecycle management
	mu           sync.Mutex // serialises Reload against Stop
	stopOnce     sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	watchChan    chan watchEvent
	sigChan      chan os.Signal
}

// New loads the configuration at configPath. pidFile overrides the
// configured PID file when non-empty.
func New(configPath, pidFile string) (*Daemon, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidateForRun(); err != nil {
		return nil, err
	}
	if pidFile == "" {
		pidFile = cfg.PIDFile
	}

	d := &Daemon{
		loader:       loader,
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
		watchChan:    make(chan watchEvent, 1),
		newSource: func(c source.AFPacketConfig) (source.Source, error) {
			return source.NewAFPacket(c)
		},
		attach: func(iface string, spec *ebpf.ProgramSpec, mode xdp.Mode) (kernelHook, error) {
			return xdp.Attach(iface, spec, mode)
		},
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start initializes and starts all daemon components.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting frameguard daemon",
		"config", d.configPath,
		"mode", d.config.Hook.Mode,
		"interfaces", d.config.Hook.Interfaces)

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	if err := d.startComponents(); err != nil {
		d.Stop()
		return err
	}

	slog.Info("daemon started successfully")
	return nil
}

func (d *Daemon) startComponents() error {
	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build the rule table
	table, err := d.config.Rules.BuildTable()
	if err != nil {
		return err
	}
	d.classifier = classifier.New(table)
	d.publishTable(table)
	slog.Info("rule table loaded",
		"rules", table.Len(),
		"unmatched", table.Policy().Unmatched,
		"truncated", table.Policy().Truncated)

	// 5. Install the hook
	switch d.config.Hook.Mode {
	case config.ModeXDP:
		err = d.startXDP(table)
	default:
		err = d.startAFPacket(table)
	}
	if err != nil {
		return err
	}

	// 6. Control socket
	if err := d.startControl(); err != nil {
		return fmt.Errorf("failed to start control socket: %w", err)
	}

	// 7. Background collectors
	interval, err := time.ParseDuration(d.config.Metrics.CollectInterval)
	if err != nil || interval <= 0 {
		interval = 5 * time.Second
	}
	go d.collectLoop(interval)

	if d.config.Rules.Watch {
		d.loader.Watch(func(cfg *config.Config, err error) {
			select {
			case d.watchChan <- watchEvent{cfg: cfg, err: err}:
			case <-d.ctx.Done():
			}
		})
		slog.Info("watching config file for rule changes", "path", d.configPath)
	}
	return nil
}

func (d *Daemon) startAFPacket(table *classifier.Table) error {
	hc := d.config.Hook
	var prefilter []bpf.RawInstruction
	if hc.Prefilter {
		raw, err := filter.Assemble(table, uint32(hc.SnapLen))
		if err != nil {
			return fmt.Errorf("compile prefilter: %w", err)
		}
		prefilter = raw
	}

	id := 0
	for _, iface := range hc.Interfaces {
		for w := 0; w < hc.Workers; w++ {
			src, err := d.newSource(source.AFPacketConfig{
				Interface: iface,
				SnapLen:   hc.SnapLen,
				BufferMB:  hc.BufferSizeMB,
				BlockSize: hc.BlockSize,
				NumBlocks: hc.NumBlocks,
				Fanout:    hc.Workers > 1,
				FanoutID:  hc.FanoutID,
				Prefilter: prefilter,
			})
			if err != nil {
				return fmt.Errorf("create source on %s: %w", iface, err)
			}

			var act actuator.Actuator = actuator.Discard{}
			if pw, ok := src.(actuator.PacketWriter); ok && hc.Transmit {
				act = actuator.NewTransmitter(pw)
			}

			p, err := pipeline.New(pipeline.Config{
				ID:         id,
				Source:     src,
				Classifier: d.classifier,
				Actuator:   act,
			})
			if err != nil {
				return err
			}
			if err := p.Start(); err != nil {
				return err
			}
			d.pipelines = append(d.pipelines, p)
			d.sources = append(d.sources, src)
			id++
		}
	}
	slog.Info("afpacket pipelines started", "pipelines", len(d.pipelines), "prefilter", hc.Prefilter)
	return nil
}

func (d *Daemon) startXDP(table *classifier.Table) error {
	mode, err := xdp.ParseMode(d.config.Hook.XDPMode)
	if err != nil {
		return err
	}
	spec, err := xdp.Compile(table)
	if err != nil {
		return fmt.Errorf("compile xdp program: %w", err)
	}
	for _, iface := range d.config.Hook.Interfaces {
		h, err := d.attach(iface, spec, mode)
		if err != nil {
			return err
		}
		d.hooks = append(d.hooks, h)
		metrics.HooksAttached.Inc()
	}
	return nil
}

// Stop performs graceful shutdown of all daemon components. It is safe to
// call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(d.stop)
}

func (d *Daemon) stop() {
	slog.Info("initiating graceful shutdown")

	// Before taking mu: a control request may be waiting on it in Reload.
	if d.controlServer != nil {
		d.controlServer.Stop()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	// 1. Stop pipelines (no more frames)
	for _, p := range d.pipelines {
		if err := p.Stop(); err != nil {
			slog.Error("pipeline stopped with error", "pipeline_id", p.ID(), "error", err)
		}
	}

	// 2. Detach XDP programs
	for _, h := range d.hooks {
		if err := h.Close(); err != nil {
			slog.Error("error detaching xdp program", "interface", h.Interface(), "error", err)
		}
		metrics.HooksAttached.Dec()
	}

	// 3. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
	}

	// 4. Cancel context to signal all goroutines
	d.cancel()

	// 5. Unregister signal handler to prevent goroutine leak
	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 6. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("daemon stopped gracefully")

	// 7. Close the log file last
	if d.logCloser != nil {
		d.logCloser.Close()
	}
}

// Run runs the daemon main loop, blocking until shutdown is triggered.
// SIGTERM and SIGINT shut down, SIGHUP and config file changes reload the
// rule table.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("daemon running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				slog.Info("received reload signal")
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload config", "error", err)
				}
			}

		case ev := <-d.watchChan:
			if ev.err != nil {
				metrics.ReloadsTotal.WithLabelValues(metrics.ReloadRejected).Inc()
				slog.Error("changed config rejected, keeping active table", "error", ev.err)
				continue
			}
			if err := d.apply(ev.cfg); err != nil {
				slog.Error("failed to apply changed config", "error", err)
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case <-d.ctx.Done():
			slog.Info("context cancelled", "error", d.ctx.Err())
			d.Stop()
			return d.ctx.Err()
		}
	}
}

// TriggerShutdown asks Run to stop.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

// Reload re-reads the configuration file and installs its rule table. An
// invalid file or table is rejected and the active table stays in place.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	cfg, err := d.loader.Load()
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues(metrics.ReloadRejected).Inc()
		return fmt.Errorf("failed to load new config: %w", err)
	}
	return d.apply(cfg)
}

// apply installs the table of cfg. The table is built and compiled before
// anything live is touched.
func (d *Daemon) apply(cfg *config.Config) error {
	start := time.Now()
	reject := func(err error) error {
		metrics.ReloadsTotal.WithLabelValues(metrics.ReloadRejected).Inc()
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return reject(fmt.Errorf("daemon is stopping"))
	}

	table, err := cfg.Rules.BuildTable()
	if err != nil {
		return reject(err)
	}

	var spec *ebpf.ProgramSpec
	var prefilter []bpf.RawInstruction
	switch {
	case len(d.hooks) > 0:
		if spec, err = xdp.Compile(table); err != nil {
			return reject(fmt.Errorf("compile xdp program: %w", err))
		}
	case d.config.Hook.Prefilter:
		if prefilter, err = filter.Assemble(table, uint32(d.config.Hook.SnapLen)); err != nil {
			return reject(fmt.Errorf("compile prefilter: %w", err))
		}
	}

	// Userspace first: every frame the kernel hands up is then classified by
	// the new table.
	if _, err := d.classifier.Swap(table); err != nil {
		return reject(err)
	}

	var errs []error
	for _, h := range d.hooks {
		if err := h.Update(spec); err != nil {
			errs = append(errs, err)
		}
	}
	if prefilter != nil {
		for _, src := range d.sources {
			if ps, ok := src.(prefilterSetter); ok {
				if err := ps.SetPrefilter(prefilter); err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
				}
			}
		}
	}

	d.reloadAmbient(cfg)
	d.publishTable(table)
	metrics.ReloadDurationSeconds.Observe(time.Since(start).Seconds())

	if err := errors.Join(errs...); err != nil {
		metrics.ReloadsTotal.WithLabelValues(metrics.ReloadRejected).Inc()
		return fmt.Errorf("rule table swapped but not installed everywhere: %w", err)
	}
	metrics.ReloadsTotal.WithLabelValues(metrics.ReloadOK).Inc()
	slog.Info("rule table reloaded",
		"generation", d.classifier.Generation(),
		"rules", table.Len(),
		"duration", time.Since(start))
	return nil
}

// reloadAmbient applies the hot-reloadable settings of cfg and warns about
// the ones that need a restart.
func (d *Daemon) reloadAmbient(cfg *config.Config) {
	old := d.config

	var requiresRestart []string
	if !reflect.DeepEqual(cfg.Hook, old.Hook) {
		requiresRestart = append(requiresRestart, "hook")
	}
	if cfg.Metrics.Listen != old.Metrics.Listen || cfg.Metrics.Enabled != old.Metrics.Enabled {
		requiresRestart = append(requiresRestart, "metrics")
	}
	if cfg.PIDFile != old.PIDFile {
		requiresRestart = append(requiresRestart, "pid_file")
	}
	if cfg.Control != old.Control {
		requiresRestart = append(requiresRestart, "control")
	}

	// Settings that only take effect at Start keep their running values.
	cfg.Hook = old.Hook
	cfg.Metrics = old.Metrics
	cfg.PIDFile = old.PIDFile
	cfg.Control = old.Control
	d.config = cfg

	if !reflect.DeepEqual(cfg.Log, old.Log) {
		oldCloser := d.logCloser
		if err := d.initLogging(); err != nil {
			slog.Error("failed to reinitialize logging", "error", err)
		} else if oldCloser != nil {
			oldCloser.Close()
		}
	}

	if len(requiresRestart) > 0 {
		slog.Warn("changed settings require a restart", "settings", requiresRestart)
	}
}

func (d *Daemon) publishTable(t *classifier.Table) {
	metrics.TableGeneration.Set(float64(d.classifier.Generation()))
	metrics.TableRules.Set(float64(t.Len()))
}

// collectLoop exports source counters every interval.
func (d *Daemon) collectLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.collect()
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Daemon) collect() {
	drops := make(map[string]uint64)
	var total pipeline.Stats
	for _, p := range d.pipelines {
		total = total.Add(p.Stats())
		if s, ok := p.SourceStats(); ok {
			drops[p.SourceName()] += s.Dropped
		}
	}
	for iface, n := range drops {
		metrics.SourceDropsTotal.WithLabelValues(iface).Set(float64(n))
	}
	slog.Debug("pipeline stats",
		"received", total.Received,
		"pass", total.Pass,
		"redirect", total.Redirect,
		"drop", total.Drop,
		"truncated", total.Truncated,
		"actuate_errors", total.ActuateErrors)
}

// Stats sums the counters of every pipeline.
func (d *Daemon) Stats() pipeline.Stats {
	var total pipeline.Stats
	for _, p := range d.pipelines {
		total = total.Add(p.Stats())
	}
	return total
}

// Classifier returns the shared classifier.
func (d *Daemon) Classifier() *classifier.Classifier { return d.classifier }

// initLogging initializes the logging system from config.
func (d *Daemon) initLogging() error {
	closer, err := logpkg.Init(d.config.Log)
	if err != nil {
		return err
	}
	d.logCloser = closer

	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// startControl opens the control socket when one is configured.
func (d *Daemon) startControl() error {
	if d.config.Control.Socket == "" {
		return nil
	}
	handler := command.NewCommandHandler(d, command.Info{
		Version:    Version,
		Mode:       d.config.Hook.Mode,
		Interfaces: d.config.Hook.Interfaces,
	})
	srv := command.NewUDSServer(d.config.Control.Socket, handler)
	if err := srv.Start(d.ctx); err != nil {
		return err
	}
	d.controlServer = srv
	return nil
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Info("metrics server disabled")
		return nil
	}

	d.metricsServer = metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := d.metricsServer.Start(d.ctx); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(d.pidFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

// removePIDFile removes the PID file.
func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file removed", "path", d.pidFile)
	return nil
}

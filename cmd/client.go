package cmd

import (
	"context"
	"time"

	"firestige.xyz/frameguard/internal/command"
	"firestige.xyz/frameguard/internal/config"
)

const defaultSocket = "/var/run/frameguard.sock"

// DaemonClient defines the interface for talking to a running daemon.
// *command.UDSClient implements it.
type DaemonClient interface {
	Status(ctx context.Context) (command.StatusResult, error)
	Stats(ctx context.Context) (command.StatsResult, error)
	Reload(ctx context.Context) (command.ReloadResult, error)
	Shutdown(ctx context.Context) error
	Table(ctx context.Context) (command.TableResult, error)
	Classify(ctx context.Context, frame []byte) (command.ClassifyResult, error)
}

// cli is the injected client. Tests replace it through SetClient.
var cli DaemonClient

// SetClient sets the client used by the control commands.
func SetClient(c DaemonClient) { cli = c }

// GetClient returns the client used by the control commands, dialing the
// control socket when none was injected.
func GetClient() DaemonClient {
	if cli != nil {
		return cli
	}
	return command.NewUDSClient(daemonSocket(), 10*time.Second)
}

// daemonSocket resolves the control socket path.
func daemonSocket() string {
	if socketPath != "" {
		return socketPath
	}
	if cfg, err := config.Load(configFile); err == nil && cfg.Control.Socket != "" {
		return cfg.Control.Socket
	}
	return defaultSocket
}

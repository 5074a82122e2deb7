package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// rootKey is the YAML root; env vars use the FRAMEGUARD_ prefix through the
// key replacer, e.g. FRAMEGUARD_LOG_LEVEL.
const rootKey = "frameguard"

// configRoot is the top-level wrapper matching the YAML structure `frameguard: ...`.
type configRoot struct {
	Frameguard Config `mapstructure:"frameguard"`
}

// Load loads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Loader reads one configuration file and can watch it for changes.
type Loader struct {
	path string

	mu sync.Mutex
	v  *viper.Viper
}

// NewLoader returns a loader for path.
func NewLoader(path string) *Loader {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{path: path, v: v}
}

// Path returns the config file path.
func (l *Loader) Path() string { return l.path }

// Load reads the file and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var root configRoot
	if err := l.v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Frameguard

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Watch calls fn with the re-decoded configuration every time the file
// changes. A config that fails to decode or validate is passed as an error.
func (l *Loader) Watch(fn func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		slog.Info("config file changed", "path", e.Name, "op", e.Op.String())

		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		fn(cfg, err)
	})
	l.v.WatchConfig()
}

// decodeHook lets YAML strings populate verdicts (TextUnmarshaler), a comma
// separated interface list and the raw-number fields.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		stringToSliceHook(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// stringToSliceHook splits "eth0,eth1" into a slice, trimming blanks. It is
// what makes FRAMEGUARD_HOOK_INTERFACES usable.
func stringToSliceHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if from.Kind() != reflect.String || to.Kind() != reflect.Slice || to.Elem().Kind() != reflect.String {
			return data, nil
		}
		s := strings.TrimSpace(data.(string))
		if s == "" {
			return []string{}, nil
		}
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
		return parts, nil
	}
}

// setDefaults sets default values for configuration.
// All keys use the "frameguard." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	key := func(k string) string { return rootKey + "." + k }

	v.SetDefault(key("pid_file"), "/var/run/frameguard.pid")
	v.SetDefault(key("control.socket"), "/var/run/frameguard.sock")

	// Log defaults
	v.SetDefault(key("log.level"), "info")
	v.SetDefault(key("log.format"), "json")
	v.SetDefault(key("log.outputs.file.enabled"), false)
	v.SetDefault(key("log.outputs.file.path"), "/var/log/frameguard/frameguard.log")
	v.SetDefault(key("log.outputs.file.rotation.max_size_mb"), 100)
	v.SetDefault(key("log.outputs.file.rotation.max_age_days"), 30)
	v.SetDefault(key("log.outputs.file.rotation.max_backups"), 5)
	v.SetDefault(key("log.outputs.file.rotation.compress"), true)

	// Metrics defaults
	v.SetDefault(key("metrics.enabled"), true)
	v.SetDefault(key("metrics.listen"), ":9091")
	v.SetDefault(key("metrics.path"), "/metrics")
	v.SetDefault(key("metrics.collect_interval"), "5s")

	// Hook defaults
	v.SetDefault(key("hook.mode"), ModeAFPacket)
	v.SetDefault(key("hook.interfaces"), []string{})
	v.SetDefault(key("hook.xdp_mode"), "generic")
	v.SetDefault(key("hook.workers"), 1)
	v.SetDefault(key("hook.snap_len"), 65535)
	v.SetDefault(key("hook.buffer_size_mb"), 64)
	v.SetDefault(key("hook.fanout_id"), 42)
	v.SetDefault(key("hook.prefilter"), true)
	v.SetDefault(key("hook.transmit"), true)

	// Rules defaults
	v.SetDefault(key("rules.watch"), false)
	v.SetDefault(key("rules.ipv4_options"), false)
	v.SetDefault(key("rules.unmatched"), "pass")
	v.SetDefault(key("rules.truncated"), "pass")
}

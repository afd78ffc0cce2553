package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/dgpool/internal/supervisor"
	"github.com/danmuck/dgpool/internal/worker"
	"gopkg.in/yaml.v3"
)

const envConfig = "DGPOOL_CONFIG"

var errMetricsOverlap = errors.New("worker_metrics_base_port range overlaps worker ports")

type fileConfig struct {
	BasePort              int      `toml:"base_port" yaml:"base_port"`
	Host                  string   `toml:"host" yaml:"host"`
	ReadTimeout           string   `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout          string   `toml:"write_timeout" yaml:"write_timeout"`
	Heartbeat             string   `toml:"heartbeat" yaml:"heartbeat"`
	ShutdownGrace         string   `toml:"shutdown_grace" yaml:"shutdown_grace"`
	AdminAddr             string   `toml:"admin_addr" yaml:"admin_addr"`
	WorkerMetricsBasePort int      `toml:"worker_metrics_base_port" yaml:"worker_metrics_base_port"`
	Engine                string   `toml:"engine" yaml:"engine"`
	EngineCommand         []string `toml:"engine_command" yaml:"engine_command"`
	EngineTimeout         string   `toml:"engine_timeout" yaml:"engine_timeout"`
	RebindAttempts        int      `toml:"rebind_attempts" yaml:"rebind_attempts"`
	RebindBackoffInitial  string   `toml:"rebind_backoff_initial" yaml:"rebind_backoff_initial"`
	RebindBackoffMax      string   `toml:"rebind_backoff_max" yaml:"rebind_backoff_max"`
}

// appConfig is everything one dgpool process needs, supervisor or worker.
// Worker.Port is filled per worker process.
type appConfig struct {
	Supervisor            supervisor.Config
	Worker                worker.Config
	WorkerMetricsBasePort int
	Engine                string
	EngineCommand         []string
	EngineTimeout         time.Duration
}

func defaultAppConfig() appConfig {
	return appConfig{
		Supervisor:    supervisor.DefaultConfig(),
		Worker:        worker.DefaultConfig(0),
		EngineTimeout: 10 * time.Second,
	}
}

// loadConfig reads path, or returns the defaults when path is empty. The
// format follows the extension: .toml, .yaml or .yml.
func loadConfig(path string) (appConfig, error) {
	cfg := defaultAppConfig()
	path = strings.TrimSpace(path)
	if path == "" {
		return cfg, nil
	}

	var (
		raw     fileConfig
		defined func(key string) bool
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return appConfig{}, fmt.Errorf("load dgpool config: %w", err)
		}
		defined = func(key string) bool { return meta.IsDefined(key) }
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return appConfig{}, fmt.Errorf("load dgpool config: %w", err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return appConfig{}, fmt.Errorf("load dgpool config: %w", err)
		}
		keys := map[string]any{}
		if err := yaml.Unmarshal(data, &keys); err != nil {
			return appConfig{}, fmt.Errorf("load dgpool config: %w", err)
		}
		defined = func(key string) bool {
			_, ok := keys[key]
			return ok
		}
	default:
		return appConfig{}, fmt.Errorf("load dgpool config: unsupported extension %q", ext)
	}

	if defined("base_port") {
		cfg.Supervisor.BasePort = raw.BasePort
	}
	if defined("host") {
		if host := strings.TrimSpace(raw.Host); host != "" {
			cfg.Supervisor.Host = host
			cfg.Worker.Host = host
		}
	}
	if defined("admin_addr") {
		cfg.Supervisor.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if defined("worker_metrics_base_port") {
		cfg.WorkerMetricsBasePort = raw.WorkerMetricsBasePort
	}
	if defined("engine") {
		cfg.Engine = strings.TrimSpace(raw.Engine)
	}
	if defined("engine_command") {
		cfg.EngineCommand = normalizeCommand(raw.EngineCommand)
	}
	if defined("rebind_attempts") {
		cfg.Worker.BindAttempts = raw.RebindAttempts
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"read_timeout", raw.ReadTimeout, &cfg.Worker.Session.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Worker.Session.WriteTimeout},
		{"heartbeat", raw.Heartbeat, &cfg.Supervisor.Heartbeat},
		{"shutdown_grace", raw.ShutdownGrace, &cfg.Supervisor.ShutdownGrace},
		{"engine_timeout", raw.EngineTimeout, &cfg.EngineTimeout},
		{"rebind_backoff_initial", raw.RebindBackoffInitial, &cfg.Worker.Session.Backoff.InitialDelay},
		{"rebind_backoff_max", raw.RebindBackoffMax, &cfg.Worker.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !defined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return appConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return cfg, nil
}

// metricsAddr is the per-worker /metrics address, or "" when disabled.
func (c appConfig) metricsAddr(index int) string {
	if c.WorkerMetricsBasePort <= 0 {
		return ""
	}
	return net.JoinHostPort(c.Worker.Host, strconv.Itoa(c.WorkerMetricsBasePort+index))
}

// checkPorts rejects a worker metrics range that overlaps the worker range
// for the resolved worker count.
func (c appConfig) checkPorts() error {
	if c.WorkerMetricsBasePort <= 0 {
		return nil
	}
	n := c.Supervisor.Workers
	base, metrics := c.Supervisor.BasePort, c.WorkerMetricsBasePort
	if metrics < base+n && base < metrics+n {
		return fmt.Errorf("%w: workers %d-%d, metrics %d-%d", errMetricsOverlap, base, base+n-1, metrics, metrics+n-1)
	}
	return nil
}

func normalizeCommand(in []string) []string {
	out := make([]string, 0, len(in))
	for _, arg := range in {
		if v := strings.TrimSpace(arg); v != "" {
			out = append(out, v)
		}
	}
	return out
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Swind/go-after-you/core"
	"github.com/Swind/go-after-you/host"
	"github.com/Swind/go-after-you/worker"
	yaml "github.com/goccy/go-yaml"
)

// Config mirrors afteryou.yaml
type Config struct {
	Scheduler SchedulerSection `yaml:"scheduler"`
	Throttle  ThrottleSection  `yaml:"throttle"`
	Host      HostSection      `yaml:"host"`
	Worker    WorkerSection    `yaml:"worker"`
	Log       LogSection       `yaml:"log"`
	Metrics   MetricsSection   `yaml:"metrics"`
}

type SchedulerSection struct {
	Name          string `yaml:"name"`            // "main" (by default)
	FrameBudgetMS int    `yaml:"frame_budget_ms"` // 5 (by default)
	AwaitPending  *bool  `yaml:"await_pending"`   // true (by default)
	History       int    `yaml:"history"`         // 100 (by default)
}

type ThrottleSection struct {
	GlobalBudgetMS int `yaml:"global_budget_ms"` // 5 (by default)
}

type HostSection struct {
	SelfDriving     *bool    `yaml:"self_driving"`       // true (by default)
	MinTimerDelayMS int      `yaml:"min_timer_delay_ms"` // 4 (by default)
	Disable         []string `yaml:"disable"`            // primitives to switch off
	TerminalInput   bool     `yaml:"terminal_input"`     // poll stdin for pending input
}

type WorkerSection struct {
	Enabled   *bool  `yaml:"enabled"`    // true (by default)
	TimeoutMS int    `yaml:"timeout_ms"` // 0 = no timeout
	TempDir   string `yaml:"temp_dir"`
}

type LogSection struct {
	Level string `yaml:"level"` // info (by default)
}

type MetricsSection struct {
	Listen         string `yaml:"listen"`           // ":9090" (by default)
	Namespace      string `yaml:"namespace"`        // "afteryou" (by default)
	PollIntervalMS int    `yaml:"poll_interval_ms"` // 1000 (by default)
}

// Primitive names accepted by host.disable.
const (
	PrimitiveSchedulerYield    = "scheduler_yield"
	PrimitivePostTask          = "post_task"
	PrimitiveMessageChannel    = "message_channel"
	PrimitiveInputPending      = "input_pending"
	PrimitiveIsolatedExecution = "isolated_execution"
)

// Default returns the configuration used when no file is given.
func Default() Config {
	yes := true
	return Config{
		Scheduler: SchedulerSection{Name: "main", FrameBudgetMS: 5, AwaitPending: &yes, History: 100},
		Throttle:  ThrottleSection{GlobalBudgetMS: 5},
		Host:      HostSection{SelfDriving: &yes, MinTimerDelayMS: 4},
		Worker:    WorkerSection{Enabled: &yes},
		Log:       LogSection{Level: "info"},
		Metrics:   MetricsSection{Listen: ":9090", Namespace: "afteryou", PollIntervalMS: 1000},
	}
}

// Load reads YAML and overrides defaults; empty path or a missing file = defaults only
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML on top of the defaults and applies sanity clamps.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.clamp()
	return cfg, nil
}

func (c *Config) validate() error {
	for _, name := range c.Host.Disable {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case PrimitiveSchedulerYield, PrimitivePostTask, PrimitiveMessageChannel,
			PrimitiveInputPending, PrimitiveIsolatedExecution:
		default:
			return fmt.Errorf("host.disable: unknown primitive %q", name)
		}
	}
	return nil
}

// sanity clamps
func (c *Config) clamp() {
	def := Default()
	if c.Scheduler.Name == "" {
		c.Scheduler.Name = def.Scheduler.Name
	}
	if c.Scheduler.FrameBudgetMS <= 0 {
		c.Scheduler.FrameBudgetMS = def.Scheduler.FrameBudgetMS
	}
	if c.Scheduler.AwaitPending == nil {
		c.Scheduler.AwaitPending = def.Scheduler.AwaitPending
	}
	if c.Scheduler.History <= 0 {
		c.Scheduler.History = def.Scheduler.History
	}
	if c.Throttle.GlobalBudgetMS < 0 {
		c.Throttle.GlobalBudgetMS = def.Throttle.GlobalBudgetMS
	}
	if c.Host.SelfDriving == nil {
		c.Host.SelfDriving = def.Host.SelfDriving
	}
	if c.Host.MinTimerDelayMS <= 0 {
		c.Host.MinTimerDelayMS = def.Host.MinTimerDelayMS
	}
	if c.Worker.Enabled == nil {
		c.Worker.Enabled = def.Worker.Enabled
	}
	if c.Worker.TimeoutMS < 0 {
		c.Worker.TimeoutMS = 0
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = def.Metrics.Namespace
	}
	if c.Metrics.PollIntervalMS <= 0 {
		c.Metrics.PollIntervalMS = def.Metrics.PollIntervalMS
	}
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c Config) disabled(primitive string) bool {
	for _, name := range c.Host.Disable {
		if strings.EqualFold(strings.TrimSpace(name), primitive) {
			return true
		}
	}
	return false
}

// Logger builds the logger selected by log.level.
func (c Config) Logger() core.Logger {
	return core.NewDefaultLoggerWithLevel(core.ParseLevel(c.Log.Level))
}

// SchedulerConfig maps the scheduler section. Metrics are left for the caller.
func (c Config) SchedulerConfig(logger core.Logger) *core.SchedulerConfig {
	cfg := core.DefaultSchedulerConfig()
	cfg.Name = c.Scheduler.Name
	cfg.FrameBudget = ms(c.Scheduler.FrameBudgetMS)
	cfg.AwaitPending = c.Scheduler.AwaitPending == nil || *c.Scheduler.AwaitPending
	cfg.HistoryCapacity = c.Scheduler.History
	if logger != nil {
		cfg.Logger = logger
		cfg.TaskErrorHandler = &core.DefaultTaskErrorHandler{Logger: logger}
	}
	return cfg
}

// ThrottleConfig maps the throttle section.
func (c Config) ThrottleConfig(logger core.Logger) *core.ThrottleConfig {
	cfg := core.DefaultThrottleConfig()
	cfg.GlobalBudget = ms(c.Throttle.GlobalBudgetMS)
	if logger != nil {
		cfg.Logger = logger
	}
	return cfg
}

// HostOptions maps the host section.
func (c Config) HostOptions(logger core.Logger) host.Options {
	opts := host.Options{
		SelfDriving:              c.Host.SelfDriving == nil || *c.Host.SelfDriving,
		DisableSchedulerYield:    c.disabled(PrimitiveSchedulerYield),
		DisablePostTask:          c.disabled(PrimitivePostTask),
		DisableMessageChannel:    c.disabled(PrimitiveMessageChannel),
		DisableInputPending:      c.disabled(PrimitiveInputPending),
		DisableIsolatedExecution: c.disabled(PrimitiveIsolatedExecution),
		MinTimerDelay:            ms(c.Host.MinTimerDelayMS),
		Logger:                   logger,
	}
	if c.Host.TerminalInput {
		opts.Input = host.NewTerminalInput(os.Stdin)
	}
	return opts
}

// WorkerOptions maps the worker section. caps gates it on the host's
// isolated execution capability.
func (c Config) WorkerOptions(caps core.Capabilities, logger core.Logger) worker.Options {
	return worker.Options{
		Enabled:        caps.IsolatedExecution && (c.Worker.Enabled == nil || *c.Worker.Enabled),
		DefaultTimeout: ms(c.Worker.TimeoutMS),
		TempDir:        c.Worker.TempDir,
		Logger:         logger,
	}
}

// PollInterval is the metrics snapshot interval.
func (c Config) PollInterval() time.Duration {
	return ms(c.Metrics.PollIntervalMS)
}

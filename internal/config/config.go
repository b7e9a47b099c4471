// Package config handles loading and hot-reloading of the scenario YAML
// configuration via Viper. All struct fields map 1-to-1 with scenario.yaml.
package config

import (
	"fmt"
	"log/slog"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BackendCfg is the YAML representation of a single simulated backend.
type BackendCfg struct {
	Name          string  `mapstructure:"name"`
	BaseLatencyMS float64 `mapstructure:"base_latency_ms"`
}

// PriorityMixCfg controls the fraction of generated requests at each
// priority tier. The three fractions need not sum to exactly 1.0; they are
// normalized at request-generation time.
type PriorityMixCfg struct {
	Background float64 `mapstructure:"background"`
	Normal     float64 `mapstructure:"normal"`
	Critical   float64 `mapstructure:"critical"`
}

// FaultCfg schedules a single fault-injection event against one backend at a
// given tick. Action is one of "kill", "revive", or "degrade".
type FaultCfg struct {
	Tick              int64   `mapstructure:"tick"`
	Backend           string  `mapstructure:"backend"`
	Action            string  `mapstructure:"action"`
	LatencyMultiplier float64 `mapstructure:"latency_multiplier"`
	ErrorRate         float64 `mapstructure:"error_rate"`
}

// AdminCfg controls the management/metrics HTTP server.
type AdminCfg struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
}

// RateLimitCfg controls per-IP token-bucket rate limiting on the admin
// surface.
type RateLimitCfg struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

// AuthCfg controls JWT Bearer-token authentication on the admin surface.
type AuthCfg struct {
	Enabled bool     `mapstructure:"enabled"`
	Secret  string   `mapstructure:"secret"`
	Exclude []string `mapstructure:"exclude"`
}

// Scenario is the top-level demo-harness configuration: the backend pool,
// the run length, the request generation rate and priority mix, and the
// fault schedule to apply as the run progresses.
type Scenario struct {
	Seed            int64          `mapstructure:"seed"`
	Backends        []BackendCfg   `mapstructure:"backends"`
	Ticks           int64          `mapstructure:"ticks"`
	RequestsPerTick int            `mapstructure:"requests_per_tick"`
	PriorityMix     PriorityMixCfg `mapstructure:"priority_mix"`
	Faults          []FaultCfg     `mapstructure:"faults"`
	RateLimit       RateLimitCfg   `mapstructure:"rate_limit"`
	Auth            AuthCfg        `mapstructure:"auth"`
	Admin           AdminCfg       `mapstructure:"admin"`
}

// Default returns a sensible 3-backend steady-state scenario.
func Default() Scenario {
	return Scenario{
		Seed: 42,
		Backends: []BackendCfg{
			{Name: "b0", BaseLatencyMS: 50},
			{Name: "b1", BaseLatencyMS: 50},
			{Name: "b2", BaseLatencyMS: 50},
		},
		Ticks:           200,
		RequestsPerTick: 30,
		PriorityMix:     PriorityMixCfg{Background: 0.2, Normal: 0.6, Critical: 0.2},
		RateLimit:       RateLimitCfg{Enabled: false, RPS: 100, Burst: 200},
		Auth:            AuthCfg{Enabled: false},
		Admin:           AdminCfg{Enabled: true, ListenAddr: ":9091"},
	}
}

// Load reads and parses the YAML file at path using Viper.
// It returns the parsed Scenario and the Viper instance (needed for Watch).
func Load(path string) (Scenario, *viper.Viper, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return Scenario{}, nil, fmt.Errorf("config: reading %q: %w", path, err)
	}
	cfg, err := unmarshal(v)
	if err != nil {
		return Scenario{}, nil, err
	}
	return cfg, v, nil
}

// Watch registers an onChange callback that fires whenever the scenario file
// is saved. The callback receives a freshly parsed Scenario. Invalid reloads
// are logged and silently skipped (the previous scenario stays active) so a
// bad edit never interrupts a running demo.
func Watch(v *viper.Viper, onChange func(Scenario)) {
	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshal(v)
		if err != nil {
			slog.Error("scenario hot-reload failed", "error", err)
			return
		}
		slog.Info("scenario hot-reloaded",
			"backends", len(cfg.Backends),
			"ticks", cfg.Ticks,
			"faults", len(cfg.Faults),
		)
		onChange(cfg)
	})
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("seed", 42)
	v.SetDefault("ticks", 200)
	v.SetDefault("requests_per_tick", 30)
	v.SetDefault("priority_mix.background", 0.2)
	v.SetDefault("priority_mix.normal", 0.6)
	v.SetDefault("priority_mix.critical", 0.2)
	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.rps", 100.0)
	v.SetDefault("rate_limit.burst", 200)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("admin.enabled", true)
	v.SetDefault("admin.listen_addr", ":9091")

	return v
}

func unmarshal(v *viper.Viper) (Scenario, error) {
	var cfg Scenario
	if err := v.Unmarshal(&cfg); err != nil {
		return Scenario{}, fmt.Errorf("config: parsing: %w", err)
	}
	if len(cfg.Backends) == 0 {
		return Scenario{}, fmt.Errorf("config: at least one backend must be defined")
	}
	seen := make(map[string]bool, len(cfg.Backends))
	for i, b := range cfg.Backends {
		if b.Name == "" {
			return Scenario{}, fmt.Errorf("config: backend[%d] has empty name", i)
		}
		if seen[b.Name] {
			return Scenario{}, fmt.Errorf("config: duplicate backend name %q", b.Name)
		}
		seen[b.Name] = true
		if b.BaseLatencyMS <= 0 {
			cfg.Backends[i].BaseLatencyMS = 50
		}
	}
	for i, f := range cfg.Faults {
		if !seen[f.Backend] {
			return Scenario{}, fmt.Errorf("config: fault[%d] references unknown backend %q", i, f.Backend)
		}
		switch f.Action {
		case "kill", "revive", "degrade":
		default:
			return Scenario{}, fmt.Errorf("config: fault[%d] has unknown action %q", i, f.Action)
		}
	}
	if cfg.RequestsPerTick <= 0 {
		cfg.RequestsPerTick = 30
	}
	return cfg, nil
}

// BackendNames returns the configured backend names in declaration order.
func (s Scenario) BackendNames() []string {
	names := make([]string, len(s.Backends))
	for i, b := range s.Backends {
		names[i] = b.Name
	}
	return names
}

// FaultsAt returns the faults scheduled for exactly the given tick.
func (s Scenario) FaultsAt(tick int64) []FaultCfg {
	var out []FaultCfg
	for _, f := range s.Faults {
		if f.Tick == tick {
			out = append(out, f)
		}
	}
	return out
}

// Normalized returns the priority mix scaled so its three components sum to
// 1.0. A zero-sum mix falls back to an even three-way split.
func (m PriorityMixCfg) Normalized() (background, normal, critical float64) {
	total := m.Background + m.Normal + m.Critical
	if total <= 0 {
		return 1.0 / 3.0, 1.0 / 3.0, 1.0 / 3.0
	}
	return m.Background / total, m.Normal / total, m.Critical / total
}

// Package config loads the handful of runtime tunables the core
// subsystems need (scheduler constants, process ceilings, FIM ignore
// patterns) from an optional TOML file. It is deliberately thin: no
// layered environment/flag precedence, no hot-reload — configuration
// loading and serialization are out of scope for the core per the
// specification, so this package exists only to hand constructors their
// inputs, never to model a [MODULE] in its own right.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Scheduler holds the tunable constants of the CFS-style scheduler.
type Scheduler struct {
	TargetLatency     time.Duration `toml:"target_latency"`
	MinGranularity    time.Duration `toml:"min_granularity"`
	WakeupGranularity time.Duration `toml:"wakeup_granularity"`
	TickInterval      time.Duration `toml:"tick_interval"`
	BalanceInterval   time.Duration `toml:"balance_interval"`
	NumCPU            int           `toml:"num_cpu"`
}

// Process holds the process-subsystem ceilings.
type Process struct {
	MaxPID      int `toml:"max_pid"`
	MaxProcs    int `toml:"max_processes"`
	ReapInterval time.Duration `toml:"reap_interval"`
}

// FIM holds file-integrity-monitor tunables.
type FIM struct {
	HashAlgorithm string   `toml:"hash_algorithm"`
	IgnorePatterns []string `toml:"ignore_patterns"`
	MaxAlertHistory int     `toml:"max_alert_history"`
}

// Audit holds audit-log persistence tunables.
type Audit struct {
	LogPath          string `toml:"log_path"`
	StructuredPath   string `toml:"structured_path"`
	MaxLogBytes      int64  `toml:"max_log_bytes"`
	MaxRotatedLogs   int    `toml:"max_rotated_logs"`
	SynchronousFlush bool   `toml:"synchronous_flush"`
}

// Config is the root of the loaded configuration tree.
type Config struct {
	Scheduler Scheduler `toml:"scheduler"`
	Process   Process   `toml:"process"`
	FIM       FIM       `toml:"fim"`
	Audit     Audit     `toml:"audit"`
}

// Default returns the compiled-in defaults used when no file is given.
func Default() *Config {
	return &Config{
		Scheduler: Scheduler{
			TargetLatency:     6 * time.Millisecond,
			MinGranularity:    750 * time.Microsecond,
			WakeupGranularity: 1 * time.Millisecond,
			TickInterval:      1 * time.Millisecond,
			BalanceInterval:   100 * time.Millisecond,
			NumCPU:            4,
		},
		Process: Process{
			MaxPID:       1 << 22,
			MaxProcs:     4096,
			ReapInterval: 500 * time.Millisecond,
		},
		FIM: FIM{
			HashAlgorithm:   "sha256",
			MaxAlertHistory: 64,
		},
		Audit: Audit{
			LogPath:        "audit.log",
			StructuredPath: "audit.json",
			MaxLogBytes:    10 << 20,
			MaxRotatedLogs: 5,
		},
	}
}

// Load reads path as TOML over top of Default(), so a partial file only
// overrides the fields it sets.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

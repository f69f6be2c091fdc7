package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full engine configuration
type Config struct {
	// APIAddr is the listen address for the HTTP control surface
	APIAddr string `yaml:"api_addr"`

	// MetricsAddr is the listen address for /metrics and health probes
	MetricsAddr string `yaml:"metrics_addr"`

	// DataDir holds the bbolt state database
	DataDir string `yaml:"data_dir"`

	// VaultURL is the external pattern-vault collaborator
	VaultURL string `yaml:"vault_url"`

	Clock     ClockConfig     `yaml:"clock"`
	Beacon    BeaconConfig    `yaml:"beacon"`
	Monitor   MonitorConfig   `yaml:"monitor"`
	Drift     DriftConfig     `yaml:"drift"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Broadcast BroadcastConfig `yaml:"broadcast"`
}

// ClockConfig tunes the heartbeat clock
type ClockConfig struct {
	// TickInterval is the spacing between cycle advances
	TickInterval time.Duration `yaml:"tick_interval"`

	// MaxConsecutiveDelays bounds how many ticks in a row may be delayed
	// by an open sync window before an overload alert fires
	MaxConsecutiveDelays int `yaml:"max_consecutive_delays"`
}

// BeaconConfig tunes the sync beacon
type BeaconConfig struct {
	// AckWindowBase is scaled by AckWindowMultiplier to form the
	// acknowledgement deadline; the multiplier absorbs normal network
	// jitter without false missed-sync reports
	AckWindowBase       time.Duration `yaml:"ack_window_base"`
	AckWindowMultiplier float64       `yaml:"ack_window_multiplier"`

	// DispatchTimeout bounds a single pulse dispatch to one module
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`
}

// MonitorConfig tunes the health monitor
type MonitorConfig struct {
	// Interval is the spacing between monitor passes
	Interval time.Duration `yaml:"interval"`

	// TimeoutFactor multiplies a module's expected response time to form
	// its per-check timeout (the k>1 safety factor)
	TimeoutFactor float64 `yaml:"timeout_factor"`

	// CriticalTimeoutFactor is the stricter factor for critical modules
	CriticalTimeoutFactor float64 `yaml:"critical_timeout_factor"`

	// MaxConcurrentChecks bounds the health-check worker pool
	MaxConcurrentChecks int `yaml:"max_concurrent_checks"`

	// FailureThreshold is the consecutive-failure count that escalates a
	// module as an isolation candidate
	FailureThreshold int `yaml:"failure_threshold"`
}

// DriftConfig tunes the drift detector
type DriftConfig struct {
	// ModuleWarnCycles is the cycle gap that raises a warning alert
	ModuleWarnCycles uint64 `yaml:"module_warn_cycles"`

	// ModuleErrorCycles is the cycle gap that raises an error alert and
	// requests isolation
	ModuleErrorCycles uint64 `yaml:"module_error_cycles"`

	// WorkerDriftingScore is the advisory low watermark
	WorkerDriftingScore float64 `yaml:"worker_drifting_score"`

	// WorkerSunsetScore triggers SunsetPending
	WorkerSunsetScore float64 `yaml:"worker_sunset_score"`

	// MissedSyncWeight and FailedCheckWeight are the engine-sourced
	// increments folded into a worker's behavioral drift score
	MissedSyncWeight  float64 `yaml:"missed_sync_weight"`
	FailedCheckWeight float64 `yaml:"failed_check_weight"`

	// EvaluateInterval is the spacing between fleet-wide drift
	// evaluation passes. The pass re-checks stored scores against the
	// watermarks, picking up scores written outside the signal path.
	EvaluateInterval time.Duration `yaml:"evaluate_interval"`
}

// RecoveryConfig tunes the recovery manager
type RecoveryConfig struct {
	// MaxAttempts bounds recovery retries before permanent isolation
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBackoff is the delay between recovery attempts
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	// ActionTimeout bounds a single recovery action dispatch
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// BroadcastConfig tunes the predicate broadcaster
type BroadcastConfig struct {
	// PredicatesPerMinute is the token-bucket refill rate
	PredicatesPerMinute int `yaml:"predicates_per_minute"`

	// Burst is the token-bucket capacity
	Burst int `yaml:"burst"`

	// QueueSize bounds the overflow queue for rate-limited broadcasts
	QueueSize int `yaml:"queue_size"`

	// DispatchTimeout bounds delivery to a single worker
	DispatchTimeout time.Duration `yaml:"dispatch_timeout"`

	// AckWindow bounds asynchronous ack collection after fan-out
	AckWindow time.Duration `yaml:"ack_window"`

	// ConfidenceFloor is the minimum predicate confidence workers accept
	ConfidenceFloor float64 `yaml:"confidence_floor"`
}

// Default returns the engine defaults
func Default() *Config {
	return &Config{
		APIAddr:     ":7600",
		MetricsAddr: ":7601",
		DataDir:     "/var/lib/cortex",
		VaultURL:    "http://127.0.0.1:7700",
		Clock: ClockConfig{
			TickInterval:         1 * time.Second,
			MaxConsecutiveDelays: 5,
		},
		Beacon: BeaconConfig{
			AckWindowBase:       500 * time.Millisecond,
			AckWindowMultiplier: 1.5,
			DispatchTimeout:     300 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			Interval:              5 * time.Second,
			TimeoutFactor:         2.0,
			CriticalTimeoutFactor: 1.25,
			MaxConcurrentChecks:   16,
			FailureThreshold:      3,
		},
		Drift: DriftConfig{
			ModuleWarnCycles:    2,
			ModuleErrorCycles:   5,
			WorkerDriftingScore: 0.10,
			WorkerSunsetScore:   0.22,
			MissedSyncWeight:    0.01,
			FailedCheckWeight:   0.03,
			EvaluateInterval:    30 * time.Second,
		},
		Recovery: RecoveryConfig{
			MaxAttempts:   3,
			RetryBackoff:  2 * time.Second,
			ActionTimeout: 5 * time.Second,
		},
		Broadcast: BroadcastConfig{
			PredicatesPerMinute: 10,
			Burst:               10,
			QueueSize:           64,
			DispatchTimeout:     2 * time.Second,
			AckWindow:           10 * time.Second,
			ConfidenceFloor:     0.6,
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.Clock.TickInterval <= 0 {
		return fmt.Errorf("clock.tick_interval must be positive")
	}
	if c.Beacon.AckWindowMultiplier <= 0 {
		return fmt.Errorf("beacon.ack_window_multiplier must be positive")
	}
	if c.Monitor.TimeoutFactor <= 1.0 {
		return fmt.Errorf("monitor.timeout_factor must exceed 1.0")
	}
	if c.Monitor.MaxConcurrentChecks <= 0 {
		return fmt.Errorf("monitor.max_concurrent_checks must be positive")
	}
	if c.Monitor.FailureThreshold <= 0 {
		return fmt.Errorf("monitor.failure_threshold must be positive")
	}
	if c.Drift.WorkerSunsetScore < c.Drift.WorkerDriftingScore {
		return fmt.Errorf("drift.worker_sunset_score must be >= worker_drifting_score")
	}
	if c.Drift.EvaluateInterval <= 0 {
		return fmt.Errorf("drift.evaluate_interval must be positive")
	}
	if c.Recovery.MaxAttempts <= 0 {
		return fmt.Errorf("recovery.max_attempts must be positive")
	}
	if c.Broadcast.PredicatesPerMinute <= 0 {
		return fmt.Errorf("broadcast.predicates_per_minute must be positive")
	}
	if c.Broadcast.QueueSize <= 0 {
		return fmt.Errorf("broadcast.queue_size must be positive")
	}
	if c.Broadcast.ConfidenceFloor < 0 || c.Broadcast.ConfidenceFloor > 1 {
		return fmt.Errorf("broadcast.confidence_floor must be within [0,1]")
	}
	return nil
}

// AckWindow returns the effective acknowledgement window
func (c *BeaconConfig) AckWindow() time.Duration {
	return time.Duration(float64(c.AckWindowBase) * c.AckWindowMultiplier)
}

package config

import "time"

// Config holds all configuration for the network layer.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging"`
	Pool          PoolConfig          `yaml:"pool"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Tracker       TrackerConfig       `yaml:"tracker"`
	Backpressure  BackpressureConfig  `yaml:"backpressure"`
	FlowControl   FlowControlConfig   `yaml:"flow_control"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	FileOutput bool   `yaml:"file_output"`
	PrettyLogs bool   `yaml:"pretty_logs"`
}

// PoolConfig holds per-(host,port) connection pool defaults (spec.md §6).
type PoolConfig struct {
	MinConnections      int           `yaml:"min_connections"`
	MaxConnections      int           `yaml:"max_connections"`
	IdleTimeout         time.Duration `yaml:"idle_timeout"`
	MaxLifetime         time.Duration `yaml:"max_lifetime"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// CircuitBreakerConfig holds per-dependency breaker defaults (spec.md §6).
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
	WindowSize       time.Duration `yaml:"window_size"`
}

// TrackerConfig holds resource tracker quota defaults (spec.md §6).
type TrackerConfig struct {
	MaxConnections     int64 `yaml:"max_connections"`
	MaxMemoryBytes     int64 `yaml:"max_memory_bytes"`
	MaxBandwidthBps    int64 `yaml:"max_bandwidth_bps"`
	MaxFileDescriptors int64 `yaml:"max_file_descriptors"`
	MaxBuffers         int64 `yaml:"max_buffers"`
}

// BackpressureConfig holds default strategy knobs (spec.md §4.7).
type BackpressureConfig struct {
	Strategy         string        `yaml:"strategy"`
	BufferSize       int           `yaml:"buffer_size"`
	PauseThreshold   float64       `yaml:"pause_threshold"`
	ResumeThreshold  float64       `yaml:"resume_threshold"`
	ThrottleRateMs   int           `yaml:"throttle_rate_ms"`
	DrainInterval    time.Duration `yaml:"drain_interval"`
}

// FlowControlConfig holds default window sizes (spec.md §4.6).
type FlowControlConfig struct {
	ConnectionSendWindow uint64 `yaml:"connection_send_window"`
	ConnectionRecvWindow uint64 `yaml:"connection_recv_window"`
	StreamSendWindow     uint64 `yaml:"stream_send_window"`
	StreamRecvWindow     uint64 `yaml:"stream_recv_window"`
}

package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	DefaultFileWriteDelay = 150 * time.Millisecond // small delay to ensure file write is complete

	reloadDebounce = 500 * time.Millisecond
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration populated with the literal
// defaults spec.md §6 names for the pool, circuit breaker, resource
// tracker and backpressure components.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			FileOutput: false,
			PrettyLogs: true,
		},
		Pool: PoolConfig{
			MinConnections:      0,
			MaxConnections:      100,
			IdleTimeout:         60 * time.Second,
			MaxLifetime:         600 * time.Second,
			ConnectionTimeout:   30 * time.Second,
			HealthCheckInterval: 10 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          60 * time.Second,
			ResetTimeout:     10 * time.Second,
			WindowSize:       10 * time.Second,
		},
		Tracker: TrackerConfig{
			MaxConnections:     10_000,
			MaxMemoryBytes:     1 << 30, // 1 GiB
			MaxBandwidthBps:    100 << 20, // 100 MiB/s
			MaxFileDescriptors: 65_536,
			MaxBuffers:         10_000,
		},
		Backpressure: BackpressureConfig{
			Strategy:        "buffer",
			BufferSize:      1000,
			PauseThreshold:  0.8,
			ResumeThreshold: 0.5,
			ThrottleRateMs:  100,
			DrainInterval:   10 * time.Millisecond,
		},
		FlowControl: FlowControlConfig{
			ConnectionSendWindow: 1 << 20,
			ConnectionRecvWindow: 1 << 20,
			StreamSendWindow:     64 << 10,
			StreamRecvWindow:     64 << 10,
		},
	}
}

// Load reads configuration from file and environment variables, falling
// back to DefaultConfig for anything unset, and installs a debounced
// hot-reload watch that invokes onConfigChange on file changes.
func Load(onConfigChange func()) (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("NETLAYER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv("NETLAYER_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		viper.OnConfigChange(func(e fsnotify.Event) {
			reloadMutex.Lock()
			defer reloadMutex.Unlock()

			now := time.Now()
			if now.Sub(lastReload) < reloadDebounce {
				return // ignore rapid-fire repeats
			}
			lastReload = now

			// some platforms fire the event before the write finishes
			time.Sleep(DefaultFileWriteDelay)
			onConfigChange()
		})
	}

	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rillrec/pkg/retry"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Signal struct {
		PingInterval time.Duration `yaml:"ping_interval"`
	} `yaml:"signal"`

	Engine struct {
		Workers    int `yaml:"workers"`
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"engine"`

	Recording struct {
		Enabled        bool   `yaml:"enabled"`
		StagingPath    string `yaml:"staging_path"`
		RecordingPath  string `yaml:"recording_path"`
		ForwardAddress string `yaml:"forward_address"` // written into metadata.json for downstream consumers
		RoutingIP      string `yaml:"routing_ip"`      // address the encoder listens on
		BindIP         string `yaml:"bind_ip"`         // local side of plain transports
		EncoderBinary  string `yaml:"encoder_binary"`
		PortRange      struct {
			Min int `yaml:"min"`
			Max int `yaml:"max"`
		} `yaml:"port_range"`
		PublishRetry retry.Config `yaml:"publish_retry"`
	} `yaml:"recording"`

	Monitoring struct {
		PrometheusEnabled bool          `yaml:"prometheus_enabled"`
		SampleInterval    time.Duration `yaml:"sample_interval"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled      bool   `yaml:"enabled"`
		Address      string `yaml:"address"`
		Password     string `yaml:"password"`
		DB           int    `yaml:"db"`
		PoolSize     int    `yaml:"pool_size"`
		EventChannel string `yaml:"event_channel"`
	} `yaml:"redis"`

	RateLimiting RateLimitConfig `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	HTTP struct {
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
	} `yaml:"http"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Signal
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}

	// Engine
	if c.Engine.Workers <= 0 {
		return fmt.Errorf("engine.workers must be > 0")
	}
	if c.Engine.PortRange.Min > 0 || c.Engine.PortRange.Max > 0 {
		if c.Engine.PortRange.Min == 0 || c.Engine.PortRange.Max == 0 {
			return fmt.Errorf("engine.port_range.min and max must both be set when one is set")
		}
		if c.Engine.PortRange.Min >= c.Engine.PortRange.Max {
			return fmt.Errorf("engine.port_range.min must be < max")
		}
	}

	// Recording
	if c.Recording.Enabled {
		if c.Recording.StagingPath == "" || c.Recording.RecordingPath == "" {
			return fmt.Errorf("recording.staging_path and recording.recording_path must not be empty")
		}
		if c.Recording.StagingPath == c.Recording.RecordingPath {
			return fmt.Errorf("recording.staging_path and recording.recording_path must differ")
		}
		if c.Recording.EncoderBinary == "" {
			return fmt.Errorf("recording.encoder_binary must not be empty")
		}
		if c.Recording.RoutingIP == "" {
			return fmt.Errorf("recording.routing_ip must not be empty")
		}
		min, max := c.Recording.PortRange.Min, c.Recording.PortRange.Max
		if min <= 0 || max > 65535 {
			return fmt.Errorf("recording.port_range must be within 1-65535")
		}
		if min%2 != 0 {
			return fmt.Errorf("recording.port_range.min must be even")
		}
		if min+1 >= max {
			return fmt.Errorf("recording.port_range must hold at least one port pair")
		}
	}

	// Monitoring
	if c.Monitoring.SampleInterval <= 0 {
		return fmt.Errorf("monitoring.sample_interval must be > 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.EventChannel == "" {
			return fmt.Errorf("redis.event_channel must not be empty when redis.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// defaults only
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Signal.PingInterval = 30 * time.Second

	cfg.Engine.Workers = 2
	cfg.Engine.PortRange.Min = 40000
	cfg.Engine.PortRange.Max = 49999

	cfg.Recording.Enabled = true
	cfg.Recording.StagingPath = "./data/staging"
	cfg.Recording.RecordingPath = "./data/recordings"
	cfg.Recording.RoutingIP = "127.0.0.1"
	cfg.Recording.BindIP = "127.0.0.1"
	cfg.Recording.EncoderBinary = "ffmpeg"
	cfg.Recording.PortRange.Min = 50000
	cfg.Recording.PortRange.Max = 59999
	cfg.Recording.PublishRetry = retry.DefaultConfig()

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.SampleInterval = 15 * time.Second

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.EventChannel = "rillrec:events"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() error {
	if addr := os.Getenv("RILLREC_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RILLREC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("RILLREC_RECORDING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid RILLREC_RECORDING_ENABLED %q: %w", v, err)
		}
		c.Recording.Enabled = enabled
	}
	if path := os.Getenv("RILLREC_STAGING_PATH"); path != "" {
		c.Recording.StagingPath = path
	}
	if path := os.Getenv("RILLREC_RECORDING_PATH"); path != "" {
		c.Recording.RecordingPath = path
	}
	if addr := os.Getenv("RILLREC_FORWARD_ADDRESS"); addr != "" {
		c.Recording.ForwardAddress = addr
	}
	if ip := os.Getenv("RILLREC_ROUTING_IP"); ip != "" {
		c.Recording.RoutingIP = ip
	}
	if ip := os.Getenv("RILLREC_BIND_IP"); ip != "" {
		c.Recording.BindIP = ip
	}
	if bin := os.Getenv("RILLREC_ENCODER_BINARY"); bin != "" {
		c.Recording.EncoderBinary = bin
	}
	if addr := os.Getenv("RILLREC_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("RILLREC_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid RILLREC_WORKERS %q: %w", v, err)
		}
		c.Engine.Workers = n
	}
	return nil
}

package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Jobs        JobsConfig      `toml:"jobs"`
	Demo        DemoConfig      `toml:"demo"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
	Idempotency IdemConfig      `toml:"idempotency"`
	Retention   RetentionConfig `toml:"retention"`
	Storage     StorageConfig   `toml:"storage"`
	Stream      StreamConfig    `toml:"stream"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Logging     LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// JobsConfig bounds submissions and controls chunk execution.
type JobsConfig struct {
	MaxN           int64         `toml:"max_n"`           // Largest accepted range upper bound
	MaxChunks      int           `toml:"max_chunks"`      // Largest accepted chunk count
	Workers        int           `toml:"workers"`         // Concurrent chunk executions across all jobs
	MaxAttempts    int           `toml:"max_attempts"`    // Attempts per chunk before the job fails
	RetryBaseDelay time.Duration `toml:"retry_base_delay"` // First backoff delay, doubled per attempt
	RetryMaxDelay  time.Duration `toml:"retry_max_delay"`  // Backoff cap
	RetryJitter    float64       `toml:"retry_jitter"`     // Fraction of the delay randomized, [0,1]
	ChunkTimeout   time.Duration `toml:"chunk_timeout"`    // Execution deadline per chunk, no retry on expiry
}

// DemoConfig carries the lowered limits for the unauthenticated demo endpoint.
type DemoConfig struct {
	MaxN              int64 `toml:"max_n"`
	MaxChunks         int   `toml:"max_chunks"`
	RequestsPerMinute int   `toml:"requests_per_minute"`
}

type RateLimitConfig struct {
	RequestsPerMinute int           `toml:"requests_per_minute"` // Bucket capacity, refilled over the window
	Window            time.Duration `toml:"window"`
	CleanupInterval   time.Duration `toml:"cleanup_interval"` // How often idle full buckets are evicted
}

type IdemConfig struct {
	Retention time.Duration `toml:"retention"` // How long a recorded response is replayed
}

type RetentionConfig struct {
	JobTTL   time.Duration `toml:"job_ttl"`  // Terminal job records expire after this
	Schedule string        `toml:"schedule"` // Cron schedule for the cleanup sweep (with seconds)
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Enabled        bool   `toml:"enabled"`          // Durable store is optional
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// StreamConfig controls the SSE pull stream.
type StreamConfig struct {
	PollInterval  time.Duration `toml:"poll_interval"`  // How often job state is re-read
	MaxIterations int           `toml:"max_iterations"` // Stream ends with a timeout event after this many polls
}

// WebSocketConfig controls the push publisher.
type WebSocketConfig struct {
	ReadBufferSize    int           `toml:"read_buffer_size"`
	WriteBufferSize   int           `toml:"write_buffer_size"`
	BroadcastInterval time.Duration `toml:"broadcast_interval"` // Throttle floor for progress broadcasts per job
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Jobs: JobsConfig{
			MaxN:           1_000_000,
			MaxChunks:      100,
			Workers:        8,
			MaxAttempts:    3,
			RetryBaseDelay: 200 * time.Millisecond,
			RetryMaxDelay:  10 * time.Second,
			RetryJitter:    0.5,
			ChunkTimeout:   5 * time.Minute,
		},
		Demo: DemoConfig{
			MaxN:              10_000,
			MaxChunks:         8,
			RequestsPerMinute: 5,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 10,
			Window:            time.Minute,
			CleanupInterval:   10 * time.Minute,
		},
		Idempotency: IdemConfig{
			Retention: 24 * time.Hour,
		},
		Retention: RetentionConfig{
			JobTTL:   24 * time.Hour,
			Schedule: "0 0 3 * * *", // 3 AM daily
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Enabled: true,
				Path:    "./data",
			},
		},
		Stream: StreamConfig{
			PollInterval:  1 * time.Second,
			MaxIterations: 300,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			BroadcastInterval: 0, // No throttling by default
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFile loads configuration with priority: defaults -> file -> env.
// An empty path loads defaults plus environment overrides only.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	if c.Jobs.MaxN < 1 {
		return fmt.Errorf("jobs.max_n must be at least 1, got %d", c.Jobs.MaxN)
	}
	if c.Jobs.MaxChunks < 1 {
		return fmt.Errorf("jobs.max_chunks must be at least 1, got %d", c.Jobs.MaxChunks)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.MaxAttempts < 1 {
		return fmt.Errorf("jobs.max_attempts must be at least 1, got %d", c.Jobs.MaxAttempts)
	}
	if c.Jobs.RetryJitter < 0 || c.Jobs.RetryJitter > 1 {
		return fmt.Errorf("jobs.retry_jitter must be within [0,1], got %f", c.Jobs.RetryJitter)
	}
	if c.RateLimit.RequestsPerMinute < 1 {
		return fmt.Errorf("rate_limit.requests_per_minute must be at least 1, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.Stream.PollInterval <= 0 {
		return fmt.Errorf("stream.poll_interval must be positive, got %s", c.Stream.PollInterval)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CHUNKD_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CHUNKD_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CHUNKD_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Job limits
	if maxN := os.Getenv("CHUNKD_MAX_N"); maxN != "" {
		if n, err := strconv.ParseInt(maxN, 10, 64); err == nil {
			config.Jobs.MaxN = n
		}
	}
	if maxChunks := os.Getenv("CHUNKD_MAX_CHUNKS"); maxChunks != "" {
		if c, err := strconv.Atoi(maxChunks); err == nil {
			config.Jobs.MaxChunks = c
		}
	}
	if workers := os.Getenv("CHUNKD_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Jobs.Workers = w
		}
	}

	// Rate limiting
	if rpm := os.Getenv("CHUNKD_RATE_LIMIT_PER_MINUTE"); rpm != "" {
		if r, err := strconv.Atoi(rpm); err == nil {
			config.RateLimit.RequestsPerMinute = r
		}
	}

	// Storage configuration
	if badgerPath := os.Getenv("CHUNKD_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if enabled := os.Getenv("CHUNKD_BADGER_ENABLED"); enabled != "" {
		config.Storage.Badger.Enabled = enabled == "true" || enabled == "1"
	}

	// Logging configuration
	if level := os.Getenv("CHUNKD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("CHUNKD_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

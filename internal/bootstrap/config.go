package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr string `yaml:"server_addr"`
	LogLevel   string `yaml:"log_level"`

	DatabaseDSN string `yaml:"database_dsn"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	EngineURL     string        `yaml:"engine_url"`
	EngineToken   string        `yaml:"engine_token"`
	EngineTimeout time.Duration `yaml:"engine_timeout"`
	EngineRetries int           `yaml:"engine_retries"`

	ConnectTimeout       time.Duration   `yaml:"connect_timeout"`
	ReconnectDelays      []time.Duration `yaml:"reconnect_delays"`
	MaxReconnectAttempts int             `yaml:"max_reconnect_attempts"`

	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	ChunkSize        int           `yaml:"chunk_size"`
	UploadRecordings bool          `yaml:"upload_recordings"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`

	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`
}

func defaultConfig() *Config {
	return &Config{
		ServerAddr: ":8080",
		LogLevel:   "info",

		RedisAddr: "localhost:6379",

		EngineURL:     "http://localhost:8000",
		EngineTimeout: 15 * time.Second,
		EngineRetries: 2,

		ConnectTimeout: 10 * time.Second,
		ReconnectDelays: []time.Duration{
			3 * time.Second,
			5 * time.Second,
			10 * time.Second,
			20 * time.Second,
			30 * time.Second,
		},
		MaxReconnectAttempts: 5,

		SampleRate: 16000,
		Channels:   1,

		ChunkSize:     32 * 1024,
		UploadTimeout: 30 * time.Second,

		RateLimitRPS:   10,
		RateLimitBurst: 20,
	}
}

// LoadConfig starts from defaults, applies the YAML file named by
// CONFIG_FILE when set, then lets environment variables override both.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = getEnv("SERVER_ADDR", c.ServerAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.DatabaseDSN = getEnv("DATABASE_DSN", c.DatabaseDSN)

	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)

	c.EngineURL = getEnv("ENGINE_URL", c.EngineURL)
	c.EngineToken = getEnv("ENGINE_TOKEN", c.EngineToken)
	c.EngineTimeout = getEnvDuration("ENGINE_TIMEOUT", c.EngineTimeout)
	c.EngineRetries = getEnvInt("ENGINE_RETRIES", c.EngineRetries)

	c.ConnectTimeout = getEnvDuration("CONNECT_TIMEOUT", c.ConnectTimeout)
	c.ReconnectDelays = getEnvDurations("RECONNECT_DELAYS", c.ReconnectDelays)
	c.MaxReconnectAttempts = getEnvInt("MAX_RECONNECT_ATTEMPTS", c.MaxReconnectAttempts)

	c.SampleRate = getEnvInt("CAPTURE_SAMPLE_RATE", c.SampleRate)
	c.Channels = getEnvInt("CAPTURE_CHANNELS", c.Channels)

	c.ChunkSize = getEnvInt("AUDIO_CHUNK_SIZE", c.ChunkSize)
	c.UploadRecordings = getEnvBool("UPLOAD_RECORDINGS", c.UploadRecordings)
	c.UploadTimeout = getEnvDuration("UPLOAD_TIMEOUT", c.UploadTimeout)

	c.RateLimitRPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimitRPS)
	c.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", c.RateLimitBurst)
}

func (c *Config) Validate() error {
	if c.ServerAddr == "" {
		return fmt.Errorf("server_addr is required")
	}
	if c.EngineURL == "" {
		return fmt.Errorf("engine_url is required")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	for _, d := range c.ReconnectDelays {
		if d < 0 {
			return fmt.Errorf("reconnect_delays must not be negative")
		}
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return fmt.Errorf("sample_rate and channels must be positive")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvDurations parses a comma separated list such as "1s,2s,5s". Any
// unparsable entry keeps the default list.
func getEnvDurations(key string, defaultValue []time.Duration) []time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []time.Duration
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := time.ParseDuration(part)
		if err != nil {
			return defaultValue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

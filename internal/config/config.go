package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"container-telemetry/loadgen/internal/pool"
)

type Config struct {
	// Data pool
	DataPoolSize             int
	MaxPayloadBytes          int
	BatchSize                int
	MaxConsecutiveRejections int
	RangesFile               string

	// Target
	TargetHost       string
	TargetPath       string
	APIKey           string
	RequestTimeoutMS int

	// Replay
	Users           int
	SpawnRate       int
	WaitMinMS       int
	WaitMaxMS       int
	RateLimit       float64
	RunDurationSecs int

	// Distributed
	Workers       int
	Namespace     string
	WorkerStagger time.Duration

	// Logging
	LogLevel       string
	LogDevelopment bool

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TimescaleDB
	DBHost        string
	DBPort        string
	DBUser        string
	DBPassword    string
	DBName        string
	DBMaxConns    int32
	RecordResults bool

	MetricsPort string

	// Reference sink
	HTTPPort            string
	DBChannelSize       int
	StateChannelSize    int
	AlertChannelSize    int
	DBBatchSize         int
	DBFlushIntervalMS   int
	DBWriterWorkers     int
	StateWriterWorkers  int
	AlertWorkers        int
	AuthCacheTTLSeconds int
	ValidAPIKeys        []string
}

// LoadEnvFiles merges .env style files into the process environment.
// Variables already set win. Missing files are ignored.
func LoadEnvFiles(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load %s: %w", p, err)
		}
	}
	return nil
}

func Load() *Config {
	return &Config{
		DataPoolSize:             getEnvInt("LOADGEN_DATA_POOL_SIZE", pool.DefaultTargetSize),
		MaxPayloadBytes:          getEnvInt("LOADGEN_MAX_PAYLOAD_BYTES", pool.DefaultMaxPayloadBytes),
		BatchSize:                getEnvInt("LOADGEN_BATCH_SIZE", pool.DefaultBatchSize),
		MaxConsecutiveRejections: getEnvInt("LOADGEN_MAX_CONSECUTIVE_REJECTIONS", pool.DefaultMaxConsecutiveRejections),
		RangesFile:               getEnv("LOADGEN_RANGES_FILE", ""),
		TargetHost:               getEnv("LOADGEN_TARGET_HOST", "http://localhost:3000"),
		TargetPath:               getEnv("LOADGEN_TARGET_PATH", "/container-data"),
		APIKey:                   getEnv("LOADGEN_API_KEY", ""),
		RequestTimeoutMS:         getEnvInt("LOADGEN_REQUEST_TIMEOUT_MS", 10000),
		Users:                    getEnvInt("LOADGEN_USERS", 250),
		SpawnRate:                getEnvInt("LOADGEN_SPAWN_RATE", 25),
		WaitMinMS:                getEnvInt("LOADGEN_WAIT_MIN_MS", 1000),
		WaitMaxMS:                getEnvInt("LOADGEN_WAIT_MAX_MS", 3000),
		RateLimit:                getEnvFloat("LOADGEN_RATE_LIMIT", 0),
		RunDurationSecs:          getEnvInt("LOADGEN_RUN_SECONDS", 300),
		Workers:                  getEnvInt("LOADGEN_WORKERS", 4),
		Namespace:                getEnv("LOADGEN_NAMESPACE", "default"),
		WorkerStagger:            time.Duration(getEnvInt("LOADGEN_WORKER_STAGGER_MS", 1000)) * time.Millisecond,
		LogLevel:                 getEnv("LOG_LEVEL", "info"),
		LogDevelopment:           getEnvBool("LOG_DEVELOPMENT", false),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            getEnv("REDIS_PASSWORD", ""),
		RedisDB:                  getEnvInt("REDIS_DB", 0),
		DBHost:                   getEnv("DB_HOST", "localhost"),
		DBPort:                   getEnv("DB_PORT", "5432"),
		DBUser:                   getEnv("DB_USER", "telemetry_user"),
		DBPassword:               getEnv("DB_PASSWORD", "telemetry_password"),
		DBName:                   getEnv("DB_NAME", "container_telemetry"),
		DBMaxConns:               int32(getEnvInt("DB_MAX_CONNS", 15)),
		RecordResults:            getEnvBool("LOADGEN_RECORD_RESULTS", false),
		MetricsPort:              getEnv("METRICS_PORT", "9101"),
		HTTPPort:                 getEnv("HTTP_PORT", "3000"),
		DBChannelSize:            getEnvInt("DB_CHANNEL_SIZE", 10000),
		StateChannelSize:         getEnvInt("STATE_CHANNEL_SIZE", 50000),
		AlertChannelSize:         getEnvInt("ALERT_CHANNEL_SIZE", 10000),
		DBBatchSize:              getEnvInt("DB_BATCH_SIZE", 500),
		DBFlushIntervalMS:        getEnvInt("DB_FLUSH_INTERVAL_MS", 100),
		DBWriterWorkers:          getEnvInt("DB_WRITER_WORKERS", 10),
		StateWriterWorkers:       getEnvInt("STATE_WRITER_WORKERS", 5),
		AlertWorkers:             getEnvInt("ALERT_WORKERS", 3),
		AuthCacheTTLSeconds:      getEnvInt("AUTH_CACHE_TTL_SECONDS", 300),
		ValidAPIKeys:             splitList(getEnv("VALID_API_KEYS", "")),
	}
}

func (c *Config) PoolConfig() pool.Config {
	cfg := pool.DefaultConfig()
	cfg.TargetSize = c.DataPoolSize
	cfg.MaxPayloadBytes = c.MaxPayloadBytes
	cfg.BatchSize = c.BatchSize
	cfg.MaxConsecutiveRejections = c.MaxConsecutiveRejections
	return cfg
}

func (c *Config) TargetURL() string {
	return strings.TrimRight(c.TargetHost, "/") + "/" + strings.TrimLeft(c.TargetPath, "/")
}

func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c *Config) WaitRange() (time.Duration, time.Duration) {
	return time.Duration(c.WaitMinMS) * time.Millisecond, time.Duration(c.WaitMaxMS) * time.Millisecond
}

func (c *Config) RunDuration() time.Duration {
	return time.Duration(c.RunDurationSecs) * time.Second
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		c.DBUser,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBMaxConns,
	)
}

func (c *Config) Validate() error {
	if c.Users <= 0 {
		return fmt.Errorf("config: users must be positive, got %d", c.Users)
	}
	if c.WaitMinMS < 0 || c.WaitMaxMS < c.WaitMinMS {
		return fmt.Errorf("config: invalid wait range %d..%d ms", c.WaitMinMS, c.WaitMaxMS)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("config: rate limit must not be negative")
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("config: request timeout must be positive")
	}
	if err := c.PoolConfig().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

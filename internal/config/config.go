package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/dandantas/tabwatch/internal/model"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server Configuration
	HTTPPort         string        `env:"HTTP_PORT" envDefault:"8080"`
	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`

	// Logging Configuration
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Session Store Configuration
	StoreBackend string        `env:"STORE_BACKEND" envDefault:"redis"` // memory | redis | mongo
	KeyPrefix    string        `env:"STORE_KEY_PREFIX" envDefault:"tabwatch:"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Broadcast Bus Configuration
	BusBackend  string `env:"BUS_BACKEND" envDefault:"redis"` // memory | redis | none
	ChannelName string `env:"BUS_CHANNEL" envDefault:"job-status-coordinator"`

	// Redis Configuration
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// MongoDB Configuration
	MongoURI      string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017/tabwatch?authSource=admin"`
	MongoDatabase string        `env:"MONGO_DATABASE" envDefault:"tabwatch"`
	MongoTimeout  time.Duration `env:"MONGO_TIMEOUT" envDefault:"10s"`

	// Status API Configuration
	StatusAPIBaseURL string            `env:"STATUS_API_BASE_URL" envDefault:"http://localhost:3000"`
	StatusAPITimeout time.Duration     `env:"STATUS_API_TIMEOUT" envDefault:"10s"`
	PollInterval     time.Duration     `env:"POLL_INTERVAL" envDefault:"2500ms"`
	PollSampleRate   int               `env:"POLL_SAMPLE_RATE" envDefault:"10"`
	Retry            model.RetryConfig `envPrefix:"STATUS_RETRY_"`

	// Coordinator Configuration
	ClaimTimeout     time.Duration `env:"COORDINATOR_CLAIM_TIMEOUT" envDefault:"500ms"`
	HeartbeatEvery   time.Duration `env:"COORDINATOR_HEARTBEAT_INTERVAL" envDefault:"2s"`
	HeartbeatTimeout time.Duration `env:"COORDINATOR_HEARTBEAT_TIMEOUT" envDefault:"5s"`
	ElectionCheck    time.Duration `env:"COORDINATOR_ELECTION_CHECK" envDefault:"1s"`

	// Sweep Configuration
	SweepSchedule string `env:"SWEEP_SCHEDULE" envDefault:"@every 15m"`

	// CORS Configuration
	CORSAllowedOrigins   string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
	CORSAllowedMethods   string `env:"CORS_ALLOWED_METHODS" envDefault:"GET, POST, PUT, DELETE, OPTIONS"`
	CORSAllowedHeaders   string `env:"CORS_ALLOWED_HEADERS" envDefault:"*"`
	CORSAllowCredentials bool   `env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	CORSMaxAge           int    `env:"CORS_MAX_AGE" envDefault:"3600"`
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case "memory", "redis", "mongo":
	default:
		return fmt.Errorf("invalid STORE_BACKEND: %s (must be 'memory', 'redis' or 'mongo')", c.StoreBackend)
	}
	switch c.BusBackend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("invalid BUS_BACKEND: %s (must be 'memory', 'redis' or 'none')", c.BusBackend)
	}
	if c.HeartbeatTimeout <= c.HeartbeatEvery {
		return fmt.Errorf("COORDINATOR_HEARTBEAT_TIMEOUT (%s) must exceed the heartbeat interval (%s)", c.HeartbeatTimeout, c.HeartbeatEvery)
	}
	if c.PollSampleRate < 1 {
		return fmt.Errorf("POLL_SAMPLE_RATE must be at least 1")
	}
	return nil
}

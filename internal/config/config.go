package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases" validate:"required,min=1,dive"`
	Redis       RedisConfig               `json:"redis"`
	Auth        AuthConfig                `json:"auth"`
	Realtime    RealtimeConfig            `json:"realtime"`
}

type BasicConfig struct {
	ServerAddress     string   `json:"server_address"`
	AllowedOrigins    []string `json:"allowed_origins"`
	MinWorkers        int      `json:"min_workers" validate:"gte=0"`
	MaxWorkers        int      `json:"max_workers" validate:"gtefield=MinWorkers"`
	QueueSize         int      `json:"queue_size" validate:"gte=1"`
	WorkerIdleTimeout int      `json:"worker_idle_timeout"` // minutes
	SeedRooms         bool     `json:"seed_rooms"`
	LogLevel          string   `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port" validate:"gte=0,lte=65535"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	Port         int    `json:"port" validate:"gte=0,lte=65535"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	DB           int    `json:"db" validate:"gte=0"`
	RoomCacheTTL int    `json:"room_cache_ttl"` // seconds
}

type AuthConfig struct {
	JWTSecret string `json:"jwt_secret" validate:"required,min=16"`
	Issuer    string `json:"issuer"`
	TokenTTL  int    `json:"token_ttl"` // minutes
}

// RealtimeConfig tunes the websocket layer. MessagesPerSecond <= 0
// disables per-connection rate limiting.
type RealtimeConfig struct {
	MessagesPerSecond float64 `json:"messages_per_second" validate:"gte=0"`
	Burst             int     `json:"burst" validate:"gte=0"`
	SendBuffer        int     `json:"send_buffer" validate:"gte=0"`
	MaxFrameBytes     int64   `json:"max_frame_bytes" validate:"gte=0"`
}

const (
	defaultAddress      = ":8090"
	defaultQueueSize    = 256
	defaultMaxWorkers   = 4
	defaultTokenTTL     = 24 * 60
	defaultRoomCacheTTL = 300
	defaultSendBuffer   = 256
	defaultMaxFrame     = 16 * 1024
)

var validate = validator.New()

// Load reads configuration from the provided path (defaults to config.json)
// and applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// relative sqlite paths are resolved against the config file location
	for name, db := range cfg.Databases {
		if (name == "sqlite" || name == "sqlite3") && db.DSN != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("CAMPUSWELL_ADDR"); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("CAMPUSWELL_JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("CAMPUSWELL_REDIS_ADDR"); v != "" {
		host, portStr, err := net.SplitHostPort(v)
		if err != nil {
			return fmt.Errorf("parse CAMPUSWELL_REDIS_ADDR: %w", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("parse CAMPUSWELL_REDIS_ADDR port: %w", err)
		}
		c.Redis.Host = host
		c.Redis.Port = port
		c.Redis.Enabled = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = defaultAddress
	}
	if c.BasicConfig.QueueSize <= 0 {
		c.BasicConfig.QueueSize = defaultQueueSize
	}
	if c.BasicConfig.MaxWorkers <= 0 {
		c.BasicConfig.MaxWorkers = defaultMaxWorkers
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		c.BasicConfig.MaxWorkers = c.BasicConfig.MinWorkers
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = defaultTokenTTL
	}
	if c.Redis.RoomCacheTTL <= 0 {
		c.Redis.RoomCacheTTL = defaultRoomCacheTTL
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = defaultSendBuffer
	}
	if c.Realtime.MaxFrameBytes <= 0 {
		c.Realtime.MaxFrameBytes = defaultMaxFrame
	}
}

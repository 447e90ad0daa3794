package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Lease    LeaseConfig    `yaml:"lease"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Sender   SenderConfig   `yaml:"sender"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite, mysql, postgres
	DSN    string `yaml:"dsn"`
}

type JWTConfig struct {
	Secret     string `yaml:"secret"`
	ExpireHour int    `yaml:"expire_hour"`
}

// RedisConfig for the optional cross-instance dispatch kick queue
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LeaseConfig tunes session lease ownership. The TTL should be several
// multiples of the renew interval so a crashed holder is reclaimed
// within one TTL window.
type LeaseConfig struct {
	TTLSeconds           int `yaml:"ttl_seconds"`
	RenewIntervalSeconds int `yaml:"renew_interval_seconds"`
}

type DispatchConfig struct {
	MaxRetries             int     `yaml:"max_retries"`
	WatchdogTimeoutMinutes int     `yaml:"watchdog_timeout_minutes"`
	SweepIntervalMinutes   int     `yaml:"sweep_interval_minutes"`
	WorkerTickSeconds      int     `yaml:"worker_tick_seconds"`
	GlobalSendsPerSecond   float64 `yaml:"global_sends_per_second"`
	BatchGraceMinutes      int     `yaml:"batch_grace_minutes"`
}

type ScheduleConfig struct {
	TickSeconds          int `yaml:"tick_seconds"`
	FetchIntervalSeconds int `yaml:"fetch_interval_seconds"`
}

type SenderConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

var GlobalConfig *Config

func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	var cfg *Config

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg = DefaultConfig()
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, err
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, err
		}
		cfg = &fileCfg
		cfg.fillDefaults()
	}

	cfg.overrideFromEnv()
	GlobalConfig = cfg
	return cfg, nil
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: "8080",
			Mode: "debug",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "feedrelay.db",
		},
		JWT: JWTConfig{
			Secret:     "feedrelay-secret-key-change-in-production",
			ExpireHour: 24,
		},
		Redis: RedisConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			DB:      0,
		},
		Lease: LeaseConfig{
			TTLSeconds:           120,
			RenewIntervalSeconds: 30,
		},
		Dispatch: DispatchConfig{
			MaxRetries:             3,
			WatchdogTimeoutMinutes: 30,
			SweepIntervalMinutes:   5,
			WorkerTickSeconds:      15,
			GlobalSendsPerSecond:   1,
			BatchGraceMinutes:      8,
		},
		Schedule: ScheduleConfig{
			TickSeconds:          60,
			FetchIntervalSeconds: 300,
		},
		Sender: SenderConfig{
			TimeoutSeconds: 30,
		},
	}
}

// fillDefaults backfills zero values in a partially specified file with
// the defaults, so a config file only needs the sections it changes.
func (c *Config) fillDefaults() {
	def := DefaultConfig()
	if c.Server.Host == "" {
		c.Server.Host = def.Server.Host
	}
	if c.Server.Port == "" {
		c.Server.Port = def.Server.Port
	}
	if c.Server.Mode == "" {
		c.Server.Mode = def.Server.Mode
	}
	if c.Database.Driver == "" {
		c.Database.Driver = def.Database.Driver
	}
	if c.Database.DSN == "" {
		c.Database.DSN = def.Database.DSN
	}
	if c.JWT.Secret == "" {
		c.JWT.Secret = def.JWT.Secret
	}
	if c.JWT.ExpireHour == 0 {
		c.JWT.ExpireHour = def.JWT.ExpireHour
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = def.Redis.Addr
	}
	if c.Lease.TTLSeconds == 0 {
		c.Lease.TTLSeconds = def.Lease.TTLSeconds
	}
	if c.Lease.RenewIntervalSeconds == 0 {
		c.Lease.RenewIntervalSeconds = def.Lease.RenewIntervalSeconds
	}
	if c.Dispatch.MaxRetries == 0 {
		c.Dispatch.MaxRetries = def.Dispatch.MaxRetries
	}
	if c.Dispatch.WatchdogTimeoutMinutes == 0 {
		c.Dispatch.WatchdogTimeoutMinutes = def.Dispatch.WatchdogTimeoutMinutes
	}
	if c.Dispatch.SweepIntervalMinutes == 0 {
		c.Dispatch.SweepIntervalMinutes = def.Dispatch.SweepIntervalMinutes
	}
	if c.Dispatch.WorkerTickSeconds == 0 {
		c.Dispatch.WorkerTickSeconds = def.Dispatch.WorkerTickSeconds
	}
	if c.Dispatch.GlobalSendsPerSecond == 0 {
		c.Dispatch.GlobalSendsPerSecond = def.Dispatch.GlobalSendsPerSecond
	}
	if c.Dispatch.BatchGraceMinutes == 0 {
		c.Dispatch.BatchGraceMinutes = def.Dispatch.BatchGraceMinutes
	}
	if c.Schedule.TickSeconds == 0 {
		c.Schedule.TickSeconds = def.Schedule.TickSeconds
	}
	if c.Schedule.FetchIntervalSeconds == 0 {
		c.Schedule.FetchIntervalSeconds = def.Schedule.FetchIntervalSeconds
	}
	if c.Sender.TimeoutSeconds == 0 {
		c.Sender.TimeoutSeconds = def.Sender.TimeoutSeconds
	}
}

func (c *Config) overrideFromEnv() {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Server.Port = port
	}
	if mode := os.Getenv("SERVER_MODE"); mode != "" {
		c.Server.Mode = mode
	}
	if driver := os.Getenv("DB_DRIVER"); driver != "" {
		c.Database.Driver = driver
	}
	if dsn := os.Getenv("DB_DSN"); dsn != "" {
		c.Database.DSN = dsn
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.JWT.Secret = secret
	}
	// Redis URL override (format: redis://:password@host:port/db)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c.Redis.Enabled = true
		c.parseRedisURL(redisURL)
	}
}

// parseRedisURL parses a Redis URL and sets config values
// Format: redis://:password@host:port/db
func (c *Config) parseRedisURL(redisURL string) {
	url := strings.TrimPrefix(redisURL, "redis://")

	if atIdx := strings.Index(url, "@"); atIdx != -1 {
		authPart := url[:atIdx]
		url = url[atIdx+1:]
		if colonIdx := strings.Index(authPart, ":"); colonIdx != -1 {
			c.Redis.Password = authPart[colonIdx+1:]
		}
	}

	if slashIdx := strings.LastIndex(url, "/"); slashIdx != -1 {
		dbStr := url[slashIdx+1:]
		url = url[:slashIdx]
		if db, err := strconv.Atoi(dbStr); err == nil {
			c.Redis.DB = db
		}
	}

	c.Redis.Addr = url
}

func (c *Config) Save(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0644)
}

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
	"gopkg.in/yaml.v3"
)

const DefaultPath = "./config/config.yaml"

type Storage struct {
	Driver        string `yaml:"driver"` // memory|postgres|sqlite
	DSN           string `yaml:"dsn"`    // postgres
	Path          string `yaml:"path"`   // sqlite
	MaxBodyLength int    `yaml:"maxBodyLength"`
	MaxConns      int32  `yaml:"maxConns"`
}

type Bus struct {
	SubscriberBuffer int `yaml:"subscriberBuffer"`
	PageSize         int `yaml:"pageSize"`
}

type Presence struct {
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
	Mirror        string        `yaml:"mirror"` // ""|redis|postgres
	RedisURL      string        `yaml:"redisURL"`
}

type HTTP struct {
	Addr           string        `yaml:"addr"`
	AllowedOrigins []string      `yaml:"allowedOrigins"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	PollWait       time.Duration `yaml:"pollWait"`
	PingEvery      time.Duration `yaml:"pingEvery"` // WebSocket ping и рассылка state
}

type GRPC struct {
	Addr           string        `yaml:"addr"`
	DefaultTimeout time.Duration `yaml:"defaultTimeout"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwtSecret"` // пусто: токен не проверяется, только наличие
	Issuer    string        `yaml:"issuer"`
	Audience  string        `yaml:"audience"`
	ClockSkew time.Duration `yaml:"clockSkew"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers"` // пусто: relay выключен
	Topic   string   `yaml:"topic"`
	Origin  string   `yaml:"origin"`
}

type Logging struct {
	Env       string `yaml:"env"`       // dev|stage|prod
	Service   string `yaml:"service"`   // room-bus
	Version   string `yaml:"version"`   // v0.1.0
	Backend   string `yaml:"backend"`   // std|zap
	Level     string `yaml:"level"`     // debug|info|warn|error
	AddSource bool   `yaml:"addSource"` // false|true
	Debug     bool   `yaml:"debug"`     // false|true
}

type Config struct {
	Storage  Storage  `yaml:"storage"`
	Bus      Bus      `yaml:"bus"`
	Presence Presence `yaml:"presence"`
	HTTP     HTTP     `yaml:"http"`
	GRPC     GRPC     `yaml:"grpc"`
	Auth     Auth     `yaml:"auth"`
	Kafka    Kafka    `yaml:"kafka"`
	Logging  Logging  `yaml:"logging"`
}

// LoadConfig читает .env (если есть), затем YAML по CONFIG_PATH и ROOMBUS_* поверх.
// Без CONFIG_PATH отсутствующий файл по умолчанию не ошибка: берутся дефолты.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		cfg, err := Load(DefaultPath)
		if errors.Is(err, fs.ErrNotExist) {
			return fromEnv(&Config{})
		}
		return cfg, err
	}
	return Load(path)
}

// Load читает конкретный файл. ROOMBUS_* из окружения перекрывают значения файла.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return fromEnv(&cfg)
}

func fromEnv(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Storage.Driver, "ROOMBUS_STORAGE_DRIVER")
	setString(&c.Storage.DSN, "ROOMBUS_STORAGE_DSN")
	setString(&c.Storage.Path, "ROOMBUS_STORAGE_PATH")
	setString(&c.Presence.Mirror, "ROOMBUS_PRESENCE_MIRROR")
	setString(&c.Presence.RedisURL, "ROOMBUS_REDIS_URL")
	setString(&c.HTTP.Addr, "ROOMBUS_HTTP_ADDR")
	setString(&c.GRPC.Addr, "ROOMBUS_GRPC_ADDR")
	setString(&c.Auth.JWTSecret, "ROOMBUS_JWT_SECRET")
	setString(&c.Kafka.Topic, "ROOMBUS_KAFKA_TOPIC")
	setString(&c.Kafka.Origin, "ROOMBUS_KAFKA_ORIGIN")
	setString(&c.Logging.Env, "ROOMBUS_ENV")
	setString(&c.Logging.Level, "ROOMBUS_LOG_LEVEL")

	if v := strings.TrimSpace(os.Getenv("ROOMBUS_KAFKA_BROKERS")); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("ROOMBUS_SUBSCRIBER_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Bus.SubscriberBuffer = n
		}
	}
	if v := os.Getenv("ROOMBUS_PRESENCE_TIMEOUT"); v != "" {
		c.Presence.Timeout = parseDurationOr(c.Presence.Timeout, v)
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "":
		c.Storage.Driver = "memory"
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	case "sqlite":
		if c.Storage.Path == "" {
			c.Storage.Path = "./data/room-bus.db"
		}
	default:
		return fmt.Errorf("storage.driver: unknown %q", c.Storage.Driver)
	}
	if c.Storage.MaxBodyLength <= 0 {
		c.Storage.MaxBodyLength = 4000
	}

	if c.Bus.SubscriberBuffer <= 0 {
		c.Bus.SubscriberBuffer = 64
	}
	if c.Bus.PageSize <= 0 {
		c.Bus.PageSize = 100
	}

	if c.Presence.Timeout <= 0 {
		c.Presence.Timeout = 60 * time.Second
	}
	if c.Presence.SweepInterval <= 0 {
		c.Presence.SweepInterval = 10 * time.Second
	}
	switch c.Presence.Mirror {
	case "":
	case "redis":
		if c.Presence.RedisURL == "" {
			return errors.New("presence.redisURL is required for redis mirror")
		}
	case "postgres":
		if c.Storage.Driver != "postgres" {
			return errors.New("presence.mirror=postgres needs storage.driver=postgres")
		}
	default:
		return fmt.Errorf("presence.mirror: unknown %q", c.Presence.Mirror)
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.RequestTimeout <= 0 {
		c.HTTP.RequestTimeout = 30 * time.Second
	}
	if c.HTTP.PollWait <= 0 {
		c.HTTP.PollWait = 25 * time.Second
	}
	if c.HTTP.PingEvery <= 0 {
		c.HTTP.PingEvery = 30 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":9090"
	}
	if c.GRPC.DefaultTimeout <= 0 {
		c.GRPC.DefaultTimeout = 10 * time.Second
	}

	if c.Auth.JWTSecret != "" && c.Auth.Issuer == "" {
		c.Auth.Issuer = "cwrk-planet"
	}

	if len(c.Kafka.Brokers) > 0 {
		if c.Storage.Driver == "memory" {
			return errors.New("kafka relay needs a shared storage driver (postgres)")
		}
		if c.Kafka.Topic == "" {
			c.Kafka.Topic = "room-bus.messages"
		}
	}

	// установка дефолтов логгера
	if c.Logging.Service == "" {
		c.Logging.Service = "room-bus"
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "dev"
	}
	if c.Logging.Version == "" {
		c.Logging.Version = "v0.1.0"
	}
	if c.Logging.Backend == "" {
		c.Logging.Backend = "std"
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// helper для парсинга timeout-ов
func parseDurationOr(def time.Duration, s string) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

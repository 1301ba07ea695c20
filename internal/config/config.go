package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/weiawesome/wes-io-live/social-graph-engine/pkg/config"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Store    StoreConfig
	Neo4j    Neo4jConfig
	Redis    RedisConfig
	Cache    CacheConfig
	Kafka    KafkaConfig
	NATS     NATSConfig `mapstructure:"nats"`
	Notify   NotifyConfig
	Engine   EngineConfig
	Auditor  AuditorConfig
	Auth     AuthConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Driver          string `mapstructure:"driver"`
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	FilePath        string `mapstructure:"file_path"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
	LogLevel        string `mapstructure:"log_level"`
}

// StoreConfig selects the account store backend: gorm, neo4j or memory.
type StoreConfig struct {
	Driver string `mapstructure:"driver"`
	// SeedAccounts are created empty at startup by the memory backend.
	SeedAccounts []string `mapstructure:"seed_accounts"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	CountsTTL time.Duration `mapstructure:"counts_ttl"`
}

type KafkaConfig struct {
	Brokers      string `mapstructure:"brokers"`
	AccountTopic string `mapstructure:"account_topic"`
	GroupID      string `mapstructure:"group_id"`
	// ConsumeAccounts enables the account-deletion CDC consumer.
	ConsumeAccounts bool `mapstructure:"consume_accounts"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Stream        string `mapstructure:"stream"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

type NotifyConfig struct {
	// Sinks lists enabled notification sinks: store, kafka, nats.
	Sinks      []string      `mapstructure:"sinks"`
	KafkaTopic string        `mapstructure:"kafka_topic"`
	QueueSize  int           `mapstructure:"queue_size"`
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type EngineConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	MaxAuditPeers  int           `mapstructure:"max_audit_peers"`
}

type AuditorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	TopN     int           `mapstructure:"top_n"`
	Repair   bool          `mapstructure:"repair"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Load reads config.yaml from configPath (or the working directory), then
// applies environment overrides.
func Load(configPath string) (*Config, error) {
	v, err := pkgconfig.Load(configPath, "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8095)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.file_path", "./data/social-graph.db")
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.max_open_conns", 100)
	v.SetDefault("database.conn_max_lifetime", 60)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("store.driver", "gorm")
	v.SetDefault("store.seed_accounts", []string{})
	v.SetDefault("neo4j.uri", "neo4j://localhost:7687")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.counts_ttl", "30s")
	v.SetDefault("kafka.brokers", "localhost:9092")
	v.SetDefault("kafka.account_topic", "dbserver1.public.accounts")
	v.SetDefault("kafka.group_id", "social-graph-engine")
	v.SetDefault("kafka.consume_accounts", true)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.stream", "SOCIAL")
	v.SetDefault("nats.subject_prefix", "social.notifications")
	v.SetDefault("notify.sinks", []string{"store"})
	v.SetDefault("notify.kafka_topic", "social.notifications")
	v.SetDefault("notify.queue_size", 1024)
	v.SetDefault("notify.workers", 4)
	v.SetDefault("notify.timeout", "5s")
	v.SetDefault("engine.max_attempts", 5)
	v.SetDefault("engine.initial_backoff", "10ms")
	v.SetDefault("engine.max_backoff", "200ms")
	v.SetDefault("engine.max_audit_peers", 1000)
	v.SetDefault("auditor.enabled", true)
	v.SetDefault("auditor.interval", "60s")
	v.SetDefault("auditor.top_n", 100)
	v.SetDefault("auditor.repair", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Bind environment variables
	err = pkgconfig.BindEnvs(v, map[string]string{
		"server.port":             "PORT",
		"database.driver":         "DB_DRIVER",
		"database.host":           "DB_HOST",
		"database.port":           "DB_PORT",
		"database.user":           "DB_USER",
		"database.password":       "DB_PASSWORD",
		"database.dbname":         "DB_NAME",
		"database.sslmode":        "DB_SSLMODE",
		"database.file_path":      "DB_FILE_PATH",
		"database.auto_migrate":   "DB_AUTO_MIGRATE",
		"store.driver":            "STORE_DRIVER",
		"neo4j.uri":               "NEO4J_URI",
		"neo4j.user":              "NEO4J_USER",
		"neo4j.password":          "NEO4J_PASSWORD",
		"redis.address":           "REDIS_ADDRESS",
		"redis.password":          "REDIS_PASSWORD",
		"redis.db":                "REDIS_DB",
		"cache.enabled":           "CACHE_ENABLED",
		"cache.counts_ttl":        "CACHE_COUNTS_TTL",
		"kafka.brokers":           "KAFKA_BROKERS",
		"kafka.account_topic":     "KAFKA_ACCOUNT_TOPIC",
		"kafka.group_id":          "KAFKA_GROUP_ID",
		"kafka.consume_accounts":  "KAFKA_CONSUME_ACCOUNTS",
		"nats.url":                "NATS_URL",
		"notify.sinks":            "NOTIFY_SINKS",
		"notify.kafka_topic":      "NOTIFY_KAFKA_TOPIC",
		"engine.max_attempts":     "ENGINE_MAX_ATTEMPTS",
		"engine.initial_backoff":  "ENGINE_INITIAL_BACKOFF",
		"engine.max_backoff":      "ENGINE_MAX_BACKOFF",
		"auditor.enabled":         "AUDITOR_ENABLED",
		"auditor.interval":        "AUDITOR_INTERVAL",
		"auditor.top_n":           "AUDITOR_TOP_N",
		"auditor.repair":          "AUDITOR_REPAIR",
		"auth.jwt_secret":         "JWT_SECRET",
		"auth.issuer":             "JWT_ISSUER",
		"log.level":               "LOG_LEVEL",
	})
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "gorm", "neo4j", "memory":
	default:
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	for _, s := range c.Notify.Sinks {
		switch s {
		case "store", "kafka", "nats", "redis":
		default:
			return fmt.Errorf("unsupported notification sink: %s", s)
		}
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable
const EnvPrefix = "ROUNDKEEPER"

// Config holds all configuration for the application
type Config struct {
	Host         string
	Port         string
	LogLevel     string
	LogPretty    bool
	PollInterval time.Duration
	HostName     string
	HostAvatar   string
	Storage      StorageConfig
	Redis        RedisConfig
	Seed         SeedConfig
	Geocoder     GeocoderConfig
	Modes        Modes
}

// StorageConfig selects and configures the repository backend
type StorageConfig struct {
	Backend    string // memory, sqlite or cassandra
	SQLitePath string
	Cassandra  CassandraConfig
}

// CassandraConfig holds Cassandra-specific configuration
type CassandraConfig struct {
	Hosts       []string
	Keyspace    string
	Username    string
	Password    string
	Consistency string
	Timeout     time.Duration
}

// RedisConfig configures the geocode cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// SeedConfig configures the upstream game source
type SeedConfig struct {
	APIBase string
	Timeout time.Duration
}

// GeocoderConfig configures the reverse geocoding service
type GeocoderConfig struct {
	APIBase string
	Timeout time.Duration
}

// Storage backends
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendCassandra = "cassandra"
)

// RegisterFlags defines every setting on fs with its default
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "optional config file (yaml, toml or json)")
	fs.String("host", "0.0.0.0", "address to bind to")
	fs.String("port", "8080", "port to listen on")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")
	fs.Bool("log-pretty", false, "human readable console logs")
	fs.Duration("poll-interval", 2*time.Second, "seed polling interval while in game")
	fs.String("host-name", "Streamer", "display name of the host actor")
	fs.String("host-avatar", "", "avatar url of the host actor")

	fs.String("storage", BackendSQLite, "repository backend (memory, sqlite, cassandra)")
	fs.String("sqlite-path", "./data/roundkeeper.db", "sqlite database file")
	fs.String("cassandra-hosts", "localhost:9042", "comma separated cassandra hosts")
	fs.String("cassandra-keyspace", "roundkeeper", "cassandra keyspace")
	fs.String("cassandra-username", "", "cassandra username")
	fs.String("cassandra-password", "", "cassandra password")
	fs.String("cassandra-consistency", "QUORUM", "cassandra consistency level")
	fs.Duration("cassandra-timeout", 5*time.Second, "cassandra query timeout")

	fs.String("redis-addr", "", "redis address for the geocode cache (empty disables)")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database number")
	fs.Duration("redis-ttl", 24*time.Hour, "geocode cache entry lifetime")

	fs.String("seed-api", "https://www.geoguessr.com", "base url of the game api")
	fs.Duration("seed-timeout", 5*time.Second, "game api request timeout")
	fs.String("geocoder-api", "https://api.bigdatacloud.net", "base url of the reverse geocoder")
	fs.Duration("geocoder-timeout", 5*time.Second, "reverse geocoder request timeout")

	registerModeFlags(fs)
}

// NewViper returns a viper instance reading ROUNDKEEPER_* environment variables
// and bound to the flags of fs
func NewViper(fs *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	})
	return v
}

// Load builds the configuration from v and validates it
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Host:         v.GetString("host"),
		Port:         v.GetString("port"),
		LogLevel:     v.GetString("log-level"),
		LogPretty:    v.GetBool("log-pretty"),
		PollInterval: v.GetDuration("poll-interval"),
		HostName:     v.GetString("host-name"),
		HostAvatar:   v.GetString("host-avatar"),
		Storage: StorageConfig{
			Backend:    strings.ToLower(v.GetString("storage")),
			SQLitePath: v.GetString("sqlite-path"),
			Cassandra: CassandraConfig{
				Hosts:       parseHosts(v.GetString("cassandra-hosts")),
				Keyspace:    v.GetString("cassandra-keyspace"),
				Username:    v.GetString("cassandra-username"),
				Password:    v.GetString("cassandra-password"),
				Consistency: v.GetString("cassandra-consistency"),
				Timeout:     v.GetDuration("cassandra-timeout"),
			},
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			TTL:      v.GetDuration("redis-ttl"),
		},
		Seed: SeedConfig{
			APIBase: strings.TrimRight(v.GetString("seed-api"), "/"),
			Timeout: v.GetDuration("seed-timeout"),
		},
		Geocoder: GeocoderConfig{
			APIBase: strings.TrimRight(v.GetString("geocoder-api"), "/"),
			Timeout: v.GetDuration("geocoder-timeout"),
		},
		Modes: loadModes(v),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be expressed as flag types
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory, BackendSQLite, BackendCassandra:
	default:
		return fmt.Errorf("invalid storage value: %q", c.Storage.Backend)
	}
	if c.Storage.Backend == BackendSQLite && c.Storage.SQLitePath == "" {
		return errors.New("sqlite-path is required when storage=sqlite")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll-interval value: %s", c.PollInterval)
	}
	if err := c.Modes.Validate(); err != nil {
		return fmt.Errorf("invalid modes: %w", err)
	}
	return nil
}

// Address returns the full address (host:port)
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// parseHosts parses a comma-separated list of hosts
func parseHosts(hostsStr string) []string {
	if hostsStr == "" {
		return []string{"localhost:9042"}
	}
	parts := strings.Split(hostsStr, ",")
	hosts := make([]string, 0, len(parts))
	for _, part := range parts {
		host := strings.TrimSpace(part)
		if host != "" {
			hosts = append(hosts, host)
		}
	}
	if len(hosts) == 0 {
		return []string{"localhost:9042"}
	}
	return hosts
}

// Package npconfig resolves the gateway's configuration by layering CLI
// flags over environment variables over an optional YAML config file over
// built-in defaults (§6, teacher: internal/config.Config/LoadConfig +
// applyEnvOverrides). Parsing the Nextcloud application's own config.php is
// explicitly out of scope (spec.md §1 Non-goals); the positional config
// file argument is instead read as a small YAML document carrying the
// same four fields (`database_url`, `database_prefix`, `nextcloud_url`,
// `redis_url`) the real nextcloud_config_parser crate would have extracted.
package npconfig

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

var (
	ErrMissingDatabase = errors.New("npconfig: no database configured (set -database-url or DATABASE_URL)")
	ErrMissingBackend  = errors.New("npconfig: no nextcloud url configured (set -nextcloud-url or NEXTCLOUD_URL)")
	ErrMissingRedis    = errors.New("npconfig: no redis server configured (set REDIS_URL or a config file redis entry)")
)

// Config is the fully-resolved set of settings the gateway runs with.
type Config struct {
	DatabaseURL       string        `yaml:"database_url"`
	DatabasePrefix    string        `yaml:"database_prefix"`
	NextcloudURL      string        `yaml:"nextcloud_url"`
	RedisURL          string        `yaml:"redis_url"`
	Bind              string        `yaml:"bind"`
	Port              int           `yaml:"port"`
	Socket            string        `yaml:"socket"`
	SocketPermissions os.FileMode   `yaml:"socket_permissions"`
	MetricsBind       string        `yaml:"metrics_bind"`
	MetricsPort       int           `yaml:"metrics_port"`
	TLSCert           string        `yaml:"tls_cert"`
	TLSKey            string        `yaml:"tls_key"`
	AllowSelfSigned   bool          `yaml:"allow_self_signed"`
	MaxDebounceTime   time.Duration `yaml:"max_debounce_time"`
	MaxConnectionTime time.Duration `yaml:"max_connection_time"`
	NoANSI            bool          `yaml:"no_ansi"`
	LogLevel          string        `yaml:"log_level"`
	DumpConfig        bool          `yaml:"-"`
	GlobConfig        bool          `yaml:"-"`
	ShowVersion       bool          `yaml:"-"`

	// ConfigFile is the optional positional path to the backend's own
	// config.php-derived config (or, when GlobConfig is set, a glob of
	// several instances' configs to merge).
	ConfigFile string `yaml:"-"`
}

func defaults() Config {
	return Config{
		DatabasePrefix:    "oc_",
		Bind:              "127.0.0.1",
		Port:              7867,
		SocketPermissions: 0660,
		MetricsBind:       "127.0.0.1",
		MaxDebounceTime:   15 * time.Second,
		MaxConnectionTime: 0,
		LogLevel:          "warn",
	}
}

// Load builds a Config by applying, from lowest to highest precedence:
// built-in defaults, the Nextcloud config file (if resolvable), environment
// variables, then the parsed CLI flags (§6, §9 open question: socket
// permission default 0660).
func Load(args []string) (Config, error) {
	cfg := defaults()

	fs := flag.NewFlagSet("notify-push", flag.ContinueOnError)
	databaseURL := fs.String("database-url", "", "database connection string")
	databasePrefix := fs.String("database-prefix", "", "database table prefix")
	nextcloudURL := fs.String("nextcloud-url", "", "nextcloud instance base url")
	bind := fs.String("bind", "", "address to bind the websocket listener to")
	port := fs.Int("port", 0, "port to bind the websocket listener to")
	socket := fs.String("socket", "", "unix socket path to bind the websocket listener to")
	socketPermissions := fs.String("socket-permissions", "", "octal permissions applied to the unix socket after bind")
	metricsBind := fs.String("metrics-bind", "", "address to bind the metrics listener to")
	metricsPort := fs.Int("metrics-port", 0, "port to bind the metrics listener to")
	tlsCert := fs.String("tls-cert", "", "path to a TLS certificate")
	tlsKey := fs.String("tls-key", "", "path to the TLS certificate's key")
	allowSelfSigned := fs.Bool("allow-self-signed", false, "allow self signed certificates when talking to nextcloud")
	maxDebounceTime := fs.Int("max-debounce-time", 0, "maximum debounce time in seconds")
	maxConnectionTime := fs.Int("max-connection-time", 0, "maximum connection time in seconds, 0 = unlimited")
	noANSI := fs.Bool("no-ansi", false, "disable ansi color codes in logging output")
	logLevel := fs.String("log-level", "", "log level (error, warn, info, debug)")
	dumpConfig := fs.Bool("dump-config", false, "print the resolved configuration and exit")
	globConfig := fs.Bool("glob-config", false, "treat the config file argument as a glob of multiple config files")
	showVersion := fs.Bool("version", false, "print the version and exit")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("npconfig: parsing flags: %w", err)
	}
	if rest := fs.Args(); len(rest) > 0 {
		cfg.ConfigFile = rest[0]
	}

	if cfg.ConfigFile != "" {
		if fileCfg, err := loadConfigFile(cfg.ConfigFile, *globConfig); err == nil {
			cfg.DatabaseURL = fileCfg.DatabaseURL
			cfg.DatabasePrefix = fileCfg.DatabasePrefix
			cfg.NextcloudURL = fileCfg.NextcloudURL
			cfg.RedisURL = fileCfg.RedisURL
		}
	}

	cfg.applyEnvOverrides()

	if *databaseURL != "" {
		cfg.DatabaseURL = *databaseURL
	}
	if *databasePrefix != "" {
		cfg.DatabasePrefix = *databasePrefix
	}
	if *nextcloudURL != "" {
		cfg.NextcloudURL = *nextcloudURL
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *socket != "" {
		cfg.Socket = *socket
	}
	if *socketPermissions != "" {
		if perm, err := strconv.ParseUint(*socketPermissions, 8, 32); err == nil {
			cfg.SocketPermissions = os.FileMode(perm)
		}
	}
	if *metricsBind != "" {
		cfg.MetricsBind = *metricsBind
	}
	if *metricsPort != 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *tlsCert != "" {
		cfg.TLSCert = *tlsCert
	}
	if *tlsKey != "" {
		cfg.TLSKey = *tlsKey
	}
	if *allowSelfSigned {
		cfg.AllowSelfSigned = true
	}
	if *maxDebounceTime != 0 {
		cfg.MaxDebounceTime = time.Duration(*maxDebounceTime) * time.Second
	}
	if *maxConnectionTime != 0 {
		cfg.MaxConnectionTime = time.Duration(*maxConnectionTime) * time.Second
	}
	if *noANSI {
		cfg.NoANSI = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.DumpConfig = *dumpConfig
	cfg.GlobConfig = *globConfig
	cfg.ShowVersion = *showVersion

	return cfg, nil
}

// applyEnvOverrides mirrors the teacher's Config.applyEnvOverrides: each
// variable, if set, overrides whatever the config file (or default)
// supplied, and is itself overridden by an explicit CLI flag.
func (c *Config) applyEnvOverrides() {
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.DatabasePrefix = getEnv("DATABASE_PREFIX", c.DatabasePrefix)
	c.NextcloudURL = getEnv("NEXTCLOUD_URL", c.NextcloudURL)
	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.Bind = getEnv("BIND", c.Bind)
	c.Socket = getEnv("SOCKET", c.Socket)
	c.MetricsBind = getEnv("METRICS_BIND", c.MetricsBind)
	c.TLSCert = getEnv("TLS_CERT", c.TLSCert)
	c.TLSKey = getEnv("TLS_KEY", c.TLSKey)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks the invariants main needs before it dials anything (§7:
// "only config and bind failures escape main").
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabase
	}
	if c.NextcloudURL == "" {
		return ErrMissingBackend
	}
	if c.RedisURL == "" {
		return ErrMissingRedis
	}
	return nil
}

// Dump renders the resolved config as YAML, for the --dump-config flag.
func (c Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("npconfig: marshaling config: %w", err)
	}
	return string(out), nil
}

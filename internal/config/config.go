package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Guard mode values accepted in bootstrap.guard.
const (
	GuardDataDir = "datadir"
	GuardCatalog = "catalog"
)

// Config is the root configuration for dbinit.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Bootstrap BootstrapConfig `mapstructure:"bootstrap"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	OTLPInsecure bool   `mapstructure:"otlp_insecure"`
	ServiceName  string `mapstructure:"service_name"`
	LogLevel     string `mapstructure:"log_level"`
	LogFile      string `mapstructure:"log_file"`
}

type BootstrapConfig struct {
	Timeout    time.Duration  `mapstructure:"timeout"`
	ScriptsDir string         `mapstructure:"scripts_dir"`
	DataDir    string         `mapstructure:"data_dir"`
	Guard      string         `mapstructure:"guard"`
	Schema     string         `mapstructure:"schema"`
	Postgres   PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DB       string `mapstructure:"db"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN renders the postgres connection string for this config.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode,
	)
}

// Load reads config from the optional YAML file at path, then overlays
// environment variables with the DBINIT_ prefix (e.g. DBINIT_BOOTSTRAP_SCRIPTS_DIR).
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("DBINIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Bootstrap.Guard {
	case GuardDataDir, GuardCatalog:
		return nil
	default:
		return fmt.Errorf("bootstrap.guard must be %q or %q, got %q",
			GuardDataDir, GuardCatalog, c.Bootstrap.Guard)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8081)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", true)
	v.SetDefault("telemetry.service_name", "users-dbinit")
	v.SetDefault("telemetry.log_level", "info")
	v.SetDefault("telemetry.log_file", "")

	v.SetDefault("bootstrap.timeout", 5*time.Minute)
	v.SetDefault("bootstrap.scripts_dir", "/docker-entrypoint-initdb.d")
	v.SetDefault("bootstrap.data_dir", "/var/lib/postgresql/data")
	v.SetDefault("bootstrap.guard", GuardDataDir)
	v.SetDefault("bootstrap.schema", "public")

	v.SetDefault("bootstrap.postgres.host", "users-db")
	v.SetDefault("bootstrap.postgres.port", 5432)
	v.SetDefault("bootstrap.postgres.user", "postgres")
	v.SetDefault("bootstrap.postgres.db", "users_dev")
	v.SetDefault("bootstrap.postgres.ssl_mode", "disable")
	v.SetDefault("bootstrap.postgres.max_conns", 5)
}

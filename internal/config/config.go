// Package config loads and validates the daemon's TOML configuration.
// A Config is immutable once returned by Load: every component receives
// a pointer to the same value and must not mutate it.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Default values, applied when the corresponding key is absent from the file.
const (
	DefaultFullRefreshIntervalSecs = 900
	DefaultPollingIntervalSecs     = 60
	DefaultTimeZoneString          = "UTC"
	DefaultTracingLevel            = "INFO"
	DefaultSocketPath              = "/tmp/btu_scheduler.sock"
	DefaultFetchTimeout            = 10 * time.Second
	DefaultSQLQueryTimeout         = 5 * time.Second
	DefaultRedisOpTimeout          = 2 * time.Second
)

// Config is the fully-resolved, process-wide configuration.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	MySQL     MySQLConfig     `mapstructure:"mysql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Socket    SocketConfig    `mapstructure:"socket"`
	Webserver WebserverConfig `mapstructure:"webserver"`
	Email     EmailConfig     `mapstructure:"email"`
}

// SchedulerConfig controls refresh cadence and the logging-only display zone.
type SchedulerConfig struct {
	FullRefreshIntervalSecs int    `mapstructure:"full_refresh_internal_secs"`
	PollingIntervalSecs     int    `mapstructure:"scheduler_polling_interval"`
	TimeZoneString          string `mapstructure:"time_zone_string"`
}

// FullRefreshInterval returns the refresh cadence as a time.Duration.
func (s SchedulerConfig) FullRefreshInterval() time.Duration {
	return time.Duration(s.FullRefreshIntervalSecs) * time.Second
}

// PollingInterval returns the C6 wait_until_due poll cadence as a time.Duration.
func (s SchedulerConfig) PollingInterval() time.Duration {
	return time.Duration(s.PollingIntervalSecs) * time.Second
}

// LoggingConfig controls slog verbosity.
type LoggingConfig struct {
	TracingLevel string `mapstructure:"tracing_level"`
}

// MySQLConfig describes the system-of-record connection (C2).
type MySQLConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
}

// DSN builds a go-sql-driver/mysql data source name.
func (m MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
		m.User, m.Password, m.Host, m.Port, m.Database)
}

// RedisConfig describes the external job-queue store connection (C4).
// Keys are named rq_host/rq_port after the RQ-compatible queue protocol
// jobs are scheduled into.
type RedisConfig struct {
	Host string `mapstructure:"rq_host"`
	Port int    `mapstructure:"rq_port"`
}

// Addr returns the host:port address for a redis.Options.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SocketConfig describes the IPC listener (C10).
type SocketConfig struct {
	Path            string `mapstructure:"socket_path"`
	FileGroupOwner  string `mapstructure:"socket_file_group_owner"`
}

// WebserverConfig describes the HTTP payload collaborator (C3).
type WebserverConfig struct {
	IP    string `mapstructure:"webserver_ip"`
	Port  int    `mapstructure:"webserver_port"`
	Token string `mapstructure:"webserver_token"`
}

// BaseURL builds the payload endpoint's base URL.
func (w WebserverConfig) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", w.IP, w.Port)
}

// EmailConfig is parsed for file-format compatibility with the companion
// CLI's notification collaborator but is never read by the core.
type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	From     string `mapstructure:"from_address"`
}

// Load reads a TOML configuration file from path and applies defaults for
// any key it does not set. A parse or missing-required-value error is
// fatal and should cause the caller to exit(1).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("scheduler.full_refresh_internal_secs", DefaultFullRefreshIntervalSecs)
	v.SetDefault("scheduler.scheduler_polling_interval", DefaultPollingIntervalSecs)
	v.SetDefault("scheduler.time_zone_string", DefaultTimeZoneString)
	v.SetDefault("logging.tracing_level", DefaultTracingLevel)
	v.SetDefault("socket.socket_path", DefaultSocketPath)
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("redis.rq_port", 6379)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MySQL.Host == "" || c.MySQL.Database == "" {
		return fmt.Errorf("mysql.host and mysql.database are required")
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("redis.rq_host is required")
	}
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.socket_path must not be empty")
	}
	return nil
}

// Package config loads and validates visitor configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/gentlevisitor/internal/database"
	"github.com/JakeFAU/gentlevisitor/internal/schedule"
	"github.com/JakeFAU/gentlevisitor/internal/visitor"
)

// Fetcher and policy kinds.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"
	PolicySimple    = "simple"
	PolicyClassify  = "classify"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Schedule   ScheduleConfig      `mapstructure:"schedule"`
	Proxies    []map[string]string `mapstructure:"proxies"`
	Identities []string            `mapstructure:"identities"`
	Database   DatabaseConfig      `mapstructure:"database"`
	Crawler    CrawlerConfig       `mapstructure:"crawler"`
	Policy     PolicyConfig        `mapstructure:"policy"`
	Server     ServerConfig        `mapstructure:"server"`
	PubSub     PubSubConfig        `mapstructure:"pubsub"`
	Logging    LoggingConfig       `mapstructure:"logging"`
}

// ScheduleConfig is the activity window and repeat interval.
type ScheduleConfig struct {
	StartTime string        `mapstructure:"start_time"`
	EndTime   string        `mapstructure:"end_time"`
	Every     time.Duration `mapstructure:"every"`
	// ActiveWeekday is "*", a comma separated string, or a list of indices (Monday=0) or names.
	ActiveWeekday any    `mapstructure:"active_weekday"`
	Location      string `mapstructure:"location"`
}

// DatabaseConfig selects and connects the record store.
type DatabaseConfig struct {
	Driver         string            `mapstructure:"driver"`
	Host           string            `mapstructure:"host"`
	Port           int               `mapstructure:"port"`
	User           string            `mapstructure:"user"`
	Password       string            `mapstructure:"password"`
	Name           string            `mapstructure:"name"`
	Options        map[string]string `mapstructure:"options"`
	MaxConns       int32             `mapstructure:"max_conns"`
	MigrateOnStart bool              `mapstructure:"migrate_on_start"`
}

// CrawlerConfig governs the scheduling loop and the fetch collaborator.
type CrawlerConfig struct {
	MaxInFlight       int           `mapstructure:"max_in_flight"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HistoryCapacity   int           `mapstructure:"history_capacity"`
	TerminalThreshold int           `mapstructure:"terminal_threshold"`
	Fetcher           string        `mapstructure:"fetcher"`
	TimeoutSeconds    int           `mapstructure:"timeout_seconds"`
	RespectRobots     bool          `mapstructure:"respect_robots"`
}

// PolicyConfig picks the controller and its optional rate gate.
type PolicyConfig struct {
	Kind           string  `mapstructure:"kind"`
	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	FailureStreak  int     `mapstructure:"failure_streak"`

	// FailureCooldown spaces out attempts against a host on a failure streak.
	FailureCooldown time.Duration `mapstructure:"failure_cooldown"`
}

// ServerConfig controls the introspection HTTP server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
}

// PubSubConfig holds metadata for completed-session notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GENTLEVISITOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("schedule.start_time", "00:00:00")
	v.SetDefault("schedule.end_time", "23:59:59")
	v.SetDefault("schedule.every", 3*time.Second)
	v.SetDefault("schedule.active_weekday", schedule.EveryDay)
	v.SetDefault("schedule.location", "")
	v.SetDefault("database.driver", database.DriverMemory)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.migrate_on_start", true)
	v.SetDefault("crawler.max_in_flight", 4)
	v.SetDefault("crawler.poll_interval", time.Second)
	v.SetDefault("crawler.history_capacity", 200)
	v.SetDefault("crawler.terminal_threshold", visitor.DefaultTerminalThreshold)
	v.SetDefault("crawler.fetcher", FetcherColly)
	v.SetDefault("crawler.timeout_seconds", 15)
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("policy.kind", PolicySimple)
	v.SetDefault("policy.rate_limit_rps", 0)
	v.SetDefault("policy.rate_limit_burst", 1)
	v.SetDefault("policy.failure_streak", 0)
	v.SetDefault("policy.failure_cooldown", "1m")
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := schedule.New(c.ScheduleSpec()); err != nil {
		return fmt.Errorf("invalid schedule: %w", err)
	}
	if c.Schedule.Every < 0 {
		return errors.New("schedule.every must be >= 0")
	}
	for i, proxy := range c.Proxies {
		if len(proxy) == 0 {
			return fmt.Errorf("proxies[%d] has no scheme entries", i)
		}
	}
	switch c.Database.Driver {
	case database.DriverMemory, database.DriverSQLite:
	case database.DriverPostgres:
		if c.Database.Name == "" {
			return errors.New("database.name is required for postgres")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Crawler.MaxInFlight <= 0 {
		return errors.New("crawler.max_in_flight must be > 0")
	}
	if c.Crawler.TimeoutSeconds <= 0 {
		return errors.New("crawler.timeout_seconds must be > 0")
	}
	if c.Crawler.TerminalThreshold <= 0 {
		return errors.New("crawler.terminal_threshold must be > 0")
	}
	if c.Crawler.Fetcher != FetcherColly && c.Crawler.Fetcher != FetcherHeadless {
		return fmt.Errorf("unsupported crawler.fetcher %q", c.Crawler.Fetcher)
	}
	if c.Policy.Kind != PolicySimple && c.Policy.Kind != PolicyClassify {
		return fmt.Errorf("unsupported policy.kind %q", c.Policy.Kind)
	}
	if c.Policy.RateLimitRPS < 0 || c.Policy.FailureStreak < 0 || c.Policy.FailureCooldown < 0 {
		return errors.New("policy rate limit values must be >= 0")
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return errors.New("server.port must be > 0 when the server is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// ScheduleSpec converts the schedule section for schedule.New.
func (c Config) ScheduleSpec() schedule.Spec {
	return schedule.Spec{
		StartTime:     c.Schedule.StartTime,
		EndTime:       c.Schedule.EndTime,
		ActiveWeekday: c.Schedule.ActiveWeekday,
		Location:      c.Schedule.Location,
	}
}

// DatabaseParams converts the database section into connection parameters.
func (c Config) DatabaseParams() database.Params {
	return database.Params{
		Driver:   c.Database.Driver,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Name:     c.Database.Name,
		Options:  c.Database.Options,
	}
}

// ProxyList returns the configured proxies in pool order.
func (c Config) ProxyList() []visitor.Proxy {
	out := make([]visitor.Proxy, 0, len(c.Proxies))
	for _, p := range c.Proxies {
		proxy := make(visitor.Proxy, len(p))
		for scheme, addr := range p {
			proxy[strings.ToLower(scheme)] = addr
		}
		out = append(out, proxy)
	}
	return out
}

// FetchTimeout converts crawler.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Crawler.TimeoutSeconds) * time.Second
}
